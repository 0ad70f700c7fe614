package models

import (
	"fmt"

	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/sentinel"
)

// Transition computes the next session state. It has no side effects; the
// caller persists the decision and acts on Alert.
//
// A revoked session only accepts SignalManualRotate. Every other pair not
// listed below is rejected with sentinel.ErrInvalidState.
func Transition(state State, signal Signal, counters Counters, cfg Config) (Decision, error) {
	d := Decision{From: state, Next: state, Signal: signal, Counters: counters}

	if signal == SignalManualRotate {
		d.Next = StateIdle
		d.Counters = Counters{}
		return d, nil
	}
	if state == StateRevoked {
		return d, dErrors.New(dErrors.CodeSessionRevoked, "session is revoked; credentials must be rotated")
	}

	if signal == SignalAnomaly {
		switch state {
		case StateAuthenticating, StateActive, StateThrottled, StateSuspect, StateCooling:
			return suspect(d, cfg), nil
		}
	}

	switch state {
	case StateIdle:
		if signal == SignalStart {
			d.Next = StateAuthenticating
			return d, nil
		}
	case StateAuthenticating:
		switch signal {
		case SignalAuthOK:
			d.Next = StateActive
			d.Counters.AuthFailures = 0
			return d, nil
		case SignalAuthFailed:
			return authFailed(d, cfg), nil
		}
	case StateActive:
		switch signal {
		case SignalFetchOK:
			return d, nil
		case SignalRateLimited:
			d.Next = StateThrottled
			return d, nil
		case SignalAuthFailed:
			// Upstream dropped the login mid-crawl.
			d = authFailed(d, cfg)
			if d.Next == StateIdle {
				d.Next = StateAuthenticating
			}
			return d, nil
		case SignalDone:
			d.Next = StateIdle
			return d, nil
		}
	case StateThrottled:
		switch signal {
		case SignalThrottleCleared:
			d.Next = StateActive
			return d, nil
		case SignalRateLimited:
			return d, nil
		}
	case StateSuspect:
		if signal == SignalCoolDown {
			d.Next = StateCooling
			return d, nil
		}
	case StateCooling:
		if signal == SignalCooldownElapsed {
			d.Next = StateActive
			return d, nil
		}
	}

	return d, fmt.Errorf("signal %s in state %s: %w", signal, state, sentinel.ErrInvalidState)
}

func suspect(d Decision, cfg Config) Decision {
	d.Counters.SuspectCount++
	if d.Counters.SuspectCount > cfg.SuspectThreshold {
		d.Next = StateRevoked
		d.Alert = true
		return d
	}
	d.Next = StateSuspect
	return d
}

func authFailed(d Decision, cfg Config) Decision {
	d.Counters.AuthFailures++
	if d.Counters.AuthFailures >= cfg.MaxAuthFailures {
		d.Next = StateRevoked
		d.Alert = true
		return d
	}
	d.Next = StateIdle
	return d
}
