package models

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a crawl session.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateActive         State = "active"
	StateThrottled      State = "throttled"
	StateSuspect        State = "suspect"
	StateCooling        State = "cooling"
	StateRevoked        State = "revoked"
)

func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateAuthenticating, StateActive, StateThrottled, StateSuspect, StateCooling, StateRevoked:
		return true
	}
	return false
}

// Signal is an observation fed into the session state machine.
type Signal string

const (
	SignalStart           Signal = "start"
	SignalAuthOK          Signal = "auth_ok"
	SignalAuthFailed      Signal = "auth_failed"
	SignalRateLimited     Signal = "rate_limited"
	SignalThrottleCleared Signal = "throttle_cleared"
	SignalAnomaly         Signal = "anomaly"
	SignalCoolDown        Signal = "cool_down"
	SignalCooldownElapsed Signal = "cooldown_elapsed"
	SignalFetchOK         Signal = "fetch_ok"
	SignalDone            Signal = "done"
	SignalManualRotate    Signal = "manual_rotate"
)

// Counters carry the history the state machine needs between transitions.
// Only a manual credential rotation resets them.
type Counters struct {
	SuspectCount int `json:"suspect_count"`
	AuthFailures int `json:"auth_failures"`
}

// Config bounds the state machine and the worker that drives it.
type Config struct {
	// SuspectThreshold is the number of Suspect entries tolerated; one more
	// revokes the session.
	SuspectThreshold int
	MaxAuthFailures  int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	CoolingInterval  time.Duration
	LeaseTTL         time.Duration
	RequestTimeout   time.Duration
	// ErrorWindow and ErrorRateThreshold define the 5xx/timeout burst that
	// counts as an anomaly.
	ErrorWindow        int
	ErrorRateThreshold float64
	MaxPages           int
}

func DefaultConfig() Config {
	return Config{
		SuspectThreshold:   3,
		MaxAuthFailures:    3,
		BaseBackoff:        500 * time.Millisecond,
		MaxBackoff:         2 * time.Minute,
		CoolingInterval:    30 * time.Second,
		LeaseTTL:           5 * time.Minute,
		RequestTimeout:     15 * time.Second,
		ErrorWindow:        10,
		ErrorRateThreshold: 0.5,
		MaxPages:           1000,
	}
}

func (c Config) Validate() error {
	if c.SuspectThreshold < 0 {
		return fmt.Errorf("suspect threshold must not be negative")
	}
	if c.MaxAuthFailures <= 0 {
		return fmt.Errorf("max auth failures must be positive")
	}
	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("backoff bounds are invalid")
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("lease ttl must be positive")
	}
	if c.ErrorWindow <= 0 || c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 1 {
		return fmt.Errorf("error window is invalid")
	}
	return nil
}

// Agency describes one upstream archive endpoint.
type Agency struct {
	ID             string `json:"id" yaml:"id"`
	Dataset        string `json:"dataset" yaml:"dataset"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	LoginPath      string `json:"login_path" yaml:"login_path"`
	RecordsPath    string `json:"records_path" yaml:"records_path"`
	CredentialsRef string `json:"credentials_ref" yaml:"credentials_ref"`
	ProfileID      string `json:"evasion_profile_id" yaml:"evasion_profile_id"`
}

// SessionKey identifies the session a lease guards: one per agency and
// credential set.
type SessionKey struct {
	AgencyID       string
	CredentialsRef string
}

func (k SessionKey) String() string {
	return k.AgencyID + ":" + k.CredentialsRef
}

// Session is the persisted state of one agency/credential crawl session.
// CredentialsRef is an opaque handle, never the credential itself.
type Session struct {
	ID               string    `json:"id"`
	AgencyID         string    `json:"agency_id"`
	CredentialsRef   string    `json:"credentials_ref"`
	State            State     `json:"state"`
	BackoffDeadline  time.Time `json:"backoff_deadline,omitzero"`
	EvasionProfileID string    `json:"evasion_profile_id"`
	Counters         Counters  `json:"counters"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (s *Session) Key() SessionKey {
	return SessionKey{AgencyID: s.AgencyID, CredentialsRef: s.CredentialsRef}
}

// Decision is the outcome of one transition.
type Decision struct {
	From     State
	Next     State
	Signal   Signal
	Counters Counters
	// Alert is set when the transition needs an operator: the session was
	// revoked and will not be retried until credentials are rotated.
	Alert bool
}

// Credentials are the secret material for one agency login. String never
// prints the secret.
type Credentials struct {
	Ref      string
	Username string
	Secret   string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{ref=%s}", c.Ref)
}

func (c Credentials) GoString() string {
	return c.String()
}
