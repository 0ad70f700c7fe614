package models

import (
	"errors"
	"math"
	"time"

	dErrors "archivegate/pkg/domain-errors"
)

// Tolerance absorbs float rounding when comparing accumulated epsilon to a cap.
const Tolerance = 1e-9

// ErrExceeded is returned by stores when a reservation would overrun the cap.
var ErrExceeded = errors.New("privacy budget exceeded")

// Window selects how spend accumulates for a dataset.
type Window string

const (
	// WindowLifetime never forgets spend.
	WindowLifetime Window = "lifetime"
	// WindowRolling forgets reservations older than Policy.Duration.
	WindowRolling Window = "rolling"
)

func (w Window) IsValid() bool {
	return w == WindowLifetime || w == WindowRolling
}

// Policy is the explicit budget rule for one dataset.
type Policy struct {
	DatasetID  string        `yaml:"dataset"`
	EpsilonCap float64       `yaml:"epsilon_cap"`
	Window     Window        `yaml:"window"`
	Duration   time.Duration `yaml:"duration,omitempty"`
}

func (p Policy) Validate() error {
	if p.DatasetID == "" {
		return dErrors.New(dErrors.CodeValidation, "budget policy requires a dataset")
	}
	if !(p.EpsilonCap > 0) || math.IsInf(p.EpsilonCap, 0) {
		return dErrors.New(dErrors.CodeValidation, "budget policy for "+p.DatasetID+" requires a positive epsilon_cap")
	}
	if !p.Window.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "budget policy for "+p.DatasetID+" must set window to lifetime or rolling")
	}
	if p.Window == WindowRolling && p.Duration <= 0 {
		return dErrors.New(dErrors.CodeValidation, "rolling budget policy for "+p.DatasetID+" requires a duration")
	}
	return nil
}

// Cutoff returns the instant before which reservations no longer count.
// Lifetime policies return the zero time.
func (p Policy) Cutoff(now time.Time) time.Time {
	if p.Window != WindowRolling {
		return time.Time{}
	}
	return now.Add(-p.Duration)
}

// Key identifies one budget account.
type Key struct {
	RequesterID string
	DatasetID   string
}

// Allocation is a granted reservation of epsilon. Releasing it returns the
// spend; releasing twice is a no-op.
type Allocation struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requester_id"`
	DatasetID   string    `json:"dataset_id"`
	Epsilon     float64   `json:"epsilon"`
	ReservedAt  time.Time `json:"reserved_at"`
}

func (a Allocation) Key() Key {
	return Key{RequesterID: a.RequesterID, DatasetID: a.DatasetID}
}

// Budget is a point-in-time view of an account.
type Budget struct {
	RequesterID  string  `json:"requester_id"`
	DatasetID    string  `json:"dataset_id"`
	EpsilonCap   float64 `json:"epsilon_cap"`
	EpsilonSpent float64 `json:"epsilon_spent"`
	Window       Window  `json:"window"`
}

// Remaining never reports a negative value.
func (b Budget) Remaining() float64 {
	return math.Max(0, b.EpsilonCap-b.EpsilonSpent)
}

// Fits reports whether spent+epsilon stays within cap.
func Fits(spent, epsilon, epsCap float64) bool {
	return spent+epsilon <= epsCap+Tolerance
}
