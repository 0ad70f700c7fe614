// Package dp adds calibrated differential-privacy noise to aggregate results.
// Noise always comes from crypto/rand; there is no seeded or pass-through
// mode.
package dp

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math"

	ledger "archivegate/internal/privacy/ledger/models"
	dErrors "archivegate/pkg/domain-errors"
)

// Kind is the aggregate function.
type Kind string

const (
	KindCount Kind = "count"
	KindSum   Kind = "sum"
)

// maxNoiseDraws bounds redraws against a mechanism that keeps returning
// noise too small to move the aggregate.
const maxNoiseDraws = 32

func (k Kind) IsValid() bool {
	return k == KindCount || k == KindSum
}

// AggregateQuery describes the aggregate the raw value was computed for.
// Sum queries must be computed over values clamped to [Lower, Upper].
type AggregateQuery struct {
	Kind    Kind    `json:"kind"`
	Field   string  `json:"field,omitempty"`
	Epsilon float64 `json:"epsilon"`
	Lower   float64 `json:"lower,omitempty"`
	Upper   float64 `json:"upper,omitempty"`
}

// Metadata travels with every noisy result.
type Metadata struct {
	Epsilon     float64 `json:"epsilon"`
	Delta       float64 `json:"delta,omitempty"`
	Sensitivity float64 `json:"sensitivity"`
	Mechanism   string  `json:"mechanism"`
	Scale       float64 `json:"scale"`
}

// NoisyResult is the only form in which an aggregate leaves the service.
type NoisyResult struct {
	Kind            Kind     `json:"kind"`
	Field           string   `json:"field,omitempty"`
	Value           float64  `json:"value"`
	PrivacyMetadata Metadata `json:"privacy_metadata"`
}

// Engine applies one mechanism to every aggregate.
type Engine struct {
	mechanism        Mechanism
	rand             io.Reader
	countSensitivity float64
}

type Option func(*Engine)

// WithMechanism swaps the default Laplace mechanism.
func WithMechanism(m Mechanism) Option {
	return func(e *Engine) {
		if m != nil {
			e.mechanism = m
		}
	}
}

// WithCountSensitivity sets how many records one individual can contribute
// to a count.
func WithCountSensitivity(s float64) Option {
	return func(e *Engine) {
		if s > 0 {
			e.countSensitivity = s
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		mechanism:        Laplace{},
		rand:             rand.Reader,
		countSensitivity: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sensitivity returns the L1 sensitivity used for q.
func (e *Engine) Sensitivity(q AggregateQuery) (float64, error) {
	switch q.Kind {
	case KindCount:
		return e.countSensitivity, nil
	case KindSum:
		if q.Upper < q.Lower {
			return 0, dErrors.New(dErrors.CodeInvalidInput, "sum bounds are inverted")
		}
		s := math.Max(math.Abs(q.Lower), math.Abs(q.Upper))
		if s == 0 {
			return 0, dErrors.New(dErrors.CodeInvalidInput, "sum requires non-zero clamp bounds")
		}
		return s, nil
	}
	return 0, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported aggregate %q", q.Kind))
}

// Apply noises raw using the epsilon granted by alloc. The noisy value is
// returned as drawn, counts included: rounding would hand back the exact
// count whenever the noise is under one half.
func (e *Engine) Apply(ctx context.Context, q AggregateQuery, raw float64, alloc *ledger.Allocation) (*NoisyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if alloc == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "aggregate noise requires a budget allocation")
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, dErrors.New(dErrors.CodeInternal, "aggregate is not a finite number")
	}
	sensitivity, err := e.Sensitivity(q)
	if err != nil {
		return nil, err
	}
	scale, err := e.mechanism.Scale(sensitivity, alloc.Epsilon)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid privacy parameters")
	}
	value := raw
	// A zero draw, or one below raw's precision, would release the exact
	// aggregate; draw again.
	for draws := 0; value == raw; draws++ {
		if draws == maxNoiseDraws {
			return nil, dErrors.New(dErrors.CodeInternal, "noise mechanism cannot perturb the aggregate")
		}
		noise, err := e.mechanism.Sample(e.rand, scale)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sample noise")
		}
		value = raw + noise
	}
	meta := Metadata{
		Epsilon:     alloc.Epsilon,
		Sensitivity: sensitivity,
		Mechanism:   e.mechanism.Name(),
		Scale:       scale,
	}
	if g, ok := e.mechanism.(Gaussian); ok {
		meta.Delta = g.Delta
	}
	return &NoisyResult{Kind: q.Kind, Field: q.Field, Value: value, PrivacyMetadata: meta}, nil
}
