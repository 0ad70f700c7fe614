package dp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Mechanism draws calibrated noise for a query with the given sensitivity.
type Mechanism interface {
	Name() string
	// Scale is the distribution parameter (b for Laplace, sigma for Gaussian).
	Scale(sensitivity, epsilon float64) (float64, error)
	Sample(r io.Reader, scale float64) (float64, error)
}

// Laplace is the pure epsilon-DP mechanism, b = sensitivity / epsilon.
type Laplace struct{}

func (Laplace) Name() string { return "laplace" }

func (Laplace) Scale(sensitivity, epsilon float64) (float64, error) {
	if err := checkParams(sensitivity, epsilon); err != nil {
		return 0, err
	}
	return sensitivity / epsilon, nil
}

// Sample uses inverse-CDF sampling on u drawn uniformly from (-1/2, 1/2).
func (Laplace) Sample(r io.Reader, b float64) (float64, error) {
	for {
		f, err := uniform(r)
		if err != nil {
			return 0, err
		}
		u := f - 0.5
		if u == -0.5 {
			continue
		}
		sign := 1.0
		if u < 0 {
			sign = -1
		}
		return -b * sign * math.Log(1-2*math.Abs(u)), nil
	}
}

// Gaussian is the (epsilon, delta)-DP mechanism with the classic calibration
// sigma = sensitivity * sqrt(2 ln(1.25/delta)) / epsilon, valid for epsilon < 1.
type Gaussian struct {
	Delta float64
}

func (Gaussian) Name() string { return "gaussian" }

func (g Gaussian) Scale(sensitivity, epsilon float64) (float64, error) {
	if err := checkParams(sensitivity, epsilon); err != nil {
		return 0, err
	}
	if !(g.Delta > 0 && g.Delta < 1) {
		return 0, errors.New("gaussian mechanism requires 0 < delta < 1")
	}
	if epsilon >= 1 {
		return 0, fmt.Errorf("gaussian calibration requires epsilon < 1, got %g", epsilon)
	}
	return sensitivity * math.Sqrt(2*math.Log(1.25/g.Delta)) / epsilon, nil
}

// Sample uses the Box-Muller transform.
func (Gaussian) Sample(r io.Reader, sigma float64) (float64, error) {
	u1, err := uniform(r)
	if err != nil {
		return 0, err
	}
	u2, err := uniform(r)
	if err != nil {
		return 0, err
	}
	// uniform returns [0,1); shift u1 into (0,1] so the log is finite.
	u1 = 1 - u1
	return sigma * math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2), nil
}

func checkParams(sensitivity, epsilon float64) error {
	if !(epsilon > 0) || math.IsInf(epsilon, 0) {
		return fmt.Errorf("epsilon must be positive and finite, got %g", epsilon)
	}
	if !(sensitivity > 0) || math.IsInf(sensitivity, 0) {
		return fmt.Errorf("sensitivity must be positive and finite, got %g", sensitivity)
	}
	return nil
}

// uniform returns a float64 in [0, 1) built from 53 random bits.
func uniform(r io.Reader) (float64, error) {
	if r == nil {
		r = rand.Reader
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read randomness: %w", err)
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53), nil
}
