// Package backoff computes the wait before a retry attempt.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy returns the delay to wait before retry number retry (1-based).
type Strategy interface {
	Delay(retry int, unit, max time.Duration) time.Duration
}

// Linear waits retry*unit, so the first retry waits one unit, the second two.
// A non-positive max disables the cap.
type Linear struct{}

// Delay implements Strategy.
func (Linear) Delay(retry int, unit, max time.Duration) time.Duration {
	if retry < 1 || unit <= 0 {
		return 0
	}
	d := time.Duration(retry) * unit
	if d < 0 || (max > 0 && d > max) {
		return max
	}
	return d
}

// Exponential doubles the unit on every retry and adds up to Jitter*delay of
// uniform noise.
type Exponential struct {
	Jitter float64
}

// Delay implements Strategy.
func (e Exponential) Delay(retry int, unit, max time.Duration) time.Duration {
	if retry < 1 || unit <= 0 {
		return 0
	}

	// Prevent overflow by limiting the exponent
	if retry > 30 {
		retry = 30
	}

	d := time.Duration(float64(unit) * pow(2, retry-1))
	if d < 0 || (max > 0 && d > max) {
		d = max
	}

	jitter := clampJitter(e.Jitter)
	if jitter > 0 {
		d += time.Duration(float64(d) * jitter * rand.Float64())
		if max > 0 && d > max {
			d = max
		}
	}
	return d
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
