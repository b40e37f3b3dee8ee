package hrquery

import (
	"time"

	"github.com/ambiyansyah-risyal/hrquery/internal/backoff"
)

// Attempt describes a finished attempt handed to a RetryPolicy.
type Attempt struct {
	Descriptor RequestDescriptor
	Result     Envelope
	// Number is 1 for the first attempt.
	Number int
}

// RetryPolicy decides whether a failed attempt is repeated and how long to
// wait first.
type RetryPolicy interface {
	ShouldRetry(a Attempt) (time.Duration, bool)
	MaxRetries() int
}

// DefaultRetryPolicy retries idempotent requests that failed at network
// level or with a status at or above the threshold, waiting n*unit before
// retry n.
type DefaultRetryPolicy struct {
	maxRetries      int
	backoffUnit     time.Duration
	maxBackoff      time.Duration
	statusThreshold int
	strategy        backoff.Strategy
	isIdempotent    func(RequestDescriptor) bool
}

const (
	defaultMaxRetries      = 1
	defaultBackoffUnit     = 10 * time.Second
	defaultStatusThreshold = 500
)

// NewDefaultRetryPolicy creates the linear retry policy.
func NewDefaultRetryPolicy(maxRetries int, backoffUnit time.Duration, statusThreshold int) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		maxRetries:      maxRetries,
		backoffUnit:     backoffUnit,
		statusThreshold: statusThreshold,
		strategy:        backoff.Linear{},
		isIdempotent:    RequestDescriptor.isIdempotent,
	}
}

// NewExponentialRetryPolicy doubles the wait on every retry, capped at maxBackoff.
func NewExponentialRetryPolicy(maxRetries int, backoffUnit, maxBackoff time.Duration, jitter float64) *DefaultRetryPolicy {
	p := NewDefaultRetryPolicy(maxRetries, backoffUnit, defaultStatusThreshold)
	p.maxBackoff = maxBackoff
	p.strategy = backoff.Exponential{Jitter: jitter}
	return p
}

// MaxRetries implements RetryPolicy.
func (p *DefaultRetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry implements RetryPolicy.
func (p *DefaultRetryPolicy) ShouldRetry(a Attempt) (time.Duration, bool) {
	if a.Number > p.maxRetries {
		return 0, false
	}
	if a.Result.Err == nil || !p.isIdempotent(a.Descriptor) {
		return 0, false
	}
	if !p.retryable(a.Result.Err) {
		return 0, false
	}
	return p.strategy.Delay(a.Number, p.backoffUnit, p.maxBackoff), true
}

func (p *DefaultRetryPolicy) retryable(err *APIError) bool {
	switch err.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindServer, KindClient:
		return err.StatusCode >= p.statusThreshold
	default:
		return false
	}
}

// NoRetry never retries.
type NoRetry struct{}

// ShouldRetry implements RetryPolicy.
func (NoRetry) ShouldRetry(Attempt) (time.Duration, bool) { return 0, false }

// MaxRetries implements RetryPolicy.
func (NoRetry) MaxRetries() int { return 0 }
