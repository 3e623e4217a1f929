package llm

import (
	"math/rand/v2"
	"time"
)

// Default retry policy values for judge calls.
const (
	DefaultMaxAttempts   = 10
	DefaultBaseDelay     = 1 * time.Second
	DefaultMaxDelay      = 30 * time.Second
	DefaultJitterPercent = 0.1
	DefaultMaxElapsed    = 120 * time.Second
)

// RetryPolicy decides whether and when a failed request is sent again.
// Retryability is read from the error's classification, see IsRetryable;
// fatal errors such as quota exhaustion are never retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0"`

	// BaseDelay is the delay before the first retry. Later delays double
	// up to MaxDelay.
	BaseDelay time.Duration `yaml:"base_delay" validate:"gte=0"`

	// MaxDelay caps a single backoff.
	MaxDelay time.Duration `yaml:"max_delay" validate:"gte=0"`

	// JitterPercent spreads each delay by up to ±JitterPercent of itself.
	JitterPercent float64 `yaml:"jitter_percent" validate:"gte=0,lte=1"`

	// MaxElapsed bounds the wall-clock time spent on one request including
	// backoff. Zero means no bound.
	MaxElapsed time.Duration `yaml:"max_elapsed" validate:"gte=0"`

	// Retryable classifies errors. Nil means IsRetryable.
	Retryable func(error) bool `yaml:"-"`
}

// DefaultRetryPolicy returns the policy used for judge calls: ten attempts,
// exponential backoff from one second capped at thirty, within two minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   DefaultMaxAttempts,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		JitterPercent: DefaultJitterPercent,
		MaxElapsed:    DefaultMaxElapsed,
	}
}

// attempts returns the effective attempt count.
func (p RetryPolicy) attempts() int {
	return max(p.MaxAttempts, 1)
}

// ShouldRetry reports whether err, seen on the given zero-based attempt,
// should be retried.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt+1 >= p.attempts() || IsFatal(err) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// Delay returns the backoff before retry number attempt+1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	attempt = min(max(attempt, 0), 30)

	delay := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}

	jitter := int64(float64(delay) * p.JitterPercent)
	if jitter > 0 {
		//nolint:gosec // G404: math/rand is acceptable for retry jitter timing.
		delay += time.Duration(rand.Int64N(2*jitter) - jitter)
	}

	return max(delay, p.BaseDelay)
}
