package orchestrator

import (
	"time"
)

// Defaults for the whole-site retry.
const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = 5 * time.Second
)

// RetryPolicy retries a failed site a fixed number of extra times with a
// constant delay between attempts.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// NewRetryPolicy builds a policy, substituting defaults for unset values.
func NewRetryPolicy(maxRetries int, delay time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if delay < 0 {
		delay = DefaultRetryDelay
	}
	return RetryPolicy{MaxRetries: maxRetries, Delay: delay}
}

// Attempts is the total number of tries, including the first.
func (p RetryPolicy) Attempts() int {
	return p.MaxRetries + 1
}

// ShouldRetry reports whether another attempt follows a failed attempt
// (1-based).
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return err != nil && attempt < p.Attempts()
}

// Backoff is the fixed wait before the next attempt.
func (p RetryPolicy) Backoff(int) time.Duration {
	return p.Delay
}
