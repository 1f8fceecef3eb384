package connection

import "time"

// Retryer decides whether and when to retry a failed dial.
type Retryer interface {
	// NextDelay returns the delay before the next attempt.
	// attempt is 0-based (0 for first retry, 1 for second, etc.)
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// FixedDelayRetryer waits the same delay between attempts and stops after
// MaxRetries retries. MaxRetries of 0 disables retrying.
type FixedDelayRetryer struct {
	Delay      time.Duration
	MaxRetries int
}

// NewFixedDelayRetryer creates a new fixed delay retryer.
func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

// NextDelay implements Retryer.
func (r *FixedDelayRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}
