package migrate

import (
	"context"
	"math"
	"time"
)

// BackoffPolicy controls retry pacing for transient provider errors and the
// default pacing for poll loops.
type BackoffPolicy struct {
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // ceiling for the exponential growth
	MaxAttempts int           // total attempts, including the first
}

// DefaultBackoff matches the EBS-facing pacing the engine uses everywhere:
// start at 5s, double, cap at 60s, give up after 5 attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   5 * time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the backoff delay before the given attempt (1-based).
// delay = base * 2^(attempt-1), capped at MaxDelay.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 60 * time.Second
	}

	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * multiplier)
	if delay > max || delay < 0 {
		delay = max
	}
	return delay
}

// Retry runs fn, retrying transient errors with exponential backoff until it
// succeeds, a non-transient error occurs, attempts are exhausted, or the
// context is cancelled. The last error is returned unwrapped so its
// classification survives.
func (p BackoffPolicy) Retry(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return err
}
