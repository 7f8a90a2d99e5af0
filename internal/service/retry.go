// Package service holds cross-cutting pipeline services: retry policies for
// flaky external collaborators.
package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/crewflow/crewflow/internal/core"
)

// RetryPolicy defines exponential-backoff retry behavior. Only errors the
// domain marks retryable are retried; everything else surfaces immediately.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64
}

// DefaultRetryPolicy suits transient gh and agent CLI failures.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
		Multiplier:   2.0,
	}
}

// RateLimitRetryPolicy backs off far enough for API rate windows to reset.
func RateLimitRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  5,
		BaseDelay:    10 * time.Second,
		MaxDelay:     2 * time.Minute,
		JitterFactor: 0.3,
		Multiplier:   2.0,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// Execute runs fn until it succeeds, returns a non-retryable error, the
// attempt budget runs out, or ctx is done.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

// RetryNotifyFunc observes each scheduled retry.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// ExecuteWithNotify is Execute with a callback before each backoff sleep.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !core.IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if notify != nil {
			notify(attempt, err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return &RetryExhaustedError{Attempts: p.MaxAttempts, LastErr: lastErr}
}

// Delay computes the backoff for a given attempt, jitter included.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.DelayNoJitter(attempt))
	if p.JitterFactor > 0 {
		jitter := delay * p.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}
	return time.Duration(delay)
}

// DelayNoJitter computes the deterministic part of the backoff.
func (p *RetryPolicy) DelayNoJitter(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// RetryExhaustedError indicates every attempt failed with a retryable error.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted reports whether err is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	_, ok := err.(*RetryExhaustedError)
	return ok
}
