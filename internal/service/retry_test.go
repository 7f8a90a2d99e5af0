package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crewflow/crewflow/internal/core"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
		Multiplier:   2.0,
	}
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return core.ErrTransient(core.CodeGHUnavailable, "flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	calls := 0
	permanent := core.ErrValidation("BAD_INPUT", "no")
	err := fastPolicy(5).Execute(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want the validation error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for non-retryable", calls)
	}
}

func TestExecuteExhaustsBudget(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func(context.Context) error {
		calls++
		return core.ErrTransient(core.CodeRateLimited, "always")
	})
	if !IsRetryExhausted(err) {
		t.Fatalf("err = %v, want RetryExhaustedError", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) || exhausted.LastErr == nil {
		t.Fatalf("exhausted error lost its cause: %v", err)
	}
}

func TestExecuteHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastPolicy(3).Execute(ctx, func(context.Context) error {
		t.Fatal("fn ran despite canceled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := &RetryPolicy{
		MaxAttempts:  10,
		BaseDelay:    time.Second,
		MaxDelay:     8 * time.Second,
		JitterFactor: 0,
		Multiplier:   2.0,
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, expected := range want {
		if got := p.DelayNoJitter(i + 1); got != expected {
			t.Errorf("attempt %d delay = %s, want %s", i+1, got, expected)
		}
	}
}

func TestExecuteWithNotifyObservesRetries(t *testing.T) {
	var notified []int
	err := fastPolicy(3).ExecuteWithNotify(context.Background(),
		func(context.Context) error {
			return core.ErrTimeout("slow collaborator")
		},
		func(attempt int, err error, delay time.Duration) {
			notified = append(notified, attempt)
		})
	if !IsRetryExhausted(err) {
		t.Fatalf("err = %v", err)
	}
	// No notification after the final attempt.
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Fatalf("notified = %v, want [1 2]", notified)
	}
}
