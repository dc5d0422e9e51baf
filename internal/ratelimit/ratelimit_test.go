package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterRetriesTransientErrors(t *testing.T) {
	l := NewLimiter(1000, 10).WithRetryPolicy(3, time.Millisecond, 2, 0)

	attempts := 0
	err := l.Do(context.Background(), func(error) bool { return true }, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestLimiterStopsOnNonTransientError(t *testing.T) {
	l := NewLimiter(1000, 10)
	attempts := 0
	wantErr := errors.New("fatal")
	err := l.Do(context.Background(), func(error) bool { return false }, func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fatal error to propagate immediately, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt for a non-transient error, got %d", attempts)
	}
}

func TestProviderSemaphoresBoundsConcurrency(t *testing.T) {
	sems := NewProviderSemaphores(map[string]int{"search": 1})
	ctx := context.Background()

	release1, err := sems.Acquire(ctx, "search")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := sems.Acquire(ctx2, "search"); err == nil {
		t.Fatalf("expected second acquire to block until the first releases")
	}

	release1()
	release2, err := sems.Acquire(ctx, "search")
	if err != nil {
		t.Fatalf("unexpected error acquiring after release: %v", err)
	}
	release2()
}
