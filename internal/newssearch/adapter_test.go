package newssearch

import (
	"context"
	"testing"
	"time"

	"newsroom/internal/core"
	"newsroom/internal/ratelimit"
)

type flakyProvider struct {
	name    string
	calls   int
	failFor int
	results []RawArticle
}

func (f *flakyProvider) Name() string { return f.name }

func (f *flakyProvider) Search(ctx context.Context, query string, opts Options) ([]RawArticle, error) {
	f.calls++
	if f.calls <= f.failFor {
		return nil, core.NewError(core.ErrProviderUnavailable, "temporarily down", nil)
	}
	return f.results, nil
}

func TestAdapterRetriesTransientProviderFailure(t *testing.T) {
	provider := &flakyProvider{name: "flaky", failFor: 2, results: []RawArticle{{Title: "ok"}}}
	limiter := ratelimit.NewLimiter(1000, 10).WithRetryPolicy(3, time.Millisecond, 2, 0)
	sems := ratelimit.NewProviderSemaphores(map[string]int{"flaky": 2})
	adapter := NewAdapter(provider, limiter, sems)

	results, err := adapter.Search(context.Background(), "q", Options{MaxResults: 5})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(results) != 1 || results[0].Title != "ok" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", provider.calls)
	}
}

func TestAdapterEmptyResultsIsNotAnError(t *testing.T) {
	provider := &flakyProvider{name: "empty", results: nil}
	limiter := ratelimit.NewLimiter(1000, 10)
	sems := ratelimit.NewProviderSemaphores(map[string]int{"empty": 1})
	adapter := NewAdapter(provider, limiter, sems)

	results, err := adapter.Search(context.Background(), "no matches anywhere", Options{MaxResults: 5})
	if err != nil {
		t.Fatalf("expected no error for a legitimate zero-result search, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected zero results, got %d", len(results))
	}
}

func TestAdapterBoundsConcurrencyPerProvider(t *testing.T) {
	provider := &flakyProvider{name: "bounded", results: []RawArticle{{Title: "x"}}}
	limiter := ratelimit.NewLimiter(1000, 10)
	sems := ratelimit.NewProviderSemaphores(map[string]int{"bounded": 1})
	adapter := NewAdapter(provider, limiter, sems)

	release, err := sems.Acquire(context.Background(), "bounded")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := adapter.Search(ctx, "q", Options{MaxResults: 1}); err == nil {
		t.Fatalf("expected search to block on an already-saturated provider semaphore")
	}
}
