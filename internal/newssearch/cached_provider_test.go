package newssearch

import (
	"context"
	"testing"

	"newsroom/internal/cache"
)

type countingProvider struct {
	name    string
	calls   int
	results []RawArticle
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) Search(ctx context.Context, query string, opts Options) ([]RawArticle, error) {
	p.calls++
	return p.results, nil
}

func TestCachedProviderPassesThroughWhenCacheDisabled(t *testing.T) {
	disabled, err := cache.New("")
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	inner := &countingProvider{name: "mock", results: []RawArticle{{Title: "a"}}}
	cp := NewCachedProvider(inner, disabled, 0)

	if _, err := cp.Search(context.Background(), "q", Options{MaxResults: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cp.Search(context.Background(), "q", Options{MaxResults: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected every call to reach the provider with caching disabled, got %d calls", inner.calls)
	}
}

func TestCachedProviderNamePassesThrough(t *testing.T) {
	disabled, _ := cache.New("")
	inner := &countingProvider{name: "mock"}
	cp := NewCachedProvider(inner, disabled, 0)
	if cp.Name() != "mock" {
		t.Fatalf("expected wrapped provider name, got %q", cp.Name())
	}
}
