package newssearch

import (
	"context"

	"newsroom/internal/ratelimit"
)

// Adapter is the C1 News Source Adapter: it wraps an underlying Provider
// with the shared rate limiting, retry and concurrency policy every
// provider call goes through (spec §4.1, §4.8).
type Adapter struct {
	provider Provider
	limiter  *ratelimit.Limiter
	sems     *ratelimit.ProviderSemaphores
}

// NewAdapter builds a C1 adapter around provider.
func NewAdapter(provider Provider, limiter *ratelimit.Limiter, sems *ratelimit.ProviderSemaphores) *Adapter {
	return &Adapter{provider: provider, limiter: limiter, sems: sems}
}

// Search executes a rate-limited, retried search against the wrapped
// provider. A query that legitimately matches nothing returns (nil, nil):
// the caller's pipeline records this as a successful stage with zero found
// articles, not a failure (spec Open Question: empty-with-success).
func (a *Adapter) Search(ctx context.Context, query string, opts Options) ([]RawArticle, error) {
	release, err := a.sems.Acquire(ctx, a.provider.Name())
	if err != nil {
		return nil, err
	}
	defer release()

	var results []RawArticle
	err = a.limiter.Do(ctx, Transient, func(ctx context.Context) error {
		r, searchErr := a.provider.Search(ctx, query, opts)
		if searchErr != nil {
			return searchErr
		}
		results = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Name returns the wrapped provider's name.
func (a *Adapter) Name() string { return a.provider.Name() }
