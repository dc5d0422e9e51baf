package newssearch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"newsroom/internal/cache"
)

// CachedProvider decorates a Provider with a read-through response cache, so
// repeated queries (common during dialogue follow-ups and pipeline re-runs
// for a popular topic) skip the outbound call within the TTL window.
type CachedProvider struct {
	inner Provider
	cache *cache.Client
	ttl   time.Duration
}

// NewCachedProvider wraps inner with a cache.Client-backed response cache.
// A nil or disabled cache makes this a pass-through to inner.
func NewCachedProvider(inner Provider, c *cache.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{inner: inner, cache: c, ttl: ttl}
}

func (p *CachedProvider) Name() string { return p.inner.Name() }

// Search serves from cache on a hit; otherwise calls inner and caches a
// successful result. Cache errors never fail the search — they only forgo
// the speedup.
func (p *CachedProvider) Search(ctx context.Context, query string, opts Options) ([]RawArticle, error) {
	key := p.cacheKey(query, opts)

	var cached []RawArticle
	if hit, err := p.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	results, err := p.inner.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	_ = p.cache.Set(ctx, key, results, p.ttl)
	return results, nil
}

func (p *CachedProvider) cacheKey(query string, opts Options) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s", p.inner.Name(), query, opts.MaxResults, opts.Language, opts.Window)
	return "newssearch:response:" + hex.EncodeToString(h.Sum(nil))
}
