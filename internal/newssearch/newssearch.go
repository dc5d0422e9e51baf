// Package newssearch implements the News Source Adapter (spec C1): it calls
// an external news search API and normalizes the response into RawArticle
// values, applying rate limiting, retry and a lookback window translation.
// Fetching or scraping full article pages is out of scope (spec non-goal) —
// providers return whatever summary/snippet text the search API itself gives.
package newssearch

import (
	"context"
	"time"

	"newsroom/internal/cache"
	"newsroom/internal/core"
)

// RawArticle is an unnormalized hit returned by a search provider, before C2
// assigns it a fingerprint and persists it.
type RawArticle struct {
	URL         string
	Title       string
	Summary     string
	Source      string
	Author      string
	PublishedAt time.Time
	Language    string
	Rank        int
}

// Options configures one Search call (spec §4.1).
type Options struct {
	MaxResults int           // caller-requested result cap
	Language   string        // e.g. "en"
	Window     time.Duration // only return articles published within this lookback; 0 means unbounded
}

// Provider is a single news search backend.
type Provider interface {
	// Search returns up to opts.MaxResults articles matching query.
	Search(ctx context.Context, query string, opts Options) ([]RawArticle, error)
	// Name identifies the provider for logging and per-provider rate limits.
	Name() string
}

// ProviderType enumerates the backends the factory knows how to build.
type ProviderType string

const (
	ProviderTypeNewsAPI ProviderType = "newsapi"
	ProviderTypeBing     ProviderType = "bing"
	ProviderTypeMock     ProviderType = "mock"
)

// Factory builds a Provider from a type name and its configuration. When
// cache is enabled, every built provider (other than the mock) is wrapped
// with a response cache using responseTTL.
type Factory struct {
	cache       *cache.Client
	responseTTL time.Duration
}

// NewFactory returns a provider factory. cache may be nil or disabled, in
// which case Create returns uncached providers.
func NewFactory(c *cache.Client, responseTTL time.Duration) *Factory {
	return &Factory{cache: c, responseTTL: responseTTL}
}

// Create builds the named provider. config holds provider-specific settings
// (api_key, endpoint) read out of internal/config.
func (f *Factory) Create(providerType ProviderType, config map[string]string) (Provider, error) {
	switch providerType {
	case ProviderTypeNewsAPI:
		apiKey := config["api_key"]
		if apiKey == "" {
			return nil, core.NewError(core.ErrInternal, "newsapi provider requires an api_key", nil)
		}
		return f.maybeCached(NewHTTPProvider("NewsAPI", "https://newsapi.org/v2/everything", apiKey)), nil
	case ProviderTypeBing:
		apiKey := config["api_key"]
		if apiKey == "" {
			return nil, core.NewError(core.ErrInternal, "bing provider requires an api_key", nil)
		}
		return f.maybeCached(NewHTTPProvider("Bing News Search", "https://api.bing.microsoft.com/v7.0/news/search", apiKey)), nil
	case ProviderTypeMock:
		return NewMockProvider(), nil
	default:
		return nil, core.NewError(core.ErrInternal, "unsupported search provider: "+string(providerType), nil)
	}
}

func (f *Factory) maybeCached(p Provider) Provider {
	if f.cache == nil || !f.cache.Enabled() {
		return p
	}
	return NewCachedProvider(p, f.cache, f.responseTTL)
}

// GetAvailableProviders lists the provider types the factory supports.
func (f *Factory) GetAvailableProviders() []ProviderType {
	return []ProviderType{ProviderTypeNewsAPI, ProviderTypeBing, ProviderTypeMock}
}
