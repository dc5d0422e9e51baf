package newssearch

import (
	"context"
	"fmt"
	"time"
)

// MockProvider returns canned results, grounded in the teacher's
// search.MockProvider shape, used for local pipeline runs and tests.
type MockProvider struct {
	results []RawArticle
}

// NewMockProvider builds a mock provider with a few canned articles.
func NewMockProvider() *MockProvider {
	now := time.Now().UTC()
	return &MockProvider{
		results: []RawArticle{
			{URL: "https://example.com/a1", Title: "Example Article One", Summary: "A mock article summary.", Source: "example.com", PublishedAt: now.Add(-2 * time.Hour), Rank: 1},
			{URL: "https://example.com/a2", Title: "Example Article Two", Summary: "Another mock article summary.", Source: "example.com", PublishedAt: now.Add(-26 * time.Hour), Rank: 2},
			{URL: "https://test.org/a3", Title: "Test Article Three", Summary: "A third mock article summary.", Source: "test.org", PublishedAt: now.Add(-5 * time.Hour), Rank: 3},
		},
	}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Search(ctx context.Context, query string, opts Options) ([]RawArticle, error) {
	max := opts.MaxResults
	if max <= 0 || max > len(m.results) {
		max = len(m.results)
	}
	out := make([]RawArticle, max)
	for i := 0; i < max; i++ {
		r := m.results[i]
		r.Title = fmt.Sprintf("%s (%s)", r.Title, query)
		out[i] = r
	}
	return out, nil
}

// SetResults overrides the canned results, used by tests.
func (m *MockProvider) SetResults(results []RawArticle) { m.results = results }
