package newssearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPProvider is a generic JSON news-search API client, shaped after the
// teacher's GoogleProvider/SerpAPIProvider HTTP call pattern but pointed at
// a search-API endpoint rather than a general web search engine.
type HTTPProvider struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPProvider builds an HTTPProvider for a NewsAPI/Bing-shaped endpoint.
func NewHTTPProvider(name, endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

type newsAPIResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	TotalResults int    `json:"totalResults"`
	Articles     []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Author      string `json:"author"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// Search calls the configured news-search endpoint and normalizes the reply.
func (p *HTTPProvider) Search(ctx context.Context, query string, opts Options) ([]RawArticle, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("pageSize", strconv.Itoa(clamp(opts.MaxResults, 1, 100)))
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	if opts.Window > 0 {
		params.Set("from", time.Now().Add(-opts.Window).UTC().Format("2006-01-02T15:04:05Z"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Api-Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", p.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited(p.name)
	}
	if resp.StatusCode >= 500 {
		return nil, errUnavailable(p.name, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errInvalidResponse(p.name, fmt.Sprintf("status %d", resp.StatusCode))
	}

	var parsed newsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errInvalidResponse(p.name, err.Error())
	}

	results := make([]RawArticle, 0, len(parsed.Articles))
	for i, a := range parsed.Articles {
		if i >= opts.MaxResults {
			break
		}
		published, _ := time.Parse(time.RFC3339, a.PublishedAt)
		results = append(results, RawArticle{
			URL:         a.URL,
			Title:       a.Title,
			Summary:     a.Description,
			Source:      a.Source.Name,
			Author:      a.Author,
			PublishedAt: published,
			Language:    opts.Language,
			Rank:        i + 1,
		})
	}
	return results, nil
}

func clamp(v, lo, hi int) int {
	if v <= 0 {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
