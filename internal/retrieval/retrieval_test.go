package retrieval

import (
	"context"
	"testing"
	"time"

	"newsroom/internal/articlestore"
	"newsroom/internal/core"
	"newsroom/internal/indexer"
)

type fakeEmbedder struct {
	vector []float64
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return [][]float64{f.vector}, nil
}

type fakeSearcher struct {
	results []indexer.SearchResult
}

func (f fakeSearcher) Search(ctx context.Context, q indexer.SearchQuery) ([]indexer.SearchResult, error) {
	return f.results, nil
}

type fakeLookup struct {
	articles map[string]core.Article
}

func (f fakeLookup) GetByFingerprints(ctx context.Context, fps []string) ([]core.Article, error) {
	var out []core.Article
	for _, fp := range fps {
		if a, ok := f.articles[fp]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f fakeLookup) QueryByTagsAndRange(ctx context.Context, opts articlestore.QueryOptions) ([]core.Article, error) {
	var out []core.Article
	for _, a := range f.articles {
		out = append(out, a)
	}
	return out, nil
}

func TestRetrieveCollapsesToOneChunkPerArticleAndRanksByScore(t *testing.T) {
	now := time.Now().UTC()
	articles := map[string]core.Article{
		"fp1": {Fingerprint: "fp1", Title: "A", Source: "Reuters", PublishedAt: now},
		"fp2": {Fingerprint: "fp2", Title: "B", Source: "Reuters", PublishedAt: now.Add(-200 * time.Hour)},
	}
	results := []indexer.SearchResult{
		{Chunk: core.Chunk{ArticleFingerprint: "fp1", Text: "low chunk"}, Similarity: 0.5},
		{Chunk: core.Chunk{ArticleFingerprint: "fp1", Text: "high chunk"}, Similarity: 0.9},
		{Chunk: core.Chunk{ArticleFingerprint: "fp2", Text: "old chunk"}, Similarity: 0.95},
	}

	eng := New(fakeEmbedder{vector: []float64{1, 0}}, fakeSearcher{results: results}, fakeLookup{articles: articles})
	res, err := eng.Retrieve(context.Background(), "quantum computing", Options{K: 5, SimilarityFloor: 0.0})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	var fp1Count int
	for _, c := range res.Chunks {
		if c.Fingerprint == "fp1" {
			fp1Count++
			if c.Text != "high chunk" {
				t.Errorf("expected fp1's best-scoring chunk to survive, got %q", c.Text)
			}
		}
	}
	if fp1Count != 1 {
		t.Fatalf("expected exactly one surviving chunk per article, got %d for fp1", fp1Count)
	}
	if len(res.Chunks) > 0 && res.Chunks[0].Fingerprint != "fp1" {
		t.Errorf("expected recent high-similarity article ranked first, got %s", res.Chunks[0].Fingerprint)
	}
}

func TestRetrieveAppliesSimilarityFloorAndFlagsLowRecall(t *testing.T) {
	results := []indexer.SearchResult{
		{Chunk: core.Chunk{ArticleFingerprint: "fp1", Text: "weak"}, Similarity: 0.05},
	}
	eng := New(fakeEmbedder{vector: []float64{1, 0}}, fakeSearcher{results: results}, fakeLookup{articles: map[string]core.Article{}})
	res, err := eng.Retrieve(context.Background(), "q", Options{K: 5, SimilarityFloor: 0.2})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != 0 {
		t.Fatalf("expected below-floor chunk dropped, got %d chunks", len(res.Chunks))
	}
	if !res.LowRecall {
		t.Fatalf("expected LowRecall when fewer than 2 results remain")
	}
}

func TestRetrieveRespectsFingerprintFilter(t *testing.T) {
	results := []indexer.SearchResult{
		{Chunk: core.Chunk{ArticleFingerprint: "fp1", Text: "in"}, Similarity: 0.9},
		{Chunk: core.Chunk{ArticleFingerprint: "fp2", Text: "out"}, Similarity: 0.95},
	}
	eng := New(fakeEmbedder{vector: []float64{1, 0}}, fakeSearcher{results: results}, fakeLookup{articles: map[string]core.Article{}})
	res, err := eng.Retrieve(context.Background(), "q", Options{
		K:               5,
		SimilarityFloor: 0.0,
		Filter:          Filter{ArticleFingerprints: []string{"fp1"}},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, c := range res.Chunks {
		if c.Fingerprint != "fp1" {
			t.Fatalf("expected only fp1 to survive the filter, got %s", c.Fingerprint)
		}
	}
}

func TestRecencyDecayZeroForZeroTime(t *testing.T) {
	if d := recencyDecay(time.Time{}, time.Now()); d != 0 {
		t.Errorf("expected zero decay for zero-value published-at, got %v", d)
	}
}
