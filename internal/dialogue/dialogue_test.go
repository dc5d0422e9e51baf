package dialogue

import (
	"strings"
	"testing"
	"time"

	"newsroom/internal/core"
	"newsroom/internal/retrieval"
)

func TestConfidenceFromClampsToUnitInterval(t *testing.T) {
	if c := confidenceFrom(nil); c != 0 {
		t.Fatalf("expected 0 confidence with no chunks, got %v", c)
	}
	c := confidenceFrom([]retrieval.RetrievedChunk{{Score: 1.5}, {Score: 0.5}})
	if c != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", c)
	}
	c = confidenceFrom([]retrieval.RetrievedChunk{{Score: 0.4}, {Score: 0.6}})
	if c != 0.5 {
		t.Fatalf("expected mean score 0.5, got %v", c)
	}
}

func TestTopCategoriesOrdersDescendingAndCaps(t *testing.T) {
	weights := map[string]float64{"tech": 0.5, "sports": 0.9, "politics": 0.3, "health": 0.1}
	top := topCategories(weights, 2)
	if len(top) != 2 || top[0] != "sports" || top[1] != "tech" {
		t.Fatalf("expected [sports tech], got %v", top)
	}
}

func TestPersonalizationBlockEmptyWithNoCategoryWeights(t *testing.T) {
	profile := core.DefaultUserProfile("user-1")
	if block := personalizationBlock(profile); block != "" {
		t.Fatalf("expected empty personalization block with no category weights, got %q", block)
	}
}

func TestPersonalizationBlockMentionsTopCategoriesAndStyle(t *testing.T) {
	profile := core.DefaultUserProfile("user-1")
	profile.CategoryWeights = map[string]float64{"technology": 0.8, "finance": 0.2}
	profile.ResponseLength = "brief"
	block := personalizationBlock(profile)
	if block == "" {
		t.Fatalf("expected a non-empty personalization block")
	}
	if !strings.Contains(block, "technology") || !strings.Contains(block, "finance") {
		t.Fatalf("expected the block to mention the top categories, got %q", block)
	}
	if !strings.Contains(block, "brief") {
		t.Fatalf("expected the block to mention the response-length preference, got %q", block)
	}
}

func TestSourcesFromChunksPreservesOrderAndIndexesFromOne(t *testing.T) {
	chunks := []retrieval.RetrievedChunk{
		{Fingerprint: "a", Source: "Reuters", PublishedAt: time.Now()},
		{Fingerprint: "b", Source: "AP", PublishedAt: time.Now()},
	}
	sources := sourcesFromChunks(chunks)
	if len(sources) != 2 || sources[0].Index != 1 || sources[1].Index != 2 {
		t.Fatalf("expected 1-indexed sources in order, got %+v", sources)
	}
	if sources[0].Fingerprint != "a" || sources[1].Fingerprint != "b" {
		t.Fatalf("expected fingerprints preserved, got %+v", sources)
	}
}

func TestResolveRetrievalFilterBroadWhenNoSeedRun(t *testing.T) {
	mgr := &Manager{}
	f := mgr.resolveRetrievalFilter(nil, core.RetrievalFilter{})
	if !f.Broad {
		t.Fatalf("expected broad recall when no seeding run is set")
	}
}
