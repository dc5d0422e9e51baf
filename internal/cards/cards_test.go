package cards

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"newsroom/internal/core"
	"newsroom/internal/llm"
)

// fakeCompleter returns a canned card payload for every call, or an error
// for prompts listed in failFor.
type fakeCompleter struct {
	failFor map[string]bool
	calls   int
}

func (f *fakeCompleter) CompleteStructured(ctx context.Context, req llm.CompletionRequest, target any) error {
	f.calls++
	if f.failFor[req.Prompt] {
		return core.NewError(core.ErrUnstructuredOutput, "synthetic failure", nil)
	}
	payload := cardResponse{
		Headline:  "Headline",
		Summary:   "A two sentence summary of the article. It covers the basics.",
		KeyPoints: []string{"point one", "point two", "point three"},
		TopicTags: []string{"markets"},
	}
	raw, _ := json.Marshal(payload)
	return json.Unmarshal(raw, target)
}

func TestRecencyDecayClampedToFloorAndCeiling(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if d := recencyDecay(now, now); d != 1 {
		t.Errorf("published just now: expected decay 1, got %v", d)
	}
	if d := recencyDecay(now.Add(-24*365*time.Hour), now); d != recencyFloor {
		t.Errorf("very old article: expected floor %v, got %v", recencyFloor, d)
	}
	if d := recencyDecay(now.Add(time.Hour), now); d != 1 {
		t.Errorf("future published-at should clamp delta to 0, expected 1, got %v", d)
	}
}

func TestSourceCredibilityKnownVsUnknown(t *testing.T) {
	if got := sourceCredibility("Reuters"); got != 0.95 {
		t.Errorf("expected known-source credibility 0.95, got %v", got)
	}
	if got := sourceCredibility("Some Random Blog"); got != defaultSourceCredibility {
		t.Errorf("expected default credibility %v, got %v", defaultSourceCredibility, got)
	}
}

func TestDisplayPriorityTopRankIsTen(t *testing.T) {
	if p := displayPriority(0, 5); p != 10 {
		t.Errorf("rank 1 of 5 should be priority 10, got %d", p)
	}
	if p := displayPriority(4, 5); p != 1 {
		t.Errorf("last rank of 5 should be priority 1, got %d", p)
	}
	if p := displayPriority(0, 1); p != 10 {
		t.Errorf("sole article should be priority 10, got %d", p)
	}
}

func TestSynthesizeOrdersByImportanceAndCaps(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	articles := []core.Article{
		{Fingerprint: "old", Title: "Old", Source: "Some Blog", PublishedAt: now.Add(-72 * time.Hour)},
		{Fingerprint: "new", Title: "New", Source: "Reuters", PublishedAt: now.Add(-1 * time.Hour)},
		{Fingerprint: "mid", Title: "Mid", Source: "Reuters", PublishedAt: now.Add(-24 * time.Hour)},
	}
	sentiments := map[string]core.Sentiment{
		"old": {Label: core.SentimentNeutral, Magnitude: 0.1},
		"new": {Label: core.SentimentPositive, Magnitude: 0.8},
		"mid": {Label: core.SentimentPositive, Magnitude: 0.5},
	}

	synth := New(&fakeCompleter{}, Options{})
	got, degraded, err := synth.Synthesize(context.Background(), articles, sentiments, 2, nil, now)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if degraded {
		t.Fatalf("expected no degradation")
	}
	if len(got) != 2 {
		t.Fatalf("expected maxCards=2 to cap output, got %d", len(got))
	}
	if got[0].ArticleFingerprint != "new" {
		t.Errorf("expected most recent high-sentiment article ranked first, got %s", got[0].ArticleFingerprint)
	}
	if got[0].DisplayPriority != 10 {
		t.Errorf("expected top card priority 10, got %d", got[0].DisplayPriority)
	}
}

func TestSynthesizeReturnsZeroForNoArticlesOrNoCards(t *testing.T) {
	synth := New(&fakeCompleter{}, Options{})
	got, degraded, err := synth.Synthesize(context.Background(), nil, nil, 5, nil, time.Now())
	if err != nil || got != nil || degraded {
		t.Fatalf("expected nil result for empty input, got %v %v %v", got, degraded, err)
	}

	articles := []core.Article{{Fingerprint: "a", Title: "A"}}
	got, _, err = synth.Synthesize(context.Background(), articles, nil, 0, nil, time.Now())
	if err != nil || got != nil {
		t.Fatalf("expected nil result for maxCards=0, got %v %v", got, err)
	}
}

func TestSynthesizeDegradesWhenMoreThanHalfFail(t *testing.T) {
	now := time.Now()
	articles := []core.Article{
		{Fingerprint: "a", Title: "A", PublishedAt: now},
		{Fingerprint: "b", Title: "B", PublishedAt: now},
		{Fingerprint: "c", Title: "C", PublishedAt: now},
	}
	fc := &fakeCompleter{failFor: map[string]bool{}}
	for _, a := range articles[:2] {
		fc.failFor[buildPrompt(a)] = true
	}

	synth := New(fc, Options{})
	got, degraded, err := synth.Synthesize(context.Background(), articles, nil, 3, nil, now)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !degraded {
		t.Fatalf("expected degraded=true when 2 of 3 fail")
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 surviving card, got %d", len(got))
	}
}
