package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsroom/internal/articlestore"
	"newsroom/internal/core"
	"newsroom/internal/indexer"
	"newsroom/internal/llm"
	"newsroom/internal/newssearch"
)

type fakeSearcher struct {
	results []newssearch.RawArticle
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts newssearch.Options) ([]newssearch.RawArticle, error) {
	return f.results, f.err
}

type fakeStore struct {
	result articlestore.UpsertResult
	err    error
}

func (f *fakeStore) UpsertMany(ctx context.Context, articles []core.Article) (articlestore.UpsertResult, error) {
	return f.result, f.err
}

type fakeIndexer struct{ err error }

func (f *fakeIndexer) Reindex(ctx context.Context, a core.Article) (indexer.ReindexResult, error) {
	if f.err != nil {
		return indexer.ReindexResult{}, f.err
	}
	return indexer.ReindexResult{Status: core.IndexStatusIndexed, ChunksStored: 1}, nil
}

type fakeCompleter struct{}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	return llm.CompletionResult{Text: "themes"}, nil
}

type fakeScorer struct{}

func (f *fakeScorer) Score(texts []string) []core.Sentiment {
	out := make([]core.Sentiment, len(texts))
	for i := range texts {
		out[i] = core.Sentiment{Label: core.SentimentNeutral}
	}
	return out
}

type fakeCardSynth struct {
	cards    []core.NewsCard
	degraded bool
	err      error
}

func (f *fakeCardSynth) Synthesize(ctx context.Context, articles []core.Article, sentiments map[string]core.Sentiment, maxCards int, profile *core.UserProfile, now time.Time) ([]core.NewsCard, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return f.cards, f.degraded, nil
}

type fakeMemory struct {
	recorded []core.InteractionRecord
	profile  core.UserProfile
	err      error
}

func (f *fakeMemory) Record(ctx context.Context, in core.InteractionRecord) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, in)
	return nil
}

func (f *fakeMemory) GetProfile(ctx context.Context, userID string) (core.UserProfile, error) {
	return f.profile, nil
}

func sampleRaw() []newssearch.RawArticle {
	return []newssearch.RawArticle{
		{URL: "https://example.com/a", Title: "Article A", Source: "Reuters", PublishedAt: time.Now().UTC()},
		{URL: "https://example.com/b", Title: "Article B", Source: "AP", PublishedAt: time.Now().UTC()},
	}
}

func TestRunSearchFailureFailsRun(t *testing.T) {
	o := New(&fakeSearcher{err: errors.New("boom")}, &fakeStore{}, &fakeIndexer{}, &fakeCompleter{}, &fakeScorer{}, &fakeCardSynth{}, &fakeMemory{}, DefaultConfig())
	run, err := o.Run(context.Background(), core.DefaultPipelineRequest("ai policy", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != core.RunFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if len(run.Stages) != 1 || run.Stages[0].Stage != core.StageSearch {
		t.Fatalf("expected only the search stage recorded, got %+v", run.Stages)
	}
}

func TestRunStoreFailureDegradesNotFails(t *testing.T) {
	o := New(
		&fakeSearcher{results: sampleRaw()},
		&fakeStore{err: errors.New("db down")},
		&fakeIndexer{},
		&fakeCompleter{},
		&fakeScorer{},
		&fakeCardSynth{cards: []core.NewsCard{{ArticleFingerprint: "x"}}},
		&fakeMemory{},
		DefaultConfig(),
	)
	run, err := o.Run(context.Background(), core.DefaultPipelineRequest("ai policy", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status == core.RunFailed {
		t.Fatalf("expected a store failure to degrade, not fail, the run")
	}
	var storeStage, indexStage core.StageResult
	for _, s := range run.Stages {
		switch s.Stage {
		case core.StageStore:
			storeStage = s
		case core.StageIndex:
			indexStage = s
		}
	}
	if storeStage.Outcome != core.OutcomeFailed {
		t.Fatalf("expected store stage failed, got %s", storeStage.Outcome)
	}
	if indexStage.Outcome != core.OutcomeSkipped {
		t.Fatalf("expected index stage skipped when store did not persist, got %s", indexStage.Outcome)
	}
}

func TestRunIndexFailureOnEveryArticleFailsTheStage(t *testing.T) {
	o := New(
		&fakeSearcher{results: sampleRaw()},
		&fakeStore{},
		&fakeIndexer{err: core.NewError(core.ErrProviderUnavailable, "embedding provider failed for every chunk", errors.New("503"))},
		&fakeCompleter{},
		&fakeScorer{},
		&fakeCardSynth{cards: []core.NewsCard{{ArticleFingerprint: "x"}}},
		&fakeMemory{},
		DefaultConfig(),
	)
	run, err := o.Run(context.Background(), core.DefaultPipelineRequest("ai policy", "user-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != core.RunPartialSuccess {
		t.Fatalf("expected partial-success when index fails but other stages succeed, got %s", run.Status)
	}
	var indexStage core.StageResult
	for _, s := range run.Stages {
		if s.Stage == core.StageIndex {
			indexStage = s
		}
	}
	if indexStage.Outcome != core.OutcomeFailed {
		t.Fatalf("expected index stage failed when no article indexed, got %s", indexStage.Outcome)
	}
	if indexStage.ErrorKind != string(core.ErrProviderUnavailable) {
		t.Fatalf("expected ProviderUnavailable error kind, got %s", indexStage.ErrorKind)
	}
	if run.Indexed != 0 {
		t.Fatalf("expected zero vectors indexed, got %d", run.Indexed)
	}
	found := false
	for _, w := range run.Warnings {
		if w == indexStage.Warning {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the index stage's warning to be surfaced in run.Warnings, got %+v", run.Warnings)
	}
}

func TestRunConcurrencyCapRejectsSecondRunForSameUser(t *testing.T) {
	slow := &blockingSearcher{entered: make(chan struct{}), release: make(chan struct{})}
	o := New(slow, &fakeStore{}, &fakeIndexer{}, &fakeCompleter{}, &fakeScorer{}, &fakeCardSynth{}, &fakeMemory{}, DefaultConfig())

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, _ = o.Run(context.Background(), core.DefaultPipelineRequest("q", "user-1"))
		close(done)
	}()
	<-started
	// Give the first run a moment to acquire its slot before we probe.
	<-slow.entered

	_, err := o.Run(context.Background(), core.DefaultPipelineRequest("q", "user-1"))
	if core.KindOf(err) != core.ErrBusyRetry {
		t.Fatalf("expected BusyRetry for a concurrent run on the same user, got %v", err)
	}

	close(slow.release)
	<-done
}

type blockingSearcher struct {
	entered chan struct{}
	release chan struct{}
	once    bool
}

func (b *blockingSearcher) Search(ctx context.Context, query string, opts newssearch.Options) ([]newssearch.RawArticle, error) {
	if !b.once {
		b.once = true
		close(b.entered)
		<-b.release
	}
	return nil, nil
}

func TestRunAllTogglesOffSkipsEverythingButSearch(t *testing.T) {
	req := core.PipelineRequest{Query: "q", UserID: "user-1", NumResults: 10, MaxCards: 5}
	o := New(&fakeSearcher{results: sampleRaw()}, &fakeStore{}, &fakeIndexer{}, &fakeCompleter{}, &fakeScorer{}, &fakeCardSynth{}, &fakeMemory{}, DefaultConfig())
	run, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range run.Stages {
		if s.Stage == core.StageSearch {
			continue
		}
		if s.Outcome != core.OutcomeSkipped {
			t.Fatalf("expected stage %s to be skipped with all toggles off, got %s", s.Stage, s.Outcome)
		}
	}
}
