// Package pipeline implements the C8 Pipeline Orchestrator: it composes the
// News Source Adapter, Article Store, Embedding Indexer, LLM Client,
// Sentiment Scorer, Card Synthesizer and User Memory Store into one staged
// run with toggles, criticality-aware partial-failure handling, and an
// overall deadline (spec §4.8).
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"newsroom/internal/articlestore"
	"newsroom/internal/core"
	"newsroom/internal/indexer"
	"newsroom/internal/llm"
	"newsroom/internal/newssearch"
)

// Searcher is the subset of internal/newssearch.Adapter the orchestrator needs (C1).
type Searcher interface {
	Search(ctx context.Context, query string, opts newssearch.Options) ([]newssearch.RawArticle, error)
}

// ArticleStorer is the subset of internal/articlestore.Store the orchestrator needs (C2).
type ArticleStorer interface {
	UpsertMany(ctx context.Context, articles []core.Article) (articlestore.UpsertResult, error)
}

// ChunkIndexer is the subset of internal/indexer.Indexer the orchestrator needs (C3).
type ChunkIndexer interface {
	Reindex(ctx context.Context, a core.Article) (indexer.ReindexResult, error)
}

// Completer is the subset of internal/llm.Client the whole-corpus summary stage needs (C4).
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error)
}

// SentimentScorer is the subset of internal/sentiment.Scorer the orchestrator needs (C5).
type SentimentScorer interface {
	Score(texts []string) []core.Sentiment
}

// CardSynth is the subset of internal/cards.Synthesizer the orchestrator needs (C6).
type CardSynth interface {
	Synthesize(ctx context.Context, articles []core.Article, sentiments map[string]core.Sentiment, maxCards int, profile *core.UserProfile, now time.Time) ([]core.NewsCard, bool, error)
}

// MemoryStore is the subset of internal/memory.Store the orchestrator needs (C7).
type MemoryStore interface {
	Record(ctx context.Context, in core.InteractionRecord) error
	GetProfile(ctx context.Context, userID string) (core.UserProfile, error)
}

// Config parameterizes the orchestrator (spec §4.8).
type Config struct {
	Deadline time.Duration // default 300s
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{Deadline: 300 * time.Second}
}

// Orchestrator is the C8 Pipeline Orchestrator.
type Orchestrator struct {
	search    Searcher
	store     ArticleStorer
	indexer   ChunkIndexer
	llm       Completer
	sentiment SentimentScorer
	cardSynth CardSynth
	memory    MemoryStore

	cfg Config

	runLocksMu sync.Mutex
	runLocks   map[string]bool // userID -> run in flight
}

// New builds the C8 Orchestrator over its component collaborators. Any
// collaborator left nil has its stage permanently disabled regardless of
// the request's toggle, recorded as skipped.
func New(search Searcher, store ArticleStorer, idx ChunkIndexer, llmClient Completer, scorer SentimentScorer, synth CardSynth, mem MemoryStore, cfg Config) *Orchestrator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 300 * time.Second
	}
	return &Orchestrator{
		search: search, store: store, indexer: idx, llm: llmClient,
		sentiment: scorer, cardSynth: synth, memory: mem, cfg: cfg,
		runLocks: make(map[string]bool),
	}
}

// Run executes one C8 pipeline run (spec §4.8). At most one run per user
// may be in flight at a time; a concurrent request for the same user
// returns BusyRetry immediately rather than queuing (spec's caller-selectable
// alternative — a bounded depth-1 queue — is not implemented; see DESIGN.md).
func (o *Orchestrator) Run(ctx context.Context, req core.PipelineRequest) (*core.PipelineRun, error) {
	if !o.acquireUserSlot(req.UserID) {
		return nil, core.NewError(core.ErrBusyRetry, "a pipeline run is already in flight for this user", nil)
	}
	defer o.releaseUserSlot(req.UserID)

	run := &core.PipelineRun{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Query:         req.Query,
		Request:       req,
		SeedTimestamp: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()
	start := time.Now()

	// C1 Search — fatal on failure (spec §4.8: "search failing fails the run").
	rawArticles, ok := o.runSearchStage(ctx, run, req)
	if !ok {
		run.TotalDuration = time.Since(start)
		run.Finalize()
		return run, nil
	}
	run.Found = len(rawArticles)

	articles := normalizeArticles(rawArticles, req.Query)

	// C2 Store — non-fatal, but failure here downgrades the remainder of
	// the run to operate on the in-memory search results rather than the
	// durable corpus (spec §4.8 "store failing degrades, does not fail").
	articles, storeOK := o.runStoreStage(ctx, run, req, articles)

	// C3 Index, C5 Sentiment and C4 whole-corpus Analyze fan out
	// concurrently; none blocks the others (spec §4.8 stage graph).
	sentiments := o.runConcurrentStages(ctx, run, req, articles, storeOK)

	var profile *core.UserProfile
	if o.memory != nil {
		if p, err := o.memory.GetProfile(ctx, req.UserID); err == nil {
			profile = &p
		}
	}

	o.runCardStage(ctx, run, req, articles, sentiments, profile)
	o.runMemoryStage(ctx, run, req)

	run.ArticleFPs = fingerprintsOf(articles)
	run.TotalDuration = time.Since(start)
	run.Finalize()
	return run, nil
}

// runSearchStage executes C1. A failure is fatal: it's the only stage whose
// failure stops the run outright.
func (o *Orchestrator) runSearchStage(ctx context.Context, run *core.PipelineRun, req core.PipelineRequest) ([]newssearch.RawArticle, bool) {
	done := stageTimer()
	if o.search == nil {
		run.AddStage(core.StageResult{Stage: core.StageSearch, Outcome: core.OutcomeSkipped, Duration: done()})
		return nil, false
	}
	opts := newssearch.Options{MaxResults: req.NumResults}
	results, err := o.search.Search(ctx, req.Query, opts)
	if err != nil {
		outcome := core.OutcomeFailed
		if ctx.Err() != nil {
			outcome = core.OutcomeCancelled
		}
		run.AddStage(core.StageResult{
			Stage: core.StageSearch, Outcome: outcome, ErrorKind: errorKindOf(err),
			Warning: fmt.Sprintf("search failed: %v", err), Duration: done(),
		})
		return nil, false
	}
	run.AddStage(core.StageResult{Stage: core.StageSearch, Outcome: core.OutcomeSuccess, Count: len(results), Duration: done()})
	return results, true
}

// runStoreStage executes C2 when req.Store is set. On failure the run
// continues with the in-memory article set (not persisted, not indexable by
// future runs) rather than aborting.
func (o *Orchestrator) runStoreStage(ctx context.Context, run *core.PipelineRun, req core.PipelineRequest, articles []core.Article) ([]core.Article, bool) {
	done := stageTimer()
	if !req.Store || o.store == nil {
		run.AddStage(core.StageResult{Stage: core.StageStore, Outcome: core.OutcomeSkipped, Duration: done()})
		return articles, false
	}
	result, err := o.store.UpsertMany(ctx, articles)
	if err != nil {
		run.AddStage(core.StageResult{
			Stage: core.StageStore, Outcome: core.OutcomeFailed, ErrorKind: errorKindOf(err),
			Warning: fmt.Sprintf("store failed, continuing with in-memory results: %v", err), Duration: done(),
		})
		return articles, false
	}
	run.Stored = result.Stored
	run.AddStage(core.StageResult{Stage: core.StageStore, Outcome: core.OutcomeSuccess, Count: result.Stored + result.Duplicates, Duration: done()})
	return articles, true
}

// runConcurrentStages fans C3 (index), C5 (sentiment) and C4 (whole-corpus
// analyze) out concurrently via errgroup, since none of their outcomes
// feeds another (spec §4.8 stage graph). Index is skipped entirely when the
// store stage didn't durably persist the corpus, since there's nothing
// fingerprint-addressable to index against (spec §4.8 toggle/skip rule).
func (o *Orchestrator) runConcurrentStages(ctx context.Context, run *core.PipelineRun, req core.PipelineRequest, articles []core.Article, storeOK bool) map[string]core.Sentiment {
	var mu sync.Mutex
	var indexStage, sentimentStage, analyzeStage core.StageResult
	sentiments := map[string]core.Sentiment{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		done := stageTimer()
		switch {
		case !req.Index || o.indexer == nil:
			indexStage = core.StageResult{Stage: core.StageIndex, Outcome: core.OutcomeSkipped, Duration: done()}
		case !storeOK:
			indexStage = core.StageResult{Stage: core.StageIndex, Outcome: core.OutcomeSkipped, Warning: "skipped: article store stage did not persist this run's corpus", Duration: done()}
		case len(articles) == 0:
			indexStage = core.StageResult{Stage: core.StageIndex, Outcome: core.OutcomeSkipped, Duration: done()}
		default:
			indexed, failed := 0, 0
			var lastErr error
			for _, a := range articles {
				if gctx.Err() != nil {
					break
				}
				res, err := o.indexer.Reindex(gctx, a)
				if err != nil {
					failed++
					lastErr = err
					continue
				}
				indexed++
				_ = res
			}
			mu.Lock()
			run.Indexed = indexed
			mu.Unlock()
			switch {
			case failed > 0 && indexed == 0:
				// No article indexed a single chunk: this is a failure, not a
				// degraded success (spec §4.3 "partial failures degrade to
				// warnings when at least one chunk was indexed").
				indexStage = core.StageResult{
					Stage: core.StageIndex, Outcome: core.OutcomeFailed,
					ErrorKind: errorKindOf(lastErr), Warning: "index stage failed: no article was indexed", Duration: done(),
				}
			case failed > 0:
				indexStage = core.StageResult{
					Stage: core.StageIndex, Outcome: core.OutcomeSuccess, Count: indexed,
					Warning: fmt.Sprintf("%d of %d articles failed to index", failed, len(articles)), Duration: done(),
				}
			default:
				indexStage = core.StageResult{Stage: core.StageIndex, Outcome: core.OutcomeSuccess, Count: indexed, Duration: done()}
			}
		}
		return nil
	})

	g.Go(func() error {
		done := stageTimer()
		if !req.Sentiment || o.sentiment == nil || len(articles) == 0 {
			sentimentStage = core.StageResult{Stage: core.StageSentiment, Outcome: core.OutcomeSkipped, Duration: done()}
			return nil
		}
		texts := make([]string, len(articles))
		for i, a := range articles {
			texts[i] = a.Summary
			if texts[i] == "" {
				texts[i] = a.Title
			}
		}
		scores := o.sentiment.Score(texts)
		local := make(map[string]core.Sentiment, len(articles))
		for i, a := range articles {
			if i < len(scores) {
				local[a.Fingerprint] = scores[i]
			}
		}
		mu.Lock()
		for k, v := range local {
			sentiments[k] = v
		}
		mu.Unlock()
		sentimentStage = core.StageResult{Stage: core.StageSentiment, Outcome: core.OutcomeSuccess, Count: len(local), Duration: done()}
		return nil
	})

	g.Go(func() error {
		done := stageTimer()
		if !req.Analyze || o.llm == nil || len(articles) == 0 {
			analyzeStage = core.StageResult{Stage: core.StageAnalyze, Outcome: core.OutcomeSkipped, Duration: done()}
			return nil
		}
		_, err := o.llm.Complete(gctx, llm.CompletionRequest{
			System: "You are a news analyst producing a short whole-corpus thematic summary.",
			Prompt: buildCorpusAnalysisPrompt(articles),
		})
		if err != nil {
			analyzeStage = core.StageResult{Stage: core.StageAnalyze, Outcome: core.OutcomeFailed, ErrorKind: errorKindOf(err), Warning: fmt.Sprintf("corpus analysis failed: %v", err), Duration: done()}
			return nil
		}
		analyzeStage = core.StageResult{Stage: core.StageAnalyze, Outcome: core.OutcomeSuccess, Duration: done()}
		return nil
	})

	_ = g.Wait() // stage goroutines never return an error; each records its own outcome

	run.AddStage(indexStage)
	run.AddStage(sentimentStage)
	run.AddStage(analyzeStage)
	return sentiments
}

// runCardStage executes C6. A failure (or a degraded synthesis, where more
// than half the selected articles failed) is recorded as a warning, never
// fatal.
func (o *Orchestrator) runCardStage(ctx context.Context, run *core.PipelineRun, req core.PipelineRequest, articles []core.Article, sentiments map[string]core.Sentiment, profile *core.UserProfile) {
	done := stageTimer()
	if !req.Card || o.cardSynth == nil {
		run.AddStage(core.StageResult{Stage: core.StageCard, Outcome: core.OutcomeSkipped, Duration: done()})
		return
	}
	cards, degraded, err := o.cardSynth.Synthesize(ctx, articles, sentiments, req.MaxCards, profile, time.Now().UTC())
	if err != nil {
		run.AddStage(core.StageResult{
			Stage: core.StageCard, Outcome: core.OutcomeFailed, ErrorKind: errorKindOf(err),
			Warning: fmt.Sprintf("card synthesis failed: %v", err), Duration: done(),
		})
		return
	}
	run.Cards = cards
	run.CardsProduced = len(cards)
	var warning string
	if degraded {
		warning = "card synthesis degraded: more than half of selected articles failed to synthesize"
	}
	run.AddStage(core.StageResult{Stage: core.StageCard, Outcome: core.OutcomeSuccess, Count: len(cards), Warning: warning, Duration: done()})
}

// runMemoryStage executes C7's query-interaction recording for this run. A
// failure here never fails the run: the pipeline's outputs are already
// finalized by the time memory is updated.
func (o *Orchestrator) runMemoryStage(ctx context.Context, run *core.PipelineRun, req core.PipelineRequest) {
	done := stageTimer()
	if !req.MemoryUpdate || o.memory == nil || req.UserID == "" {
		run.AddStage(core.StageResult{Stage: core.StageMemory, Outcome: core.OutcomeSkipped, Duration: done()})
		return
	}
	err := o.memory.Record(ctx, core.InteractionRecord{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Timestamp: time.Now().UTC(),
		Action:    core.ActionQuery,
		TargetRef: run.ID,
		Text:      req.Query,
		Importance: 1,
	})
	if err != nil {
		run.AddStage(core.StageResult{
			Stage: core.StageMemory, Outcome: core.OutcomeFailed, ErrorKind: errorKindOf(err),
			Warning: fmt.Sprintf("memory update failed: %v", err), Duration: done(),
		})
		return
	}
	run.AddStage(core.StageResult{Stage: core.StageMemory, Outcome: core.OutcomeSuccess, Duration: done()})
}

// acquireUserSlot/releaseUserSlot implement the per-user concurrency cap
// (spec §4.8 "at most one run active per user").
func (o *Orchestrator) acquireUserSlot(userID string) bool {
	o.runLocksMu.Lock()
	defer o.runLocksMu.Unlock()
	if o.runLocks[userID] {
		return false
	}
	o.runLocks[userID] = true
	return true
}

func (o *Orchestrator) releaseUserSlot(userID string) {
	o.runLocksMu.Lock()
	defer o.runLocksMu.Unlock()
	delete(o.runLocks, userID)
}

// normalizeArticles converts C1's raw search hits into core.Article records,
// computing each one's fingerprint (spec §3 "Article" / §4.2).
func normalizeArticles(raw []newssearch.RawArticle, query string) []core.Article {
	now := time.Now().UTC()
	out := make([]core.Article, 0, len(raw))
	for _, r := range raw {
		fp := core.Fingerprint(r.URL, r.Title, r.Source, r.PublishedAt)
		out = append(out, core.Article{
			Fingerprint:  fp,
			Title:        r.Title,
			Summary:      r.Summary,
			URL:          r.URL,
			Source:       r.Source,
			Author:       r.Author,
			PublishedAt:  r.PublishedAt,
			Language:     r.Language,
			Query:        query,
			DiscoveredAt: now,
			LastSeenAt:   now,
		})
	}
	return out
}

func buildCorpusAnalysisPrompt(articles []core.Article) string {
	titles := make([]string, 0, len(articles))
	for _, a := range articles {
		titles = append(titles, a.Title)
	}
	prompt := "Identify the 2-4 dominant themes across these headlines and summarize each in one sentence:\n"
	for _, t := range titles {
		prompt += "- " + t + "\n"
	}
	return prompt
}

func fingerprintsOf(articles []core.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.Fingerprint
	}
	return out
}

func stageTimer() func() time.Duration {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }
}

func errorKindOf(err error) string { return string(core.KindOf(err)) }
