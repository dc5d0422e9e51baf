// Package retrieval implements the C9 Retrieval Engine: hybrid vector plus
// keyword recall over the indexed corpus, re-ranked with recency and the
// requesting user's interest profile (spec §4.9).
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"newsroom/internal/articlestore"
	"newsroom/internal/core"
	"newsroom/internal/indexer"
	"newsroom/internal/llm"
)

const (
	weightCosine          = 0.6
	weightRecency         = 0.25
	weightPersonalization = 0.15
	recencyHalfLifeHours  = 48.0
)

// Embedder is the subset of internal/llm.Client retrieval needs to embed
// the incoming query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// ArticleLookup is the subset of internal/articlestore.Store retrieval
// needs for source attribution and the optional keyword pass.
type ArticleLookup interface {
	GetByFingerprints(ctx context.Context, fingerprints []string) ([]core.Article, error)
	QueryByTagsAndRange(ctx context.Context, opts articlestore.QueryOptions) ([]core.Article, error)
}

// VectorSearcher is the subset of internal/indexer.Indexer the engine
// queries for nearest chunks.
type VectorSearcher interface {
	Search(ctx context.Context, q indexer.SearchQuery) ([]indexer.SearchResult, error)
}

// Filter restricts recall (spec §4.9 "typically: articles belonging to the
// seeding pipeline run, or published within a recency window").
type Filter struct {
	ArticleFingerprints []string // restrict to these fingerprints, when non-empty
	PublishedSince      time.Time
	Categories          []string
	Broad               bool // when true, interleave the keyword/BM25-style pass
}

// Options parameterizes one Retrieve call.
type Options struct {
	UserID          string
	K               int
	Filter          Filter
	SimilarityFloor float64 // default 0.2 (spec §4.9)
	InterestVector  []float64
	Personalization float64
}

// RetrievedChunk is one ranked hit with source attribution (spec §4.9 step 6).
type RetrievedChunk struct {
	Fingerprint string
	URL         string
	Source      string
	PublishedAt time.Time
	Text        string
	Score       float64
}

// Result is the outcome of a Retrieve call, including the LowRecall warning
// signal (spec §4.9 "Similarity threshold").
type Result struct {
	Chunks    []RetrievedChunk
	LowRecall bool
}

// Engine is the C9 Retrieval Engine.
type Engine struct {
	llm   Embedder
	index VectorSearcher
	store ArticleLookup
}

// New builds a retrieval Engine.
func New(llmClient Embedder, index VectorSearcher, store ArticleLookup) *Engine {
	return &Engine{llm: llmClient, index: index, store: store}
}

// scoredChunk pairs one vector- or keyword-recalled chunk with its
// re-ranked final score (spec §4.9 step 4).
type scoredChunk struct {
	fingerprint string
	text        string
	score       float64
}

// Retrieve implements spec §4.9's algorithm end to end: embed, over-fetch
// 3k candidates, optionally union a keyword pass, re-rank, collapse to one
// hit per article, and return the top k.
func (e *Engine) Retrieve(ctx context.Context, queryText string, opts Options) (Result, error) {
	if opts.K <= 0 {
		opts.K = 5
	}
	floor := opts.SimilarityFloor
	if floor == 0 {
		floor = 0.2
	}

	vectors, err := e.llm.Embed(ctx, []string{queryText})
	if err != nil {
		return Result{}, err
	}
	if len(vectors) == 0 {
		return Result{LowRecall: true}, nil
	}
	queryVec := vectors[0]

	searchResults, err := e.index.Search(ctx, indexer.SearchQuery{
		Embedding:       queryVec,
		Limit:           opts.K * 3,
		SimilarityFloor: floor,
	})
	if err != nil {
		return Result{}, err
	}
	candidates := filterByFingerprint(searchResults, opts.Filter)

	now := time.Now().UTC()
	published := publishedAtLookup(ctx, e.store, candidates)

	seen := make(map[string]bool, len(candidates))
	var all []scoredChunk
	for _, r := range candidates {
		fp := r.Chunk.ArticleFingerprint
		seen[fp] = true
		recency := recencyDecay(published[fp], now)
		personalization := 0.0
		if len(opts.InterestVector) > 0 && len(r.Chunk.Embedding) > 0 {
			personalization = opts.Personalization * llm.CosineSimilarity(r.Chunk.Embedding, opts.InterestVector)
		}
		finalScore := weightCosine*r.Similarity + weightRecency*recency + weightPersonalization*personalization
		all = append(all, scoredChunk{fingerprint: fp, text: r.Chunk.Text, score: finalScore})
	}

	if opts.Filter.Broad {
		for _, a := range e.keywordPass(ctx, queryText, opts.Filter) {
			if seen[a.Fingerprint] {
				continue
			}
			seen[a.Fingerprint] = true
			all = append(all, scoredChunk{
				fingerprint: a.Fingerprint,
				text:        a.Summary,
				score:       weightRecency * recencyDecay(a.PublishedAt, now),
			})
		}
	}

	// Collapse multi-chunk hits so each article contributes its best-scoring
	// chunk (spec §4.9 step 5).
	best := map[string]scoredChunk{}
	for _, s := range all {
		if cur, ok := best[s.fingerprint]; !ok || s.score > cur.score {
			best[s.fingerprint] = s
		}
	}
	ranked := make([]scoredChunk, 0, len(best))
	for _, s := range best {
		ranked = append(ranked, s)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var kept []scoredChunk
	for _, s := range ranked {
		if s.score < floor {
			continue
		}
		kept = append(kept, s)
		if len(kept) == opts.K {
			break
		}
	}

	result := Result{LowRecall: len(kept) < 2}
	for _, s := range kept {
		result.Chunks = append(result.Chunks, RetrievedChunk{
			Fingerprint: s.fingerprint,
			Text:        s.text,
			Score:       s.score,
		})
	}
	e.attachSourceInfo(ctx, result.Chunks)
	return result, nil
}

func filterByFingerprint(results []indexer.SearchResult, f Filter) []indexer.SearchResult {
	if len(f.ArticleFingerprints) == 0 {
		return results
	}
	allowed := make(map[string]bool, len(f.ArticleFingerprints))
	for _, fp := range f.ArticleFingerprints {
		allowed[fp] = true
	}
	var out []indexer.SearchResult
	for _, r := range results {
		if allowed[r.Chunk.ArticleFingerprint] {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) keywordPass(ctx context.Context, queryText string, f Filter) []core.Article {
	if e.store == nil {
		return nil
	}
	terms := strings.Fields(strings.ToLower(queryText))
	articles, err := e.store.QueryByTagsAndRange(ctx, articlestore.QueryOptions{
		Categories: f.Categories,
		Since:      f.PublishedSince,
		Limit:      50,
	})
	if err != nil {
		return nil
	}
	var hits []core.Article
	for _, a := range articles {
		haystack := strings.ToLower(a.Title + " " + a.Summary)
		for _, term := range terms {
			if term != "" && strings.Contains(haystack, term) {
				hits = append(hits, a)
				break
			}
		}
	}
	return hits
}

func publishedAtLookup(ctx context.Context, store ArticleLookup, results []indexer.SearchResult) map[string]time.Time {
	out := map[string]time.Time{}
	if store == nil {
		return out
	}
	fpSet := map[string]bool{}
	var fps []string
	for _, r := range results {
		fp := r.Chunk.ArticleFingerprint
		if !fpSet[fp] {
			fpSet[fp] = true
			fps = append(fps, fp)
		}
	}
	articles, err := store.GetByFingerprints(ctx, fps)
	if err != nil {
		return out
	}
	for _, a := range articles {
		out[a.Fingerprint] = a.PublishedAt
	}
	return out
}

func (e *Engine) attachSourceInfo(ctx context.Context, chunks []RetrievedChunk) {
	if e.store == nil || len(chunks) == 0 {
		return
	}
	fps := make([]string, len(chunks))
	for i, c := range chunks {
		fps[i] = c.Fingerprint
	}
	articles, err := e.store.GetByFingerprints(ctx, fps)
	if err != nil {
		return
	}
	byFP := make(map[string]core.Article, len(articles))
	for _, a := range articles {
		byFP[a.Fingerprint] = a
	}
	for i := range chunks {
		if a, ok := byFP[chunks[i].Fingerprint]; ok {
			chunks[i].URL = a.URL
			chunks[i].Source = a.Source
			chunks[i].PublishedAt = a.PublishedAt
		}
	}
}

// recencyDecay mirrors C6's recency decay (spec §4.9 re-ranking term): the
// same exp(-Δhours/48) curve as card importance, uncapped at the floor
// since a low recency contribution here just loses the re-ranking, not a
// ranking invariant.
func recencyDecay(publishedAt, now time.Time) float64 {
	if publishedAt.IsZero() {
		return 0
	}
	deltaHours := now.Sub(publishedAt).Hours()
	if deltaHours < 0 {
		deltaHours = 0
	}
	decay := math.Exp(-deltaHours / recencyHalfLifeHours)
	if decay > 1 {
		return 1
	}
	return decay
}
