// Package core holds the domain types shared across the news pipeline and
// the dialogue engine: articles, chunks, cards, user profiles, interactions,
// dialogue sessions and pipeline runs.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Article is the normalized unit of news (spec §3 "Article").
type Article struct {
	Fingerprint  string            `json:"fingerprint"`
	Title        string            `json:"title"`
	Summary      string            `json:"summary"`
	FullText     string            `json:"full_text,omitempty"`
	URL          string            `json:"url"`
	Source       string            `json:"source"`
	Author       string            `json:"author,omitempty"`
	PublishedAt  time.Time         `json:"published_at"`
	Language     string            `json:"language,omitempty"`
	Categories   []string          `json:"categories,omitempty"`
	Keywords     []string          `json:"keywords,omitempty"`
	Query        string            `json:"query"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	LastSeenAt   time.Time         `json:"last_seen_at"`
	IndexStatus  IndexStatus       `json:"index_status"`
	Extra        map[string]string `json:"-"`
}

// IndexStatus records how far C3 got indexing an article.
type IndexStatus string

const (
	IndexStatusNone             IndexStatus = "none"
	IndexStatusIndexed          IndexStatus = "indexed"
	IndexStatusPartiallyIndexed IndexStatus = "partially-indexed"
)

// Fingerprint computes the stable identity key for an article (spec §3):
// "url:" followed by the lowercased canonical URL, or, when the URL is
// absent, "hash:" followed by a hash of title ∥ source ∥ published-at-day.
func Fingerprint(canonicalURL, title, source string, publishedAt time.Time) string {
	u := strings.TrimSpace(canonicalURL)
	if u != "" {
		return "url:" + strings.ToLower(u)
	}
	day := publishedAt.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(strings.ToLower(title) + "|" + strings.ToLower(source) + "|" + day))
	return "hash:" + hex.EncodeToString(sum[:])[:32]
}

// ChunkSourceField marks which part of an article a chunk was derived from.
type ChunkSourceField string

const (
	ChunkSourceTitleSummary ChunkSourceField = "title_summary"
	ChunkSourceBody         ChunkSourceField = "body"
)

// Chunk is an embedding-addressable fragment of an article (spec §3 "Chunk").
type Chunk struct {
	ArticleFingerprint string           `json:"article_fingerprint"`
	Ordinal            int              `json:"ordinal"`
	Text               string           `json:"text"`
	TokenCount         int              `json:"token_count"`
	Embedding          []float64        `json:"embedding,omitempty"`
	SourceField        ChunkSourceField `json:"source_field"`
}

// SentimentLabel is one of {positive, neutral, negative}.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// Sentiment is the C5 scorer's output for one piece of text.
type Sentiment struct {
	Label      SentimentLabel `json:"label"`
	Magnitude  float64        `json:"magnitude"`
	Confidence float64        `json:"confidence"`
}

// NewsCard is the ranked, structured extract produced by C6 (spec §3 "NewsCard").
type NewsCard struct {
	ArticleFingerprint  string    `json:"article_fingerprint"`
	Headline            string    `json:"headline"`
	Summary             string    `json:"summary"`
	KeyPoints           []string  `json:"key_points"`
	Sentiment           Sentiment `json:"sentiment"`
	TopicTags           []string  `json:"topic_tags"`
	SourceCredibility   float64   `json:"source_credibility"`
	Importance          float64   `json:"importance"`
	DisplayPriority     int       `json:"display_priority"`
	GeneratedAt         time.Time `json:"generated_at"`
	PublishedAt         time.Time `json:"-"` // carried for deterministic tie-break, not serialized twice
}

// SortCards orders cards by descending priority, tie-broken by published-at
// descending then fingerprint ascending (spec §3 invariant, §8 property 6).
func SortCards(cards []NewsCard) {
	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i], cards[j]
		if a.DisplayPriority != b.DisplayPriority {
			return a.DisplayPriority > b.DisplayPriority
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.ArticleFingerprint < b.ArticleFingerprint
	})
}

// InteractionAction enumerates the actions recorded against a user's memory.
type InteractionAction string

const (
	ActionQuery        InteractionAction = "query"
	ActionView         InteractionAction = "view"
	ActionLike         InteractionAction = "like"
	ActionShare        InteractionAction = "share"
	ActionDwell        InteractionAction = "dwell"
	ActionDialogueTurn InteractionAction = "dialogue-turn"
)

// InteractionRecord is one append-only entry in a user's interaction log
// (spec §3 "InteractionRecord").
type InteractionRecord struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Action     InteractionAction  `json:"action"`
	TargetRef  string             `json:"target_ref"`
	Text       string             `json:"text,omitempty"`
	Importance float64            `json:"importance"`
	Categories []string           `json:"categories,omitempty"`
}

// UserProfile is the derived, per-user personalization state (spec §3
// "UserProfile"). InterestVector and CategoryWeights are derived fields: the
// interaction log is the source of truth and they may always be recomputed.
type UserProfile struct {
	UserID               string             `json:"user_id"`
	InterestVector        []float64          `json:"interest_vector,omitempty"`
	CategoryWeights       map[string]float64 `json:"category_weights,omitempty"`
	PreferredSources      map[string]bool    `json:"preferred_sources,omitempty"`
	ResponseLength        string             `json:"response_length"`  // brief|standard|detailed
	Formality             string             `json:"formality"`        // casual|neutral|formal
	DetailDepth           string             `json:"detail_depth"`     // shallow|standard|deep
	PersonalizationLevel  float64            `json:"personalization_level"`
	QueriesIssued          int                `json:"queries_issued"`
	ArticlesViewed         int                `json:"articles_viewed"`
	CardsLiked             int                `json:"cards_liked"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// DefaultUserProfile returns the zero-interaction profile for a new user.
func DefaultUserProfile(userID string) UserProfile {
	return UserProfile{
		UserID:               userID,
		CategoryWeights:      map[string]float64{},
		PreferredSources:     map[string]bool{},
		ResponseLength:       "standard",
		Formality:            "neutral",
		DetailDepth:          "standard",
		PersonalizationLevel: 0.5,
		UpdatedAt:            time.Now().UTC(),
	}
}

// DialogueRole is "user", "assistant", or "system" (the synthetic note that
// replaces pruned history).
type DialogueRole string

const (
	RoleUser      DialogueRole = "user"
	RoleAssistant DialogueRole = "assistant"
	RoleSystem    DialogueRole = "system"
)

// DialogueMessage is one turn in a dialogue session.
type DialogueMessage struct {
	Role      DialogueRole `json:"role"`
	Content   string       `json:"content"`
	Sources   []SourceRef  `json:"sources,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// SourceRef attributes a dialogue reply to a retrieved article.
type SourceRef struct {
	Index       int       `json:"index"`
	Fingerprint string    `json:"fingerprint"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Score       float64   `json:"score"`
}

// DialogueSession is a per-user, run-scoped conversation (spec §3
// "DialogueSession").
type DialogueSession struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Messages        []DialogueMessage `json:"messages"`
	SeedRunID       string            `json:"seed_run_id,omitempty"`
	RetrievalFilter RetrievalFilter   `json:"retrieval_filter,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// RetrievalFilter restricts C9's recall to a run or a recency window.
type RetrievalFilter struct {
	RunID          string    `json:"run_id,omitempty"`
	PublishedSince time.Time `json:"published_since,omitempty"`
	Categories     []string  `json:"categories,omitempty"`
}

// StageName identifies one node of the pipeline stage graph (spec §4.8).
type StageName string

const (
	StageSearch     StageName = "search"
	StageStore      StageName = "store"
	StageIndex      StageName = "index"
	StageSentiment  StageName = "sentiment"
	StageAnalyze    StageName = "analyze"
	StageCard       StageName = "card"
	StageMemory     StageName = "memory"
)

// StageOutcome is one of {success, skipped, failed, cancelled}.
type StageOutcome string

const (
	OutcomeSuccess   StageOutcome = "success"
	OutcomeSkipped   StageOutcome = "skipped"
	OutcomeFailed    StageOutcome = "failed"
	OutcomeCancelled StageOutcome = "cancelled"
)

// StageResult records one stage's outcome within a PipelineRun.
type StageResult struct {
	Stage    StageName    `json:"stage"`
	Outcome  StageOutcome `json:"outcome"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Warning  string       `json:"warning,omitempty"`
	Count    int          `json:"count"`
	Duration time.Duration `json:"duration"`
}

// RunStatus is the terminal status of a PipelineRun.
type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial-success"
	RunFailed         RunStatus = "failed"
)

// PipelineRequest carries the inputs to a C8 run (spec §4.8).
type PipelineRequest struct {
	Query         string
	UserID        string
	NumResults    int
	MaxCards      int
	Store         bool
	Index         bool
	Analyze       bool
	Card          bool
	Sentiment     bool
	MemoryUpdate  bool
}

// DefaultPipelineRequest fills in the spec's defaults (num=10, cards=5).
func DefaultPipelineRequest(query, userID string) PipelineRequest {
	return PipelineRequest{
		Query:        query,
		UserID:       userID,
		NumResults:   10,
		MaxCards:     5,
		Store:        true,
		Index:        true,
		Analyze:      true,
		Card:         true,
		Sentiment:    true,
		MemoryUpdate: true,
	}
}

// QuickPipelineRequest is the `/pipeline/quick` shape: only search + card run.
func QuickPipelineRequest(query, userID string) PipelineRequest {
	req := DefaultPipelineRequest(query, userID)
	req.Store = false
	req.Index = false
	req.Analyze = false
	req.Sentiment = false
	req.MemoryUpdate = false
	req.Card = true
	return req
}

// PipelineRun is the per-invocation record returned by C8 (spec §3 "PipelineRun").
type PipelineRun struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	Query          string                 `json:"query"`
	Request        PipelineRequest        `json:"request"`
	Stages         []StageResult          `json:"stages"`
	Found          int                    `json:"found"`
	Stored         int                    `json:"stored"`
	Indexed        int                    `json:"indexed"`
	CardsProduced  int                    `json:"cards_produced"`
	Warnings       []string               `json:"warnings,omitempty"`
	Errors         []string               `json:"errors,omitempty"`
	Cards          []NewsCard             `json:"cards,omitempty"`
	ArticleFPs     []string               `json:"article_fingerprints,omitempty"`
	Status         RunStatus              `json:"status"`
	TotalDuration  time.Duration          `json:"total_duration"`
	SeedTimestamp  time.Time              `json:"seed_timestamp"`
}

// AddStage appends a stage result, keeping execution order (spec invariant).
func (r *PipelineRun) AddStage(res StageResult) {
	r.Stages = append(r.Stages, res)
	if res.Outcome == OutcomeFailed && res.Warning != "" {
		r.Warnings = append(r.Warnings, res.Warning)
	}
}

// Finalize computes the run's terminal status from its recorded stages.
func (r *PipelineRun) Finalize() {
	anyFailed := false
	anySucceeded := false
	for _, s := range r.Stages {
		switch s.Outcome {
		case OutcomeFailed, OutcomeCancelled:
			anyFailed = true
		case OutcomeSuccess:
			anySucceeded = true
		}
	}
	switch {
	case !anySucceeded:
		r.Status = RunFailed
	case anyFailed:
		r.Status = RunPartialSuccess
	default:
		r.Status = RunSuccess
	}
}
