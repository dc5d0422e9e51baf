// Package dialogue implements the C10 Dialogue Session Manager: persisted,
// per-user conversations that call C9 for grounding context and C4 to
// generate a cited, personalized reply, with history pruning and per-session
// turn serialization (spec §4.10).
package dialogue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsroom/internal/cache"
	"newsroom/internal/core"
	"newsroom/internal/llm"
	"newsroom/internal/retrieval"
	"newsroom/internal/tokenizer"
)

const (
	historyCap           = 30
	summaryMaxTokens     = 300
	defaultMaxContextNews = 5
	maxMaxContextNews     = 10
)

// Retriever is the subset of internal/retrieval.Engine the manager needs.
type Retriever interface {
	Retrieve(ctx context.Context, queryText string, opts retrieval.Options) (retrieval.Result, error)
}

// Completer is the subset of internal/llm.Client the manager needs.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error)
}

// ProfileSource is the subset of internal/memory.Store the manager needs for
// personalization and interaction recording.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (core.UserProfile, error)
	Record(ctx context.Context, in core.InteractionRecord) error
}

// RunLookup resolves a seeding pipeline run's article fingerprints, used to
// scope C9 recall to the run that seeded a session (spec §3 "DialogueSession
// ... optional seeding pipeline run").
type RunLookup interface {
	GetRun(ctx context.Context, runID string) (*core.PipelineRun, error)
}

// Options configures a Manager (spec §4.10, §6 "dialogue" config table,
// wired from internal/config.Dialogue).
type Options struct {
	TurnDeadline        time.Duration
	DefaultContextNews  int
	MaxContextNews      int
	Temperature         float32
	MaxTokens           int32
	HistoryCap          int
	ContextWindowTokens int
	RetrievalFloor      float64
}

// DefaultOptions returns the spec's defaults.
func DefaultOptions() Options {
	return Options{
		TurnDeadline:        120 * time.Second,
		DefaultContextNews:  defaultMaxContextNews,
		MaxContextNews:      maxMaxContextNews,
		Temperature:         0.7,
		MaxTokens:           1200,
		HistoryCap:          historyCap,
		ContextWindowTokens: 32000,
		RetrievalFloor:      0.2,
	}
}

// Request is the `/chat` contract's input (spec §4.10 "chat(user, sessionId?, message, {...})").
type Request struct {
	UserID         string
	SessionID      string // empty creates a new session
	Message        string
	MaxContextNews int
	UseMemory      bool
	Personalize    bool
	SeedRunID      string
	Filter         core.RetrievalFilter
}

// Response is the `/chat` contract's output.
type Response struct {
	SessionID  string
	Reply      string
	Sources    []core.SourceRef
	Confidence float64
	Warning    string
}

// Manager is the C10 Dialogue Session Manager.
type Manager struct {
	db        *sql.DB
	retriever Retriever
	llm       Completer
	memory    ProfileSource
	runs      RunLookup
	tok       *tokenizer.Tokenizer
	opt       Options

	cache      *cache.Client
	sessionTTL time.Duration

	turnLocksMu sync.Mutex
	turnLocks   map[string]bool // sessionID -> turn in flight
}

// New builds a dialogue Manager over an already-migrated database. runs may
// be nil, in which case a session seeded by a pipeline run recalls over the
// whole corpus instead of that run's articles. sessionCache may be nil or
// disabled, in which case sessions are always read from and written
// straight to Postgres.
func New(db *sql.DB, retriever Retriever, llmClient Completer, mem ProfileSource, runs RunLookup, tok *tokenizer.Tokenizer, opt Options, sessionCache *cache.Client, sessionTTL time.Duration) *Manager {
	if opt.HistoryCap <= 0 {
		opt = DefaultOptions()
	}
	return &Manager{db: db, retriever: retriever, llm: llmClient, memory: mem, runs: runs, tok: tok, opt: opt, cache: sessionCache, sessionTTL: sessionTTL, turnLocks: make(map[string]bool)}
}

// Chat executes one dialogue turn end to end (spec §4.10 "Turn processing").
// A second concurrent turn against the same session is rejected with
// SessionBusy (spec §5 "a second chat request targeting a session with an
// in-flight turn... is rejected with SessionBusy (caller-selectable)").
func (m *Manager) Chat(ctx context.Context, req Request) (Response, error) {
	session, err := m.resolveSession(ctx, req)
	if err != nil {
		return Response{}, err
	}

	if !m.acquireTurnSlot(session.ID) {
		return Response{}, core.NewError(core.ErrSessionBusy, "a turn is already in flight for this session", nil)
	}
	defer m.releaseTurnSlot(session.ID)

	ctx, cancel := context.WithTimeout(ctx, m.opt.TurnDeadline)
	defer cancel()

	maxContext := req.MaxContextNews
	if maxContext <= 0 {
		maxContext = m.opt.DefaultContextNews
	}
	if maxContext > m.opt.MaxContextNews {
		maxContext = m.opt.MaxContextNews
	}

	var profile *core.UserProfile
	if req.UseMemory && m.memory != nil {
		if p, err := m.memory.GetProfile(ctx, req.UserID); err == nil {
			profile = &p
		}
	}

	retrievalOpts := retrieval.Options{
		UserID:          req.UserID,
		K:               maxContext,
		SimilarityFloor: m.opt.RetrievalFloor,
		Filter:          m.resolveRetrievalFilter(ctx, session.RetrievalFilter),
	}
	if profile != nil {
		retrievalOpts.InterestVector = profile.InterestVector
		retrievalOpts.Personalization = profile.PersonalizationLevel
	}

	var result retrieval.Result
	var retrievalWarning string
	if m.retriever != nil {
		result, err = m.retriever.Retrieve(ctx, req.Message, retrievalOpts)
		if err != nil {
			retrievalWarning = fmt.Sprintf("retrieval failed, replying without grounding context: %v", err)
			result = retrieval.Result{}
		}
	}

	history, err := m.loadHistory(ctx, session, m.budgetForHistory())
	if err != nil {
		return Response{}, err
	}

	prompt := m.composePrompt(profile, req, result, history)

	completion, err := m.llm.Complete(ctx, llm.CompletionRequest{
		System:      systemPreamble,
		Prompt:      prompt,
		Temperature: m.opt.Temperature,
		MaxTokens:   m.opt.MaxTokens,
	})
	if err != nil {
		return Response{}, err
	}
	if ctx.Err() != nil {
		return Response{}, core.NewError(core.ErrCancelled, "dialogue turn cancelled before reply was accepted", ctx.Err())
	}

	sources := sourcesFromChunks(result.Chunks)
	confidence := confidenceFrom(result.Chunks)

	now := time.Now().UTC()
	session.Messages = append(session.Messages,
		core.DialogueMessage{Role: core.RoleUser, Content: req.Message, Timestamp: now},
		core.DialogueMessage{Role: core.RoleAssistant, Content: completion.Text, Sources: sources, Timestamp: now},
	)

	if err := m.pruneIfNeeded(ctx, session); err != nil {
		return Response{}, err
	}

	if err := m.saveSession(ctx, session); err != nil {
		return Response{}, err
	}

	if m.memory != nil {
		m.recordTurn(ctx, req.UserID, session.ID, req.Message, sources)
	}

	return Response{
		SessionID:  session.ID,
		Reply:      completion.Text,
		Sources:    sources,
		Confidence: confidence,
		Warning:    retrievalWarning,
	}, nil
}

const systemPreamble = "You are a news assistant. Respond in structured Markdown with headings, lists, and emphasis where useful. " +
	"Only make claims supported by the provided context; if the context does not support an answer, say so rather than inventing facts. " +
	"Cite sources inline by numeric index, e.g. [1], [2], matching the numbered context excerpts."

// resolveRetrievalFilter translates a session's RetrievalFilter into C9's
// Filter, resolving a seeding run id into its article fingerprints when one
// is set (spec §3 "DialogueSession... optional seeding pipeline run").
func (m *Manager) resolveRetrievalFilter(ctx context.Context, f core.RetrievalFilter) retrieval.Filter {
	out := retrieval.Filter{
		PublishedSince: f.PublishedSince,
		Categories:     f.Categories,
		Broad:          f.RunID == "",
	}
	if f.RunID != "" && m.runs != nil {
		if run, err := m.runs.GetRun(ctx, f.RunID); err == nil {
			out.ArticleFingerprints = run.ArticleFPs
		}
	}
	return out
}

// budgetForHistory returns the token budget for loaded history: 60% of the
// configured context window, minus the system preamble's tokens, so history
// plus preamble stays within that 60% ceiling (spec §4.10 step 1).
func (m *Manager) budgetForHistory() int {
	budget := int(float64(m.opt.ContextWindowTokens) * 0.6)
	if m.tok != nil {
		budget -= m.tok.Count(systemPreamble)
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

// loadHistory returns as many of the session's trailing turns as fit within
// tokenBudget (spec §4.10 step 1: "Load the last N turns... ≤ 60% of the
// model context window").
func (m *Manager) loadHistory(ctx context.Context, session *core.DialogueSession, tokenBudget int) ([]core.DialogueMessage, error) {
	if m.tok == nil || len(session.Messages) == 0 {
		return session.Messages, nil
	}
	used := 0
	start := len(session.Messages)
	for i := len(session.Messages) - 1; i >= 0; i-- {
		n := m.tok.Count(session.Messages[i].Content)
		if used+n > tokenBudget {
			break
		}
		used += n
		start = i
	}
	return session.Messages[start:], nil
}

// composePrompt builds the full prompt body: personalization block, context
// block, rolling history, and the new message (spec §4.10 step 3).
func (m *Manager) composePrompt(profile *core.UserProfile, req Request, result retrieval.Result, history []core.DialogueMessage) string {
	var b strings.Builder

	if req.UseMemory && req.Personalize && profile != nil {
		if block := personalizationBlock(*profile); block != "" {
			b.WriteString(block)
			b.WriteString("\n\n")
		}
	}

	if len(result.Chunks) > 0 {
		b.WriteString("Context:\n")
		for i, c := range result.Chunks {
			fmt.Fprintf(&b, "[%d] %s (%s, %s)\n%s\n\n", i+1, c.Source, c.PublishedAt.Format("2006-01-02"), c.URL, c.Text)
		}
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User: %s\n", req.Message)
	return b.String()
}

// personalizationBlock renders the top 3 category weights and style
// preferences as natural-language hints (spec §4.10 step 3).
func personalizationBlock(profile core.UserProfile) string {
	if len(profile.CategoryWeights) == 0 {
		return ""
	}
	top := topCategories(profile.CategoryWeights, 3)
	if len(top) == 0 {
		return ""
	}
	return fmt.Sprintf(
		"The user tends to be interested in: %s. Prefer a %s response length, %s tone, and %s level of detail.",
		strings.Join(top, ", "), profile.ResponseLength, profile.Formality, profile.DetailDepth,
	)
}

func topCategories(weights map[string]float64, n int) []string {
	type kv struct {
		k string
		v float64
	}
	all := make([]kv, 0, len(weights))
	for k, v := range weights {
		all = append(all, kv{k, v})
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].v > all[i].v {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.k
	}
	return out
}

func sourcesFromChunks(chunks []retrieval.RetrievedChunk) []core.SourceRef {
	out := make([]core.SourceRef, len(chunks))
	for i, c := range chunks {
		out[i] = core.SourceRef{
			Index:       i + 1,
			Fingerprint: c.Fingerprint,
			URL:         c.URL,
			Source:      c.Source,
			PublishedAt: c.PublishedAt,
			Score:       c.Score,
		}
	}
	return out
}

// confidenceFrom computes the mean cosine-derived score of the retrieved
// chunks, clamped into [0,1] (spec §4.10 step 5).
func confidenceFrom(chunks []retrieval.RetrievedChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Score
	}
	mean := sum / float64(len(chunks))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}

// recordTurn folds the user message and referenced article fingerprints
// into C7 as a `dialogue-turn` interaction (spec §4.10 step 6). Failures are
// swallowed: memory bookkeeping must never fail an already-accepted reply.
func (m *Manager) recordTurn(ctx context.Context, userID, sessionID, message string, sources []core.SourceRef) {
	fingerprints := make([]string, len(sources))
	for i, s := range sources {
		fingerprints[i] = s.Fingerprint
	}
	_ = m.memory.Record(ctx, core.InteractionRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		Timestamp:  time.Now().UTC(),
		Action:     core.ActionDialogueTurn,
		TargetRef:  sessionID,
		Text:       message,
		Importance: 1,
		Categories: fingerprints,
	})
}

// pruneIfNeeded replaces the oldest half of a session's turns with a single
// synthetic system note once the stored count exceeds the configured cap
// (spec §4.10 "History pruning").
func (m *Manager) pruneIfNeeded(ctx context.Context, session *core.DialogueSession) error {
	limit := m.opt.HistoryCap
	if limit <= 0 {
		limit = historyCap
	}
	if len(session.Messages) <= limit {
		return nil
	}

	half := len(session.Messages) / 2
	toSummarize := session.Messages[:half]
	tail := session.Messages[half:]

	summary, err := m.summarize(ctx, toSummarize)
	if err != nil {
		// Summarization failing should not block the turn; keep the full
		// history rather than lose it silently.
		return nil
	}

	note := core.DialogueMessage{
		Role:      core.RoleSystem,
		Content:   summary,
		Timestamp: time.Now().UTC(),
	}
	session.Messages = append([]core.DialogueMessage{note}, tail...)
	return nil
}

func (m *Manager) summarize(ctx context.Context, turns []core.DialogueMessage) (string, error) {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	result, err := m.llm.Complete(ctx, llm.CompletionRequest{
		System:    "Summarize this conversation excerpt in at most 300 tokens, preserving names, decisions, and facts a reader would need to follow the rest of the conversation.",
		Prompt:    b.String(),
		MaxTokens: int32(summaryMaxTokens),
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (m *Manager) acquireTurnSlot(sessionID string) bool {
	m.turnLocksMu.Lock()
	defer m.turnLocksMu.Unlock()
	if m.turnLocks[sessionID] {
		return false
	}
	m.turnLocks[sessionID] = true
	return true
}

func (m *Manager) releaseTurnSlot(sessionID string) {
	m.turnLocksMu.Lock()
	defer m.turnLocksMu.Unlock()
	delete(m.turnLocks, sessionID)
}

// resolveSession loads an existing session or creates a new one (spec
// §4.10 step 1, §3 "DialogueSession" lifecycle).
func (m *Manager) resolveSession(ctx context.Context, req Request) (*core.DialogueSession, error) {
	if req.SessionID == "" {
		now := time.Now().UTC()
		session := &core.DialogueSession{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			SeedRunID: req.SeedRunID,
			RetrievalFilter: req.Filter,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.saveSession(ctx, session); err != nil {
			return nil, err
		}
		return session, nil
	}
	return m.GetSession(ctx, req.SessionID)
}

// GetSession loads a session by id, reading through a cache layer in front
// of Postgres: a cache hit skips the query entirely, a miss falls back to
// the database and repopulates the cache (spec §6 "GET /chat/{sessionId}").
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*core.DialogueSession, error) {
	var cached core.DialogueSession
	if hit, err := m.cache.Get(ctx, sessionCacheKey(sessionID), &cached); err == nil && hit {
		return &cached, nil
	}

	row := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, messages, seed_run_id, retrieval_filter, created_at, updated_at
		FROM dialogue_sessions WHERE id = $1
	`, sessionID)

	var s core.DialogueSession
	var messagesJSON, filterJSON []byte
	if err := row.Scan(&s.ID, &s.UserID, &messagesJSON, &s.SeedRunID, &filterJSON, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewError(core.ErrNotFound, "dialogue session not found", err)
		}
		return nil, core.NewError(core.ErrStoreUnavailable, "loading dialogue session", err)
	}
	_ = json.Unmarshal(messagesJSON, &s.Messages)
	_ = json.Unmarshal(filterJSON, &s.RetrievalFilter)
	_ = m.cache.Set(ctx, sessionCacheKey(s.ID), &s, m.sessionTTL)
	return &s, nil
}

// DeleteSession removes a persisted session and evicts it from cache (spec
// §6 "DELETE /chat/{sessionId}").
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM dialogue_sessions WHERE id = $1`, sessionID); err != nil {
		return core.NewError(core.ErrStoreUnavailable, "deleting dialogue session", err)
	}
	_ = m.cache.Delete(ctx, sessionCacheKey(sessionID))
	return nil
}

func (m *Manager) saveSession(ctx context.Context, session *core.DialogueSession) error {
	session.UpdatedAt = time.Now().UTC()
	messagesJSON, err := json.Marshal(session.Messages)
	if err != nil {
		return core.NewError(core.ErrInternal, "marshaling session messages", err)
	}
	filterJSON, err := json.Marshal(session.RetrievalFilter)
	if err != nil {
		return core.NewError(core.ErrInternal, "marshaling retrieval filter", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO dialogue_sessions (id, user_id, messages, seed_run_id, retrieval_filter, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET messages = $3, retrieval_filter = $5, updated_at = $7
	`, session.ID, session.UserID, messagesJSON, session.SeedRunID, filterJSON, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return core.NewError(core.ErrStoreUnavailable, "saving dialogue session", err)
	}
	_ = m.cache.Set(ctx, sessionCacheKey(session.ID), session, m.sessionTTL)
	return nil
}

func sessionCacheKey(sessionID string) string {
	return "dialogue:session:" + sessionID
}
