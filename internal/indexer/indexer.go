// Package indexer implements the C3 Embedding Indexer: it splits an
// article's title/summary and body into token-bounded chunks, embeds them
// via the LLM client, and stores them in Postgres behind pgvector for
// cosine-similarity search (spec §4.3).
package indexer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"newsroom/internal/core"
	"newsroom/internal/tokenizer"
)

const (
	titleSummaryMaxTokens = 512
	bodyWindowMaxTokens   = 400
	bodyWindowOverlap     = 40
	minChunkTokens        = 40
	embedBatchSize        = 32
)

// Embedder is the subset of internal/llm.Client the indexer depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Indexer is the C3 Embedding Indexer.
type Indexer struct {
	db  *sql.DB
	llm Embedder
	tok *tokenizer.Tokenizer
}

// New builds an Indexer over an already-migrated database.
func New(db *sql.DB, llmClient Embedder, tok *tokenizer.Tokenizer) *Indexer {
	return &Indexer{db: db, llm: llmClient, tok: tok}
}

// Chunk splits an article's title+summary (chunk 0) and body (remaining
// chunks, paragraph-aware and windowed) into chunks under their respective
// token ceilings. Body windows under minChunkTokens are dropped; the
// title+summary chunk is kept whatever its length.
func (ix *Indexer) Chunk(a core.Article) []core.Chunk {
	var chunks []core.Chunk

	titleSummary := a.Title
	if a.Summary != "" {
		titleSummary += "\n\n" + a.Summary
	}
	if t := ix.tok.Truncate(titleSummary, titleSummaryMaxTokens); t != "" {
		if n := ix.tok.Count(t); n >= minChunkTokens || n == ix.tok.Count(titleSummary) {
			chunks = append(chunks, core.Chunk{
				ArticleFingerprint: a.Fingerprint,
				Ordinal:            0,
				Text:               t,
				TokenCount:         ix.tok.Count(t),
				SourceField:        core.ChunkSourceTitleSummary,
			})
		}
	}

	ordinal := len(chunks)
	for _, para := range tokenizer.SplitParagraphs(a.FullText) {
		for _, window := range ix.tok.Window(para, bodyWindowMaxTokens, bodyWindowOverlap) {
			n := ix.tok.Count(window)
			if n < minChunkTokens {
				continue
			}
			chunks = append(chunks, core.Chunk{
				ArticleFingerprint: a.Fingerprint,
				Ordinal:            ordinal,
				Text:               window,
				TokenCount:         n,
				SourceField:        core.ChunkSourceBody,
			})
			ordinal++
		}
	}
	return chunks
}

// ReindexResult reports how many chunks embedded successfully.
type ReindexResult struct {
	Status       core.IndexStatus
	ChunksStored int
	ChunksFailed int
}

// Reindex atomically replaces an article's chunk set: existing chunks for
// the fingerprint are deleted, the article is rechunked and reembedded in
// batches of embedBatchSize, and the surviving chunks are written in one
// transaction. A batch embedding failure downgrades the result to
// PartiallyIndexed rather than failing the whole call, as long as at least
// one batch embedded; when every batch fails, Reindex returns a
// ProviderUnavailable error and leaves the prior chunks in place (spec §4.3).
func (ix *Indexer) Reindex(ctx context.Context, a core.Article) (ReindexResult, error) {
	chunks := ix.Chunk(a)
	if len(chunks) == 0 {
		return ReindexResult{Status: core.IndexStatusNone}, nil
	}

	embedded := make([]core.Chunk, 0, len(chunks))
	failed := 0
	var lastErr error
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := ix.llm.Embed(ctx, texts)
		if err != nil {
			failed += len(batch)
			lastErr = err
			continue
		}
		for i, c := range batch {
			c.Embedding = vectors[i]
			embedded = append(embedded, c)
		}
	}

	// Every batch failed: there is nothing to write, and the prior chunks
	// (if any) are left untouched rather than deleted for nothing (spec
	// §4.3 "partial failures degrade to warnings when at least one chunk
	// was indexed" implies zero indexed is not a degraded success).
	if len(embedded) == 0 {
		return ReindexResult{}, core.NewError(core.ErrProviderUnavailable, "embedding provider failed for every chunk", lastErr)
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return ReindexResult{}, core.NewError(core.ErrIndexUnavailable, "beginning reindex transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE article_fingerprint = $1`, a.Fingerprint); err != nil {
		return ReindexResult{}, core.NewError(core.ErrIndexUnavailable, "clearing existing chunks", err)
	}

	for i, c := range embedded {
		c.Ordinal = i
		vec := pgvector.NewVector(toFloat32(c.Embedding))
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (article_fingerprint, ordinal, text, token_count, source_field, embedding)
			VALUES ($1,$2,$3,$4,$5,$6::vector)
		`, c.ArticleFingerprint, c.Ordinal, c.Text, c.TokenCount, c.SourceField, vec); err != nil {
			return ReindexResult{}, core.NewError(core.ErrIndexUnavailable, "storing chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ReindexResult{}, core.NewError(core.ErrIndexUnavailable, "committing reindex", err)
	}

	status := core.IndexStatusIndexed
	if failed > 0 {
		status = core.IndexStatusPartiallyIndexed
	}
	return ReindexResult{Status: status, ChunksStored: len(embedded), ChunksFailed: failed}, nil
}

// SearchQuery parameterizes Search.
type SearchQuery struct {
	Embedding       []float64
	Limit           int
	SimilarityFloor float64
	ExcludeArticles []string
}

// SearchResult is one chunk hit, its similarity to the query, and its
// parent article's fingerprint.
type SearchResult struct {
	Chunk      core.Chunk
	Similarity float64
}

// Search returns the chunks most cosine-similar to query.Embedding, above
// SimilarityFloor, most similar first.
func (ix *Indexer) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	vec := pgvector.NewVector(toFloat32(q.Embedding))

	query := `
		SELECT article_fingerprint, ordinal, text, token_count, source_field, embedding,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM chunks
		WHERE embedding IS NOT NULL
	`
	args := []any{vec}
	argIdx := 2
	if len(q.ExcludeArticles) > 0 {
		placeholders := make([]string, len(q.ExcludeArticles))
		for i, fp := range q.ExcludeArticles {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, fp)
			argIdx++
		}
		query += " AND article_fingerprint NOT IN (" + joinCommas(placeholders) + ")"
	}
	query += fmt.Sprintf(" AND 1 - (embedding <=> $1::vector) >= $%d", argIdx)
	args = append(args, q.SimilarityFloor)
	argIdx++
	query += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewError(core.ErrIndexUnavailable, "searching chunks", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var vec pgvector.Vector
		if err := rows.Scan(
			&r.Chunk.ArticleFingerprint, &r.Chunk.Ordinal, &r.Chunk.Text,
			&r.Chunk.TokenCount, &r.Chunk.SourceField, &vec, &r.Similarity,
		); err != nil {
			return nil, core.NewError(core.ErrIndexUnavailable, "scanning chunk row", err)
		}
		r.Chunk.Embedding = toFloat64(vec.Slice())
		out = append(out, r)
	}
	return out, rows.Err()
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func joinCommas(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return out
}
