// Package articlestore implements the C2 Article Store: durable,
// dedup-on-write persistence for articles keyed by their fingerprint (spec
// §4.2), backed by Postgres over database/sql, matching the teacher's
// internal/persistence repository pattern.
package articlestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"newsroom/internal/core"
)

// Store is the C2 Article Store.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection (spec §6
// "document-store connection").
func Open(connectionString string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, core.NewError(core.ErrStoreUnavailable, "opening article store connection", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, core.NewError(core.ErrStoreUnavailable, "pinging article store", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// UpsertResult reports how an UpsertMany batch landed (spec §4.2).
type UpsertResult struct {
	Stored      int
	Duplicates  int
	Fingerprints []string
}

// UpsertMany inserts new articles and refreshes LastSeenAt on articles
// already present, keyed by Fingerprint (spec invariant: fingerprint is the
// sole uniqueness key, both for URL-keyed and hash-fallback-keyed rows).
// The write is durable before this call returns (spec §4.2 "durable before
// response").
func (s *Store) UpsertMany(ctx context.Context, articles []core.Article) (UpsertResult, error) {
	if len(articles) == 0 {
		return UpsertResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, core.NewError(core.ErrStoreUnavailable, "beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := UpsertResult{Fingerprints: make([]string, 0, len(articles))}
	for _, a := range articles {
		isNew, err := s.upsertOne(ctx, tx, a)
		if err != nil {
			return UpsertResult{}, core.NewError(core.ErrStoreUnavailable, "upserting article "+a.Fingerprint, err)
		}
		result.Fingerprints = append(result.Fingerprints, a.Fingerprint)
		if isNew {
			result.Stored++
		} else {
			result.Duplicates++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, core.NewError(core.ErrStoreUnavailable, "committing article batch", err)
	}
	return result, nil
}

func (s *Store) upsertOne(ctx context.Context, tx *sql.Tx, a core.Article) (isNew bool, err error) {
	categories := strings.Join(a.Categories, ",")
	keywords := strings.Join(a.Keywords, ",")

	row := tx.QueryRowContext(ctx, `
		INSERT INTO articles (
			fingerprint, title, summary, full_text, url, source, author,
			published_at, language, categories, keywords, query,
			discovered_at, last_seen_at, index_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13,$14)
		ON CONFLICT (fingerprint) DO UPDATE SET last_seen_at = $13
		RETURNING (xmax = 0) AS inserted
	`,
		a.Fingerprint, a.Title, a.Summary, a.FullText, a.URL, a.Source, a.Author,
		a.PublishedAt, a.Language, categories, keywords, a.Query,
		time.Now().UTC(), a.IndexStatus,
	)
	if err := row.Scan(&isNew); err != nil {
		return false, err
	}
	return isNew, nil
}

// GetByFingerprints loads articles by fingerprint, in the order they were
// requested; fingerprints with no matching row are simply omitted.
func (s *Store) GetByFingerprints(ctx context.Context, fingerprints []string) ([]core.Article, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(fingerprints))
	args := make([]any, len(fingerprints))
	for i, fp := range fingerprints {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = fp
	}
	query := fmt.Sprintf(`
		SELECT fingerprint, title, summary, full_text, url, source, author,
		       published_at, language, categories, keywords, query,
		       discovered_at, last_seen_at, index_status
		FROM articles WHERE fingerprint IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewError(core.ErrStoreUnavailable, "querying articles by fingerprint", err)
	}
	defer rows.Close()

	byFP := make(map[string]core.Article, len(fingerprints))
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, core.NewError(core.ErrStoreUnavailable, "scanning article row", err)
		}
		byFP[a.Fingerprint] = a
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewError(core.ErrStoreUnavailable, "iterating article rows", err)
	}

	out := make([]core.Article, 0, len(fingerprints))
	for _, fp := range fingerprints {
		if a, ok := byFP[fp]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// QueryOptions filters QueryByTagsAndRange.
type QueryOptions struct {
	Categories []string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// QueryByTagsAndRange lists articles matching any of opts.Categories (when
// given) within [Since, Until), newest first.
func (s *Store) QueryByTagsAndRange(ctx context.Context, opts QueryOptions) ([]core.Article, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT fingerprint, title, summary, full_text, url, source, author,
		       published_at, language, categories, keywords, query,
		       discovered_at, last_seen_at, index_status
		FROM articles
		WHERE published_at >= $1
	`
	args := []any{opts.Since}
	argIdx := 2
	if !opts.Until.IsZero() {
		query += fmt.Sprintf(" AND published_at < $%d", argIdx)
		args = append(args, opts.Until)
		argIdx++
	}
	if len(opts.Categories) > 0 {
		ors := make([]string, len(opts.Categories))
		for i, c := range opts.Categories {
			ors[i] = fmt.Sprintf("categories ILIKE $%d", argIdx)
			args = append(args, "%"+c+"%")
			argIdx++
		}
		query += " AND (" + strings.Join(ors, " OR ") + ")"
	}
	query += fmt.Sprintf(" ORDER BY published_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewError(core.ErrStoreUnavailable, "querying articles by range", err)
	}
	defer rows.Close()

	var out []core.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, core.NewError(core.ErrStoreUnavailable, "scanning article row", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (core.Article, error) {
	var a core.Article
	var categories, keywords string
	if err := row.Scan(
		&a.Fingerprint, &a.Title, &a.Summary, &a.FullText, &a.URL, &a.Source, &a.Author,
		&a.PublishedAt, &a.Language, &categories, &keywords, &a.Query,
		&a.DiscoveredAt, &a.LastSeenAt, &a.IndexStatus,
	); err != nil {
		return core.Article{}, err
	}
	if categories != "" {
		a.Categories = strings.Split(categories, ",")
	}
	if keywords != "" {
		a.Keywords = strings.Split(keywords, ",")
	}
	return a, nil
}
