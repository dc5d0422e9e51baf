// Package runstore persists C8 PipelineRun records for later retrieval by
// run id (`GET /pipeline/status/{runId}`) and for C10 sessions seeded by a
// run, with age-based eviction (spec §6 "Pipeline runs: one document per
// run, TTL-evicted after 7 days by default").
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"newsroom/internal/core"
)

const defaultTTL = 7 * 24 * time.Hour

// Store is the pipeline run status store, backed by Postgres.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// New builds a Store over an already-migrated database. ttl <= 0 uses the
// spec's 7-day default.
func New(db *sql.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{db: db, ttl: ttl}
}

// Save persists a completed run, replacing any prior record with the same id.
func (s *Store) Save(ctx context.Context, run *core.PipelineRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return core.NewError(core.ErrInternal, "marshaling pipeline run", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, user_id, run, created_at)
		VALUES ($1,$2,$3,NOW())
		ON CONFLICT (id) DO UPDATE SET run = $3
	`, run.ID, run.UserID, payload)
	if err != nil {
		return core.NewError(core.ErrStoreUnavailable, "saving pipeline run", err)
	}
	return nil
}

// GetRun loads a run by id (spec §6 "GET /pipeline/status/{runId}... if retained").
func (s *Store) GetRun(ctx context.Context, runID string) (*core.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run FROM pipeline_runs WHERE id = $1`, runID)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewError(core.ErrNotFound, "pipeline run not found", err)
		}
		return nil, core.NewError(core.ErrStoreUnavailable, "loading pipeline run", err)
	}
	var run core.PipelineRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, core.NewError(core.ErrInternal, "unmarshaling pipeline run", err)
	}
	return &run, nil
}

// EvictExpired deletes runs older than the configured TTL. The `serve`
// command calls it hourly from a background task in the composition root.
func (s *Store) EvictExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_runs WHERE created_at < $1`, time.Now().UTC().Add(-s.ttl))
	if err != nil {
		return 0, core.NewError(core.ErrStoreUnavailable, "evicting expired pipeline runs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
