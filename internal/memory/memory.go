// Package memory implements the C7 User Memory Store: an append-only
// interaction log plus a derived, per-user profile (interest vector,
// category weights, preferences) recomputed from that log (spec §4.7).
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"newsroom/internal/core"
)

// Embedder is the subset of internal/llm.Client the store needs to embed
// interaction text into the running interest vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Options configures the interest-vector decay (spec §4.7, Open Question 3:
// "treat as tunables", wired through internal/config.Memory).
type Options struct {
	HalfLifeDays  float64
	ActionWeights map[core.InteractionAction]float64
}

// DefaultOptions returns the spec's default tunables.
func DefaultOptions() Options {
	return Options{
		HalfLifeDays: 14,
		ActionWeights: map[core.InteractionAction]float64{
			core.ActionQuery:        1.0,
			core.ActionView:         0.3,
			core.ActionLike:         1.5,
			core.ActionShare:        1.2,
			core.ActionDwell:        0.2,
			core.ActionDialogueTurn: 0.8,
		},
	}
}

// Store is the C7 User Memory Store, backed by Postgres. Per-user profile
// updates are serialized with a fine-grained per-user mutex so the running
// mean stays race-free under concurrent pipeline runs and dialogue turns
// (spec §5 "Shared-resource policy").
type Store struct {
	db  *sql.DB
	llm Embedder
	opt Options

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open builds the C7 store over an already-open Postgres handle.
func Open(db *sql.DB, llmClient Embedder, opt Options) *Store {
	if opt.HalfLifeDays <= 0 {
		opt = DefaultOptions()
	}
	return &Store{db: db, llm: llmClient, opt: opt, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Record appends an interaction to the user's append-only log and
// incrementally folds it into the derived profile (spec §4.7, §3
// "InteractionRecord" invariant: append-only, ordered by timestamp).
func (s *Store) Record(ctx context.Context, in core.InteractionRecord) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	lock := s.lockFor(in.UserID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, user_id, timestamp, action, target_ref, text, importance, categories)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, in.ID, in.UserID, in.Timestamp, in.Action, in.TargetRef, in.Text, in.Importance, strings.Join(in.Categories, ",")); err != nil {
		return core.NewError(core.ErrStoreUnavailable, "recording interaction", err)
	}

	if err := s.applyIncremental(ctx, in); err != nil {
		return err
	}
	return nil
}

// GetProfile loads a user's derived profile, creating the zero-interaction
// default if the user has never interacted before (spec §3 "UserProfile"
// lifecycle: created on first interaction).
func (s *Store) GetProfile(ctx context.Context, userID string) (core.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, interest_vector, category_weights, preferred_sources,
		       response_length, formality, detail_depth, personalization_level,
		       queries_issued, articles_viewed, cards_liked, updated_at
		FROM user_profiles WHERE user_id = $1
	`, userID)

	var p core.UserProfile
	var catWeightsJSON, preferredJSON []byte
	var vec []float64
	err := row.Scan(&p.UserID, pq.Array(&vec), &catWeightsJSON, &preferredJSON,
		&p.ResponseLength, &p.Formality, &p.DetailDepth, &p.PersonalizationLevel,
		&p.QueriesIssued, &p.ArticlesViewed, &p.CardsLiked, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return core.DefaultUserProfile(userID), nil
	}
	if err != nil {
		return core.UserProfile{}, core.NewError(core.ErrStoreUnavailable, "loading user profile", err)
	}
	p.InterestVector = vec
	p.CategoryWeights = map[string]float64{}
	_ = json.Unmarshal(catWeightsJSON, &p.CategoryWeights)
	p.PreferredSources = map[string]bool{}
	_ = json.Unmarshal(preferredJSON, &p.PreferredSources)
	return p, nil
}

// getAccumulator loads the raw weighted-sum state backing the derived
// profile fields. A user with no row yet gets a zero accumulator.
func (s *Store) getAccumulator(ctx context.Context, userID string) (*accumulator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT interest_vector_sum, interest_weight_sum, category_weight_sum, decay_reference_at
		FROM user_profiles WHERE user_id = $1
	`, userID)

	acc := &accumulator{catSum: map[string]float64{}}
	var vecSum []float64
	var catSumJSON []byte
	var refAt sql.NullTime
	err := row.Scan(pq.Array(&vecSum), &acc.vecWeight, &catSumJSON, &refAt)
	if err == sql.ErrNoRows {
		return acc, nil
	}
	if err != nil {
		return nil, core.NewError(core.ErrStoreUnavailable, "loading profile accumulator", err)
	}
	acc.vecSum = vecSum
	_ = json.Unmarshal(catSumJSON, &acc.catSum)
	if refAt.Valid {
		acc.referenceAt = refAt.Time
	}
	return acc, nil
}

// writeAccumulator persists the raw weighted sums alongside the derived
// fields they produce, so the next incremental fold resumes from exactly
// where this one left off.
func (s *Store) writeAccumulator(ctx context.Context, userID string, acc *accumulator, interestVector []float64, categoryWeights map[string]float64) error {
	catJSON, err := json.Marshal(categoryWeights)
	if err != nil {
		return core.NewError(core.ErrInternal, "marshaling category weights", err)
	}
	catSumJSON, err := json.Marshal(acc.catSum)
	if err != nil {
		return core.NewError(core.ErrInternal, "marshaling category weight sums", err)
	}
	var refAt sql.NullTime
	if !acc.referenceAt.IsZero() {
		refAt = sql.NullTime{Time: acc.referenceAt, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET interest_vector = $2, category_weights = $3,
		    interest_vector_sum = $4, interest_weight_sum = $5,
		    category_weight_sum = $6, decay_reference_at = $7,
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID, pq.Array(interestVector), catJSON, pq.Array(acc.vecSum), acc.vecWeight, catSumJSON, refAt)
	if err != nil {
		return core.NewError(core.ErrStoreUnavailable, "writing derived profile fields", err)
	}
	return nil
}

// SetPreferences updates the user-controlled stylistic fields (spec §6
// "PUT /user/{id}/profile"). Derived fields are untouched.
func (s *Store) SetPreferences(ctx context.Context, userID string, responseLength, formality, detailDepth string, personalizationLevel float64) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.ensureProfileRow(ctx, userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET response_length = $2, formality = $3, detail_depth = $4,
		    personalization_level = $5, updated_at = NOW()
		WHERE user_id = $1
	`, userID, responseLength, formality, detailDepth, personalizationLevel)
	if err != nil {
		return core.NewError(core.ErrStoreUnavailable, "updating profile preferences", err)
	}
	return nil
}

// Clear removes all of C7's state for a user (spec §6 "DELETE /user/{id}/memory").
func (s *Store) Clear(ctx context.Context, userID string) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.NewError(core.ErrStoreUnavailable, "beginning clear transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE user_id = $1`, userID); err != nil {
		return core.NewError(core.ErrStoreUnavailable, "clearing interactions", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_profiles WHERE user_id = $1`, userID); err != nil {
		return core.NewError(core.ErrStoreUnavailable, "clearing profile", err)
	}
	if err := tx.Commit(); err != nil {
		return core.NewError(core.ErrStoreUnavailable, "committing clear", err)
	}
	return nil
}

// UpdateDerived fully rebuilds a user's derived profile from the complete
// interaction log (spec §4.7 "a full rebuild... must produce the same
// result"). It replays the log through the exact same decay-then-add step
// applyIncremental uses, one interaction at a time in timestamp order, so
// the two paths converge on the same accumulator (spec §8 property 5).
// Used for backfills and to verify incremental maintenance.
func (s *Store) UpdateDerived(ctx context.Context, userID string) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, action, text, categories, importance
		FROM interactions WHERE user_id = $1 ORDER BY timestamp ASC
	`, userID)
	if err != nil {
		return core.NewError(core.ErrStoreUnavailable, "loading interaction log", err)
	}
	defer rows.Close()

	type entry struct {
		ts         time.Time
		action     core.InteractionAction
		text       string
		categories []string
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var action, categories string
		var importance float64
		if err := rows.Scan(&e.ts, &action, &e.text, &categories, &importance); err != nil {
			return core.NewError(core.ErrStoreUnavailable, "scanning interaction row", err)
		}
		e.action = core.InteractionAction(action)
		if categories != "" {
			e.categories = strings.Split(categories, ",")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return core.NewError(core.ErrStoreUnavailable, "iterating interaction rows", err)
	}

	texts := make([]string, 0, len(entries))
	textIdx := make([]int, 0, len(entries))
	for i, e := range entries {
		if e.text != "" && s.opt.ActionWeights[e.action] > 0 {
			texts = append(texts, e.text)
			textIdx = append(textIdx, i)
		}
	}
	vectors := make(map[int][]float64, len(textIdx))
	if len(texts) > 0 && s.llm != nil {
		embedded, err := s.llm.Embed(ctx, texts)
		if err == nil {
			for i, v := range embedded {
				vectors[textIdx[i]] = v
			}
		}
	}

	acc := &accumulator{catSum: map[string]float64{}}
	for i, e := range entries {
		s.fold(acc, e.ts, e.action, vectors[i], e.categories)
	}

	interestVector, catWeights := acc.derive()
	if _, err := s.ensureProfileRow(ctx, userID); err != nil {
		return err
	}
	return s.writeAccumulator(ctx, userID, acc, interestVector, catWeights)
}

// applyIncremental folds one new interaction into the running mean without
// rescanning the whole log (spec §4.7 "Updates... are incremental"), using
// the same fold step UpdateDerived replays over the full log so the two
// converge on the same result.
func (s *Store) applyIncremental(ctx context.Context, in core.InteractionRecord) error {
	if _, err := s.ensureProfileRow(ctx, in.UserID); err != nil {
		return err
	}

	if s.opt.ActionWeights[in.Action] <= 0 {
		return s.bumpCounters(ctx, in)
	}

	acc, err := s.getAccumulator(ctx, in.UserID)
	if err != nil {
		return err
	}

	var vec []float64
	if in.Text != "" && s.llm != nil {
		vectors, err := s.llm.Embed(ctx, []string{in.Text})
		if err == nil && len(vectors) == 1 {
			vec = vectors[0]
		}
	}
	s.fold(acc, in.Timestamp, in.Action, vec, in.Categories)

	interestVector, catWeights := acc.derive()
	if err := s.writeAccumulator(ctx, in.UserID, acc, interestVector, catWeights); err != nil {
		return err
	}
	return s.bumpCounters(ctx, in)
}

func (s *Store) bumpCounters(ctx context.Context, in core.InteractionRecord) error {
	col := ""
	switch in.Action {
	case core.ActionQuery:
		col = "queries_issued"
	case core.ActionView:
		col = "articles_viewed"
	case core.ActionLike:
		col = "cards_liked"
	default:
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE user_profiles SET `+col+` = `+col+` + 1, updated_at = NOW() WHERE user_id = $1`, in.UserID)
	if err != nil {
		return core.NewError(core.ErrStoreUnavailable, "bumping interaction counter", err)
	}
	return nil
}

func (s *Store) ensureProfileRow(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return false, core.NewError(core.ErrStoreUnavailable, "ensuring profile row", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// accumulator holds the raw weighted-mean state behind a user's derived
// interest vector and category weights: the numerator (vecSum, catSum) and
// denominator (vecWeight) of a running weighted mean, expressed "as of"
// referenceAt. UpdateDerived and applyIncremental both mutate it through
// fold, which is what makes the two paths converge (spec §4.7).
type accumulator struct {
	vecSum      []float64
	vecWeight   float64
	catSum      map[string]float64
	referenceAt time.Time
}

// derive normalizes the accumulator into the profile's public fields.
func (acc *accumulator) derive() (interestVector []float64, categoryWeights map[string]float64) {
	if acc.vecWeight > 0 {
		interestVector = make([]float64, len(acc.vecSum))
		for i, v := range acc.vecSum {
			interestVector[i] = v / acc.vecWeight
		}
	}
	categoryWeights = make(map[string]float64, len(acc.catSum))
	for k, v := range acc.catSum {
		categoryWeights[k] = v
	}
	normalizeWeights(categoryWeights)
	return interestVector, categoryWeights
}

// fold decays the accumulator's existing sums to ts and adds one more
// weighted observation. Because the exponential decay factors into a
// global time-dependent scale and a per-interaction term, rebasing the
// reference time to ts only rescales every accumulated sum by the same
// ratio (spec §4.7 "exponential time decay") — this is what lets a
// from-scratch rebuild and a long-running incremental store agree exactly,
// regardless of when each happens to run.
func (s *Store) fold(acc *accumulator, ts time.Time, action core.InteractionAction, vec []float64, categories []string) {
	actionWeight := s.opt.ActionWeights[action]
	if actionWeight <= 0 {
		return
	}

	weight := actionWeight
	switch {
	case acc.referenceAt.IsZero():
		acc.referenceAt = ts
	case ts.After(acc.referenceAt):
		s.decayTo(acc, ts.Sub(acc.referenceAt))
		acc.referenceAt = ts
	case ts.Before(acc.referenceAt):
		// An out-of-order (older) interaction: decay its own contribution
		// back to the existing reference instead of rewinding it.
		weight *= s.decayFactor(acc.referenceAt.Sub(ts))
	}

	if len(vec) > 0 {
		acc.vecSum = accumulate(acc.vecSum, vec, weight)
		acc.vecWeight += weight
	}
	for _, cat := range categories {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat == "" {
			continue
		}
		acc.catSum[cat] += weight
	}
}

func (s *Store) decayTo(acc *accumulator, elapsed time.Duration) {
	factor := s.decayFactor(elapsed)
	for i := range acc.vecSum {
		acc.vecSum[i] *= factor
	}
	acc.vecWeight *= factor
	for k := range acc.catSum {
		acc.catSum[k] *= factor
	}
}

func (s *Store) decayFactor(elapsed time.Duration) float64 {
	days := elapsed.Hours() / 24
	if days <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * days / s.opt.HalfLifeDays)
}

func accumulate(sum, next []float64, weight float64) []float64 {
	if len(sum) == 0 {
		sum = make([]float64, len(next))
	}
	for i, v := range next {
		if i < len(sum) {
			sum[i] += v * weight
		}
	}
	return sum
}

func normalizeWeights(weights map[string]float64) {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return
	}
	for k, w := range weights {
		weights[k] = w / total
	}
}
