package memory

import (
	"math"
	"testing"
	"time"

	"newsroom/internal/core"
)

func TestDecayFactorHalvesAtOneHalfLife(t *testing.T) {
	s := &Store{opt: DefaultOptions()}
	f := s.decayFactor(14 * 24 * time.Hour)
	if math.Abs(f-0.5) > 1e-6 {
		t.Errorf("expected decay factor 0.5 at one half-life, got %v", f)
	}
	if s.decayFactor(0) != 1 {
		t.Errorf("expected no decay at zero elapsed time")
	}
	if s.decayFactor(-time.Hour) != 1 {
		t.Errorf("expected negative elapsed time clamped to no decay")
	}
}

func TestFoldSkipsActionsWithNoConfiguredWeight(t *testing.T) {
	s := &Store{opt: DefaultOptions()}
	acc := &accumulator{catSum: map[string]float64{}}
	s.fold(acc, time.Now(), core.InteractionAction("unknown"), []float64{1, 2, 3}, []string{"tech"})
	if acc.vecWeight != 0 || len(acc.catSum) != 0 {
		t.Fatalf("expected an unweighted action to leave the accumulator untouched, got %+v", acc)
	}
}

func TestFoldFreshObservationIsUnweightedByDecay(t *testing.T) {
	s := &Store{opt: DefaultOptions()}
	acc := &accumulator{catSum: map[string]float64{}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.fold(acc, now, core.ActionLike, []float64{1, 2, 3}, []string{"tech"})
	if math.Abs(acc.vecWeight-1.5) > 1e-9 {
		t.Errorf("expected a single fresh 'like' to weigh 1.5, got %v", acc.vecWeight)
	}
	if math.Abs(acc.catSum["tech"]-1.5) > 1e-9 {
		t.Errorf("expected category sum to match action weight, got %v", acc.catSum["tech"])
	}
}

func TestFoldDecaysPriorSumsAsReferenceAdvances(t *testing.T) {
	s := &Store{opt: DefaultOptions()}
	acc := &accumulator{catSum: map[string]float64{}}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.fold(acc, t0, core.ActionLike, []float64{1, 0, 0}, nil)

	t1 := t0.Add(14 * 24 * time.Hour)
	s.fold(acc, t1, core.ActionLike, []float64{1, 0, 0}, nil)

	// The first observation should have decayed to half its original weight
	// by the time the second, equally-weighted observation lands.
	wantWeight := 1.5*0.5 + 1.5
	if math.Abs(acc.vecWeight-wantWeight) > 1e-6 {
		t.Fatalf("expected decayed+fresh weight %v, got %v", wantWeight, acc.vecWeight)
	}
}

func TestFoldOutOfOrderInteractionDecaysTowardTheReference(t *testing.T) {
	s := &Store{opt: DefaultOptions()}
	acc := &accumulator{catSum: map[string]float64{}}
	t1 := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	s.fold(acc, t1, core.ActionLike, []float64{1, 0, 0}, nil)

	t0 := t1.Add(-14 * 24 * time.Hour)
	s.fold(acc, t0, core.ActionLike, []float64{1, 0, 0}, nil)

	wantWeight := 1.5 + 1.5*0.5
	if math.Abs(acc.vecWeight-wantWeight) > 1e-6 {
		t.Fatalf("expected an older interaction folded in afterward to still discount by elapsed time, got %v want %v", acc.vecWeight, wantWeight)
	}
	if acc.referenceAt != t1 {
		t.Fatalf("expected the reference time to stay at the latest interaction, got %v", acc.referenceAt)
	}
}

// TestFoldIncrementalMatchesBatchRebuild is the same property spec §8
// property 5 describes for UpdateDerived vs. applyIncremental: folding
// interactions one at a time into a persisted accumulator must produce the
// same result as folding them all in one pass over the ordered log.
func TestFoldIncrementalMatchesBatchRebuild(t *testing.T) {
	s := &Store{opt: DefaultOptions()}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	type step struct {
		offsetDays float64
		action     core.InteractionAction
		vec        []float64
		categories []string
	}
	steps := []step{
		{0, core.ActionView, []float64{1, 0, 0}, []string{"tech"}},
		{3, core.ActionLike, []float64{0, 1, 0}, []string{"finance"}},
		{10, core.ActionQuery, []float64{0, 0, 1}, []string{"tech", "finance"}},
		{20, core.ActionDialogueTurn, []float64{1, 1, 1}, []string{"sports"}},
	}

	batch := &accumulator{catSum: map[string]float64{}}
	for _, st := range steps {
		s.fold(batch, base.Add(time.Duration(st.offsetDays*24)*time.Hour), st.action, st.vec, st.categories)
	}

	incremental := &accumulator{catSum: map[string]float64{}}
	for _, st := range steps {
		// Each call starts from the previous call's persisted accumulator,
		// mirroring applyIncremental loading and saving it per interaction.
		s.fold(incremental, base.Add(time.Duration(st.offsetDays*24)*time.Hour), st.action, st.vec, st.categories)
	}

	batchVec, batchCats := batch.derive()
	incVec, incCats := incremental.derive()
	for i := range batchVec {
		if math.Abs(batchVec[i]-incVec[i]) > 1e-6 {
			t.Fatalf("interest vector diverged at %d: batch %v incremental %v", i, batchVec[i], incVec[i])
		}
	}
	for cat, w := range batchCats {
		if math.Abs(w-incCats[cat]) > 1e-6 {
			t.Fatalf("category weight diverged for %q: batch %v incremental %v", cat, w, incCats[cat])
		}
	}
}

func TestAccumulateSumsWeightedVectors(t *testing.T) {
	var sum []float64
	sum = accumulate(sum, []float64{1, 2, 3}, 0.5)
	sum = accumulate(sum, []float64{2, 2, 2}, 1.0)
	want := []float64{0.5 + 2, 1 + 2, 1.5 + 2}
	for i := range want {
		if math.Abs(sum[i]-want[i]) > 1e-9 {
			t.Fatalf("accumulate mismatch at %d: got %v want %v", i, sum[i], want[i])
		}
	}
}

func TestNormalizeWeightsSumsToOne(t *testing.T) {
	weights := map[string]float64{"tech": 2, "sports": 1, "finance": 1}
	normalizeWeights(weights)
	var total float64
	for _, w := range weights {
		total += w
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Fatalf("expected normalized weights to sum to 1, got %v", total)
	}
	if math.Abs(weights["tech"]-0.5) > 1e-9 {
		t.Errorf("expected tech weight 0.5, got %v", weights["tech"])
	}
}

func TestNormalizeWeightsNoOpOnZeroTotal(t *testing.T) {
	weights := map[string]float64{"tech": 0, "sports": 0}
	normalizeWeights(weights)
	if weights["tech"] != 0 || weights["sports"] != 0 {
		t.Fatalf("expected zero-total weights left unchanged, got %+v", weights)
	}
}
