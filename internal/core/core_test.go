package core

import (
	"testing"
	"time"
)

func TestFingerprintPrefersURL(t *testing.T) {
	fp1 := Fingerprint("https://Example.com/A", "Title", "source", time.Now())
	fp2 := Fingerprint("https://example.com/a", "Different Title", "other", time.Now())
	if fp1 != fp2 {
		t.Fatalf("expected case-insensitive URL fingerprints to match, got %q vs %q", fp1, fp2)
	}
}

func TestFingerprintFallsBackToHash(t *testing.T) {
	day := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	fp1 := Fingerprint("", "Same Title", "Source A", day)
	fp2 := Fingerprint("", "Same Title", "Source A", day.Add(2*time.Hour))
	if fp1 != fp2 {
		t.Fatalf("expected day-granularity hash fingerprints to match: %q vs %q", fp1, fp2)
	}
	fp3 := Fingerprint("", "Different Title", "Source A", day)
	if fp1 == fp3 {
		t.Fatalf("expected different titles to produce different fingerprints")
	}
}

func TestSortCardsDeterministicTieBreak(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cards := []NewsCard{
		{ArticleFingerprint: "b", DisplayPriority: 5, PublishedAt: now},
		{ArticleFingerprint: "a", DisplayPriority: 5, PublishedAt: now},
		{ArticleFingerprint: "c", DisplayPriority: 9, PublishedAt: now.Add(-time.Hour)},
	}
	SortCards(cards)
	if cards[0].ArticleFingerprint != "c" {
		t.Fatalf("expected highest priority card first, got %+v", cards[0])
	}
	if cards[1].ArticleFingerprint != "a" || cards[2].ArticleFingerprint != "b" {
		t.Fatalf("expected ties broken by ascending fingerprint, got %q then %q", cards[1].ArticleFingerprint, cards[2].ArticleFingerprint)
	}
}

func TestPipelineRunFinalize(t *testing.T) {
	run := &PipelineRun{}
	run.AddStage(StageResult{Stage: StageSearch, Outcome: OutcomeSuccess})
	run.AddStage(StageResult{Stage: StageIndex, Outcome: OutcomeFailed, ErrorKind: string(ErrProviderUnavailable), Warning: "index degraded"})
	run.Finalize()
	if run.Status != RunPartialSuccess {
		t.Fatalf("expected partial-success, got %s", run.Status)
	}
	if len(run.Warnings) != 1 {
		t.Fatalf("expected one warning recorded, got %v", run.Warnings)
	}

	allFailed := &PipelineRun{}
	allFailed.AddStage(StageResult{Stage: StageSearch, Outcome: OutcomeFailed, Warning: "boom"})
	allFailed.Finalize()
	if allFailed.Status != RunFailed {
		t.Fatalf("expected failed run when nothing succeeded, got %s", allFailed.Status)
	}
}
