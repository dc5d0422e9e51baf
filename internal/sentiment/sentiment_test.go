package sentiment

import (
	"strings"
	"testing"

	"newsroom/internal/core"
)

func TestScorePositiveAndNegative(t *testing.T) {
	s := NewScorer()
	results := s.Score([]string{
		"The company reported an excellent breakthrough with outstanding growth and record profit.",
		"A terrible disaster caused a major outage and a security breach across the network.",
		"The committee met on Tuesday to review the quarterly schedule.",
	})

	if results[0].Label != core.SentimentPositive {
		t.Fatalf("expected positive label, got %+v", results[0])
	}
	if results[1].Label != core.SentimentNegative {
		t.Fatalf("expected negative label, got %+v", results[1])
	}
	if results[2].Label != core.SentimentNeutral {
		t.Fatalf("expected neutral label for text with no sentiment keywords, got %+v", results[2])
	}
}

func TestScoreLowConfidenceCollapsesToNeutral(t *testing.T) {
	s := NewScorer()
	result := s.scoreOne("a mild upgrade happened")
	if result.Label != core.SentimentNeutral || result.Confidence != 0 {
		t.Fatalf("expected a single weak signal to collapse to neutral, got %+v", result)
	}
}

func TestTruncateKeepsHeadAndTail(t *testing.T) {
	body := strings.Repeat("x", 3000)
	truncated := truncate(body)
	if len(truncated) > 1501 {
		t.Fatalf("expected truncated text to be close to 1500 chars, got %d", len(truncated))
	}
	if want := body[:1000] + " " + body[len(body)-500:]; truncated != want {
		t.Fatalf("expected the first 1000 and last 500 chars joined by a space, got %d chars", len(truncated))
	}
}
