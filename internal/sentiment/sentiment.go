// Package sentiment implements the C5 Sentiment Scorer: a lightweight,
// rule-based lexicon scorer over article text (spec §4.5). It trades LLM
// cost for speed since sentiment only feeds C6's importance ranking, not the
// card copy itself.
package sentiment

import (
	"strings"

	"newsroom/internal/core"
)

// maxChars is the length above which text is cut to its first 1000 plus
// last 500 characters before scoring (spec §4.5).
const maxChars = 2000

// confidenceFloor is the threshold below which a scored label collapses to
// neutral (spec §4.5).
const confidenceFloor = 0.4

var positiveKeywords = map[string]float64{
	"excellent": 1.0, "amazing": 0.9, "outstanding": 0.9, "fantastic": 0.8,
	"great": 0.7, "good": 0.6, "positive": 0.6, "success": 0.7, "win": 0.6,
	"improvement": 0.5, "growth": 0.6, "innovation": 0.7, "breakthrough": 0.8,
	"efficient": 0.6, "effective": 0.6, "beneficial": 0.6, "advantage": 0.5,
	"profit": 0.6, "revenue": 0.5, "gain": 0.5, "achievement": 0.7,
	"opportunity": 0.5, "advance": 0.6, "progress": 0.6, "upgrade": 0.5,
	"optimize": 0.5, "enhance": 0.5, "boost": 0.6, "increase": 0.4,
	"launch": 0.4, "release": 0.3, "recovery": 0.5, "record": 0.4,
}

var negativeKeywords = map[string]float64{
	"terrible": 1.0, "awful": 0.9, "horrible": 0.9, "disaster": 0.8,
	"bad": 0.6, "poor": 0.6, "negative": 0.6, "failure": 0.7, "lose": 0.6,
	"problem": 0.5, "issue": 0.4, "concern": 0.4, "risk": 0.5, "threat": 0.6,
	"decline": 0.6, "decrease": 0.5, "drop": 0.5, "fall": 0.4, "loss": 0.6,
	"error": 0.5, "bug": 0.4, "fault": 0.5, "flaw": 0.5, "weakness": 0.4,
	"crisis": 0.8, "emergency": 0.7, "alert": 0.6, "warning": 0.5,
	"breach": 0.7, "hack": 0.7, "attack": 0.6, "vulnerability": 0.6,
	"outage": 0.6, "downtime": 0.5, "shutdown": 0.5, "closure": 0.6,
	"lawsuit": 0.6, "recall": 0.5, "layoffs": 0.7, "plunge": 0.6,
}

// Scorer is the C5 Sentiment Scorer.
type Scorer struct{}

// NewScorer builds a Scorer.
func NewScorer() *Scorer { return &Scorer{} }

// Score analyzes a batch of texts, returning one core.Sentiment per input in
// order (spec §4.5 "score([text]) -> [{label, magnitude, confidence}]").
func (s *Scorer) Score(texts []string) []core.Sentiment {
	out := make([]core.Sentiment, len(texts))
	for i, text := range texts {
		out[i] = s.scoreOne(text)
	}
	return out
}

func (s *Scorer) scoreOne(text string) core.Sentiment {
	text = truncate(text)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return core.Sentiment{Label: core.SentimentNeutral, Magnitude: 0, Confidence: 0}
	}

	var positive, negative float64
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'()")
		if w, ok := positiveKeywords[word]; ok {
			positive += w
		}
		if w, ok := negativeKeywords[word]; ok {
			negative += w
		}
	}

	total := positive + negative
	magnitude := total / float64(len(words))
	if magnitude > 1.0 {
		magnitude = 1.0
	}

	confidence := total / (total + 3.0) // saturates toward 1.0 as keyword hits accumulate
	if confidence > 1.0 {
		confidence = 1.0
	}

	label := core.SentimentNeutral
	if confidence >= confidenceFloor {
		switch {
		case positive > negative:
			label = core.SentimentPositive
		case negative > positive:
			label = core.SentimentNegative
		}
	} else {
		magnitude = 0
		confidence = 0
	}

	return core.Sentiment{Label: label, Magnitude: magnitude, Confidence: confidence}
}

// truncate applies the spec's long-text policy: the first 1000 plus the
// last 500 characters, joined, so both the lede and the conclusion
// contribute to the score without paying the cost of the full body.
func truncate(text string) string {
	if len(text) <= maxChars {
		return text
	}
	head := text[:1000]
	tail := text[len(text)-500:]
	return head + " " + tail
}
