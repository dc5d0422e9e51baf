// Package cards implements the C6 Card Synthesizer: it ranks articles by a
// deterministic importance score, then asks the LLM client to turn the top
// candidates into structured NewsCard summaries (spec §4.6).
package cards

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"newsroom/internal/core"
	"newsroom/internal/llm"
)

const (
	weightRecency        = 0.45
	weightCredibility    = 0.25
	weightSentiment      = 0.20
	weightAffinity       = 0.10
	recencyHalfLifeHours = 48.0
	recencyFloor         = 0.05
)

// knownSourceCredibility holds a small set of well-known wire services and
// outlets with an elevated credibility score; anything unlisted gets the
// default. Exact scores are an editorial judgment call, not a derived
// statistic.
var knownSourceCredibility = map[string]float64{
	"reuters":                  0.95,
	"associated press":         0.95,
	"ap":                       0.95,
	"bloomberg":                0.9,
	"bbc":                      0.9,
	"bbc news":                 0.9,
	"the wall street journal":  0.88,
	"the new york times":       0.85,
	"npr":                      0.85,
}

const defaultSourceCredibility = 0.5

// Completer is the subset of internal/llm.Client the synthesizer needs.
type Completer interface {
	CompleteStructured(ctx context.Context, req llm.CompletionRequest, target any) error
}

// Synthesizer is the C6 Card Synthesizer. It is the sole component holding
// the card-generation prompt and its JSON schema (spec §4.6).
type Synthesizer struct {
	client      Completer
	temperature float32
	maxTokens   int32
}

// Options configures a Synthesizer.
type Options struct {
	Temperature float32
	MaxTokens   int32
}

// New builds a Synthesizer over an LLM client.
func New(client Completer, opts Options) *Synthesizer {
	if opts.Temperature == 0 {
		opts.Temperature = 0.4
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	return &Synthesizer{client: client, temperature: opts.Temperature, maxTokens: opts.MaxTokens}
}

// ranked pairs an article with its sentiment and computed importance.
type ranked struct {
	article    core.Article
	sentiment  core.Sentiment
	importance float64
}

// cardSchema is the structured-output contract the LLM must satisfy: a
// headline, a 2-4 sentence summary, 3-6 key points, and 1-5 topic tags
// (spec §4.6 step 3).
var cardSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"headline": {Type: genai.TypeString, Description: "A concise, factual headline for the article"},
		"summary":  {Type: genai.TypeString, Description: "A 2-4 sentence summary of the article"},
		"keyPoints": {
			Type:        genai.TypeArray,
			Description: "3 to 6 key-point bullets capturing the essential facts",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
		"topicTags": {
			Type:        genai.TypeArray,
			Description: "1 to 5 short topic tags",
			Items:       &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"headline", "summary", "keyPoints", "topicTags"},
}

type cardResponse struct {
	Headline  string   `json:"headline"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
	TopicTags []string `json:"topicTags"`
}

// Synthesize ranks articles by importance, keeps the top maxCards, and
// synthesizes each into a NewsCard. Individual synthesis failures are
// dropped; if more than half of the selected articles fail, the returned
// degraded flag is set so the caller can surface a CardGenerationDegraded
// warning (spec §4.6).
func (s *Synthesizer) Synthesize(ctx context.Context, articles []core.Article, sentiments map[string]core.Sentiment, maxCards int, profile *core.UserProfile, now time.Time) ([]core.NewsCard, bool, error) {
	if maxCards <= 0 || len(articles) == 0 {
		return nil, false, nil
	}

	rankedArticles := make([]ranked, 0, len(articles))
	for _, a := range articles {
		sent := sentiments[a.Fingerprint]
		rankedArticles = append(rankedArticles, ranked{
			article:    a,
			sentiment:  sent,
			importance: importance(a, sent, profile, now),
		})
	}

	sort.SliceStable(rankedArticles, func(i, j int) bool {
		a, b := rankedArticles[i], rankedArticles[j]
		if a.importance != b.importance {
			return a.importance > b.importance
		}
		if !a.article.PublishedAt.Equal(b.article.PublishedAt) {
			return a.article.PublishedAt.After(b.article.PublishedAt)
		}
		return a.article.Fingerprint < b.article.Fingerprint
	})

	if len(rankedArticles) > maxCards {
		rankedArticles = rankedArticles[:maxCards]
	}

	n := len(rankedArticles)
	out := make([]core.NewsCard, 0, n)
	failed := 0
	for rank, r := range rankedArticles {
		card, err := s.synthesizeOne(ctx, r, now)
		if err != nil {
			failed++
			continue
		}
		card.DisplayPriority = displayPriority(rank, n)
		out = append(out, card)
	}

	degraded := failed*2 > n
	core.SortCards(out)
	return out, degraded, nil
}

func (s *Synthesizer) synthesizeOne(ctx context.Context, r ranked, now time.Time) (core.NewsCard, error) {
	prompt := buildPrompt(r.article)
	var resp cardResponse
	err := s.client.CompleteStructured(ctx, llm.CompletionRequest{
		System:      "You are a precise news editor. Respond with only the requested JSON object, no commentary.",
		Prompt:      prompt,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Schema:      cardSchema,
	}, &resp)
	if err != nil {
		return core.NewsCard{}, err
	}

	keyPoints := clampSlice(resp.KeyPoints, 3, 6)
	topicTags := clampSlice(resp.TopicTags, 1, 5)

	return core.NewsCard{
		ArticleFingerprint: r.article.Fingerprint,
		Headline:           strings.TrimSpace(resp.Headline),
		Summary:            strings.TrimSpace(resp.Summary),
		KeyPoints:          keyPoints,
		Sentiment:          r.sentiment,
		TopicTags:          topicTags,
		SourceCredibility:  sourceCredibility(r.article.Source),
		Importance:         r.importance,
		GeneratedAt:        now,
		PublishedAt:        r.article.PublishedAt,
	}, nil
}

func buildPrompt(a core.Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", a.Title)
	fmt.Fprintf(&b, "Source: %s\n", a.Source)
	fmt.Fprintf(&b, "Published: %s\n\n", a.PublishedAt.Format(time.RFC3339))
	if a.Summary != "" {
		fmt.Fprintf(&b, "Snippet:\n%s\n\n", a.Summary)
	}
	if a.FullText != "" {
		text := a.FullText
		if len(text) > 4000 {
			text = text[:4000]
		}
		fmt.Fprintf(&b, "Article text:\n%s\n\n", text)
	}
	b.WriteString("Produce a headline, a 2-4 sentence summary, 3-6 key points, and 1-5 topic tags for this article.")
	return b.String()
}

// importance implements spec §4.6 step 1: a weighted blend of recency,
// source credibility, sentiment magnitude, and (if a profile is supplied)
// profile affinity.
func importance(a core.Article, sent core.Sentiment, profile *core.UserProfile, now time.Time) float64 {
	return weightRecency*recencyDecay(a.PublishedAt, now) +
		weightCredibility*sourceCredibility(a.Source) +
		weightSentiment*sent.Magnitude +
		weightAffinity*profileAffinity(a, profile)
}

// recencyDecay implements exp(-Δhours/48) clamped to [0.05, 1] (spec §4.6).
func recencyDecay(publishedAt, now time.Time) float64 {
	deltaHours := now.Sub(publishedAt).Hours()
	if deltaHours < 0 {
		deltaHours = 0
	}
	decay := math.Exp(-deltaHours / recencyHalfLifeHours)
	if decay < recencyFloor {
		return recencyFloor
	}
	if decay > 1 {
		return 1
	}
	return decay
}

func sourceCredibility(source string) float64 {
	if score, ok := knownSourceCredibility[strings.ToLower(strings.TrimSpace(source))]; ok {
		return score
	}
	return defaultSourceCredibility
}

// profileAffinity is zero with no profile supplied (spec §4.6). With a
// profile, it is the normalized overlap between the article's categories
// and the user's category-weight map — the interest-vector embedding
// comparison is C9's concern (it has the article's chunk embeddings to hand);
// C6 only sees the article record, so category weight is the signal
// available to it.
func profileAffinity(a core.Article, profile *core.UserProfile) float64 {
	if profile == nil || len(profile.CategoryWeights) == 0 || len(a.Categories) == 0 {
		return 0
	}
	var sum float64
	for _, cat := range a.Categories {
		sum += profile.CategoryWeights[strings.ToLower(cat)]
	}
	affinity := sum / float64(len(a.Categories))
	if affinity > 1 {
		affinity = 1
	}
	return affinity
}

// displayPriority implements spec §4.6 step 4: priority = 1 + floor(9 *
// rank_normalized), where rank 1 (the top article) maps to priority 10.
func displayPriority(rank, n int) int {
	if n <= 1 {
		return 10
	}
	rankNormalized := 1.0 - float64(rank)/float64(n-1)
	priority := 1 + int(math.Floor(9*rankNormalized))
	if priority > 10 {
		priority = 10
	}
	if priority < 1 {
		priority = 1
	}
	return priority
}

func clampSlice(items []string, min, max int) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	if len(out) < min && len(out) > 0 {
		return out
	}
	return out
}
