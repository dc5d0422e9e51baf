package llm

import (
	"context"
	"testing"

	"newsroom/internal/core"
	"newsroom/internal/tokenizer"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float64{1, 0, 0}
	b := []float64{1, 0, 0}
	if sim := CosineSimilarity(a, b); sim < 0.999 {
		t.Fatalf("expected identical vectors to have similarity ~1, got %f", sim)
	}

	c := []float64{0, 1, 0}
	if sim := CosineSimilarity(a, c); sim > 0.001 {
		t.Fatalf("expected orthogonal vectors to have similarity ~0, got %f", sim)
	}

	if sim := CosineSimilarity([]float64{1}, []float64{1, 2}); sim != 0 {
		t.Fatalf("expected mismatched dimensions to return 0, got %f", sim)
	}
}

func TestCompleteRejectsOversizedPromptWithoutCallingProvider(t *testing.T) {
	tok, err := tokenizer.New("cl100k_base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := &Client{tok: tok, contextTokens: 1}

	_, err = c.Complete(context.Background(), CompletionRequest{Prompt: "this prompt is definitely more than one token long"})
	if core.KindOf(err) != core.ErrContextOverflow {
		t.Fatalf("expected ContextOverflow, got %v", err)
	}
}

func TestClassifyGenaiError(t *testing.T) {
	cases := map[string]core.ErrorKind{
		"429 Too Many Requests":        core.ErrProviderRateLimited,
		"rate limit exceeded":          core.ErrProviderRateLimited,
		"503 Service Unavailable":      core.ErrProviderUnavailable,
		"context deadline exceeded":    core.ErrInvalidResponse,
		"request timeout after 30s":    core.ErrProviderUnavailable,
		"something else went sideways": core.ErrInvalidResponse,
	}
	for msg, want := range cases {
		got := core.KindOf(classifyGenaiError(errString(msg)))
		if got != want {
			t.Errorf("classifyGenaiError(%q) = %v, want %v", msg, got, want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
