package tokenizer

import "testing"

func TestCountAndTruncate(t *testing.T) {
	tok, err := New("cl100k_base")
	if err != nil {
		t.Fatalf("unexpected error building tokenizer: %v", err)
	}

	text := "the quick brown fox jumps over the lazy dog"
	count := tok.Count(text)
	if count == 0 {
		t.Fatalf("expected a nonzero token count")
	}

	truncated := tok.Truncate(text, 2)
	if tok.Count(truncated) > 2 {
		t.Fatalf("expected truncated text to fit within 2 tokens, got %d", tok.Count(truncated))
	}
}

func TestSplitParagraphs(t *testing.T) {
	text := "first paragraph\n\n\nsecond paragraph\n\nthird"
	paras := SplitParagraphs(text)
	if len(paras) != 3 {
		t.Fatalf("expected 3 paragraphs, got %d: %+v", len(paras), paras)
	}
}
