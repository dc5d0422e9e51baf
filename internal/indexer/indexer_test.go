package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"newsroom/internal/core"
	"newsroom/internal/tokenizer"
)

// failingEmbedder always returns an error, simulating an embedding provider
// that 503s on every call.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return nil, errors.New("503 service unavailable")
}

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	tok, err := tokenizer.New("cl100k_base")
	if err != nil {
		t.Fatalf("tokenizer.New: %v", err)
	}
	return New(nil, nil, tok)
}

func TestChunkProducesTitleSummaryChunkFirst(t *testing.T) {
	ix := newTestIndexer(t)
	a := core.Article{
		Fingerprint: "fp1",
		Title:       "Markets rally on rate cut hopes",
		Summary:     "Stocks climbed broadly as investors priced in a more dovish policy path.",
		FullText:    strings.Repeat("The committee weighed several options before reaching consensus. ", 40),
	}
	chunks := ix.Chunk(a)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if chunks[0].SourceField != core.ChunkSourceTitleSummary || chunks[0].Ordinal != 0 {
		t.Fatalf("expected chunk 0 to be the title/summary chunk, got %+v", chunks[0])
	}
	for i, c := range chunks {
		if c.ArticleFingerprint != "fp1" {
			t.Errorf("chunk %d: fingerprint mismatch", i)
		}
	}
}

func TestChunkDropsFragmentsBelowMinimumTokens(t *testing.T) {
	ix := newTestIndexer(t)
	a := core.Article{
		Fingerprint: "fp2",
		Title:       "Short",
		FullText:    "Too short.",
	}
	chunks := ix.Chunk(a)
	for _, c := range chunks {
		if c.SourceField == core.ChunkSourceBody && c.TokenCount < minChunkTokens {
			t.Fatalf("expected short body fragment to be dropped, got %+v", c)
		}
	}
}

func TestChunkWindowsLongBodyWithOverlap(t *testing.T) {
	ix := newTestIndexer(t)
	body := strings.Repeat("word ", 2000)
	a := core.Article{Fingerprint: "fp3", Title: "t", FullText: body}
	chunks := ix.Chunk(a)

	var bodyChunks int
	for _, c := range chunks {
		if c.SourceField == core.ChunkSourceBody {
			bodyChunks++
			if c.TokenCount > bodyWindowMaxTokens {
				t.Errorf("body chunk exceeds max tokens: %d", c.TokenCount)
			}
		}
	}
	if bodyChunks < 2 {
		t.Fatalf("expected a long body to split into multiple windows, got %d", bodyChunks)
	}
}

func TestReindexFailsWhenEveryBatchFailsToEmbed(t *testing.T) {
	tok, err := tokenizer.New("cl100k_base")
	if err != nil {
		t.Fatalf("tokenizer.New: %v", err)
	}
	// db is left nil: a correct Reindex must bail out before opening a
	// transaction when nothing embedded, or this would panic on a nil *sql.DB.
	ix := New(nil, failingEmbedder{}, tok)

	a := core.Article{
		Fingerprint: "fp1",
		Title:       "Markets rally on rate cut hopes",
		Summary:     "Stocks climbed broadly as investors priced in a more dovish policy path.",
	}
	_, err = ix.Reindex(context.Background(), a)
	if err == nil {
		t.Fatal("expected an error when every embedding batch fails")
	}
	if core.KindOf(err) != core.ErrProviderUnavailable {
		t.Fatalf("expected ProviderUnavailable, got %v", core.KindOf(err))
	}
}
