// Package tokenizer wraps github.com/pkoukk/tiktoken-go behind the narrow
// Count/Truncate surface that chunking (C3) and context-window budgeting
// (C10) actually need.
package tokenizer

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and truncates text by model token, not by character.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New builds a Tokenizer for the named encoding (e.g. "cl100k_base").
func New(encodingName string) (*Tokenizer, error) {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the number of tokens text encodes to.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate trims text to at most maxTokens tokens, preserving the prefix.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:maxTokens])
}

// Window splits text into overlapping token windows of at most maxTokens
// tokens, stepping forward by maxTokens-overlapTokens each time. Used by
// C3's body chunker once paragraphs are joined back into a single span
// longer than one chunk.
func (t *Tokenizer) Window(text string, maxTokens, overlapTokens int) []string {
	if maxTokens <= 0 {
		return nil
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil
	}
	step := maxTokens - overlapTokens
	if step <= 0 {
		step = maxTokens
	}
	var windows []string
	for start := 0; start < len(tokens); start += step {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		windows = append(windows, t.enc.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return windows
}

// SplitParagraphs splits text on blank lines, trimming each paragraph. Used
// by C3's body chunker to find paragraph boundaries before re-windowing by
// token count.
func SplitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
