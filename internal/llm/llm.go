// Package llm wraps google.golang.org/genai behind the C4 LLM Client
// contract: a completion call and an embedding call, both context-aware,
// rate-limited and retried, with schema-validated structured output.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"newsroom/internal/core"
	"newsroom/internal/ratelimit"
	"newsroom/internal/tokenizer"
)

// Client is the C4 LLM Client (spec §4.4).
type Client struct {
	gClient        *genai.Client
	model          string
	embeddingModel string
	embeddingDims  int32
	contextTokens  int
	limiter        *ratelimit.Limiter
	sems           *ratelimit.ProviderSemaphores
	tok            *tokenizer.Tokenizer
}

// Options configures a new Client.
type Options struct {
	APIKey              string
	Model               string
	EmbeddingModel      string
	EmbeddingDimension  int32
	ContextWindowTokens int
	TokenizerEncoding   string
	Limiter             *ratelimit.Limiter
	Semaphores          *ratelimit.ProviderSemaphores
}

// NewClient builds the C4 client around the Gemini API.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, core.NewError(core.ErrInternal, "llm client requires an api key", nil)
	}
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewError(core.ErrProviderUnavailable, "creating genai client", err)
	}
	tok, err := tokenizer.New(opts.TokenizerEncoding)
	if err != nil {
		return nil, core.NewError(core.ErrInternal, "building tokenizer", err)
	}
	model := opts.Model
	if model == "" {
		model = "gemini-flash-lite-latest"
	}
	embedModel := opts.EmbeddingModel
	if embedModel == "" {
		embedModel = "gemini-embedding-001"
	}
	dims := opts.EmbeddingDimension
	if dims == 0 {
		dims = 768
	}
	window := opts.ContextWindowTokens
	if window == 0 {
		window = 32000
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(4, 4)
	}
	// Completions and embeddings retry once, one second after a transient failure.
	limiter.WithRetryPolicy(1, time.Second, 2, 0)
	sems := opts.Semaphores
	if sems == nil {
		sems = ratelimit.NewProviderSemaphores(map[string]int{"llm": 4})
	}
	return &Client{
		gClient:        gClient,
		model:          model,
		embeddingModel: embedModel,
		embeddingDims:  dims,
		contextTokens:  window,
		limiter:        limiter,
		sems:           sems,
		tok:            tok,
	}, nil
}

// CompletionRequest is a single C4 completion call.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int32
	Schema      *genai.Schema // when set, the response is validated against it
}

// CompletionResult is the normalized completion output.
type CompletionResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Complete runs one chat completion, retrying once on a transient provider
// failure (spec §4.4). A prompt that exceeds the configured context window
// is rejected without calling the provider (ContextOverflow, non-retryable).
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	promptTokens := c.tok.Count(req.System) + c.tok.Count(req.Prompt)
	if promptTokens > c.contextTokens {
		return CompletionResult{}, core.NewError(core.ErrContextOverflow,
			fmt.Sprintf("prompt is %d tokens, exceeds the %d token context window", promptTokens, c.contextTokens), nil)
	}

	release, err := c.sems.Acquire(ctx, "llm")
	if err != nil {
		return CompletionResult{}, err
	}
	defer release()

	var text string
	err = c.limiter.Do(ctx, isTransient, func(ctx context.Context) error {
		t, callErr := c.generate(ctx, req)
		if callErr != nil {
			return callErr
		}
		text = t
		return nil
	})
	if err != nil {
		return CompletionResult{}, err
	}

	return CompletionResult{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: c.tok.Count(text),
	}, nil
}

func (c *Client) generate(ctx context.Context, req CompletionRequest) (string, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: prompt}}, Role: "user"}}

	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		temp := req.Temperature
		config.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = req.MaxTokens
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = req.Schema
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", classifyGenaiError(err)
	}
	text := resp.Text()
	if text == "" {
		return "", core.NewError(core.ErrInvalidResponse, "empty response from model", nil)
	}
	return text, nil
}

// CompleteStructured runs req (which must carry a Schema) and unmarshals the
// result into target. On a malformed first response it retries once with a
// corrective follow-up prompt before giving up with UnstructuredOutput
// (spec §4.4 "one repair retry").
func (c *Client) CompleteStructured(ctx context.Context, req CompletionRequest, target any) error {
	if req.Schema == nil {
		return core.NewError(core.ErrInternal, "CompleteStructured requires a schema", nil)
	}

	result, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	if unmarshalErr := json.Unmarshal([]byte(result.Text), target); unmarshalErr == nil {
		return nil
	}

	repair := req
	repair.Prompt = fmt.Sprintf(
		"Your previous response did not match the required JSON schema. Respond again with ONLY valid JSON matching the schema.\n\nPrevious response:\n%s",
		result.Text)
	result, err = c.Complete(ctx, repair)
	if err != nil {
		return err
	}
	if unmarshalErr := json.Unmarshal([]byte(result.Text), target); unmarshalErr != nil {
		return core.NewError(core.ErrUnstructuredOutput, "model did not return schema-conformant JSON after one repair attempt", unmarshalErr)
	}
	return nil
}

// Embed batches text into embedding vectors (spec §4.3, §4.10).
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	release, err := c.sems.Acquire(ctx, "embed")
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([][]float64, len(texts))
	for i, text := range texts {
		var vec []float64
		err := c.limiter.Do(ctx, isTransient, func(ctx context.Context) error {
			v, embedErr := c.embedOne(ctx, text)
			if embedErr != nil {
				return embedErr
			}
			vec = v
			return nil
		})
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float64, error) {
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}, Role: "user"}}
	dims := c.embeddingDims
	config := &genai.EmbedContentConfig{OutputDimensionality: &dims}

	resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, config)
	if err != nil {
		return nil, classifyGenaiError(err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, core.NewError(core.ErrInvalidResponse, "no embedding values returned", nil)
	}
	values := resp.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	return vec, nil
}

// Close releases the underlying provider client's resources.
func (c *Client) Close() {}

func classifyGenaiError(err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate"):
		return core.NewError(core.ErrProviderRateLimited, "llm provider rate limited", err)
	case strings.Contains(lower, "503") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "timeout"):
		return core.NewError(core.ErrProviderUnavailable, "llm provider unavailable", err)
	default:
		return core.NewError(core.ErrInvalidResponse, "llm provider call failed", err)
	}
}

func isTransient(err error) bool {
	switch core.KindOf(err) {
	case core.ErrProviderRateLimited, core.ErrProviderUnavailable:
		return true
	default:
		return false
	}
}

// CosineSimilarity backs C9's personalization re-ranking term; C3 computes
// its similarity scores in SQL instead.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
