// Package gateway wraps a chat-completion provider behind a small, uniform
// surface: synchronous and streaming completions, embeddings, a model
// catalog, an API key probe and a rough token estimate.
//
// Every failure leaving the package is a *Error whose Kind is one of a
// closed set, so callers can map failures without knowing the provider.
// Nothing is retried and nothing is cached; each call makes exactly one
// upstream attempt.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"time"

	"completion-gateway/internal/llm"
)

// Defaults fill generation options the caller leaves unset.
type Defaults struct {
	Model          string
	Temperature    *float64
	MaxTokens      *int
	EmbeddingModel string
}

// Options are per-call overrides. Stream is informational: each operation
// forces its own streaming mode.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	Stream      bool
}

type Completion struct {
	Content      string
	Usage        llm.Usage
	Model        string
	FinishReason string
}

type EmbeddingResult struct {
	Embeddings [][]float32
	Usage      llm.Usage
	Model      string
}

type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by"`
	Created int64  `json:"created"`
}

// Gateway is safe for concurrent use; it holds no per-call state.
type Gateway struct {
	client   llm.Client
	defaults Defaults
	logger   *slog.Logger
}

func New(client llm.Client, defaults Defaults, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gateway{
		client:   client,
		defaults: defaults,
		logger:   logger,
	}
}

func (g *Gateway) CreateChatCompletion(ctx context.Context, messages []llm.Message, opts Options) (result Completion, err error) {
	defer g.recoverInto("chat completion", &err)

	req := g.buildRequest(messages, opts)
	start := time.Now()
	resp, err := g.client.Chat(ctx, req)
	if err != nil {
		return Completion{}, g.fail("chat completion", classify(err))
	}
	g.logger.Debug("chat completion",
		"model", resp.Model,
		"finish_reason", resp.FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)
	return Completion{
		Content:      resp.Content,
		Usage:        resp.Usage,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
	}, nil
}

// CreateStreamingChatCompletion starts a streaming completion. The caller
// must Close the returned stream, including when abandoning it early.
func (g *Gateway) CreateStreamingChatCompletion(ctx context.Context, messages []llm.Message, opts Options) (stream *Stream, err error) {
	defer g.recoverInto("streaming chat completion", &err)

	req := g.buildRequest(messages, opts)
	inner, err := g.client.Stream(ctx, req)
	if err != nil {
		return nil, g.fail("streaming chat completion", classify(err))
	}
	g.logger.Debug("streaming chat completion started", "model", req.Model)
	return newStream(inner, g.logger), nil
}

// CreateEmbedding returns one vector per input, in input order.
func (g *Gateway) CreateEmbedding(ctx context.Context, inputs ...string) (result EmbeddingResult, err error) {
	defer g.recoverInto("embedding", &err)

	embedder, ok := g.client.(llm.Embedder)
	if !ok {
		return EmbeddingResult{}, g.fail("embedding", &Error{
			Kind:    KindProvider,
			Message: providerErrorPrefix + "embeddings are not supported by the configured provider",
		})
	}
	resp, err := embedder.Embed(ctx, llm.EmbedRequest{
		Model: g.defaults.EmbeddingModel,
		Input: inputs,
	})
	if err != nil {
		return EmbeddingResult{}, g.fail("embedding", providerError(err))
	}
	model := resp.Model
	if model == "" {
		model = g.defaults.EmbeddingModel
	}
	g.logger.Debug("embedding", "model", model, "inputs", len(inputs))
	return EmbeddingResult{
		Embeddings: resp.Embeddings,
		Usage:      resp.Usage,
		Model:      model,
	}, nil
}

// ValidateAPIKey probes the provider by listing models. It never fails;
// any error, including a panic in the client, reports false.
func (g *Gateway) ValidateAPIKey(ctx context.Context) (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("api key probe panicked")
			valid = false
		}
	}()
	if _, err := g.client.ListModels(ctx); err != nil {
		g.logger.Debug("api key probe failed", "error", err)
		return false
	}
	return true
}

// AvailableModels returns the chat-capable models of the provider catalog
// in the order the provider listed them.
func (g *Gateway) AvailableModels(ctx context.Context) (models []ModelInfo, err error) {
	defer g.recoverInto("list models", &err)

	catalog, err := g.client.ListModels(ctx)
	if err != nil {
		return nil, g.fail("list models", classify(err))
	}
	models = make([]ModelInfo, 0, len(catalog))
	for _, m := range catalog {
		if !IsChatModel(m.ID) {
			continue
		}
		models = append(models, ModelInfo{
			ID:      m.ID,
			OwnedBy: m.OwnedBy,
			Created: m.Created,
		})
	}
	return models, nil
}

// buildRequest merges opts over the defaults. Messages are forwarded as
// given: same slice, same order.
func (g *Gateway) buildRequest(messages []llm.Message, opts Options) llm.ChatRequest {
	req := llm.ChatRequest{
		Model:       g.defaults.Model,
		Messages:    messages,
		Temperature: g.defaults.Temperature,
		MaxTokens:   g.defaults.MaxTokens,
		TopP:        opts.TopP,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = opts.MaxTokens
	}
	return req
}

func (g *Gateway) fail(op string, err *Error) *Error {
	g.logger.Warn(op+" failed", "kind", err.Kind, "error", err.Message)
	return err
}

func (g *Gateway) recoverInto(op string, err *error) {
	if r := recover(); r != nil {
		*err = g.fail(op, recovered(r))
	}
}
