package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"completion-gateway/internal/gateway"
	"completion-gateway/internal/llm"
)

const maxBodyBytes = 4 << 20

type handler struct {
	svc    Service
	logger *slog.Logger
}

type chatCompletionRequest struct {
	Messages    []llm.Message `json:"messages"`
	Model       string        `json:"model,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	ID           string    `json:"id"`
	Object       string    `json:"object"`
	Created      int64     `json:"created"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        llm.Usage `json:"usage"`
}

type chatCompletionChunk struct {
	ID           string     `json:"id"`
	Object       string     `json:"object"`
	Model        string     `json:"model,omitempty"`
	Content      string     `json:"content,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *llm.Usage `json:"usage,omitempty"`
}

type embeddingRequest struct {
	Input json.RawMessage `json:"input"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Object string          `json:"object"`
	Model  string          `json:"model"`
	Data   []embeddingData `json:"data"`
	Usage  llm.Usage       `json:"usage"`
}

type tokenEstimateRequest struct {
	Messages []llm.Message `json:"messages"`
}

func (h *handler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	opts := gateway.Options{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	id := "chatcmpl-" + uuid.NewString()

	if req.Stream {
		h.streamChatCompletion(w, r, id, req.Messages, opts)
		return
	}

	completion, err := h.svc.CreateChatCompletion(r.Context(), req.Messages, opts)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ID:           id,
		Object:       "chat.completion",
		Created:      time.Now().Unix(),
		Model:        completion.Model,
		Content:      completion.Content,
		FinishReason: completion.FinishReason,
		Usage:        completion.Usage,
	})
}

// streamChatCompletion relays text deltas as SSE frames. Once the first
// frame is written the status is committed, so later failures are sent as
// an error frame instead.
func (h *handler) streamChatCompletion(w http.ResponseWriter, r *http.Request, id string, messages []llm.Message, opts gateway.Options) {
	ctx := r.Context()
	stream, err := h.svc.CreateStreamingChatCompletion(ctx, messages, opts)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	defer stream.Close()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	send := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	for text, err := range stream.Chunks(ctx) {
		if err != nil {
			kind := gateway.KindOf(err)
			h.logger.Warn("stream relay failed", "id", id, "kind", kind, "error", err)
			_ = send(errorResponse{Error: err.Error(), Kind: kind})
			return
		}
		if err := send(chatCompletionChunk{ID: id, Object: "chat.completion.chunk", Content: text}); err != nil {
			h.logger.Debug("client went away", "id", id, "error", err)
			return
		}
	}

	final := chatCompletionChunk{
		ID:           id,
		Object:       "chat.completion.chunk",
		Model:        stream.Model(),
		FinishReason: stream.FinishReason(),
	}
	if usage := stream.Usage(); usage.TotalTokens > 0 {
		final.Usage = &usage
	}
	if err := send(final); err != nil {
		return
	}
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}

func (h *handler) embeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inputs, err := parseEmbeddingInput(req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.CreateEmbedding(r.Context(), inputs...)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	data := make([]embeddingData, len(result.Embeddings))
	for i, vector := range result.Embeddings {
		data[i] = embeddingData{Index: i, Embedding: vector}
	}
	writeJSON(w, http.StatusOK, embeddingResponse{
		Object: "list",
		Model:  result.Model,
		Data:   data,
		Usage:  result.Usage,
	})
}

// parseEmbeddingInput accepts either a single string or a list of strings.
func parseEmbeddingInput(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("input is required")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, errors.New("input must be a string or a list of strings")
	}
	if len(many) == 0 {
		return nil, errors.New("input is required")
	}
	return many, nil
}

func (h *handler) models(w http.ResponseWriter, r *http.Request) {
	models, err := h.svc.AvailableModels(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   models,
	})
}

func (h *handler) validateKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"valid": h.svc.ValidateAPIKey(r.Context())})
}

func (h *handler) estimateTokens(w http.ResponseWriter, r *http.Request) {
	var req tokenEstimateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"tokens": gateway.EstimateTokenCount(req.Messages)})
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}
