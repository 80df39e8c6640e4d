package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"completion-gateway/internal/gateway"
	"completion-gateway/internal/llm"
)

// Service is the subset of *gateway.Gateway the HTTP surface depends on.
type Service interface {
	CreateChatCompletion(ctx context.Context, messages []llm.Message, opts gateway.Options) (gateway.Completion, error)
	CreateStreamingChatCompletion(ctx context.Context, messages []llm.Message, opts gateway.Options) (*gateway.Stream, error)
	CreateEmbedding(ctx context.Context, inputs ...string) (gateway.EmbeddingResult, error)
	ValidateAPIKey(ctx context.Context) bool
	AvailableModels(ctx context.Context) ([]gateway.ModelInfo, error)
}

// NewRouter creates a chi router with all gateway routes.
func NewRouter(svc Service, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := &handler{svc: svc, logger: logger}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", h.chatCompletions) // POST /v1/chat/completions
		r.Post("/embeddings", h.embeddings)            // POST /v1/embeddings
		r.Get("/models", h.models)                     // GET /v1/models
		r.Get("/key/validate", h.validateKey)          // GET /v1/key/validate
		r.Post("/tokens/estimate", h.estimateTokens)   // POST /v1/tokens/estimate
	})

	return r
}
