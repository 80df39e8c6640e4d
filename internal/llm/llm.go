package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries generation options as pointers so an explicit zero
// (temperature 0, for example) reaches the provider.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

type EmbedRequest struct {
	Model string
	Input []string
}

// EmbedResponse holds one vector per input; Embeddings[i] belongs to Input[i].
type EmbedResponse struct {
	Embeddings [][]float32
	Model      string
	Usage      Usage
}

type Model struct {
	ID      string
	OwnedBy string
	Created int64
}

type StreamHandler func(delta string) error

type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest) (*Stream, error)
	ListModels(ctx context.Context) ([]Model, error)
}

// Embedder is implemented by providers that expose an embeddings API.
type Embedder interface {
	Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error)
}

// APIError is a provider-reported failure. StatusCode is zero for errors
// delivered in-band (inside a 2xx body or a stream event).
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Type       string
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s request failed: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s request failed with status %d", e.Provider, e.StatusCode)
	default:
		return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
	}
}

// Settings selects and configures a provider client.
type Settings struct {
	Type      string
	BaseURL   string
	Token     string
	Model     string
	MaxTokens int
	Transport HTTPDoer
}

const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropics"
	TypeGemini    = "gemini"
)

// New builds the client for settings.Type; an empty type means OpenAI.
func New(settings Settings) (Client, error) {
	switch strings.TrimSpace(settings.Type) {
	case "", TypeOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			BaseURL:    settings.BaseURL,
			Token:      settings.Token,
			Model:      settings.Model,
			HTTPClient: settings.Transport,
		})
	case TypeAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			BaseURL:    settings.BaseURL,
			Token:      settings.Token,
			Model:      settings.Model,
			MaxTokens:  settings.MaxTokens,
			HTTPClient: settings.Transport,
		})
	case TypeGemini:
		return NewGeminiClient(GeminiConfig{
			BaseURL:    settings.BaseURL,
			Token:      settings.Token,
			Model:      settings.Model,
			HTTPClient: settings.Transport,
		})
	default:
		return nil, fmt.Errorf("unsupported llm.type: %s", settings.Type)
	}
}

func resolveModel(override, fallback string) string {
	if strings.TrimSpace(override) == "" {
		return fallback
	}
	return override
}
