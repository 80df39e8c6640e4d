package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicProvider         = "anthropic"
	defaultAnthropicVersion   = "2023-06-01"
	defaultAnthropicMaxTokens = 1024
)

type AnthropicConfig struct {
	BaseURL    string
	Token      string
	Model      string
	Version    string
	MaxTokens  int
	HTTPClient HTTPDoer
}

// AnthropicClient talks to the Anthropic messages API. It has no
// embeddings endpoint and therefore does not implement Embedder.
type AnthropicClient struct {
	baseURL    string
	token      string
	model      string
	version    string
	maxTokens  int
	httpClient HTTPDoer
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("anthropic base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("anthropic token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("anthropic model is required")
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = defaultAnthropicVersion
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicClient{
		baseURL:    baseURL,
		token:      token,
		model:      model,
		version:    version,
		maxTokens:  maxTokens,
		httpClient: httpClientOrDefault(cfg.HTTPClient),
	}, nil
}

func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	httpResp, err := c.send(ctx, http.MethodPost, "messages", c.chatPayload(req, false), false)
	if err != nil {
		return ChatResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp anthropicChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return ChatResponse{}, resp.Error.apiError(0)
	}
	return ChatResponse{
		Content:      flattenAnthropicContent(resp.Content),
		Model:        resp.Model,
		FinishReason: resp.StopReason,
		Usage:        resp.Usage.toUsage(),
	}, nil
}

func (c *AnthropicClient) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	httpResp, err := c.send(ctx, http.MethodPost, "messages", c.chatPayload(req, true), true)
	if err != nil {
		return nil, err
	}
	return newStream(anthropicProvider, httpResp.Body, newAnthropicDecoder()), nil
}

func (c *AnthropicClient) ListModels(ctx context.Context) ([]Model, error) {
	httpResp, err := c.send(ctx, http.MethodGet, "models", nil, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp anthropicModelList
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	models := make([]Model, 0, len(resp.Data))
	for _, m := range resp.Data {
		var created int64
		if ts, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			created = ts.Unix()
		}
		models = append(models, Model{
			ID:      m.ID,
			OwnedBy: anthropicProvider,
			Created: created,
		})
	}
	return models, nil
}

func (c *AnthropicClient) chatPayload(req ChatRequest, stream bool) anthropicChatRequest {
	messages, system := splitAnthropicMessages(req.Messages)
	maxTokens := c.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	return anthropicChatRequest{
		Model:       resolveModel(req.Model, c.model),
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
}

func (c *AnthropicClient) send(ctx context.Context, method, resource string, payload any, stream bool) (*http.Response, error) {
	httpReq, err := newJSONRequest(ctx, method, buildAnthropicEndpoint(c.baseURL, resource), payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", c.token)
	httpReq.Header.Set("anthropic-version", c.version)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	if !isSuccess(httpResp.StatusCode) {
		defer httpResp.Body.Close()
		return nil, readAnthropicError(httpResp.Body, httpResp.StatusCode)
	}
	return httpResp, nil
}

// newAnthropicDecoder keeps the prompt token count from message_start so the
// usage reported with message_delta is complete.
func newAnthropicDecoder() decodeFunc {
	var promptTokens int
	return func(data string) (Chunk, bool, bool, error) {
		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return Chunk{}, false, false, fmt.Errorf("decode stream chunk: %w", err)
		}
		switch event.Type {
		case "error":
			if event.Error == nil {
				return Chunk{}, false, false, &APIError{Provider: anthropicProvider, Message: "stream error"}
			}
			return Chunk{}, false, false, event.Error.apiError(0)
		case "message_start":
			if event.Message == nil {
				return Chunk{}, false, false, nil
			}
			promptTokens = event.Message.Usage.InputTokens
			return Chunk{Model: event.Message.Model}, true, false, nil
		case "content_block_delta":
			if event.Delta == nil || event.Delta.Text == "" {
				return Chunk{}, false, false, nil
			}
			return Chunk{Content: event.Delta.Text}, true, false, nil
		case "message_delta":
			chunk := Chunk{}
			if event.Delta != nil {
				chunk.FinishReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				chunk.Usage = &Usage{
					PromptTokens:     promptTokens,
					CompletionTokens: event.Usage.OutputTokens,
					TotalTokens:      promptTokens + event.Usage.OutputTokens,
				}
			}
			return chunk, true, false, nil
		case "message_stop":
			return Chunk{}, false, true, nil
		default:
			return Chunk{}, false, false, nil
		}
	}
}

func buildAnthropicEndpoint(baseURL, resource string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/" + resource
	}
	return base + "/v1/" + resource
}

func readAnthropicError(body io.Reader, status int) error {
	var resp anthropicChatResponse
	_ = json.NewDecoder(body).Decode(&resp)
	if resp.Error != nil {
		return resp.Error.apiError(status)
	}
	return &APIError{Provider: anthropicProvider, StatusCode: status}
}

func splitAnthropicMessages(messages []Message) ([]Message, string) {
	if len(messages) == 0 {
		return []Message{}, ""
	}
	first := messages[0]
	if first.Role != RoleSystem {
		return messages, ""
	}
	return messages[1:], first.Content
}

func flattenAnthropicContent(blocks []anthropicContent) string {
	if len(blocks) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, block := range blocks {
		if block.Type != "text" {
			continue
		}
		builder.WriteString(block.Text)
	}
	return builder.String()
}

type anthropicChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type anthropicChatResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u anthropicUsage) toUsage() Usage {
	return Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

type anthropicError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *anthropicError) apiError(status int) *APIError {
	return &APIError{
		Provider:   anthropicProvider,
		StatusCode: status,
		Message:    e.Message,
		Type:       e.Type,
	}
}

type anthropicStreamEvent struct {
	Type    string          `json:"type"`
	Message *anthropicEvent `json:"message,omitempty"`
	Delta   *anthropicDelta `json:"delta,omitempty"`
	Usage   *anthropicUsage `json:"usage,omitempty"`
	Error   *anthropicError `json:"error,omitempty"`
}

type anthropicEvent struct {
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicDelta struct {
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
}

type anthropicModelList struct {
	Data []struct {
		ID        string `json:"id"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
}
