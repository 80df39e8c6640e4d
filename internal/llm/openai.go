package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const openAIProvider = "openai"

type OpenAIConfig struct {
	BaseURL    string
	Token      string
	Model      string
	HTTPClient HTTPDoer
}

// OpenAIClient talks to the OpenAI chat completions API or any endpoint
// compatible with it.
type OpenAIClient struct {
	baseURL    string
	token      string
	model      string
	httpClient HTTPDoer
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("openai base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("openai token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("openai model is required")
	}
	return &OpenAIClient{
		baseURL:    baseURL,
		token:      token,
		model:      model,
		httpClient: httpClientOrDefault(cfg.HTTPClient),
	}, nil
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	httpResp, err := c.send(ctx, http.MethodPost, "chat/completions", c.chatPayload(req, false), false)
	if err != nil {
		return ChatResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp openAIChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return ChatResponse{}, resp.Error.apiError(0)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, errors.New("openai response has no choices")
	}
	out := ChatResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = *resp.Usage
	}
	return out, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	httpResp, err := c.send(ctx, http.MethodPost, "chat/completions", c.chatPayload(req, true), true)
	if err != nil {
		return nil, err
	}
	return newStream(openAIProvider, httpResp.Body, decodeOpenAIChunk), nil
}

func (c *OpenAIClient) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	if strings.TrimSpace(req.Model) == "" {
		return EmbedResponse{}, errors.New("openai embedding model is required")
	}
	payload := openAIEmbeddingRequest{
		Model: req.Model,
		Input: req.Input,
	}
	if payload.Input == nil {
		payload.Input = []string{}
	}
	httpResp, err := c.send(ctx, http.MethodPost, "embeddings", payload, false)
	if err != nil {
		return EmbedResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp openAIEmbeddingResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return EmbedResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return EmbedResponse{}, resp.Error.apiError(0)
	}
	if len(resp.Data) != len(req.Input) {
		return EmbedResponse{}, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(req.Input))
	}
	out := EmbedResponse{
		Embeddings: orderEmbeddings(resp.Data),
		Model:      resp.Model,
	}
	if resp.Usage != nil {
		out.Usage = *resp.Usage
	}
	return out, nil
}

func (c *OpenAIClient) ListModels(ctx context.Context) ([]Model, error) {
	httpResp, err := c.send(ctx, http.MethodGet, "models", nil, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp openAIModelList
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	models := make([]Model, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, Model{
			ID:      m.ID,
			OwnedBy: m.OwnedBy,
			Created: m.Created,
		})
	}
	return models, nil
}

func (c *OpenAIClient) chatPayload(req ChatRequest, stream bool) openAIChatRequest {
	payload := openAIChatRequest{
		Model:       resolveModel(req.Model, c.model),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stream:      stream,
	}
	if payload.Messages == nil {
		payload.Messages = []Message{}
	}
	if stream {
		payload.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	return payload
}

// send performs the request and returns the response only when the status
// is 2xx; the caller owns the body.
func (c *OpenAIClient) send(ctx context.Context, method, resource string, payload any, stream bool) (*http.Response, error) {
	httpReq, err := newJSONRequest(ctx, method, buildOpenAIEndpoint(c.baseURL, resource), payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	if !isSuccess(httpResp.StatusCode) {
		defer httpResp.Body.Close()
		return nil, readOpenAIError(httpResp.Body, httpResp.StatusCode)
	}
	return httpResp, nil
}

func decodeOpenAIChunk(data string) (Chunk, bool, bool, error) {
	var resp openAIChatResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return Chunk{}, false, false, fmt.Errorf("decode stream chunk: %w", err)
	}
	if resp.Error != nil {
		return Chunk{}, false, false, resp.Error.apiError(0)
	}
	chunk := Chunk{
		Model: resp.Model,
		Usage: resp.Usage,
	}
	if len(resp.Choices) > 0 {
		chunk.Content = resp.Choices[0].Delta.Content
		chunk.FinishReason = resp.Choices[0].FinishReason
	}
	return chunk, true, false, nil
}

func buildOpenAIEndpoint(baseURL, resource string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/" + resource
	}
	return base + "/v1/" + resource
}

func readOpenAIError(body io.Reader, status int) error {
	var resp struct {
		Error *openAIError `json:"error"`
	}
	_ = json.NewDecoder(body).Decode(&resp)
	if resp.Error != nil {
		return resp.Error.apiError(status)
	}
	return &APIError{Provider: openAIProvider, StatusCode: status}
}

// orderEmbeddings places each vector at its reported index, falling back to
// response order when indexes are missing or inconsistent.
func orderEmbeddings(data []openAIEmbedding) [][]float32 {
	out := make([][]float32, len(data))
	for _, d := range data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			out = out[:0]
			for _, d := range data {
				out = append(out, d.Embedding)
			}
			return out
		}
		out[d.Index] = d.Embedding
	}
	return out
}

type openAIChatRequest struct {
	Model         string               `json:"model"`
	Messages      []Message            `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	MaxTokens     *int                 `json:"max_tokens,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	Delta        Message `json:"delta"`
	FinishReason string  `json:"finish_reason"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *openAIError) apiError(status int) *APIError {
	return &APIError{
		Provider:   openAIProvider,
		StatusCode: status,
		Message:    e.Message,
		Type:       e.Type,
	}
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Model string            `json:"model"`
	Data  []openAIEmbedding `json:"data"`
	Usage *Usage            `json:"usage,omitempty"`
	Error *openAIError      `json:"error,omitempty"`
}

type openAIEmbedding struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type openAIModelList struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
		Created int64  `json:"created"`
	} `json:"data"`
}
