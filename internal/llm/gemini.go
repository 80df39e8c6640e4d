package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const (
	geminiProvider = "gemini"
	geminiOwner    = "google"
)

type GeminiConfig struct {
	BaseURL    string
	Token      string
	Model      string
	HTTPClient HTTPDoer
}

type GeminiClient struct {
	baseURL    string
	token      string
	model      string
	httpClient HTTPDoer
}

func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("gemini base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("gemini token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("gemini model is required")
	}
	return &GeminiClient{
		baseURL:    baseURL,
		token:      token,
		model:      model,
		httpClient: httpClientOrDefault(cfg.HTTPClient),
	}, nil
}

func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	endpoint, err := buildGeminiEndpoint(c.baseURL, resolveModel(req.Model, c.model), "generateContent", c.token)
	if err != nil {
		return ChatResponse{}, err
	}
	httpResp, err := c.send(ctx, http.MethodPost, endpoint, buildGeminiRequest(req), false)
	if err != nil {
		return ChatResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp geminiGenerateContentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return ChatResponse{}, resp.Error.apiError(0)
	}
	if len(resp.Candidates) == 0 {
		return ChatResponse{}, errors.New("gemini response has no candidates")
	}
	out := ChatResponse{
		Content:      flattenGeminiContent(resp.Candidates[0].Content),
		Model:        resp.ModelVersion,
		FinishReason: resp.Candidates[0].FinishReason,
	}
	if resp.UsageMetadata != nil {
		out.Usage = resp.UsageMetadata.toUsage()
	}
	return out, nil
}

func (c *GeminiClient) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	endpoint, err := buildGeminiEndpoint(c.baseURL, resolveModel(req.Model, c.model), "streamGenerateContent", c.token)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.send(ctx, http.MethodPost, endpoint, buildGeminiRequest(req), true)
	if err != nil {
		return nil, err
	}
	return newStream(geminiProvider, httpResp.Body, decodeGeminiChunk), nil
}

func (c *GeminiClient) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	model := strings.TrimPrefix(strings.TrimSpace(req.Model), "models/")
	if model == "" {
		return EmbedResponse{}, errors.New("gemini embedding model is required")
	}
	endpoint, err := buildGeminiEndpoint(c.baseURL, model, "batchEmbedContents", c.token)
	if err != nil {
		return EmbedResponse{}, err
	}
	payload := geminiBatchEmbedRequest{Requests: make([]geminiEmbedRequest, 0, len(req.Input))}
	for _, input := range req.Input {
		payload.Requests = append(payload.Requests, geminiEmbedRequest{
			Model:   "models/" + model,
			Content: geminiContent{Parts: []geminiPart{{Text: input}}},
		})
	}
	httpResp, err := c.send(ctx, http.MethodPost, endpoint, payload, false)
	if err != nil {
		return EmbedResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp geminiBatchEmbedResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return EmbedResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return EmbedResponse{}, resp.Error.apiError(0)
	}
	if len(resp.Embeddings) != len(req.Input) {
		return EmbedResponse{}, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(req.Input))
	}
	embeddings := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		embeddings = append(embeddings, e.Values)
	}
	return EmbedResponse{Embeddings: embeddings, Model: model}, nil
}

func (c *GeminiClient) ListModels(ctx context.Context) ([]Model, error) {
	endpoint, err := buildGeminiURL(c.baseURL, c.token, "models")
	if err != nil {
		return nil, err
	}
	httpResp, err := c.send(ctx, http.MethodGet, endpoint, nil, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp geminiModelList
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	models := make([]Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, Model{
			ID:      strings.TrimPrefix(m.Name, "models/"),
			OwnedBy: geminiOwner,
		})
	}
	return models, nil
}

func (c *GeminiClient) send(ctx context.Context, method, endpoint string, payload any, stream bool) (*http.Response, error) {
	httpReq, err := newJSONRequest(ctx, method, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", redactKey(err))
	}
	if !isSuccess(httpResp.StatusCode) {
		defer httpResp.Body.Close()
		return nil, readGeminiError(httpResp.Body, httpResp.StatusCode)
	}
	return httpResp, nil
}

func decodeGeminiChunk(data string) (Chunk, bool, bool, error) {
	var resp geminiGenerateContentResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return Chunk{}, false, false, fmt.Errorf("decode stream chunk: %w", err)
	}
	if resp.Error != nil {
		return Chunk{}, false, false, resp.Error.apiError(0)
	}
	chunk := Chunk{Model: resp.ModelVersion}
	if resp.UsageMetadata != nil {
		usage := resp.UsageMetadata.toUsage()
		chunk.Usage = &usage
	}
	if len(resp.Candidates) == 0 {
		return chunk, true, false, nil
	}
	chunk.Content = flattenGeminiContent(resp.Candidates[0].Content)
	chunk.FinishReason = resp.Candidates[0].FinishReason
	// Gemini has no terminal event; the candidate carrying a finish reason is the last one.
	return chunk, true, chunk.FinishReason != "", nil
}

func buildGeminiEndpoint(baseURL, model, verb, token string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("gemini model is required")
	}
	endpoint, err := buildGeminiURL(baseURL, token, "models", fmt.Sprintf("%s:%s", model, verb))
	if err != nil {
		return "", err
	}
	if verb != "streamGenerateContent" {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	query := u.Query()
	query.Set("alt", "sse")
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func buildGeminiURL(baseURL, token string, elems ...string) (string, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return "", errors.New("gemini base url is required")
	}
	if strings.TrimSpace(token) == "" {
		return "", errors.New("gemini token is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	apiPath := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(apiPath, "/v1") && !strings.HasSuffix(apiPath, "/v1beta") {
		apiPath = path.Join(apiPath, "/v1beta")
	}
	u.Path = path.Join(append([]string{apiPath}, elems...)...)
	query := u.Query()
	query.Set("key", token)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// redactKey strips the query string, which carries the API key, from
// transport errors before they are surfaced.
func redactKey(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	if u, parseErr := url.Parse(urlErr.URL); parseErr == nil {
		u.RawQuery = ""
		urlErr.URL = u.String()
	}
	return urlErr
}

func readGeminiError(body io.Reader, status int) error {
	var resp geminiGenerateContentResponse
	_ = json.NewDecoder(body).Decode(&resp)
	if resp.Error != nil {
		return resp.Error.apiError(status)
	}
	return &APIError{Provider: geminiProvider, StatusCode: status}
}

func buildGeminiRequest(req ChatRequest) geminiGenerateContentRequest {
	contents, system := buildGeminiContents(req.Messages)
	payload := geminiGenerateContentRequest{
		Contents:          contents,
		SystemInstruction: system,
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil {
		payload.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return payload
}

func buildGeminiContents(messages []Message) ([]geminiContent, *geminiSystemInstruction) {
	if len(messages) == 0 {
		return []geminiContent{}, nil
	}
	var system *geminiSystemInstruction
	start := 0
	if messages[0].Role == RoleSystem {
		system = &geminiSystemInstruction{
			Parts: []geminiPart{{Text: messages[0].Content}},
		}
		start = 1
	}
	contents := make([]geminiContent, 0, len(messages)-start)
	for _, message := range messages[start:] {
		role := message.Role
		if role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: message.Content}},
		})
	}
	return contents, system
}

func flattenGeminiContent(content geminiContent) string {
	if len(content.Parts) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, part := range content.Parts {
		if part.Text == "" {
			continue
		}
		builder.WriteString(part.Text)
	}
	return builder.String()
}

type geminiGenerateContentRequest struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig  `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (u *geminiUsageMetadata) toUsage() Usage {
	return Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

type geminiError struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) apiError(status int) *APIError {
	return &APIError{
		Provider:   geminiProvider,
		StatusCode: status,
		Message:    e.Message,
		Type:       e.Status,
	}
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiModelList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}
