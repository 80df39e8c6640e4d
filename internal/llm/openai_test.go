package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestOpenAIClient(t *testing.T, url string) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: url,
		Token:   "token",
		Model:   "gpt-test",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func writeSSE(w http.ResponseWriter, chunks []string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, chunk := range chunks {
		_, _ = w.Write([]byte(chunk))
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func TestOpenAIChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-test" {
			t.Fatalf("unexpected model: %s", req.Model)
		}
		if req.Stream {
			t.Fatalf("unexpected stream request")
		}
		resp := openAIChatResponse{
			Model: "gpt-test-0613",
			Choices: []openAIChoice{
				{
					Message:      Message{Role: "assistant", Content: "hello"},
					FinishReason: "stop",
				},
			},
			Usage: &Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("unexpected content: %s", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("unexpected finish reason: %s", resp.FinishReason)
	}
	if resp.Model != "gpt-test-0613" {
		t.Fatalf("unexpected model: %s", resp.Model)
	}
	if resp.Usage.TotalTokens != 4 || resp.Usage.PromptTokens != 3 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIChatForwardsOptions(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	temperature, topP, maxTokens := 0.0, 0.5, 64
	client := newTestOpenAIClient(t, server.URL)
	_, err := client.Chat(context.Background(), ChatRequest{
		Model:       "gpt-4o",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: &temperature,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if raw["model"] != "gpt-4o" {
		t.Fatalf("unexpected model: %v", raw["model"])
	}
	if v, ok := raw["temperature"]; !ok || v.(float64) != 0 {
		t.Fatalf("temperature not forwarded: %v", raw)
	}
	if raw["top_p"].(float64) != 0.5 {
		t.Fatalf("unexpected top_p: %v", raw["top_p"])
	}
	if raw["max_tokens"].(float64) != 64 {
		t.Fatalf("unexpected max_tokens: %v", raw["max_tokens"])
	}
	if raw["stream"] != false {
		t.Fatalf("unexpected stream flag: %v", raw["stream"])
	}
}

func TestOpenAIChatStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	_, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
	if apiErr.Message != "slow down" || apiErr.Type != "rate_limit_error" {
		t.Fatalf("unexpected error fields: %+v", apiErr)
	}
}

func TestOpenAIChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Fatalf("expected stream request")
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Fatalf("expected usage in stream options")
		}
		writeSSE(w, []string{
			`data: {"model":"gpt-test","choices":[{"delta":{"content":"he"}}]}` + "\n\n",
			`data: {"choices":[{"delta":{"content":"llo"},"finish_reason":"stop"}]}` + "\n\n",
			`data: {"choices":[],"usage":{"prompt_tokens":2,"completion_tokens":2,"total_tokens":4}}` + "\n\n",
			"data: [DONE]\n\n",
		})
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	stream, err := client.Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var streamed strings.Builder
	resp, err := Collect(context.Background(), stream, func(delta string) error {
		streamed.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if streamed.String() != "hello" {
		t.Fatalf("unexpected stream content: %s", streamed.String())
	}
	if resp.Content != "hello" {
		t.Fatalf("unexpected response content: %s", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("unexpected finish reason: %s", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 4 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIChatStreamTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, []string{
			`data: {"model":"gpt-test","choices":[{"delta":{"content":"he"}}]}` + "\n\n",
		})
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	stream, err := client.Stream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if chunk.Content != "he" {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}
	_, err = stream.Next(context.Background())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
	if _, again := stream.Next(context.Background()); !errors.Is(again, io.ErrUnexpectedEOF) {
		t.Fatalf("expected sticky error, got %v", again)
	}
}

func TestOpenAIChatStreamInBandError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, []string{
			`data: {"error":{"message":"overloaded","type":"server_error"}}` + "\n\n",
		})
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	stream, err := client.Stream(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	_, err = Collect(context.Background(), stream, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "overloaded" {
		t.Fatalf("expected in-band api error, got %v", err)
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, []string{
			`data: {"choices":[{"delta":{"content":"a"}}]}` + "\n\n",
			"data: [DONE]\n\n",
		})
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	stream, err := client.Stream(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestOpenAIEmbedKeepsInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req openAIEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "embed-test" || len(req.Input) != 2 {
			t.Fatalf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"model":"embed-test","data":[` +
			`{"index":1,"embedding":[2,2]},` +
			`{"index":0,"embedding":[1,1]}],` +
			`"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	resp, err := client.Embed(context.Background(), EmbedRequest{
		Model: "embed-test",
		Input: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(resp.Embeddings) != 2 {
		t.Fatalf("unexpected embeddings: %v", resp.Embeddings)
	}
	if resp.Embeddings[0][0] != 1 || resp.Embeddings[1][0] != 2 {
		t.Fatalf("embeddings out of order: %v", resp.Embeddings)
	}
	if resp.Usage.TotalTokens != 2 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/models" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[` +
			`{"id":"gpt-4o","owned_by":"openai","created":1715367049},` +
			`{"id":"dall-e-3","owned_by":"system","created":1698785189}]}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 2 || models[0].ID != "gpt-4o" || models[0].Created != 1715367049 {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestBuildOpenAIEndpoint(t *testing.T) {
	if got := buildOpenAIEndpoint("https://api.example.com/v1/", "models"); got != "https://api.example.com/v1/models" {
		t.Fatalf("unexpected endpoint: %s", got)
	}
	if got := buildOpenAIEndpoint("https://api.example.com", "embeddings"); got != "https://api.example.com/v1/embeddings" {
		t.Fatalf("unexpected endpoint: %s", got)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	cases := map[string]string{
		"":           "*llm.OpenAIClient",
		"openai":     "*llm.OpenAIClient",
		"anthropics": "*llm.AnthropicClient",
		"gemini":     "*llm.GeminiClient",
	}
	for typ, want := range cases {
		client, err := New(Settings{Type: typ, BaseURL: "http://localhost", Token: "t", Model: "m"})
		if err != nil {
			t.Fatalf("new %q: %v", typ, err)
		}
		if got := typeName(client); got != want {
			t.Fatalf("type %q: got %s want %s", typ, got, want)
		}
	}
	if _, err := New(Settings{Type: "bogus", BaseURL: "http://localhost", Token: "t", Model: "m"}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func typeName(client Client) string {
	switch client.(type) {
	case *OpenAIClient:
		return "*llm.OpenAIClient"
	case *AnthropicClient:
		return "*llm.AnthropicClient"
	case *GeminiClient:
		return "*llm.GeminiClient"
	default:
		return "unknown"
	}
}
