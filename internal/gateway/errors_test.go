package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"completion-gateway/internal/llm"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := classify(&llm.APIError{Provider: "openai", StatusCode: http.StatusTooManyRequests})
	wrapped := fmt.Errorf("handler: %w", err)

	if !errors.Is(wrapped, ErrRateLimited) {
		t.Fatalf("expected rate limited match")
	}
	if errors.Is(wrapped, ErrInvalidAPIKey) {
		t.Fatalf("unexpected invalid key match")
	}
	if KindOf(wrapped) != KindRateLimited {
		t.Fatalf("unexpected kind: %q", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("foreign errors have no kind")
	}
}

func TestClassifyKeepsGatewayErrors(t *testing.T) {
	original := &Error{Kind: KindServiceUnavailable, Message: msgServiceUnavailable}
	if got := classify(fmt.Errorf("wrapped: %w", original)); got != original {
		t.Fatalf("expected the original error, got %+v", got)
	}
}

func TestClassifyProviderMessageFallback(t *testing.T) {
	err := classify(&llm.APIError{Provider: "gemini", StatusCode: http.StatusInternalServerError})
	if err.Kind != KindProvider {
		t.Fatalf("unexpected kind: %q", err.Kind)
	}
	want := "provider error: " + (&llm.APIError{Provider: "gemini", StatusCode: http.StatusInternalServerError}).Error()
	if err.Message != want {
		t.Fatalf("unexpected message: %q", err.Message)
	}
}

func TestClassifyNil(t *testing.T) {
	if got := classify(nil); got.Kind != KindUnexpected {
		t.Fatalf("unexpected kind: %q", got.Kind)
	}
}

func TestRecovered(t *testing.T) {
	if got := recovered("boom"); got.Kind != KindUnexpected || got.Err != nil {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got := recovered(&llm.APIError{StatusCode: http.StatusUnauthorized}); got.Kind != KindInvalidAPIKey {
		t.Fatalf("unexpected kind: %q", got.Kind)
	}
}
