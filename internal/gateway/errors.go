package gateway

import (
	"errors"
	"net/http"

	"completion-gateway/internal/llm"
)

// Kind is the closed set of failure categories callers can branch on.
type Kind string

const (
	KindInvalidAPIKey      Kind = "invalid-api-key"
	KindRateLimited        Kind = "rate-limited"
	KindServiceUnavailable Kind = "service-unavailable"
	KindProvider           Kind = "generic-provider-error"
	KindUnexpected         Kind = "unexpected-error"
)

const (
	msgInvalidAPIKey      = "Invalid API key. Please check your configuration."
	msgRateLimited        = "Rate limit exceeded. Please try again later."
	msgServiceUnavailable = "The model service is temporarily unavailable."
	msgUnexpected         = "An unexpected error occurred."
	providerErrorPrefix   = "provider error: "
)

// Sentinels for errors.Is; any *Error of the same Kind matches.
var (
	ErrInvalidAPIKey      = &Error{Kind: KindInvalidAPIKey, Message: msgInvalidAPIKey}
	ErrRateLimited        = &Error{Kind: KindRateLimited, Message: msgRateLimited}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable, Message: msgServiceUnavailable}
	ErrProvider           = &Error{Kind: KindProvider, Message: "provider error"}
	ErrUnexpected         = &Error{Kind: KindUnexpected, Message: msgUnexpected}
)

// ErrStreamClosed is returned by Stream.Next after Close.
var ErrStreamClosed = llm.ErrStreamClosed

// Error is the only error type the gateway returns from its operations.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf reports the kind of a gateway error, or "" for foreign errors.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

// classify maps a provider or transport failure onto the taxonomy by the
// HTTP status it carries.
func classify(err error) *Error {
	if err == nil {
		return &Error{Kind: KindUnexpected, Message: msgUnexpected}
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return &Error{Kind: KindInvalidAPIKey, Message: msgInvalidAPIKey, Err: err}
		case http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimited, Message: msgRateLimited, Err: err}
		case http.StatusServiceUnavailable:
			return &Error{Kind: KindServiceUnavailable, Message: msgServiceUnavailable, Err: err}
		}
		message := apiErr.Message
		if message == "" {
			message = apiErr.Error()
		}
		return &Error{Kind: KindProvider, Message: providerErrorPrefix + message, Err: err}
	}
	return providerError(err)
}

func providerError(err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return &Error{Kind: KindProvider, Message: providerErrorPrefix + err.Error(), Err: err}
}

// recovered converts a panic value from a provider call. Values that are
// not errors have no recognizable shape and are not carried along.
func recovered(v any) *Error {
	if err, ok := v.(error); ok {
		return classify(err)
	}
	return &Error{Kind: KindUnexpected, Message: msgUnexpected}
}
