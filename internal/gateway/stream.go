package gateway

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"

	"completion-gateway/internal/llm"
)

// Stream yields the text deltas of a streaming completion. It is lazy,
// single-pass and cannot be restarted. Close releases the upstream
// connection and may be called at any point, more than once.
type Stream struct {
	inner        *llm.Stream
	logger       *slog.Logger
	model        string
	finishReason string
	usage        llm.Usage
	chunks       int
}

func newStream(inner *llm.Stream, logger *slog.Logger) *Stream {
	return &Stream{inner: inner, logger: logger}
}

// Next returns the next non-empty text delta, or io.EOF when the provider
// has finished. A connection that ends early is reported as a provider
// error wrapping io.ErrUnexpectedEOF; it is not retried.
func (s *Stream) Next(ctx context.Context) (string, error) {
	for {
		chunk, err := s.inner.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.logger.Debug("streaming chat completion finished",
				"model", s.model,
				"finish_reason", s.finishReason,
				"chunks", s.chunks,
			)
			return "", io.EOF
		}
		if errors.Is(err, llm.ErrStreamClosed) {
			return "", ErrStreamClosed
		}
		if err != nil {
			classified := classify(err)
			s.logger.Warn("streaming chat completion failed", "kind", classified.Kind, "error", classified.Message)
			return "", classified
		}
		if chunk.Model != "" {
			s.model = chunk.Model
		}
		if chunk.FinishReason != "" {
			s.finishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			s.usage = *chunk.Usage
		}
		if chunk.Content == "" {
			continue
		}
		s.chunks++
		return chunk.Content, nil
	}
}

// Chunks adapts the stream to a range-over-func loop. The stream is closed
// when the loop ends, whether by exhaustion, error or break.
func (s *Stream) Chunks(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for {
			text, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func (s *Stream) Close() error {
	return s.inner.Close()
}

// Model is the model id reported by the provider so far.
func (s *Stream) Model() string { return s.model }

// FinishReason is set once the provider reports why generation stopped.
func (s *Stream) FinishReason() string { return s.finishReason }

// Usage is populated only if the provider reports token counts while streaming.
func (s *Stream) Usage() llm.Usage { return s.usage }
