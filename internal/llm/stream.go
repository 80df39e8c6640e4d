package llm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrStreamClosed = errors.New("llm: stream closed")

// Chunk is one decoded stream event. Any field may be empty; Usage is only
// set by events that report token counts.
type Chunk struct {
	Content      string
	FinishReason string
	Model        string
	Usage        *Usage
}

// decodeFunc turns one SSE data payload into a chunk. emit reports whether
// the chunk should be handed to the caller, done whether the provider's
// end-of-stream marker was seen.
type decodeFunc func(data string) (chunk Chunk, emit bool, done bool, err error)

// Stream reads server-sent events from a provider response body. It is
// single-pass and meant for one consumer. Close must be called to release
// the connection; calling it more than once is safe.
type Stream struct {
	provider string
	body     io.ReadCloser
	scanner  *bufio.Scanner
	decode   decodeFunc
	finished bool
	closed   bool
	err      error
}

func newStream(provider string, body io.ReadCloser, decode decodeFunc) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{
		provider: provider,
		body:     body,
		scanner:  scanner,
		decode:   decode,
	}
}

// Next blocks until the next chunk is available. It returns io.EOF once the
// provider signals the end of the stream. A body that ends without that
// signal yields an error wrapping io.ErrUnexpectedEOF.
func (s *Stream) Next(ctx context.Context) (Chunk, error) {
	if s.closed {
		return Chunk{}, ErrStreamClosed
	}
	if s.err != nil {
		return Chunk{}, s.err
	}
	if s.finished {
		return Chunk{}, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				s.err = fmt.Errorf("read stream: %w", err)
			} else {
				s.err = fmt.Errorf("%s stream ended before completion: %w", s.provider, io.ErrUnexpectedEOF)
			}
			return Chunk{}, s.err
		}
		data, ok := eventData(s.scanner.Text())
		if !ok {
			continue
		}
		if data == "[DONE]" {
			s.finished = true
			return Chunk{}, io.EOF
		}
		chunk, emit, done, err := s.decode(data)
		if err != nil {
			s.err = err
			return Chunk{}, err
		}
		if done {
			s.finished = true
		}
		if emit {
			return chunk, nil
		}
		if done {
			return Chunk{}, io.EOF
		}
	}
}

func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func eventData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if strings.HasPrefix(line, "data:") {
		return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
	}
	// Some providers emit bare JSON lines when SSE framing is not requested.
	if strings.HasPrefix(line, "{") {
		return line, true
	}
	return "", false
}

// Collect drains the stream into a single response, calling handle for each
// non-empty delta. The stream is closed on return.
func Collect(ctx context.Context, stream *Stream, handle StreamHandler) (ChatResponse, error) {
	defer stream.Close()

	var content strings.Builder
	var resp ChatResponse
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ChatResponse{}, err
		}
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if chunk.Content == "" {
			continue
		}
		content.WriteString(chunk.Content)
		if handle != nil {
			if err := handle(chunk.Content); err != nil {
				return ChatResponse{}, err
			}
		}
	}
	resp.Content = content.String()
	return resp, nil
}
