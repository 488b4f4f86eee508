// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader processes newline-delimited JSON (NDJSON) streaming responses
// from the Ollama API line by line.
type StreamReader struct {
	reader  *bufio.Reader
	decoder *json.Decoder
}

// NewStreamReader creates a new stream reader for NDJSON responses.
func NewStreamReader(r io.Reader) *StreamReader {
	br := bufio.NewReaderSize(r, 64*1024)
	return &StreamReader{
		reader:  br,
		decoder: json.NewDecoder(br),
	}
}

// Process reads chunks from the stream and calls the callback for each one.
// The context is checked before every read, so a cancelled context stops the
// stream at the next chunk boundary and returns ctx.Err().
func (sr *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunk, err := sr.readChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// Context cancellation closes the body mid-read; report the
			// cancellation rather than the transport error.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ClientError{Type: ErrTypeInvalidResponse, Message: "stream read failed", Cause: err}
		}

		if chunk.Error != "" {
			return &ClientError{Type: ErrTypeInvalidResponse, Message: chunk.Error}
		}

		callback(*chunk)

		if chunk.Done {
			return nil
		}
	}
}

// readChunk decodes the next NDJSON object from the stream.
func (sr *StreamReader) readChunk() (*StreamChunk, error) {
	var raw struct {
		Model   string `json:"model"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Done               bool   `json:"done"`
		DoneReason         string `json:"done_reason,omitempty"`
		TotalDuration      int64  `json:"total_duration,omitempty"`
		LoadDuration       int64  `json:"load_duration,omitempty"`
		PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
		PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
		EvalCount          int    `json:"eval_count,omitempty"`
		EvalDuration       int64  `json:"eval_duration,omitempty"`
		Error              string `json:"error,omitempty"`
	}

	if err := sr.decoder.Decode(&raw); err != nil {
		return nil, err
	}

	return &StreamChunk{
		Model:              raw.Model,
		Content:            raw.Message.Content,
		Done:               raw.Done,
		DoneReason:         raw.DoneReason,
		TotalDuration:      time.Duration(raw.TotalDuration),
		LoadDuration:       time.Duration(raw.LoadDuration),
		PromptEvalDuration: time.Duration(raw.PromptEvalDuration),
		EvalDuration:       time.Duration(raw.EvalDuration),
		PromptTokens:       raw.PromptEvalCount,
		CompletionTokens:   raw.EvalCount,
		Error:              raw.Error,
	}, nil
}

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// StreamAccumulator collects chunks into a complete response.
type StreamAccumulator struct {
	builder strings.Builder
	stats   StreamStats
}

// StreamStats holds aggregate statistics for a completed stream.
type StreamStats struct {
	Model            string
	DoneReason       string
	PromptTokens     int
	CompletionTokens int
	TotalDuration    time.Duration
	EvalDuration     time.Duration
}

// Add appends a chunk's content and records final stats on the done chunk.
func (a *StreamAccumulator) Add(chunk StreamChunk) {
	a.builder.WriteString(chunk.Content)
	if chunk.Done {
		a.stats = StreamStats{
			Model:            chunk.Model,
			DoneReason:       chunk.DoneReason,
			PromptTokens:     chunk.PromptTokens,
			CompletionTokens: chunk.CompletionTokens,
			TotalDuration:    chunk.TotalDuration,
			EvalDuration:     chunk.EvalDuration,
		}
	}
}

// Text returns the accumulated response text.
func (a *StreamAccumulator) Text() string {
	return a.builder.String()
}

// Stats returns statistics recorded from the final chunk.
func (a *StreamAccumulator) Stats() StreamStats {
	return a.stats
}

// TokensPerSecond computes generation throughput, or 0 if unknown.
func (s StreamStats) TokensPerSecond() float64 {
	if s.EvalDuration <= 0 {
		return 0
	}
	return float64(s.CompletionTokens) / s.EvalDuration.Seconds()
}

// =============================================================================
// HELPERS
// =============================================================================

// drainAndClose drains and closes a response body so the underlying
// connection can be reused by the transport.
func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 4*1024)) //nolint:errcheck
	body.Close()
}
