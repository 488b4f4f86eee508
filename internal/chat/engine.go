// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"log"
	"time"

	"github.com/jeranaias/codemate/internal/ollama"
)

// =============================================================================
// ENGINE INTERFACE
// =============================================================================

// Engine produces a completion for a rendered message list. Implementations
// must honor context cancellation.
type Engine interface {
	Complete(ctx context.Context, messages []ollama.Message) (string, error)
}

// =============================================================================
// ENGINE FACTORY
// =============================================================================

// EngineFactory creates engines bound to a fixed backend URL and sampling
// temperature. Only the model varies between engines; every other knob is
// pinned at construction time.
type EngineFactory struct {
	baseURL     string
	temperature float64
	timeout     time.Duration
}

// FactoryOption customizes an EngineFactory.
type FactoryOption func(*EngineFactory)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) FactoryOption {
	return func(f *EngineFactory) {
		f.timeout = d
	}
}

// NewEngineFactory creates a factory bound to baseURL with the given
// temperature.
func NewEngineFactory(baseURL string, temperature float64, opts ...FactoryOption) *EngineFactory {
	f := &EngineFactory{
		baseURL:     baseURL,
		temperature: temperature,
		timeout:     120 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Engine returns an engine for the given model. Each call creates a fresh
// engine; engines are cheap and hold no connection state of their own.
func (f *EngineFactory) Engine(modelID string) Engine {
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: f.baseURL,
		Timeout: f.timeout,
	})
	return &ollamaEngine{
		client:      client,
		model:       modelID,
		temperature: f.temperature,
		timeout:     f.timeout,
	}
}

// BaseURL returns the backend URL engines are bound to.
func (f *EngineFactory) BaseURL() string {
	return f.baseURL
}

// Temperature returns the sampling temperature engines are bound to.
func (f *EngineFactory) Temperature() float64 {
	return f.temperature
}

// =============================================================================
// OLLAMA ENGINE
// =============================================================================

// ollamaEngine completes prompts via the streaming Ollama chat API. Streaming
// keeps cancellation responsive: a stop lands at the next chunk boundary
// instead of waiting out the whole generation.
type ollamaEngine struct {
	client      *ollama.Client
	model       string
	temperature float64
	timeout     time.Duration
}

func (e *ollamaEngine) Complete(ctx context.Context, messages []ollama.Message) (string, error) {
	// The stream transport has no client-side timeout; bound it here.
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var acc ollama.StreamAccumulator
	err := e.client.ChatStream(ctx, e.model, messages, &ollama.Options{
		Temperature: e.temperature,
	}, acc.Add)
	if err != nil {
		return "", err
	}

	stats := acc.Stats()
	log.Printf("STREAM_DONE | model=%s tokens=%d tok_per_sec=%.1f reason=%s",
		e.model, stats.CompletionTokens, stats.TokensPerSecond(), stats.DoneReason)

	return acc.Text(), nil
}
