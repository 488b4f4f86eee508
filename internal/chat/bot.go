// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/jeranaias/codemate/internal/ollama"
)

// =============================================================================
// FALLBACK TEXTS
// =============================================================================

// Fixed assistant texts recorded when an exchange does not produce a real
// reply. They live in the conversation log like any other assistant turn.
const (
	StoppedText  = "⚠️ Stopped by user."
	NoAnswerText = "⚠️ Error: the model returned no answer."
	ErrorText    = "⚠️ Error processing request."
)

// =============================================================================
// RESULT
// =============================================================================

// Status classifies the outcome of a single generation.
type Status string

const (
	StatusOK      Status = "ok"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

// Result is the typed outcome of one generation. Text is always non-empty:
// either the model's reply or the fallback text matching the status, so
// callers that only render text can ignore Status entirely.
type Result struct {
	Text   string `json:"text"`
	Status Status `json:"status"`
}

// OK reports whether the result carries a real model reply.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// =============================================================================
// BOT
// =============================================================================

// Bot orchestrates exchanges between a single conversation and the
// inference backend. Exchanges are serialized: a second request blocks
// until the in-flight one completes. Stop and Clear are safe to call
// concurrently with an in-flight exchange.
type Bot struct {
	mu      sync.Mutex // serializes exchanges
	conv    *Conversation
	factory *EngineFactory

	cancelMu sync.Mutex
	cancel   context.CancelFunc // non-nil only while a generation is in flight
}

// NewBot creates a bot with a freshly seeded conversation.
func NewBot(factory *EngineFactory) *Bot {
	return &Bot{
		conv:    NewConversation(),
		factory: factory,
	}
}

// Conversation returns the bot's conversation log.
func (b *Bot) Conversation() *Conversation {
	return b.conv
}

// Generate runs one exchange against the given engine: it appends the user
// turn, invokes the engine with the full history, and appends an assistant
// turn with the outcome. Every attempt is recorded, including failures; the
// returned Result carries the recorded text plus a typed status.
func (b *Bot) Generate(ctx context.Context, input string, engine Engine) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	log.Printf("GENERATE_START | chars=%d", len(input))

	history := b.conv.Turns()
	b.conv.Append(NewUserTurn(input))

	callCtx, cancel := context.WithCancel(ctx)
	b.setCancel(cancel)
	defer func() {
		b.setCancel(nil)
		cancel()
	}()

	reply, err := engine.Complete(callCtx, RenderPrompt(history, input))

	var result Result
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		log.Printf("GENERATE_STOPPED | chars=%d", len(input))
		result = Result{Text: StoppedText, Status: StatusStopped}
	case err != nil:
		log.Printf("GENERATE_ERROR | error=%v", err)
		result = Result{Text: ErrorText, Status: StatusFailed}
	case reply == "":
		log.Printf("GENERATE_EMPTY | model returned no content")
		result = Result{Text: NoAnswerText, Status: StatusEmpty}
	default:
		log.Printf("GENERATE_OK | reply_chars=%d", len(reply))
		result = Result{Text: reply, Status: StatusOK}
	}

	b.conv.Append(NewAssistantTurn(result.Text))
	return result
}

// Chat handles one user message: an empty message is a no-op, otherwise an
// engine for the chosen model is created and the exchange runs. The first
// return value is always empty (it clears the input field); the second is
// the display view of the conversation.
func (b *Bot) Chat(ctx context.Context, message, modelID string) (string, []Exchange) {
	_, pairs := b.ChatResult(ctx, message, modelID)
	return "", pairs
}

// ChatResult is Chat with the typed generation result exposed, for callers
// that render error states distinctly from model output.
func (b *Bot) ChatResult(ctx context.Context, message, modelID string) (Result, []Exchange) {
	if message == "" {
		return Result{Status: StatusOK}, b.conv.Pairs()
	}

	log.Printf("CHAT_REQUEST | model=%s chars=%d", modelID, len(message))

	engine := b.factory.Engine(modelID)
	result := b.Generate(ctx, message, engine)
	return result, b.conv.Pairs()
}

// Stop cancels the in-flight generation, if any. The cancellation applies
// only to the current call; the next exchange starts clean.
func (b *Bot) Stop() {
	b.cancelMu.Lock()
	cancel := b.cancel
	b.cancelMu.Unlock()

	if cancel == nil {
		log.Printf("STOP_NOOP | no generation in flight")
		return
	}
	log.Printf("STOP_REQUESTED | cancelling in-flight generation")
	cancel()
}

// Clear resets the conversation to the seed greeting and returns the
// (empty) display view.
func (b *Bot) Clear() []Exchange {
	log.Printf("CHAT_CLEARED | conversation reset")
	b.conv.Reset()
	return b.conv.Pairs()
}

func (b *Bot) setCancel(cancel context.CancelFunc) {
	b.cancelMu.Lock()
	b.cancel = cancel
	b.cancelMu.Unlock()
}

// =============================================================================
// MODEL VALIDATION
// =============================================================================

// KnownModel reports whether modelID appears in the allowed list. An empty
// allowed list accepts any model.
func KnownModel(modelID string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, m := range allowed {
		if m == modelID {
			return true
		}
	}
	return false
}

// EnsureBackend verifies the backend behind the factory is reachable.
func (b *Bot) EnsureBackend(ctx context.Context) error {
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: b.factory.BaseURL()})
	return client.CheckRunning(ctx)
}
