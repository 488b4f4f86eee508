// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jeranaias/codemate/internal/ollama"
)

// =============================================================================
// TEST ENGINES
// =============================================================================

// fakeEngine returns a canned reply or error.
type fakeEngine struct {
	reply string
	err   error
	calls int
	seen  []ollama.Message
}

func (f *fakeEngine) Complete(_ context.Context, messages []ollama.Message) (string, error) {
	f.calls++
	f.seen = messages
	return f.reply, f.err
}

// blockingEngine waits until its context is cancelled.
type blockingEngine struct {
	started chan struct{}
}

func (f *blockingEngine) Complete(ctx context.Context, _ []ollama.Message) (string, error) {
	close(f.started)
	<-ctx.Done()
	return "", ctx.Err()
}

func newTestBot() *Bot {
	return NewBot(NewEngineFactory("http://127.0.0.1:11434", 0.3))
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestNewConversation_SeededWithGreeting(t *testing.T) {
	c := NewConversation()

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	turns := c.Turns()
	if turns[0].Role != RoleAssistant {
		t.Errorf("seed role = %q, want assistant", turns[0].Role)
	}
	if turns[0].Content != Greeting {
		t.Errorf("seed content = %q", turns[0].Content)
	}
	if turns[0].ID == "" {
		t.Error("seed turn has no ID")
	}
}

func TestConversation_Reset(t *testing.T) {
	c := NewConversation()
	c.Append(NewUserTurn("hello"))
	c.Append(NewAssistantTurn("hi"))

	c.Reset()

	if c.Len() != 1 {
		t.Fatalf("Len() after Reset = %d, want 1", c.Len())
	}
	if got := c.Pairs(); len(got) != 0 {
		t.Errorf("Pairs() after Reset = %v, want empty", got)
	}
}

func TestConversation_PairsDerivation(t *testing.T) {
	c := NewConversation()
	c.Append(NewUserTurn("q1"))
	c.Append(NewAssistantTurn("a1"))
	c.Append(NewUserTurn("q2"))
	c.Append(NewAssistantTurn("a2"))

	pairs := c.Pairs()
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	if pairs[0] != (Exchange{User: "q1", Assistant: "a1"}) {
		t.Errorf("pairs[0] = %+v", pairs[0])
	}
	if pairs[1] != (Exchange{User: "q2", Assistant: "a2"}) {
		t.Errorf("pairs[1] = %+v", pairs[1])
	}
}

func TestConversation_TurnsReturnsCopy(t *testing.T) {
	c := NewConversation()
	turns := c.Turns()
	turns[0].Content = "mutated"

	if c.Turns()[0].Content != Greeting {
		t.Error("Turns() exposed internal slice")
	}
}

// =============================================================================
// PROMPT TESTS
// =============================================================================

func TestRenderPrompt(t *testing.T) {
	history := []Turn{
		NewAssistantTurn(Greeting),
		NewUserTurn("q1"),
		NewAssistantTurn("a1"),
	}

	messages := RenderPrompt(history, "q2")

	if len(messages) != 5 {
		t.Fatalf("got %d messages, want 5", len(messages))
	}
	if messages[0].Role != "system" || messages[0].Content != SystemPrompt {
		t.Errorf("messages[0] = %+v, want system prompt first", messages[0])
	}
	if messages[1].Content != Greeting {
		t.Errorf("messages[1] = %+v, want greeting", messages[1])
	}
	last := messages[len(messages)-1]
	if last.Role != "user" || last.Content != "q2" {
		t.Errorf("last message = %+v, want new user input", last)
	}
}

func TestRenderPrompt_NoTruncation(t *testing.T) {
	var history []Turn
	for i := 0; i < 200; i++ {
		history = append(history, NewUserTurn("q"), NewAssistantTurn("a"))
	}

	messages := RenderPrompt(history, "next")
	if len(messages) != 402 {
		t.Fatalf("got %d messages, want full history (402)", len(messages))
	}
}

// =============================================================================
// ENGINE FACTORY TESTS
// =============================================================================

func TestEngineFactory_Bindings(t *testing.T) {
	f := NewEngineFactory("http://127.0.0.1:11434", 0.3)

	if f.BaseURL() != "http://127.0.0.1:11434" {
		t.Errorf("BaseURL() = %q", f.BaseURL())
	}
	if f.Temperature() != 0.3 {
		t.Errorf("Temperature() = %v, want 0.3", f.Temperature())
	}
	if f.Engine("deepseek-r1:7b") == nil {
		t.Fatal("Engine() returned nil")
	}
}

// =============================================================================
// BOT TESTS
// =============================================================================

func TestGenerate_Success(t *testing.T) {
	bot := newTestBot()
	engine := &fakeEngine{reply: "use a for loop"}

	result := bot.Generate(context.Background(), "how do I loop?", engine)

	if result.Status != StatusOK {
		t.Errorf("Status = %q, want ok", result.Status)
	}
	if result.Text != "use a for loop" {
		t.Errorf("Text = %q", result.Text)
	}
	if bot.Conversation().Len() != 3 {
		t.Errorf("conversation length = %d, want 3", bot.Conversation().Len())
	}

	// The prompt must carry the history that existed before this exchange
	// plus the new input, with the system instruction first.
	if len(engine.seen) != 3 {
		t.Fatalf("engine saw %d messages, want 3", len(engine.seen))
	}
	if engine.seen[0].Role != "system" {
		t.Errorf("first message role = %q, want system", engine.seen[0].Role)
	}
}

func TestGenerate_EngineError(t *testing.T) {
	bot := newTestBot()
	engine := &fakeEngine{err: errors.New("connection refused")}

	result := bot.Generate(context.Background(), "hello", engine)

	if result.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", result.Status)
	}
	if result.Text != ErrorText {
		t.Errorf("Text = %q, want error fallback", result.Text)
	}
	// Both the user turn and the fallback assistant turn are recorded.
	if bot.Conversation().Len() != 3 {
		t.Errorf("conversation length = %d, want 3", bot.Conversation().Len())
	}
	turns := bot.Conversation().Turns()
	if turns[1].Role != RoleUser || turns[1].Content != "hello" {
		t.Errorf("turns[1] = %+v, want recorded user turn", turns[1])
	}
	if turns[2].Content != ErrorText {
		t.Errorf("turns[2].Content = %q", turns[2].Content)
	}
}

func TestGenerate_EmptyReply(t *testing.T) {
	bot := newTestBot()
	engine := &fakeEngine{reply: ""}

	result := bot.Generate(context.Background(), "hello", engine)

	if result.Status != StatusEmpty {
		t.Errorf("Status = %q, want empty", result.Status)
	}
	if result.Text != NoAnswerText {
		t.Errorf("Text = %q, want no-answer fallback", result.Text)
	}
}

func TestGenerate_StoppedMidFlight(t *testing.T) {
	bot := newTestBot()
	engine := &blockingEngine{started: make(chan struct{})}

	done := make(chan Result, 1)
	go func() {
		done <- bot.Generate(context.Background(), "long question", engine)
	}()

	<-engine.started
	bot.Stop()

	select {
	case result := <-done:
		if result.Status != StatusStopped {
			t.Errorf("Status = %q, want stopped", result.Status)
		}
		if result.Text != StoppedText {
			t.Errorf("Text = %q, want stopped fallback", result.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Generate did not return after Stop")
	}

	if bot.Conversation().Len() != 3 {
		t.Errorf("conversation length = %d, want 3", bot.Conversation().Len())
	}
}

// A stop must classify as stopped even when the cancellation surfaces through
// the HTTP transport rather than a hand-rolled engine, since net/http wraps
// the context error rather than returning it bare.
func TestStop_AgainstHTTPBackend(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer is not a flusher")
			return
		}
		json.NewEncoder(w).Encode(ollama.ChatResponse{
			Message: ollama.Message{Role: "assistant", Content: "thinking"},
		})
		fl.Flush()
		close(started)
		// Hold the stream open until the client gives up.
		<-r.Context().Done()
	}))
	defer srv.Close()

	bot := NewBot(NewEngineFactory(srv.URL, 0.3))

	done := make(chan Result, 1)
	go func() {
		result, _ := bot.ChatResult(context.Background(), "long question", "deepseek-r1:1.5b")
		done <- result
	}()

	<-started
	bot.Stop()

	select {
	case result := <-done:
		if result.Status != StatusStopped {
			t.Errorf("Status = %q, want stopped", result.Status)
		}
		if result.Text != StoppedText {
			t.Errorf("Text = %q, want stopped fallback", result.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ChatResult did not return after Stop")
	}

	turns := bot.Conversation().Turns()
	if turns[len(turns)-1].Content != StoppedText {
		t.Errorf("last turn = %q, want stopped fallback recorded", turns[len(turns)-1].Content)
	}
}

func TestStop_ThenChatStillWorks(t *testing.T) {
	bot := newTestBot()

	// Stop with nothing in flight is a no-op and must not poison the
	// next exchange.
	bot.Stop()

	engine := &fakeEngine{reply: "real reply"}
	result := bot.Generate(context.Background(), "hello", engine)

	if result.Status != StatusOK {
		t.Errorf("Status = %q, want ok after prior Stop", result.Status)
	}
	if result.Text != "real reply" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestChat_EmptyMessageIsNoOp(t *testing.T) {
	bot := newTestBot()

	cleared, pairs := bot.Chat(context.Background(), "", "deepseek-r1:1.5b")

	if cleared != "" {
		t.Errorf("first return = %q, want empty", cleared)
	}
	if len(pairs) != 0 {
		t.Errorf("pairs = %v, want empty", pairs)
	}
	if bot.Conversation().Len() != 1 {
		t.Errorf("conversation length = %d, want untouched seed", bot.Conversation().Len())
	}
}

func TestClear_ResetsToSeed(t *testing.T) {
	bot := newTestBot()
	bot.Generate(context.Background(), "q", &fakeEngine{reply: "a"})

	pairs := bot.Clear()

	if len(pairs) != 0 {
		t.Errorf("Clear() = %v, want empty", pairs)
	}
	if bot.Conversation().Len() != 1 {
		t.Errorf("conversation length = %d, want 1", bot.Conversation().Len())
	}
	if bot.Conversation().Turns()[0].Content != Greeting {
		t.Error("seed greeting not restored")
	}
}

func TestConversation_GrowsByTwoPerExchange(t *testing.T) {
	bot := newTestBot()
	engine := &fakeEngine{reply: "a"}

	for i := 1; i <= 5; i++ {
		bot.Generate(context.Background(), "q", engine)
		want := 1 + 2*i
		if got := bot.Conversation().Len(); got != want {
			t.Fatalf("after %d exchanges length = %d, want %d", i, got, want)
		}
	}
}

func TestChat_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "deepseek-r1:1.5b" {
			t.Errorf("model = %q", req.Model)
		}
		if req.Options == nil || req.Options.Temperature != 0.3 {
			t.Error("temperature not bound to 0.3")
		}
		if !req.Stream {
			t.Error("request did not ask for a streamed response")
		}
		// NDJSON, one object per chunk, stats on the final one.
		enc := json.NewEncoder(w)
		enc.Encode(ollama.ChatResponse{
			Message: ollama.Message{Role: "assistant", Content: `fmt.Println(`},
		})
		enc.Encode(ollama.ChatResponse{
			Message: ollama.Message{Role: "assistant", Content: `"hello world")`},
		})
		enc.Encode(ollama.ChatResponse{
			Message: ollama.Message{Role: "assistant", Content: ""},
			Done:    true,
		})
	}))
	defer srv.Close()

	bot := NewBot(NewEngineFactory(srv.URL, 0.3))
	cleared, pairs := bot.Chat(context.Background(), "print hello world", "deepseek-r1:1.5b")

	if cleared != "" {
		t.Errorf("first return = %q, want empty", cleared)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	if pairs[0].User != "print hello world" || pairs[0].Assistant != `fmt.Println("hello world")` {
		t.Errorf("pairs[0] = %+v, want chunks reassembled in order", pairs[0])
	}
	if bot.Conversation().Len() != 3 {
		t.Errorf("conversation length = %d, want 3", bot.Conversation().Len())
	}
}

// =============================================================================
// MODEL VALIDATION TESTS
// =============================================================================

func TestKnownModel(t *testing.T) {
	allowed := []string{"deepseek-r1:1.5b", "deepseek-r1:7b"}

	if !KnownModel("deepseek-r1:7b", allowed) {
		t.Error("known model rejected")
	}
	if KnownModel("llama3:8b", allowed) {
		t.Error("unknown model accepted")
	}
	if !KnownModel("anything", nil) {
		t.Error("empty allow-list should accept any model")
	}
}
