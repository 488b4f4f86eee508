// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Greeting is the assistant turn every conversation starts with.
const Greeting = "Hi! I'm DeepSeek. How can I help you code today? 💻"

// =============================================================================
// EXCHANGE
// =============================================================================

// Exchange is a user message paired with the assistant reply that followed
// it. Exchanges are the display view of a conversation; the Turn log is the
// authoritative record they are derived from.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is an append-only log of turns, seeded with the greeting.
// Safe for concurrent use.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewConversation creates a conversation containing only the greeting turn.
func NewConversation() *Conversation {
	c := &Conversation{}
	c.reset()
	return c
}

func (c *Conversation) reset() {
	c.turns = []Turn{NewAssistantTurn(Greeting)}
}

// Append adds a turn to the log.
func (c *Conversation) Append(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
}

// Reset discards all turns and re-seeds the greeting.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Len returns the number of turns, including the greeting.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Turns returns a copy of the full turn log.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Pairs derives the display exchanges from the turn log. Each user turn is
// paired with the assistant turn that follows it. The seed greeting has no
// preceding user turn and is not part of any pair, so a fresh or reset
// conversation yields an empty slice.
func (c *Conversation) Pairs() []Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pairs := make([]Exchange, 0, len(c.turns)/2)
	for i := 0; i < len(c.turns); i++ {
		if c.turns[i].Role != RoleUser {
			continue
		}
		ex := Exchange{User: c.turns[i].Content}
		if i+1 < len(c.turns) && c.turns[i+1].Role == RoleAssistant {
			ex.Assistant = c.turns[i+1].Content
			i++
		}
		pairs = append(pairs, ex)
	}
	return pairs
}
