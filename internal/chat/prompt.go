// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/codemate/internal/ollama"
)

// =============================================================================
// SYSTEM PROMPT
// =============================================================================

// SystemPrompt is the fixed instruction prepended to every request.
const SystemPrompt = "You are an expert AI coding assistant. Provide concise, correct solutions " +
	"with strategic print statements for debugging. Always respond in English."

// =============================================================================
// PROMPT RENDERING
// =============================================================================

// RenderPrompt builds the full message list for one exchange: the system
// instruction, every prior turn in order, then the new user input. The
// entire history is always sent; there is no windowing or truncation.
func RenderPrompt(history []Turn, input string) []ollama.Message {
	messages := make([]ollama.Message, 0, len(history)+2)
	messages = append(messages, ollama.NewSystemMessage(SystemPrompt))

	for _, t := range history {
		messages = append(messages, ollama.Message{
			Role:    string(t.Role),
			Content: t.Content,
		})
	}

	messages = append(messages, ollama.NewUserMessage(input))
	return messages
}
