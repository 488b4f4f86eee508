// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements conversation state and response orchestration.
//
// The package keeps a single authoritative Turn log per Conversation and
// derives the user-visible (question, answer) pairs from it, rather than
// maintaining a separate display history that can drift out of sync.
//
// A Bot serializes exchanges with the inference backend: it renders the
// full conversation into a prompt, invokes an Engine, and records both the
// user turn and the resulting assistant turn. Failures are captured as
// typed Results and recorded as fixed fallback texts so the conversation
// log always reflects every attempt.
package chat
