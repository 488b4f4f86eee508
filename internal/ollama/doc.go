// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with a locally
// hosted Ollama inference server.
//
// The client covers the three interactions codemate needs:
//
//   - Connectivity probing at startup (CheckRunning, WaitForReady)
//   - Model discovery for the browser dropdown (ListModels)
//   - Chat completion, both buffered and streaming (Chat, ChatStream)
//
// Streaming responses arrive as newline-delimited JSON; StreamReader decodes
// them line by line and checks the context between chunks, which is the
// suspension point used for user-initiated cancellation.
//
// Errors are categorized with ClientError so callers can distinguish a server
// that is not running from a model that does not exist or a timed-out
// request. Use the IsNotRunning, IsModelNotFound, and IsTimeout helpers.
package ollama
