// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codemate/internal/chat"
	"github.com/jeranaias/codemate/internal/config"
	"github.com/jeranaias/codemate/internal/ollama"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeBackend serves the minimal Ollama API surface the server touches.
func fakeBackend(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/chat":
			// The real API streams NDJSON chunks; mimic that shape.
			enc := json.NewEncoder(w)
			enc.Encode(ollama.ChatResponse{
				Message: ollama.Message{Role: "assistant", Content: reply},
			})
			enc.Encode(ollama.ChatResponse{
				Message: ollama.Message{Role: "assistant"},
				Done:    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestServer(backendURL string) *Server {
	cfg := config.Default()
	cfg.Ollama.URL = backendURL
	cfg.Server.RateLimitPerMin = 0

	bot := chat.NewBot(chat.NewEngineFactory(backendURL, cfg.Chat.Temperature))
	return NewServer(cfg, bot)
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getPath(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// CHAT HANDLER TESTS
// =============================================================================

func TestHandleChat(t *testing.T) {
	backend := fakeBackend(t, "use a debugger")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	h := srv.Handler()

	rec := postJSON(t, h, "/api/chat", ChatRequest{Message: "how do I debug?", Model: "deepseek-r1:1.5b"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "use a debugger", resp.Reply)
	assert.Equal(t, chat.StatusOK, resp.Status)
	require.Len(t, resp.History, 1)
	assert.Equal(t, "how do I debug?", resp.History[0].User)
	assert.Equal(t, "use a debugger", resp.History[0].Assistant)
}

func TestHandleChat_DefaultsModel(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	rec := postJSON(t, srv.Handler(), "/api/chat", ChatRequest{Message: "hi"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, chat.StatusOK, resp.Status)
}

func TestHandleChat_UnknownModel(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	rec := postJSON(t, srv.Handler(), "/api/chat", ChatRequest{Message: "hi", Model: "llama3:8b"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown model")
}

func TestHandleChat_EmptyMessageIsNoOp(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	rec := postJSON(t, srv.Handler(), "/api/chat", ChatRequest{Message: ""})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.History)
	assert.Equal(t, 1, srv.bot.Conversation().Len())
}

func TestHandleChat_MessageTooLong(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	rec := postJSON(t, srv.Handler(), "/api/chat", ChatRequest{Message: strings.Repeat("a", MaxMessageLength+1)})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChat_InvalidBody(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid request format")
}

func TestHandleChat_BackendDown(t *testing.T) {
	srv := newTestServer("http://127.0.0.1:1")
	rec := postJSON(t, srv.Handler(), "/api/chat", ChatRequest{Message: "hi"})

	// Backend failures surface as a recorded fallback reply, not an HTTP error.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, chat.StatusFailed, resp.Status)
	assert.Equal(t, chat.ErrorText, resp.Reply)
	require.Len(t, resp.History, 1)
	assert.Equal(t, chat.ErrorText, resp.History[0].Assistant)
}

// =============================================================================
// STOP / CLEAR TESTS
// =============================================================================

func TestHandleStop(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	rec := postJSON(t, srv.Handler(), "/api/stop", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleClear(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	h := srv.Handler()

	postJSON(t, h, "/api/chat", ChatRequest{Message: "hi"})
	require.Equal(t, 3, srv.bot.Conversation().Len())

	rec := postJSON(t, h, "/api/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.History)
	assert.Equal(t, 1, srv.bot.Conversation().Len())
}

// =============================================================================
// MODELS / HEALTH / INDEX TESTS
// =============================================================================

func TestHandleModels(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	rec := getPath(srv.Handler(), "/api/models")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "deepseek-r1:1.5b", resp.Default)
	assert.Contains(t, resp.Models, "deepseek-r1:7b")
}

func TestHandleModels_ReflectsConfigUpdate(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	h := srv.Handler()

	updated := config.Default()
	updated.Ollama.URL = backend.URL
	updated.Chat.Models = []string{"qwen2.5-coder:7b"}
	updated.Ollama.DefaultModel = "qwen2.5-coder:7b"
	srv.UpdateConfig(updated)

	rec := getPath(h, "/api/models")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"qwen2.5-coder:7b"}, resp.Models)
	assert.Equal(t, "qwen2.5-coder:7b", resp.Default)

	// Model validation in the chat handler follows the updated list too.
	rec = postJSON(t, h, "/api/chat", ChatRequest{Message: "hi", Model: "deepseek-r1:1.5b"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown model")
}

func TestHandleHealth(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	rec := getPath(srv.Handler(), "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.OllamaStatus)
}

func TestHandleHealth_BackendDown(t *testing.T) {
	srv := newTestServer("http://127.0.0.1:1")
	rec := getPath(srv.Handler(), "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unavailable", resp.OllamaStatus)
}

func TestHandleIndex(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	rec := getPath(srv.Handler(), "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "DeepSeek Code Companion")
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestSecurityHeaders(t *testing.T) {
	backend := fakeBackend(t, "ok")
	defer backend.Close()

	srv := newTestServer(backend.URL)
	rec := getPath(srv.Handler(), "/health")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(1)

	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimit_PerClient(t *testing.T) {
	limiter := NewRateLimiter(1)

	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	a := httptest.NewRequest(http.MethodGet, "/", nil)
	a.RemoteAddr = "203.0.113.1:1234"
	b := httptest.NewRequest(http.MethodGet, "/", nil)
	b.RemoteAddr = "203.0.113.2:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, a)
	require.Equal(t, http.StatusOK, rec.Code)

	// A different client has its own bucket.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, b)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	// Untrusted source: forwarded headers are ignored.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:9999"
	req.Header.Set("X-Forwarded-For", "10.1.2.3")
	assert.Equal(t, "203.0.113.5", GetClientIP(req))

	// Trusted proxy: first forwarded IP wins.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", GetClientIP(req))

	// Trusted proxy with garbage header falls back to connection IP.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "127.0.0.1", GetClientIP(req))
}
