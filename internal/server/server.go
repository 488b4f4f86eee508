// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP front end for the chat application.
//
// Endpoints:
//   - GET  /           - Embedded browser chat page
//   - POST /api/chat   - Run one exchange and return the updated history
//   - POST /api/stop   - Cancel the in-flight generation
//   - POST /api/clear  - Reset the conversation
//   - GET  /api/models - List offered models
//   - GET  /health     - Health check including backend reachability
package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/codemate/internal/chat"
	"github.com/jeranaias/codemate/internal/config"
	"github.com/jeranaias/codemate/internal/ollama"
	"github.com/jeranaias/codemate/internal/util"
)

//go:embed web/index.html
var webFS embed.FS

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize is the maximum size for request body to prevent DoS (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum length for a single chat message.
	MaxMessageLength = 100000

	// Version is the server version.
	Version = "1.0.0"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks server usage counters.
type ServerStats struct {
	TotalRequests int64
	Exchanges     int64
	Failures      int64
	Stops         int64
	StartTime     time.Time
}

// NewServerStats creates a new ServerStats instance.
func NewServerStats() *ServerStats {
	return &ServerStats{StartTime: time.Now()}
}

// RecordExchange records the outcome of one chat exchange.
func (s *ServerStats) RecordExchange(status chat.Status) {
	atomic.AddInt64(&s.Exchanges, 1)
	switch status {
	case chat.StatusFailed, chat.StatusEmpty:
		atomic.AddInt64(&s.Failures, 1)
	case chat.StatusStopped:
		atomic.AddInt64(&s.Stops, 1)
	}
}

// Uptime returns the server uptime duration.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP server hosting the chat UI and API.
type Server struct {
	cfg    *config.Config
	router *http.ServeMux
	server *http.Server

	bot    *chat.Bot
	ollama *ollama.Client
	stats  *ServerStats

	mu sync.RWMutex
}

// NewServer creates a server for the given configuration. The bot holds the
// single conversation all requests share.
func NewServer(cfg *config.Config, bot *chat.Bot) *Server {
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Server{
		cfg:    cfg,
		router: http.NewServeMux(),
		bot:    bot,
		ollama: ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL:      cfg.Ollama.URL,
			ProbeTimeout: cfg.Ollama.ProbeTimeout(),
			DefaultModel: cfg.Ollama.DefaultModel,
		}),
		stats: NewServerStats(),
	}

	s.setupRoutes()
	return s
}

// WithOllamaClient sets a custom Ollama client.
func (s *Server) WithOllamaClient(client *ollama.Client) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ollama = client
	return s
}

// UpdateConfig swaps in a freshly loaded configuration for subsequent
// requests. Only dynamic fields (model list, default model, request timeout)
// take effect this way; the listen address and middleware stack are fixed at
// startup.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// config returns the current configuration snapshot.
func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	var limiter *RateLimiter
	if s.cfg.Server.RateLimitPerMin > 0 {
		limiter = NewRateLimiter(s.cfg.Server.RateLimitPerMin)
	}

	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(limiter),
	)(s.router)
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /{$}", s.handleIndex)

	s.router.HandleFunc("POST /api/chat", s.handleChat)
	s.router.HandleFunc("POST /api/stop", s.handleStop)
	s.router.HandleFunc("POST /api/clear", s.handleClear)
	s.router.HandleFunc("GET /api/models", s.handleModels)

	s.router.HandleFunc("GET /health", s.handleHealth)
}

// ============================================================================
// API TYPES
// ============================================================================

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// ChatResponse is the response for POST /api/chat. History is the full
// display view of the conversation after the exchange.
type ChatResponse struct {
	Reply   string          `json:"reply"`
	Status  chat.Status     `json:"status"`
	History []chat.Exchange `json:"history"`
}

// HistoryResponse carries just the display history (used by /api/clear).
type HistoryResponse struct {
	History []chat.Exchange `json:"history"`
}

// ModelsResponse is the response for GET /api/models.
type ModelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	OllamaStatus string `json:"ollama_status"`
	UptimeSecs   int64  `json:"uptime_secs"`
}

// ============================================================================
// CHAT HANDLERS
// ============================================================================

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	atomic.AddInt64(&s.stats.TotalRequests, 1)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		log.Printf("Invalid request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if len(req.Message) > MaxMessageLength {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Message exceeds maximum length of %d", MaxMessageLength))
		return
	}

	cfg := s.config()

	model := req.Model
	if model == "" {
		model = cfg.Ollama.DefaultModel
	}
	if !chat.KnownModel(model, cfg.Chat.Models) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown model '%s'", model))
		return
	}

	log.Printf("CHAT_HANDLER | model=%s preview=%s", model, util.TruncateRunes(req.Message, 50))

	ctx, cancel := context.WithTimeout(r.Context(), cfg.Ollama.RequestTimeout())
	defer cancel()

	result, history := s.bot.ChatResult(ctx, req.Message, model)
	s.stats.RecordExchange(result.Status)

	s.writeJSON(w, http.StatusOK, ChatResponse{
		Reply:   result.Text,
		Status:  result.Status,
		History: history,
	})
}

// handleStop handles POST /api/stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.bot.Stop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleClear handles POST /api/clear.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	history := s.bot.Clear()
	s.writeJSON(w, http.StatusOK, HistoryResponse{History: history})
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// handleModels handles GET /api/models. The offered list comes from
// configuration, not from the backend: the UI should present the same
// choices whether or not the models are pulled yet.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	s.writeJSON(w, http.StatusOK, ModelsResponse{
		Models:  cfg.Chat.Models,
		Default: cfg.Ollama.DefaultModel,
	})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:     "ok",
		Version:    Version,
		UptimeSecs: int64(s.stats.Uptime().Seconds()),
	}

	s.mu.RLock()
	client := s.ollama
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := client.CheckRunning(ctx); err == nil {
		health.OllamaStatus = "ok"
	} else {
		health.OllamaStatus = "unavailable"
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// INDEX HANDLER
// ============================================================================

// handleIndex serves the embedded chat page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := webFS.ReadFile("web/index.html")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "UI unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.cfg.Server.ListenAddr()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.cfg.Ollama.RequestTimeout() + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "invalid_request_error",
			"code":    status,
		},
	})
}
