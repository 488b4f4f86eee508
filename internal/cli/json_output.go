// json_output.go - JSON output support for scripting and monitoring.
//
// Provides a standardized JSON output format for CLI commands so that
// status and model checks can be consumed by scripts and dashboards.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// JSONResponse is the standardized response format for all CLI commands.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the ISO8601 timestamp when the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Error:     nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Data:      nil,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print outputs the JSON response to stdout.
// Human-readable messages should go to stderr when JSON mode is enabled.
func (r *JSONResponse) Print() error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// String returns the JSON response as a string.
func (r *JSONResponse) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"failed to marshal response: %s","timestamp":"%s"}`,
			err.Error(), time.Now().UTC().Format(time.RFC3339))
	}
	return string(data)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// StatusData represents the data returned by the status command.
type StatusData struct {
	Server StatusServerInfo `json:"server"`
	Ollama StatusOllamaInfo `json:"ollama"`
	Chat   StatusChatInfo   `json:"chat"`
}

// StatusServerInfo contains web server configuration for the status command.
type StatusServerInfo struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	RateLimitPerMin int    `json:"rate_limit_per_min"`
}

// StatusOllamaInfo contains Ollama backend state for the status command.
type StatusOllamaInfo struct {
	URL          string `json:"url"`
	Status       string `json:"status"` // "running" or "not_running"
	DefaultModel string `json:"default_model"`
	ModelStatus  string `json:"model_status"` // "installed", "not_installed", "unknown"
}

// StatusChatInfo contains chat configuration for the status command.
type StatusChatInfo struct {
	Temperature float64  `json:"temperature"`
	Models      []string `json:"models"`
}

// ModelsData represents the data returned by the models command.
type ModelsData struct {
	Models  []ModelEntry `json:"models"`
	Default string       `json:"default"`
}

// ModelEntry describes one installed model.
type ModelEntry struct {
	Name       string `json:"name"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

// ConfigData represents the data returned by the config show command.
type ConfigData struct {
	Server StatusServerInfo `json:"server"`
	Ollama ConfigOllamaInfo `json:"ollama"`
	Chat   StatusChatInfo   `json:"chat"`
	Path   string           `json:"config_path"`
}

// ConfigOllamaInfo contains Ollama configuration for the config command.
type ConfigOllamaInfo struct {
	URL                string `json:"url"`
	DefaultModel       string `json:"default_model"`
	ProbeAttempts      int    `json:"probe_attempts"`
	ProbeDelaySecs     int    `json:"probe_delay_secs"`
	ProbeTimeoutSecs   int    `json:"probe_timeout_secs"`
	RequestTimeoutSecs int    `json:"request_timeout_secs"`
}

// VersionData represents the data returned by the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}
