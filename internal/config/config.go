// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for codemate.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.codemate/config.toml
//   - ~/.codemate/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/codemate/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete codemate configuration.
type Config struct {
	// General settings
	Version string `toml:"version" json:"version"`

	// HTTP server configuration
	Server ServerConfig `toml:"server" json:"server"`

	// Ollama backend configuration
	Ollama OllamaConfig `toml:"ollama" json:"ollama"`

	// Chat behavior configuration
	Chat ChatConfig `toml:"chat" json:"chat"`
}

// ServerConfig contains the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address. "0.0.0.0" listens on all interfaces,
	// which is intentional: the app is designed to run inside a container
	// with the port published to the host.
	Host string `toml:"host" json:"host"`
	// Port is the listen port
	Port int `toml:"port" json:"port"`
	// RateLimitPerMin caps requests per client IP per minute (0 = disabled)
	RateLimitPerMin int `toml:"rate_limit_per_min" json:"rate_limit_per_min"`
}

// OllamaConfig contains Ollama backend configuration.
type OllamaConfig struct {
	// URL is the Ollama server base URL
	URL string `toml:"url" json:"url"`
	// DefaultModel is the model used when a request does not name one
	DefaultModel string `toml:"default_model" json:"default_model"`
	// ProbeAttempts is the number of startup connectivity checks
	ProbeAttempts int `toml:"probe_attempts" json:"probe_attempts"`
	// ProbeDelaySecs is the delay between failed startup checks
	ProbeDelaySecs int `toml:"probe_delay_secs" json:"probe_delay_secs"`
	// ProbeTimeoutSecs is the timeout for a single startup check
	ProbeTimeoutSecs int `toml:"probe_timeout_secs" json:"probe_timeout_secs"`
	// RequestTimeoutSecs is the timeout for a single chat completion
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// ChatConfig contains chat behavior configuration.
type ChatConfig struct {
	// Temperature is the sampling temperature for every completion
	Temperature float64 `toml:"temperature" json:"temperature"`
	// Models is the list of models offered in the UI. The first entry
	// that matches ollama.default_model is preselected.
	Models []string `toml:"models" json:"models"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            7860,
			RateLimitPerMin: 60,
		},
		Ollama: OllamaConfig{
			URL:                "http://127.0.0.1:11434",
			DefaultModel:       "deepseek-r1:1.5b",
			ProbeAttempts:      3,
			ProbeDelaySecs:     3,
			ProbeTimeoutSecs:   5,
			RequestTimeoutSecs: 120,
		},
		Chat: ChatConfig{
			Temperature: 0.3,
			Models: []string{
				"deepseek-r1:1.5b",
				"deepseek-r1:7b",
				"deepseek-r1:14b",
			},
		},
	}
}

// =============================================================================
// DURATION HELPERS
// =============================================================================

// ProbeDelay returns the delay between startup checks as a duration.
func (o OllamaConfig) ProbeDelay() time.Duration {
	return time.Duration(o.ProbeDelaySecs) * time.Second
}

// ProbeTimeout returns the single-check timeout as a duration.
func (o OllamaConfig) ProbeTimeout() time.Duration {
	return time.Duration(o.ProbeTimeoutSecs) * time.Second
}

// RequestTimeout returns the completion timeout as a duration.
func (o OllamaConfig) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutSecs) * time.Second
}

// ListenAddr returns the host:port address to bind.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the codemate configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".codemate"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	// Try TOML first
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				cfg.ApplyEnvOverrides()
				if err := cfg.Validate(); err != nil {
					return nil, fmt.Errorf("invalid config: %w", err)
				}
				return cfg, nil
			}
		}
	}

	// Try JSON as fallback
	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				cfg.ApplyEnvOverrides()
				if err := cfg.Validate(); err != nil {
					return nil, fmt.Errorf("invalid config: %w", err)
				}
				return cfg, nil
			}
		}
	}

	// Apply environment overrides to defaults
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Return defaults (with any load error for informational purposes)
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		// Default to TOML
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}

	// Ollama
	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = defaults.Ollama.URL
	}
	if cfg.Ollama.DefaultModel == "" {
		cfg.Ollama.DefaultModel = defaults.Ollama.DefaultModel
	}
	if cfg.Ollama.ProbeAttempts == 0 {
		cfg.Ollama.ProbeAttempts = defaults.Ollama.ProbeAttempts
	}
	if cfg.Ollama.ProbeDelaySecs == 0 {
		cfg.Ollama.ProbeDelaySecs = defaults.Ollama.ProbeDelaySecs
	}
	if cfg.Ollama.ProbeTimeoutSecs == 0 {
		cfg.Ollama.ProbeTimeoutSecs = defaults.Ollama.ProbeTimeoutSecs
	}
	if cfg.Ollama.RequestTimeoutSecs == 0 {
		cfg.Ollama.RequestTimeoutSecs = defaults.Ollama.RequestTimeoutSecs
	}

	// Chat
	if cfg.Chat.Temperature == 0 {
		cfg.Chat.Temperature = defaults.Chat.Temperature
	}
	if len(cfg.Chat.Models) == 0 {
		cfg.Chat.Models = append([]string(nil), defaults.Chat.Models...)
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Ensure permissions are correct even if file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# codemate configuration file")
	fmt.Fprintln(file, "# Generated by codemate - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port),
		})
	}
	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_per_min",
			Message: "cannot be negative",
		})
	}

	// Ollama
	if c.Ollama.URL != "" {
		if u, err := url.Parse(c.Ollama.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "ollama.url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Ollama.URL),
			})
		}
	}
	if c.Ollama.ProbeAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "ollama.probe_attempts",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Ollama.ProbeAttempts),
		})
	}
	if c.Ollama.ProbeDelaySecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "ollama.probe_delay_secs",
			Message: "cannot be negative",
		})
	}
	if c.Ollama.ProbeTimeoutSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "ollama.probe_timeout_secs",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Ollama.ProbeTimeoutSecs),
		})
	}

	// Chat
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "chat.temperature",
			Message: fmt.Sprintf("must be 0-2, got %v", c.Chat.Temperature),
		})
	}
	if len(c.Chat.Models) == 0 {
		errs = append(errs, ValidationError{
			Field:   "chat.models",
			Message: "at least one model is required",
		})
	}

	// The default model must be offered, otherwise the UI preselects
	// something the backend will never be asked for.
	if c.Ollama.DefaultModel != "" && len(c.Chat.Models) > 0 {
		found := false
		for _, m := range c.Chat.Models {
			if m == c.Ollama.DefaultModel {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, ValidationError{
				Field:   "ollama.default_model",
				Message: fmt.Sprintf("'%s' is not in chat.models", c.Ollama.DefaultModel),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CODEMATE_HOST: overrides server.host
//   - CODEMATE_PORT: overrides server.port
//   - CODEMATE_OLLAMA_URL: overrides ollama.url
//   - CODEMATE_MODEL: overrides ollama.default_model
//   - CODEMATE_TEMPERATURE: overrides chat.temperature
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("CODEMATE_HOST"); host != "" {
		c.Server.Host = host
	}

	if port := os.Getenv("CODEMATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if ollamaURL := os.Getenv("CODEMATE_OLLAMA_URL"); ollamaURL != "" {
		c.Ollama.URL = ollamaURL
	}

	if model := os.Getenv("CODEMATE_MODEL"); model != "" {
		c.Ollama.DefaultModel = model
	}

	if temp := os.Getenv("CODEMATE_TEMPERATURE"); temp != "" {
		if t, err := strconv.ParseFloat(temp, 64); err == nil {
			c.Chat.Temperature = t
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "server.port").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field.Interface(), nil
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a configuration value using dot notation (e.g., "server.port").
func (c *Config) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}

	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	// Handle string input with type conversion
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.ToLower(strVal) == "true" || strings.ToLower(strVal) == "yes"
			field.SetBool(boolVal)
			return nil
		}
	}

	// Direct assignment for matching types
	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}

	// Type conversion for compatible types
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"server.host",
		"server.port",
		"server.rate_limit_per_min",
		"ollama.url",
		"ollama.default_model",
		"ollama.probe_attempts",
		"ollama.probe_delay_secs",
		"ollama.probe_timeout_secs",
		"ollama.request_timeout_secs",
		"chat.temperature",
		"chat.models",
	}
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Chat.Models = append([]string(nil), c.Chat.Models...)
	return &clone
}

// String returns a string representation of the config for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			// Log but don't fail - use defaults
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
