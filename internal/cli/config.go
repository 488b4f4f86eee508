// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for codemate.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display current configuration
//   set <key> <value>   Set a configuration value
//   reset               Reset to default configuration
//   path                Show configuration file path
//
// Examples:
//   codemate config                       Show current config (default)
//   codemate config show --json           Config in JSON format
//   codemate config set server.port 8080
//   codemate config set ollama.default_model deepseek-r1:7b
//   codemate config set chat.temperature 0.5
//   codemate config reset                 Reset to defaults
//   codemate config path                  Show config file location
//
// Keys use dot notation matching the TOML sections (server.port,
// ollama.url, chat.temperature). Underscores within a section are
// part of the key name (ollama.default_model).
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/codemate/internal/config"
)

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	path, err := config.ConfigPathTOML()
	if err != nil {
		return ""
	}
	return path
}

// =============================================================================
// HANDLE CONFIG
// =============================================================================

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	switch args.Subcommand {
	case "", "show":
		if args.JSON {
			return handleConfigShowJSON()
		}
		return handleConfigShow()

	case "set":
		return handleConfigSet(args.ConfigKey, args.ConfigVal)

	case "reset", "init":
		return handleConfigReset()

	case "path":
		return handleConfigPath(args)

	default:
		return fmt.Errorf("unknown config subcommand: %s", args.Subcommand)
	}
}

// handleConfigShowJSON outputs configuration in JSON format.
func handleConfigShowJSON() error {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}

	data := ConfigData{
		Server: StatusServerInfo{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			RateLimitPerMin: cfg.Server.RateLimitPerMin,
		},
		Ollama: ConfigOllamaInfo{
			URL:                cfg.Ollama.URL,
			DefaultModel:       cfg.Ollama.DefaultModel,
			ProbeAttempts:      cfg.Ollama.ProbeAttempts,
			ProbeDelaySecs:     cfg.Ollama.ProbeDelaySecs,
			ProbeTimeoutSecs:   cfg.Ollama.ProbeTimeoutSecs,
			RequestTimeoutSecs: cfg.Ollama.RequestTimeoutSecs,
		},
		Chat: StatusChatInfo{
			Temperature: cfg.Chat.Temperature,
			Models:      cfg.Chat.Models,
		},
		Path: ConfigPath(),
	}

	resp := NewJSONResponse("config show", data)
	return resp.Print()
}

// handleConfigShow displays the current configuration.
func handleConfigShow() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s (using defaults)\n", err)
		cfg = config.Default()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("codemate Configuration"))
	fmt.Println(RenderSeparator())
	fmt.Println()

	// Server section
	fmt.Println(SectionStyle.Render("[server]"))
	printConfigKV("host:", cfg.Server.Host)
	printConfigKV("port:", fmt.Sprintf("%d", cfg.Server.Port))
	printConfigKV("rate_limit_per_min:", fmt.Sprintf("%d", cfg.Server.RateLimitPerMin))
	fmt.Println()

	// Ollama section
	fmt.Println(SectionStyle.Render("[ollama]"))
	printConfigKV("url:", cfg.Ollama.URL)
	printConfigKV("default_model:", cfg.Ollama.DefaultModel)
	printConfigKV("probe_attempts:", fmt.Sprintf("%d", cfg.Ollama.ProbeAttempts))
	printConfigKV("probe_delay_secs:", fmt.Sprintf("%d", cfg.Ollama.ProbeDelaySecs))
	printConfigKV("probe_timeout_secs:", fmt.Sprintf("%d", cfg.Ollama.ProbeTimeoutSecs))
	printConfigKV("request_timeout_secs:", fmt.Sprintf("%d", cfg.Ollama.RequestTimeoutSecs))
	fmt.Println()

	// Chat section
	fmt.Println(SectionStyle.Render("[chat]"))
	printConfigKV("temperature:", fmt.Sprintf("%.1f", cfg.Chat.Temperature))
	printConfigKV("models:", strings.Join(cfg.Chat.Models, ", "))
	fmt.Println()

	// Config file path
	fmt.Println(SeparatorStyle.Render(strings.Repeat("-", 41)))
	fmt.Printf("Config file: %s\n", DimStyle.Render(ConfigPath()))
	fmt.Println()

	return nil
}

// printConfigKV prints a single key/value line with aligned columns.
func printConfigKV(key, value string) {
	fmt.Printf("  %s%s\n",
		RenderLabel(key, 22),
		HighlightStyle.Render(value))
}

// handleConfigSet sets a configuration value.
func handleConfigSet(key, value string) error {
	if key == "" {
		return fmt.Errorf("no config key provided\nUsage: codemate config set <key> <value>")
	}
	if value == "" {
		return fmt.Errorf("no config value provided\nUsage: codemate config set %s <value>", key)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s (using defaults)\n", err)
		cfg = config.Default()
	}

	key = strings.ToLower(key)

	if err := cfg.Set(key, value); err != nil {
		return fmt.Errorf("could not set %s: %w\n\nValid keys:\n  %s",
			key, err, strings.Join(config.GetAllKeys(), "\n  "))
	}

	// Validate before persisting so a bad value never lands on disk
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration value: %w", err)
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
	return nil
}

// handleConfigReset resets configuration to defaults.
func handleConfigReset() error {
	cfg := config.Default()

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("%s Configuration reset to defaults\n", SuccessStyle.Render("[OK]"))
	fmt.Printf("Config file: %s\n", DimStyle.Render(ConfigPath()))

	return nil
}

// handleConfigPath shows the config file path.
func handleConfigPath(args Args) error {
	path := ConfigPath()
	_, statErr := os.Stat(path)
	exists := !os.IsNotExist(statErr)

	if args.JSON {
		data := map[string]interface{}{
			"path":   path,
			"exists": exists,
		}
		resp := NewJSONResponse("config path", data)
		return resp.Print()
	}

	fmt.Println(path)
	if !exists {
		fmt.Fprintf(os.Stderr, "%s (file does not exist - will be created on first use)\n",
			DimStyle.Render("Note"))
	}

	return nil
}
