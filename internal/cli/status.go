// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Status and models command implementations for codemate.
//
// Command: status
// Short:   Display server and backend status
// Aliases: s
//
// Examples:
//   codemate status               Show system status
//   codemate s                    Show status (short alias)
//   codemate status --json        Status in JSON format
//
// Status Sections:
//   Server:  Bind address, port, rate limit
//   Ollama:  URL, reachability, default model availability
//   Chat:    Temperature, configured model list
//
// Command: models
// Short:   List models installed on the Ollama server
//
// Examples:
//   codemate models               List installed models
//   codemate models --json        Installed models as JSON
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/codemate/internal/config"
	"github.com/jeranaias/codemate/internal/ollama"
)

// statusProbeTimeout bounds each backend check made by the status command.
const statusProbeTimeout = 3 * time.Second

// =============================================================================
// HANDLE STATUS
// =============================================================================

// HandleStatus handles the "status" command.
// Displays server configuration, Ollama reachability, and model availability.
func HandleStatus(args Args) error {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}
	if args.Model != "" {
		cfg.Ollama.DefaultModel = args.Model
	}

	client := newStatusClient(cfg)

	if args.JSON {
		return handleStatusJSON(cfg, client)
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("codemate Status"))
	fmt.Println(RenderSeparator())
	fmt.Println()

	// Server section
	fmt.Println(SectionStyle.Render("Server"))
	fmt.Printf("  %s%s\n",
		RenderLabel("Listen:", 14),
		ValueStyle.Render(cfg.Server.ListenAddr()))
	rateStr := "disabled"
	if cfg.Server.RateLimitPerMin > 0 {
		rateStr = fmt.Sprintf("%d req/min per client", cfg.Server.RateLimitPerMin)
	}
	fmt.Printf("  %s%s\n",
		RenderLabel("Rate Limit:", 14),
		ValueStyle.Render(rateStr))
	fmt.Println()

	// Ollama section
	fmt.Println(SectionStyle.Render("Ollama"))
	fmt.Printf("  %s%s\n",
		RenderLabel("URL:", 14),
		ValueStyle.Render(cfg.Ollama.URL))
	fmt.Println(formatOllamaStatus(client))
	fmt.Println(formatModelStatus(cfg, client))
	fmt.Println()

	// Chat section
	fmt.Println(SectionStyle.Render("Chat"))
	fmt.Printf("  %s%s\n",
		RenderLabel("Temperature:", 14),
		ValueStyle.Render(fmt.Sprintf("%.1f", cfg.Chat.Temperature)))
	fmt.Printf("  %s%s\n",
		RenderLabel("Models:", 14),
		ValueStyle.Render(strings.Join(cfg.Chat.Models, ", ")))
	fmt.Println()

	return nil
}

// handleStatusJSON outputs status information in JSON format.
func handleStatusJSON(cfg *config.Config, client *ollama.Client) error {
	data := StatusData{
		Server: StatusServerInfo{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			RateLimitPerMin: cfg.Server.RateLimitPerMin,
		},
		Ollama: collectOllamaInfo(cfg, client),
		Chat: StatusChatInfo{
			Temperature: cfg.Chat.Temperature,
			Models:      cfg.Chat.Models,
		},
	}

	resp := NewJSONResponse("status", data)
	return resp.Print()
}

// collectOllamaInfo gathers backend reachability for JSON output.
func collectOllamaInfo(cfg *config.Config, client *ollama.Client) StatusOllamaInfo {
	info := StatusOllamaInfo{
		URL:          cfg.Ollama.URL,
		DefaultModel: cfg.Ollama.DefaultModel,
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusProbeTimeout)
	defer cancel()

	if err := client.CheckRunning(ctx); err != nil {
		info.Status = "not_running"
		info.ModelStatus = "unknown"
		return info
	}
	info.Status = "running"

	models, err := client.ListModels(ctx)
	if err != nil {
		info.ModelStatus = "unknown"
		return info
	}
	if modelInstalled(models, cfg.Ollama.DefaultModel) {
		info.ModelStatus = "installed"
	} else {
		info.ModelStatus = "not_installed"
	}
	return info
}

// =============================================================================
// HANDLE MODELS
// =============================================================================

// HandleModels handles the "models" command.
// Lists models installed on the Ollama server, marking the default.
func HandleModels(args Args) error {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}
	if args.Model != "" {
		cfg.Ollama.DefaultModel = args.Model
	}

	client := newStatusClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), statusProbeTimeout)
	defer cancel()

	models, err := client.ListModels(ctx)
	if err != nil {
		if args.JSON {
			resp := NewJSONErrorResponse("models", err)
			resp.Print()
		}
		return fmt.Errorf("could not list models: %w", err)
	}

	if args.JSON {
		data := ModelsData{Default: cfg.Ollama.DefaultModel}
		for _, m := range models {
			data.Models = append(data.Models, ModelEntry{
				Name:       m.Name,
				SizeBytes:  m.Size,
				ModifiedAt: m.ModifiedAt.UTC().Format(time.RFC3339),
			})
		}
		resp := NewJSONResponse("models", data)
		return resp.Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Installed Models"))
	fmt.Println(RenderSeparator())

	if len(models) == 0 {
		fmt.Println(DimStyle.Render("  (none installed)"))
		fmt.Println()
		return nil
	}

	for _, m := range models {
		marker := "  "
		name := ValueStyle.Render(m.Name)
		if m.Name == cfg.Ollama.DefaultModel {
			marker = HighlightStyle.Render("* ")
			name = HighlightStyle.Render(m.Name)
		}
		fmt.Printf("%s%s %s\n", marker, name,
			DimStyle.Render(formatModelSize(m.Size)))
	}
	fmt.Println()
	fmt.Println(DimStyle.Render("* default model"))
	fmt.Println()

	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// newStatusClient builds an Ollama client bound to the configured backend.
func newStatusClient(cfg *config.Config) *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Ollama.URL,
		ProbeTimeout: cfg.Ollama.ProbeTimeout(),
		DefaultModel: cfg.Ollama.DefaultModel,
	})
}

// formatOllamaStatus returns a formatted line describing Ollama reachability.
func formatOllamaStatus(client *ollama.Client) string {
	ctx, cancel := context.WithTimeout(context.Background(), statusProbeTimeout)
	defer cancel()

	var statusStr string
	if err := client.CheckRunning(ctx); err != nil {
		statusStr = ErrorStyle.Render("Not running")
	} else {
		statusStr = SuccessStyle.Render("Running")
	}

	return fmt.Sprintf("  %s%s", RenderLabel("Status:", 14), statusStr)
}

// formatModelStatus returns a formatted line describing default model availability.
func formatModelStatus(cfg *config.Config, client *ollama.Client) string {
	ctx, cancel := context.WithTimeout(context.Background(), statusProbeTimeout)
	defer cancel()

	modelName := cfg.Ollama.DefaultModel

	var modelStr string
	models, err := client.ListModels(ctx)
	switch {
	case err != nil:
		modelStr = DimStyle.Render(fmt.Sprintf("%s (availability unknown)", modelName))
	case modelInstalled(models, modelName):
		modelStr = SuccessStyle.Render(fmt.Sprintf("%s (installed)", modelName))
	default:
		modelStr = WarningStyle.Render(fmt.Sprintf("%s (not installed)", modelName))
	}

	return fmt.Sprintf("  %s%s", RenderLabel("Model:", 14), modelStr)
}

// modelInstalled reports whether name matches an installed model.
// A bare name matches any tagged variant of the same model.
func modelInstalled(models []ollama.ModelInfo, name string) bool {
	for _, m := range models {
		if m.Name == name || strings.HasPrefix(m.Name, name+":") {
			return true
		}
	}
	return false
}

// formatModelSize renders a byte count as a human-readable size.
func formatModelSize(size int64) string {
	if size <= 0 {
		return ""
	}
	const gb = 1024 * 1024 * 1024
	const mb = 1024 * 1024
	if size >= gb {
		return fmt.Sprintf("(%.1f GB)", float64(size)/gb)
	}
	return fmt.Sprintf("(%d MB)", size/mb)
}
