// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command handlers for codemate.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdStatus
	CmdModels
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet   bool
	Verbose bool
	JSON    bool // Output in JSON format
	Model   string

	// Serve overrides
	Host string
	Port int

	// Command-specific
	ConfigKey  string
	ConfigVal  string
	Subcommand string

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `codemate - web chat front-end for local Ollama models

Codemate serves a single-page chat UI backed by a locally running
Ollama server. Every request is answered by a local model; nothing
leaves the machine.

Usage:
  codemate                   Start the web server (default)
  codemate serve             Start the web server
  codemate status, s         Show system status
  codemate models            List installed Ollama models
  codemate config [show|set] Configuration
  codemate version           Show version information
  codemate help              Show this help

Serve Flags:
  --host ADDR     Bind address (default: 0.0.0.0)
  --port N        Listen port (default: 7860)
  --model NAME    Override default model

Config Commands:
  codemate config show              Show current configuration
  codemate config set <key> <value> Set a configuration value
  codemate config reset             Reset to defaults
  codemate config path              Show config file location

Configuration Keys:
  server.host                Bind address
  server.port                Listen port
  server.rate_limit_per_min  Per-client request limit (0 disables)
  ollama.url                 Ollama server URL
  ollama.default_model       Default model name
  ollama.probe_attempts      Startup probe attempts
  chat.temperature           Sampling temperature

Global Flags:
  -q, --quiet     Minimal output
  --verbose       Debug output
  --json          Output in JSON format

Examples:
  codemate                            Serve on 0.0.0.0:7860
  codemate --port 8080                Serve on a different port
  codemate status                     Check Ollama reachability (alias: s)
  codemate models --json              Installed models as JSON
  codemate config set server.port 8080
  codemate config set ollama.default_model deepseek-r1:7b

Environment Overrides:
  CODEMATE_HOST, CODEMATE_PORT, CODEMATE_OLLAMA_URL,
  CODEMATE_MODEL, CODEMATE_TEMPERATURE

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("codemate version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses os.Args and returns the command and args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses command-line arguments and returns the command and args.
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	// No remaining args means serve with defaults
	if len(remaining) == 0 {
		return CmdServe, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "serve", "run":
		return CmdServe, parsedArgs

	case "status", "s":
		return CmdStatus, parsedArgs

	case "models", "model-list":
		return CmdModels, parsedArgs

	case "config":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs

	case "version", "-v", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		// Unknown command falls back to help rather than silently serving
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		return CmdHelp, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	i := 0
	for i < len(args) {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--model", "-m":
			if i+1 < len(args) {
				i++
				parsedArgs.Model = args[i]
			}
		case "--host":
			if i+1 < len(args) {
				i++
				parsedArgs.Host = args[i]
			}
		case "--port", "-p":
			if i+1 < len(args) {
				i++
				if n, err := strconv.Atoi(args[i]); err == nil && n > 0 && n <= 65535 {
					parsedArgs.Port = n
				}
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--model="):
				parsedArgs.Model = strings.TrimPrefix(arg, "--model=")
			case strings.HasPrefix(arg, "--host="):
				parsedArgs.Host = strings.TrimPrefix(arg, "--host=")
			case strings.HasPrefix(arg, "--port="):
				if n, err := strconv.Atoi(strings.TrimPrefix(arg, "--port=")); err == nil && n > 0 && n <= 65535 {
					parsedArgs.Port = n
				}
			default:
				remaining = append(remaining, arg)
			}
		}
		i++
	}

	return remaining, parsedArgs
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = remaining[0]
		if len(remaining) > 1 {
			args.ConfigKey = remaining[1]
		}
		if len(remaining) > 2 {
			args.ConfigVal = remaining[2]
		}
	}
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// NOTE: HandleStatus and HandleModels are implemented in status.go
// NOTE: HandleConfig is implemented in config.go

// HandleVersion handles the "version" command.
func HandleVersion(args Args) {
	if args.JSON {
		data := VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}
		resp := NewJSONResponse("version", data)
		resp.Print()
		return
	}
	PrintVersion()
}

// HandleHelp handles the "help" command.
func HandleHelp() {
	PrintUsage()
}
