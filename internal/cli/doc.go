// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface parsing and execution for codemate.
//
// This package implements the non-server commands (status, config, models,
// version, help) and the argument parsing that main.go dispatches on.
//
// # Key Types
//
//   - Command: Enumeration of all available CLI commands
//   - Args: Parsed command-line arguments with global and command-specific flags
//   - JSONResponse: Machine-readable output envelope for the --json flag
//
// # Usage
//
// Parse and execute commands:
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdServe:
//	    runServe(args)
//	case cli.CmdStatus:
//	    cli.HandleStatus(args)
//	// ... other commands
//	}
//
// # Commands Overview
//
//   - serve: Start the chat web server (default)
//   - status: Show server configuration and Ollama reachability
//   - models: List models installed on the Ollama server
//   - config: View and modify configuration
//   - version: Print version information
//
// The status, models, config, and version commands support --json output.
package cli
