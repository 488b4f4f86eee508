// codemate - a web chat front-end for local Ollama models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/codemate/internal/chat"
	"github.com/jeranaias/codemate/internal/cli"
	"github.com/jeranaias/codemate/internal/config"
	"github.com/jeranaias/codemate/internal/ollama"
	"github.com/jeranaias/codemate/internal/server"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// shutdownTimeout bounds how long in-flight requests may run after a
// termination signal before the listener is torn down.
const shutdownTimeout = 10 * time.Second

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	switch cmd {
	case cli.CmdServe:
		runServe(args)
	case cli.CmdStatus:
		if err := cli.HandleStatus(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case cli.CmdModels:
		if err := cli.HandleModels(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case cli.CmdConfig:
		if err := cli.HandleConfig(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case cli.CmdVersion:
		cli.HandleVersion(args)
	case cli.CmdHelp:
		cli.HandleHelp()
	default:
		runServe(args)
	}
}

// runServe loads configuration, probes the Ollama backend, and runs the
// web server until interrupted.
func runServe(args cli.Args) {
	if args.Quiet {
		log.SetOutput(io.Discard)
	}
	if args.Verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		cfg = config.Default()
	}
	cfg.ApplyEnvOverrides()
	applyServeOverrides(cfg, args)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	config.SetGlobal(cfg)

	// The server is useless without a reachable backend, so probe before
	// binding the listener and refuse to start when the probe exhausts.
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Ollama.URL,
		Timeout:      cfg.Ollama.RequestTimeout(),
		ProbeTimeout: cfg.Ollama.ProbeTimeout(),
		DefaultModel: cfg.Ollama.DefaultModel,
	})
	if err := client.WaitForReady(context.Background(), cfg.Ollama.ProbeAttempts, cfg.Ollama.ProbeDelay()); err != nil {
		fmt.Fprintf(os.Stderr, "Ollama server is not running at %s.\n", cfg.Ollama.URL)
		fmt.Fprintf(os.Stderr, "Start it with 'ollama serve' and try again.\n")
		os.Exit(1)
	}

	factory := chat.NewEngineFactory(cfg.Ollama.URL, cfg.Chat.Temperature,
		chat.WithTimeout(cfg.Ollama.RequestTimeout()))
	bot := chat.NewBot(factory)

	srv := server.NewServer(cfg, bot).WithOllamaClient(client)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	startConfigWatcher(watchCtx, srv)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("SHUTDOWN_SIGNAL | signal=%s", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		os.Exit(1)
	}
}

// applyServeOverrides applies command-line flags on top of the loaded config.
// Flags win over both the config file and environment overrides.
func applyServeOverrides(cfg *config.Config, args cli.Args) {
	if args.Host != "" {
		cfg.Server.Host = args.Host
	}
	if args.Port != 0 {
		cfg.Server.Port = args.Port
	}
	if args.Model != "" {
		cfg.Ollama.DefaultModel = args.Model
	}
}

// startConfigWatcher begins watching the config file for live reloads and
// hands each reloaded config to the running server. A missing or unwatchable
// config file is not fatal; the server just runs without hot reload.
func startConfigWatcher(ctx context.Context, srv *server.Server) {
	path, err := config.ConfigPathTOML()
	if err != nil {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
		srv.UpdateConfig(cfg)
		log.Printf("CONFIG_APPLIED | path=%s models=%d", path, len(cfg.Chat.Models))
	})
	if err != nil {
		log.Printf("CONFIG_WATCH_UNAVAILABLE | error=%v", err)
		return
	}
	go watcher.Run(ctx)
}
