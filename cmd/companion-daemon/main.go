// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Companion-daemon runs the installed gamepacks and the sandbox cache
// bridge.
//
// On startup it:
//  1. Loads the YAML config named by --config or COMPANION_CONFIG.
//  2. Reads the manifest of every enabled gamepack.
//  3. Opens the SQLite cache and registers each pack's UI origin with
//     the bridge.
//  4. Serves the bridge WebSocket endpoint.
//  5. Launches every pack in its own process group and polls it.
//
// Records the packs emit (events, moments, session boundaries, match
// data) are logged; the logger is the hand-off point to whatever
// consumes them downstream. SIGINT or SIGTERM sends shutdown to every
// pack and waits for them to exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/companion-foundation/companion/lib/config"
	"github.com/companion-foundation/companion/lib/process"
	"github.com/companion-foundation/companion/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("companion-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to companion.yaml (default: $COMPANION_CONFIG)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error (also passed to gamepacks)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("companion-daemon")
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := process.NewLogger(process.ParseLevel(logLevel))
	logger.Info("companion-daemon starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"gamepacks", len(cfg.Gamepacks),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	daemon.logLevel = logLevel
	return daemon.Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}
