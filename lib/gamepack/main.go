// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package gamepack

import (
	"context"
	"errors"
	"os"

	"github.com/companion-foundation/companion/lib/process"
)

// LogLevelEnv names the environment variable the daemon uses to pass
// its log level to packs.
const LogLevelEnv = "COMPANION_LOG_LEVEL"

// Main runs handler over stdin and stdout and exits the process with
// the protocol exit code. It does not return.
func Main(handler Handler) {
	logger := process.NewLogger(process.ParseLevel(os.Getenv(LogLevelEnv)))
	runtime := New(Config{Handler: handler, Logger: logger})

	err := runtime.Serve(context.Background(), os.Stdin, os.Stdout)
	process.Exit(ExitCode(err))
}

// ExitCode maps a Serve result to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return process.ExitOK
	case errors.Is(err, ErrChannelClosed):
		return process.ExitChannelLost
	default:
		return process.ExitStartupFailure
	}
}
