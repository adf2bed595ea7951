// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Exit codes observed by the daemon when a gamepack process ends.
const (
	// ExitOK follows a graceful shutdown command.
	ExitOK = 0

	// ExitStartupFailure means the pack could not produce a valid
	// init result, or failed before the protocol loop started.
	ExitStartupFailure = 1

	// ExitChannelLost means the daemon side of the channel closed
	// without a shutdown command.
	ExitChannelLost = 2
)

// Fatal writes "error: err" to stderr and exits with
// ExitStartupFailure. Use it from main() when the logger may not exist.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitStartupFailure)
}

// Exit terminates the process with code.
func Exit(code int) {
	os.Exit(code)
}
