// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for Companion binaries.
//
// The variables are injected with -ldflags, for example:
//
//	go build -ldflags "-X github.com/companion-foundation/companion/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"os"
	"runtime"
)

// Set via -ldflags at build time.
var (
	GitCommit = "unknown"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// ProtocolVersion is the gamepack line protocol revision implemented by
// this module. Packs report the revision they speak in their init result.
const ProtocolVersion = 1

// Info returns "<version> (<commit>, <build time>)".
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Full returns Info plus the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s\n  Protocol: v%d",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH, ProtocolVersion)
}

// Print writes "<binary> <info>" to stdout for --version handling.
func Print(binary string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", binary, Info())
}
