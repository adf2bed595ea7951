// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by Companion
// binaries: the pre-logger fatal error path, the protocol-defined exit
// codes, and construction of the structured logger.
//
// Gamepack binaries speak the line protocol on stdout, so anything they
// log must go to stderr. [NewLogger] always writes to stderr.
package process
