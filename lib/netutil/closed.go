// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies I/O errors seen on Companion channels.
package netutil

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal end of a
// channel: EOF, a closed pipe or connection, a broken pipe, or a
// connection reset. Read loops on gamepack pipes, bridge streams and
// WebSocket connections end on these without logging an error.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
