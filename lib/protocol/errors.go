// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

// Error is a failure reported by the peer in a response or error
// record.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches another *Error with the same Kind, so callers can test
// errors.Is(err, &protocol.Error{Kind: protocol.ErrUnsupportedCommand}).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

// DecodeError is returned when a line cannot be decoded. RequestID and
// Kind hold whatever could be recovered from the line so the failure
// response can still be correlated.
type DecodeError struct {
	RequestID string
	Kind      Kind
	Err       error
}

func (e *DecodeError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("decoding %s command %q: %v", e.Kind, e.RequestID, e.Err)
	}
	return fmt.Sprintf("decoding line: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
