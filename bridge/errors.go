// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/companion-foundation/companion/lib/protocol"
)

var (
	// ErrBridgeTimeout is matched by every *TimeoutError.
	ErrBridgeTimeout = errors.New(string(protocol.ErrBridgeTimeout))

	// ErrBridgeClosed fails requests pending when the bridge closes and
	// every request made afterwards.
	ErrBridgeClosed = errors.New("bridge: closed")

	// ErrNamespaceViolation is matched by a *RejectedError whose reason
	// is NamespaceViolation.
	ErrNamespaceViolation = errors.New(string(protocol.ErrNamespaceViolation))

	// ErrPortClosed is returned by port operations once either end has
	// closed.
	ErrPortClosed = errors.New("bridge: port closed")

	// ErrUnknownOrigin is returned by Host.Serve for a port whose peer
	// origin belongs to no registered pack.
	ErrUnknownOrigin = errors.New("bridge: origin not registered")
)

// TimeoutError reports a request that got no reply in time. Its id is
// abandoned and a late reply for it is ignored.
type TimeoutError struct {
	RequestID string
	Type      string
	Key       string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s %q (request %s) got no reply within %v",
		protocol.ErrBridgeTimeout, e.Type, e.Key, e.RequestID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrBridgeTimeout }

// RejectedError reports a reply with ok=false.
type RejectedError struct {
	RequestID string
	Reason    string
	Message   string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bridge: request %s rejected: %s", e.RequestID, e.Reason)
	}
	return fmt.Sprintf("bridge: request %s rejected: %s: %s", e.RequestID, e.Reason, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrNamespaceViolation && e.Reason == ReplyNamespaceViolation
}
