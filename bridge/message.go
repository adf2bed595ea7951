// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/companion-foundation/companion/lib/protocol"
)

// Message types on the bridge channel.
const (
	TypeCacheRead  = "cache-read"
	TypeCacheWrite = "cache-write"
	TypeCacheReply = "cache-reply"
)

// Reply error codes.
const (
	ReplyNamespaceViolation = string(protocol.ErrNamespaceViolation)
	ReplyInvalidRequest     = "InvalidRequest"
	ReplyUnknownPack        = "UnknownPack"
	ReplyStoreError         = "StoreError"
)

// Request is a cache-read or cache-write posted by the sandbox.
type Request struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`

	// Namespace is optional. When present it must equal the sender's
	// own namespace.
	Namespace string `json:"namespace,omitempty"`
}

func (r Request) validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("missing request_id")
	}
	if r.Key == "" {
		return fmt.Errorf("missing key")
	}
	switch r.Type {
	case TypeCacheRead:
		if r.Value != nil {
			return fmt.Errorf("cache-read carries a value")
		}
	case TypeCacheWrite:
		if r.Value == nil {
			return fmt.Errorf("cache-write without a value")
		}
	default:
		return fmt.Errorf("unknown request type %q", r.Type)
	}
	return nil
}

// Reply answers one Request.
type Reply struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Found     *bool           `json:"found,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func readReply(requestID string, value json.RawMessage, found bool) Reply {
	return Reply{
		Type:      TypeCacheReply,
		RequestID: requestID,
		OK:        true,
		Found:     &found,
		Value:     value,
	}
}

func writeReply(requestID string) Reply {
	return Reply{Type: TypeCacheReply, RequestID: requestID, OK: true}
}

func errorReply(requestID, code, message string) Reply {
	return Reply{
		Type:      TypeCacheReply,
		RequestID: requestID,
		Error:     code,
		Message:   message,
	}
}
