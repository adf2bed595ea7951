// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("cachestore: store is closed")

// MaxKeyLength bounds keys in bytes.
const MaxKeyLength = 512

// Store is a namespaced JSON value store. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the value under key. A missing key is (nil, false, nil).
	Get(ctx context.Context, namespace, key string) (json.RawMessage, bool, error)

	// Put replaces the value under key and returns the stored entry.
	Put(ctx context.Context, namespace, key string, value json.RawMessage) (Entry, error)

	// Delete removes key. Deleting a missing key is not an error; the
	// boolean reports whether anything was removed.
	Delete(ctx context.Context, namespace, key string) (bool, error)

	// Keys lists the keys of namespace in ascending order.
	Keys(ctx context.Context, namespace string) ([]string, error)

	Close() error
}

// Entry describes a stored value.
type Entry struct {
	Namespace   string
	Key         string
	Digest      string // hex keyed BLAKE3 of the canonical CBOR
	Size        int    // canonical CBOR size
	StoredSize  int    // size at rest after compression
	Compression Compression
	UpdatedAt   time.Time
}

func checkAddress(namespace, key string) error {
	if namespace == "" {
		return fmt.Errorf("cachestore: empty namespace")
	}
	if key == "" {
		return fmt.Errorf("cachestore: empty key")
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("cachestore: key is %d bytes, limit is %d", len(key), MaxKeyLength)
	}
	return nil
}

func checkNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("cachestore: empty namespace")
	}
	return nil
}
