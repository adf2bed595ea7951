// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/companion-foundation/companion/lib/clock"
)

// Options configures a store.
type Options struct {
	// Compression applies to every Put. Values that do not shrink are
	// stored uncompressed.
	Compression Compression

	// Clock stamps UpdatedAt. Defaults to clock.Real().
	Clock clock.Clock
}

func (o Options) clock() clock.Clock {
	if o.Clock == nil {
		return clock.Real()
	}
	return o.Clock
}

type memoryRecord struct {
	blob  blob
	entry Entry
}

// Memory is an in-process Store. Values go through the same encoding
// as the SQLite store.
type Memory struct {
	options Options
	clock   clock.Clock

	mu         sync.RWMutex
	namespaces map[string]map[string]memoryRecord
	closed     bool
}

// NewMemory returns an empty Memory store.
func NewMemory(options Options) *Memory {
	return &Memory{
		options:    options,
		clock:      options.clock(),
		namespaces: make(map[string]map[string]memoryRecord),
	}
}

func (m *Memory) Get(ctx context.Context, namespace, key string) (json.RawMessage, bool, error) {
	if err := checkAddress(namespace, key); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, false, ErrClosed
	}
	record, ok := m.namespaces[namespace][key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	value, err := decodeValue(record.blob)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Memory) Put(ctx context.Context, namespace, key string, value json.RawMessage) (Entry, error) {
	if err := checkAddress(namespace, key); err != nil {
		return Entry{}, err
	}
	encoded, err := encodeValue(value, m.options.Compression)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		Namespace:   namespace,
		Key:         key,
		Digest:      encoded.digest,
		Size:        encoded.size,
		StoredSize:  len(encoded.data),
		Compression: encoded.compression,
		UpdatedAt:   m.clock.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entry{}, ErrClosed
	}
	keys := m.namespaces[namespace]
	if keys == nil {
		keys = make(map[string]memoryRecord)
		m.namespaces[namespace] = keys
	}
	keys[key] = memoryRecord{blob: encoded, entry: entry}
	return entry, nil
}

func (m *Memory) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if err := checkAddress(namespace, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	keys := m.namespaces[namespace]
	if _, ok := keys[key]; !ok {
		return false, nil
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(m.namespaces, namespace)
	}
	return true, nil
}

func (m *Memory) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.namespaces[namespace]))
	for key := range m.namespaces[namespace] {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

// Stat returns the entry for key without decoding the value.
func (m *Memory) Stat(namespace, key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.namespaces[namespace][key]
	return record.entry, ok
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.namespaces = nil
	return nil
}
