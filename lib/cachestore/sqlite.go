// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/companion-foundation/companion/lib/clock"
	"github.com/companion-foundation/companion/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_values (
	namespace   TEXT    NOT NULL,
	key         TEXT    NOT NULL,
	value       BLOB    NOT NULL,
	size        INTEGER NOT NULL,
	compression INTEGER NOT NULL,
	digest      TEXT    NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
) WITHOUT ROWID;
`

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	// Path is the database file. Its directory must exist.
	Path string

	// PoolSize is passed to sqlitepool.
	PoolSize int

	Options

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// SQLite is a Store persisted in a single SQLite database.
type SQLite struct {
	pool    *sqlitepool.Pool
	options Options
	clock   clock.Clock
	logger  *slog.Logger
	closed  atomic.Bool
}

// OpenSQLite opens (creating if necessary) the cache database.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Schema:   schema,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("cachestore: %w", err)
	}
	return &SQLite{
		pool:    pool,
		options: cfg.Options,
		clock:   cfg.Options.clock(),
		logger:  logger,
	}, nil
}

func (s *SQLite) Get(ctx context.Context, namespace, key string) (json.RawMessage, bool, error) {
	if err := checkAddress(namespace, key); err != nil {
		return nil, false, err
	}
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	var stored blob
	found := false
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT value, size, compression, digest FROM cache_values WHERE namespace = ? AND key = ?`,
			&sqlitex.ExecOptions{
				Args: []any{namespace, key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					stored.data = make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, stored.data)
					stored.size = stmt.ColumnInt(1)
					stored.compression = Compression(stmt.ColumnInt(2))
					stored.digest = stmt.ColumnText(3)
					return nil
				},
			})
	})
	if err != nil {
		return nil, false, fmt.Errorf("cachestore: reading %s/%s: %w", namespace, key, err)
	}
	if !found {
		return nil, false, nil
	}
	value, err := decodeValue(stored)
	if err != nil {
		s.logger.Error("corrupt cache value",
			"namespace", namespace,
			"key", key,
			"error", err,
		)
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLite) Put(ctx context.Context, namespace, key string, value json.RawMessage) (Entry, error) {
	if err := checkAddress(namespace, key); err != nil {
		return Entry{}, err
	}
	if s.closed.Load() {
		return Entry{}, ErrClosed
	}
	encoded, err := encodeValue(value, s.options.Compression)
	if err != nil {
		return Entry{}, err
	}
	now := s.clock.Now().UTC()
	err = s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO cache_values (namespace, key, value, size, compression, digest, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (namespace, key) DO UPDATE SET
				value = excluded.value,
				size = excluded.size,
				compression = excluded.compression,
				digest = excluded.digest,
				updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{
				Args: []any{
					namespace, key, encoded.data, encoded.size,
					int(encoded.compression), encoded.digest, now.UnixNano(),
				},
			})
	})
	if err != nil {
		return Entry{}, fmt.Errorf("cachestore: writing %s/%s: %w", namespace, key, err)
	}
	return Entry{
		Namespace:   namespace,
		Key:         key,
		Digest:      encoded.digest,
		Size:        encoded.size,
		StoredSize:  len(encoded.data),
		Compression: encoded.compression,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLite) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if err := checkAddress(namespace, key); err != nil {
		return false, err
	}
	if s.closed.Load() {
		return false, ErrClosed
	}
	var removed bool
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`DELETE FROM cache_values WHERE namespace = ? AND key = ?`,
			&sqlitex.ExecOptions{Args: []any{namespace, key}})
		if err != nil {
			return err
		}
		removed = conn.Changes() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cachestore: deleting %s/%s: %w", namespace, key, err)
	}
	return removed, nil
}

func (s *SQLite) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	keys := []string{}
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT key FROM cache_values WHERE namespace = ? ORDER BY key`,
			&sqlitex.ExecOptions{
				Args: []any{namespace},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					keys = append(keys, stmt.ColumnText(0))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("cachestore: listing %s: %w", namespace, err)
	}
	return keys, nil
}

// Stat returns the entry for key without decoding the value.
func (s *SQLite) Stat(ctx context.Context, namespace, key string) (Entry, bool, error) {
	if err := checkAddress(namespace, key); err != nil {
		return Entry{}, false, err
	}
	if s.closed.Load() {
		return Entry{}, false, ErrClosed
	}
	var entry Entry
	found := false
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT length(value), size, compression, digest, updated_at
			 FROM cache_values WHERE namespace = ? AND key = ?`,
			&sqlitex.ExecOptions{
				Args: []any{namespace, key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					entry = Entry{
						Namespace:   namespace,
						Key:         key,
						StoredSize:  stmt.ColumnInt(0),
						Size:        stmt.ColumnInt(1),
						Compression: Compression(stmt.ColumnInt(2)),
						Digest:      stmt.ColumnText(3),
						UpdatedAt:   time.Unix(0, stmt.ColumnInt64(4)).UTC(),
					}
					return nil
				},
			})
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("cachestore: stat %s/%s: %w", namespace, key, err)
	}
	return entry, found, nil
}

func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pool.Close()
}
