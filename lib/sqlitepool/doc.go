// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used for local
// storage in the Companion daemon.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies one set of
// pragmas to every connection: WAL journaling, synchronous=NORMAL, a 5s
// busy timeout, an 8 MB page cache and in-memory temp storage. The
// optional [Config].Schema script runs once per connection after the
// pragmas, so every connection sees the tables it needs.
//
// Connections are not safe for concurrent use. Either [Pool.Take] and
// [Pool.Put] one explicitly, or use [Pool.Read] and [Pool.Write], which
// borrow a connection for the duration of a callback; Write also wraps
// the callback in an IMMEDIATE transaction.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   cfg.Paths.CacheDB,
//	    Schema: schemaSQL,
//	    Logger: logger,
//	})
//	...
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT ...", &sqlitex.ExecOptions{Args: args})
//	})
package sqlitepool
