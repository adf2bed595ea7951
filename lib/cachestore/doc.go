// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package cachestore is the host-side key/value store behind the
// sandbox cache bridge. Every gamepack gets its own namespace; keys in
// one namespace are invisible to every other.
//
// Values arrive as JSON documents. They are stored as canonical CBOR
// (see [codec.FromJSON]), optionally compressed with zstd or LZ4, and
// identified by a keyed BLAKE3 digest of the canonical bytes. The digest
// does not depend on the compression mode, so the same value written
// twice yields the same digest.
//
// Two implementations exist: [Memory] for tests and short-lived hosts,
// and [SQLite] for the daemon's persistent cache.
package cachestore
