// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used by Companion.
//
// Encoding uses RFC 8949 Core Deterministic Encoding, so the same
// logical value always produces the same bytes. The cache store relies
// on this: values arriving from a sandboxed UI as JSON are converted to
// canonical CBOR with [FromJSON] before they are digested and persisted,
// which makes the digest independent of JSON key order and whitespace.
// [ToJSON] performs the reverse conversion when a value is read back.
//
// Consumers import this package rather than fxamacker/cbor directly.
package codec
