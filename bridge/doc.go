// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge connects a sandboxed gamepack UI to the host's cache
// store.
//
// A gamepack UI runs in an isolated frame and cannot reach host
// storage. It talks to the host over a [Port], a message channel in
// which every delivered message carries the origin of its sender. The
// sandbox side holds a [Bridge]: [Bridge.Write] and [Bridge.Read] post
// cache-write and cache-read requests carrying fresh correlation ids
// and wait for the matching cache-reply. Replies are matched by id
// only, so any number of requests may be in flight. Requests that get
// no reply within the timeout fail with a [*TimeoutError]; a reply that
// arrives later is discarded.
//
// The host side is a [Host]. It resolves each sender origin to a pack
// in the [Registry] and serves the request against that pack's
// namespace in a [cachestore.Store]. Messages from origins other than
// the expected one are dropped on both sides. A request naming a
// namespace other than the sender's own is refused.
//
// Three port implementations exist: [Pipe] for in-process use, a JSON
// lines [StreamPort] over any io.ReadWriteCloser, and WebSocket
// ([Host.WebSocketHandler] and [DialWebSocket]). [Server] serves the
// WebSocket endpoint on a TCP listener.
package bridge
