// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package packclient is the daemon side of the gamepack protocol.
//
// [Client] speaks the line protocol over a gamepack's stdin and stdout:
// each command gets a fresh request id and waits for the response with
// that id, so callers on different goroutines may have commands in
// flight at once. Unsolicited records (events, moments, session
// boundaries, match data, errors) are passed to a [RecordSink] in the
// order the pack wrote them. When the channel closes every pending
// command fails with [ErrClosed].
//
// [Launch] starts a gamepack executable described by a manifest in its
// own process group, wires a Client to its pipes, and forwards its
// stderr to the daemon log. [Supervisor] drives one pack: init checked
// against the manifest, then detect_running, get_status and
// poll_events on every tick, and shutdown when its context ends.
package packclient
