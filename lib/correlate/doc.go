// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package correlate matches replies to outstanding requests by id.
//
// A [Table] holds one entry per in-flight request. [Table.Insert]
// registers an id and returns the channel its [Outcome] arrives on;
// [Table.Resolve] delivers a reply, [Table.Fail] delivers an error,
// [Table.Cancel] abandons the entry, and an optional per-entry timeout
// (armed on the table's [clock.Clock]) fails it with [ErrExpired].
//
// Every completed id is remembered in a bounded FIFO so that a reply
// arriving after its entry completed is recognized as late and
// dropped, and so that no id is reused while a stale reply for it
// might still be in transit.
//
// Both the sandbox cache bridge and the daemon's gamepack client
// correlate through this package.
package correlate
