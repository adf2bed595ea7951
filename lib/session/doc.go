// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package session tracks whether a gamepack is inside a game session
// and fires the session hooks exactly once per boundary.
//
// A [Machine] has two states, [Idle] and [InSession]. Observing an
// in-game flag that flips false to true opens a session and calls
// OnSessionStart; a flip true to false closes it and calls
// OnSessionEnd with the context the start hook returned (or the empty
// object when it returned none). Repeated identical observations do
// nothing. [Machine.Start] and [Machine.End] drive the same
// transitions explicitly and are idempotent.
//
// A hook that fails or panics does not block the transition, so
// starts and ends always alternate. The failure is reported in the
// returned [Transition].
package session
