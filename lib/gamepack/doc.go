// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package gamepack is the gamepack side of the daemon protocol.
//
// A gamepack binary implements [Handler] (usually by embedding
// [BaseHandler] and overriding what it needs) and hands it to [Main]:
//
//	func main() {
//	    gamepack.Main(&leagueHandler{})
//	}
//
// [Main] runs a [Runtime] over stdin and stdout. The runtime reads one
// command per line, dispatches it to the handler, and writes exactly
// one response before reading the next line. get_status and
// poll_events feed the handler's in-game flag through a
// [session.Machine], so session hooks fire on in-game edges and their
// results go out as unsolicited records. Handlers publish events,
// moments and match-data messages at any time through the [Emitter]
// passed to Initialize.
//
// Exit codes: 0 after a shutdown command, 1 when init fails, 2 when
// the daemon closes the channel without shutting the pack down.
// Logging goes to stderr; stdout belongs to the protocol.
package gamepack
