// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"

	"github.com/companion-foundation/companion/lib/schema/game"
)

// Success payloads for commands whose result is not itself an object.
// init, get_status and is_match_in_progress flatten game.InitResult,
// game.Status and game.MatchProgress directly.

// DetectRunningResult answers detect_running.
type DetectRunningResult struct {
	Running bool `json:"running"`
}

// PollEventsResult answers poll_events. Events is never null on the
// wire.
type PollEventsResult struct {
	Events []game.Event `json:"events"`
}

// LiveDataResult answers get_live_data. Data is null when not in game.
type LiveDataResult struct {
	Data json.RawMessage `json:"data"`
}

// SessionStartResult answers session_start. Started is false when a
// session was already open.
type SessionStartResult struct {
	Started bool            `json:"started"`
	Session int             `json:"session"`
	Context json.RawMessage `json:"context,omitempty"`
}

// SessionEndResult answers session_end. Ended is false when no session
// was open; MatchData is present only when the handler produced one.
type SessionEndResult struct {
	Ended     bool            `json:"ended"`
	Session   int             `json:"session"`
	MatchData *game.MatchData `json:"match_data,omitempty"`
}

// Record bodies.

// SessionBody is the body of session_started and session_ended
// records.
type SessionBody struct {
	Session int             `json:"session"`
	Context json.RawMessage `json:"context,omitempty"`
}

// ErrorBody is the body of error records.
type ErrorBody struct {
	Error   ErrorKind `json:"error"`
	Message string    `json:"message"`
	// Source names the operation that failed ("on_session_end",
	// "emit_event").
	Source string `json:"source,omitempty"`
}
