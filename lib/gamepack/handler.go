// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package gamepack

import (
	"context"
	"encoding/json"

	"github.com/companion-foundation/companion/lib/schema/game"
)

// Handler is the capability a gamepack implements. The runtime calls
// its methods from a single goroutine, one command at a time.
type Handler interface {
	// Initialize identifies the pack. emitter stays valid for the life
	// of the process and may be used from any goroutine.
	Initialize(ctx context.Context, emitter Emitter) (game.InitResult, error)

	// DetectRunning reports whether the game process is running. It
	// must be cheap and free of side effects.
	DetectRunning(ctx context.Context) bool

	// Status returns the current connection and in-game state.
	Status(ctx context.Context) (game.Status, error)

	// PollEvents drains events observed since the previous call. An
	// event is returned at most once.
	PollEvents(ctx context.Context) ([]game.Event, error)

	// LiveData returns a game-specific snapshot, or nil when not in a
	// game.
	LiveData(ctx context.Context) (json.RawMessage, error)

	// OnSessionStart runs once when a session opens. Its result is
	// handed back to OnSessionEnd.
	OnSessionStart(ctx context.Context) (json.RawMessage, error)

	// OnSessionEnd runs once when a session closes. sessionContext is
	// the start result, or {} when there was none.
	OnSessionEnd(ctx context.Context, sessionContext json.RawMessage) (*game.MatchData, error)

	// Shutdown releases resources. The runtime bounds it with a
	// deadline.
	Shutdown(ctx context.Context) error
}

// MatchRecoverer is implemented by handlers that can answer
// is_match_in_progress for stale-match recovery.
type MatchRecoverer interface {
	IsMatchInProgress(ctx context.Context, query game.MatchProgressQuery) (game.MatchProgress, error)
}

// Emitter publishes unsolicited records. Payloads are validated before
// they are written; an invalid payload is reported to the daemon as an
// error record and returned as an error.
type Emitter interface {
	EmitEvent(event game.Event) error
	EmitMoment(moment game.Moment) error
	EmitMatchData(message game.MatchDataMessage) error
}

// BaseHandler provides inert defaults for every Handler method except
// Initialize. Embed it and override what the pack supports.
type BaseHandler struct{}

// DetectRunning reports false.
func (BaseHandler) DetectRunning(context.Context) bool { return false }

// Status reports game.Disconnected().
func (BaseHandler) Status(context.Context) (game.Status, error) { return game.Disconnected(), nil }

// PollEvents returns no events.
func (BaseHandler) PollEvents(context.Context) ([]game.Event, error) { return nil, nil }

// LiveData returns nil.
func (BaseHandler) LiveData(context.Context) (json.RawMessage, error) { return nil, nil }

// OnSessionStart returns no context.
func (BaseHandler) OnSessionStart(context.Context) (json.RawMessage, error) { return nil, nil }

// OnSessionEnd returns no match data.
func (BaseHandler) OnSessionEnd(context.Context, json.RawMessage) (*game.MatchData, error) {
	return nil, nil
}

// Shutdown does nothing.
func (BaseHandler) Shutdown(context.Context) error { return nil }
