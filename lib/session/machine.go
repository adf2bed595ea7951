// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/companion-foundation/companion/lib/schema/game"
)

// State is the session state.
type State int

const (
	Idle State = iota
	InSession
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InSession:
		return "in_session"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Hooks are the handler callbacks fired on session boundaries.
type Hooks interface {
	OnSessionStart(ctx context.Context) (json.RawMessage, error)
	OnSessionEnd(ctx context.Context, sessionContext json.RawMessage) (*game.MatchData, error)
}

// EmptyContext is passed to OnSessionEnd when the start hook produced
// no context.
var EmptyContext = json.RawMessage(`{}`)

// TransitionKind says what a call to the machine did.
type TransitionKind int

const (
	// None: the observation matched the current state.
	None TransitionKind = iota
	// Started: a session opened.
	Started
	// Ended: a session closed.
	Ended
)

// Transition describes the effect of one Observe, Start or End call.
type Transition struct {
	Kind TransitionKind

	// Session is the 1-based number of the session that opened or
	// closed. Zero when Kind is None.
	Session int

	// Context is the start context: returned by OnSessionStart for
	// Started, passed to OnSessionEnd for Ended.
	Context json.RawMessage

	// MatchData is what OnSessionEnd returned. Nil when the hook
	// returned none or failed.
	MatchData *game.MatchData

	// HookErr is the hook's error or recovered panic. The transition
	// happened regardless.
	HookErr error
}

// Fired reports whether the call changed state.
func (t Transition) Fired() bool { return t.Kind != None }

// Machine is the session state machine. It is safe for concurrent use;
// hooks run under the machine's lock so transitions never overlap.
type Machine struct {
	hooks  Hooks
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	context  json.RawMessage
	sessions int
}

// New returns an Idle machine. A nil logger discards.
func New(hooks Hooks, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Machine{hooks: hooks, logger: logger}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Sessions returns how many sessions have opened.
func (m *Machine) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

// Observe feeds the latest in-game flag to the machine.
func (m *Machine) Observe(ctx context.Context, inGame bool) Transition {
	if inGame {
		return m.Start(ctx)
	}
	return m.End(ctx)
}

// Start opens a session unless one is already open.
func (m *Machine) Start(ctx context.Context) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == InSession {
		return Transition{}
	}

	m.sessions++
	m.state = InSession

	startContext, err := m.callStart(ctx)
	if err == nil && len(startContext) > 0 && !json.Valid(startContext) {
		err = fmt.Errorf("session start context is not valid JSON")
		startContext = nil
	}
	m.context = startContext

	if err != nil {
		m.logger.Warn("session start hook failed", "session", m.sessions, "error", err)
	} else {
		m.logger.Info("session started", "session", m.sessions)
	}
	return Transition{Kind: Started, Session: m.sessions, Context: startContext, HookErr: err}
}

// End closes the open session, if any.
func (m *Machine) End(ctx context.Context) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Idle {
		return Transition{}
	}

	sessionContext := m.context
	if len(bytes.TrimSpace(sessionContext)) == 0 || string(sessionContext) == "null" {
		sessionContext = EmptyContext
	}
	m.state = Idle
	m.context = nil

	matchData, err := m.callEnd(ctx, sessionContext)
	if err != nil {
		matchData = nil
		m.logger.Warn("session end hook failed", "session", m.sessions, "error", err)
	} else {
		m.logger.Info("session ended", "session", m.sessions, "match_data", matchData != nil)
	}
	return Transition{Kind: Ended, Session: m.sessions, Context: sessionContext, MatchData: matchData, HookErr: err}
}

func (m *Machine) callStart(ctx context.Context) (result json.RawMessage, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result, err = nil, fmt.Errorf("OnSessionStart panicked: %v", recovered)
		}
	}()
	return m.hooks.OnSessionStart(ctx)
}

func (m *Machine) callEnd(ctx context.Context, sessionContext json.RawMessage) (result *game.MatchData, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result, err = nil, fmt.Errorf("OnSessionEnd panicked: %v", recovered)
		}
	}()
	return m.hooks.OnSessionEnd(ctx, sessionContext)
}
