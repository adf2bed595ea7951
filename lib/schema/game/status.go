// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package game

// Status is a snapshot of the gamepack's view of the game. It is
// recomputed on every get_status.
type Status struct {
	// Connected reports whether the pack reached the game's client or
	// API.
	Connected bool `json:"connected"`

	// ConnectionStatus is a human-readable description.
	ConnectionStatus string `json:"connection_status"`

	// GamePhase is an optional game-defined phase ("Lobby",
	// "InProgress").
	GamePhase string `json:"game_phase,omitempty"`

	// IsInGame drives session boundaries: a false to true change opens
	// a session, true to false closes it.
	IsInGame bool `json:"is_in_game"`
}

// DisconnectedText is the connection status of [Disconnected].
const DisconnectedText = "Not connected"

// Disconnected is the status of a pack that cannot see the game.
func Disconnected() Status {
	return Status{ConnectionStatus: DisconnectedText}
}

// Connected is a connected, not-in-game status.
func Connected(text string) Status {
	return Status{Connected: true, ConnectionStatus: text}
}

// WithPhase returns a copy of s with GamePhase set.
func (s Status) WithPhase(phase string) Status {
	s.GamePhase = phase
	return s
}

// InGame returns a copy of s with IsInGame set.
func (s Status) InGame(inGame bool) Status {
	s.IsInGame = inGame
	return s
}

// Validate checks the status for consistency. A pack cannot be in a
// game it is not connected to.
func (s Status) Validate() error {
	if s.ConnectionStatus == "" {
		return invalid("game status", "connection_status", "is required")
	}
	if s.IsInGame && !s.Connected {
		return invalid("game status", "is_in_game", "requires connected")
	}
	return nil
}
