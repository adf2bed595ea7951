// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"encoding/json"
	"strings"
)

// Event is a discrete in-game occurrence that may trigger a capture.
// Events are delivered in the order the handler produced them.
type Event struct {
	// EventType is a game-defined identifier ("ChampionKill").
	EventType string `json:"event_type"`

	// TimestampSecs is measured from game start.
	TimestampSecs float64 `json:"timestamp_secs"`

	// Data is game-specific detail.
	Data json.RawMessage `json:"data"`

	// PreCaptureSecs and PostCaptureSecs override the daemon's capture
	// window around the event.
	PreCaptureSecs  *float64 `json:"pre_capture_secs,omitempty"`
	PostCaptureSecs *float64 `json:"post_capture_secs,omitempty"`
}

// NewEvent returns an event with the default capture window.
func NewEvent(eventType string, timestampSecs float64, data json.RawMessage) Event {
	return Event{EventType: eventType, TimestampSecs: timestampSecs, Data: data}
}

// WithPreCapture returns a copy of e capturing secs before the event.
func (e Event) WithPreCapture(secs float64) Event {
	e.PreCaptureSecs = &secs
	return e
}

// WithPostCapture returns a copy of e capturing secs after the event.
func (e Event) WithPostCapture(secs float64) Event {
	e.PostCaptureSecs = &secs
	return e
}

// Validate checks the event's required fields and numeric ranges.
func (e Event) Validate() error {
	const payload = "game event"
	if strings.TrimSpace(e.EventType) == "" {
		return invalid(payload, "event_type", "is required")
	}
	if err := checkSeconds(payload, "timestamp_secs", e.TimestampSecs); err != nil {
		return err
	}
	if e.PreCaptureSecs != nil {
		if err := checkSeconds(payload, "pre_capture_secs", *e.PreCaptureSecs); err != nil {
			return err
		}
	}
	if e.PostCaptureSecs != nil {
		if err := checkSeconds(payload, "post_capture_secs", *e.PostCaptureSecs); err != nil {
			return err
		}
	}
	return checkJSON(payload, "data", e.Data)
}

// Moment is a categorized notable occurrence. Moments are
// fire-and-forget: the daemon never acknowledges them.
type Moment struct {
	// MomentID is the category tag ("pentakill", "clutch").
	MomentID string `json:"moment_id"`

	GameTimeSecs float64         `json:"game_time_secs"`
	Data         json.RawMessage `json:"data"`
}

// Validate checks the moment's required fields.
func (m Moment) Validate() error {
	const payload = "moment"
	if m.MomentID == "" {
		return invalid(payload, "moment_id", "is required")
	}
	if strings.ContainsAny(m.MomentID, " \t\r\n") {
		return invalid(payload, "moment_id", "must not contain whitespace, got %q", m.MomentID)
	}
	if err := checkSeconds(payload, "game_time_secs", m.GameTimeSecs); err != nil {
		return err
	}
	return checkJSON(payload, "data", m.Data)
}
