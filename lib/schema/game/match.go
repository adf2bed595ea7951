// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"encoding/json"
	"fmt"
	"time"
)

// MatchResult is the outcome of a closed session.
type MatchResult string

const (
	ResultWin    MatchResult = "win"
	ResultLoss   MatchResult = "loss"
	ResultDraw   MatchResult = "draw"
	ResultRemake MatchResult = "remake"
)

// Valid reports whether r is a known result.
func (r MatchResult) Valid() bool {
	switch r {
	case ResultWin, ResultLoss, ResultDraw, ResultRemake:
		return true
	}
	return false
}

// MatchData summarizes a closed session. At most one is produced per
// session, by the handler's session end hook.
type MatchData struct {
	GameSlug string          `json:"game_slug"`
	GameID   int32           `json:"game_id"`
	Result   MatchResult     `json:"result"`
	Details  json.RawMessage `json:"details"`
}

// Validate checks identity and result.
func (m MatchData) Validate() error {
	const payload = "match data"
	if !ValidSlug(m.GameSlug) {
		return invalid(payload, "game_slug", "must be a slug, got %q", m.GameSlug)
	}
	if m.GameID <= 0 {
		return invalid(payload, "game_id", "must be positive, got %d", m.GameID)
	}
	if !m.Result.Valid() {
		return invalid(payload, "result", "must be win, loss, draw or remake, got %q", m.Result)
	}
	return checkJSON(payload, "details", m.Details)
}

// MatchDataMessageType tags a [MatchDataMessage].
type MatchDataMessageType string

const (
	// WriteStats creates the match if needed and upserts summary stats.
	WriteStats MatchDataMessageType = "write_stats"
	// WriteEvents appends events to the match timeline.
	WriteEvents MatchDataMessageType = "write_events"
	// SetComplete marks the match as no longer in progress.
	SetComplete MatchDataMessageType = "set_complete"
)

// Summary sources accepted by SetComplete.
const (
	SummarySourceAPI          = "api"
	SummarySourceLiveFallback = "live_fallback"
)

// MatchDataMessage is an incremental write against one subpack's match
// record. Type selects which of the optional fields apply:
//
//   - write_stats: PlayedAt, DurationSecs, Result, Stats
//   - write_events: Events
//   - set_complete: SummarySource, FinalStats
type MatchDataMessage struct {
	Type MatchDataMessageType `json:"type"`

	// Subpack indexes the pack's declared subpacks; 0 is the default.
	Subpack uint8 `json:"subpack"`

	// ExternalMatchID is the game's own match identifier, used for
	// deduplication.
	ExternalMatchID string `json:"external_match_id"`

	PlayedAt     string                     `json:"played_at,omitempty"`
	DurationSecs *int32                     `json:"duration_secs,omitempty"`
	Result       MatchResult                `json:"result,omitempty"`
	Stats        map[string]json.RawMessage `json:"stats,omitempty"`

	Events []Event `json:"events,omitempty"`

	SummarySource string                     `json:"summary_source,omitempty"`
	FinalStats    map[string]json.RawMessage `json:"final_stats,omitempty"`
}

// NewWriteStats builds a write_stats message.
func NewWriteStats(subpack uint8, externalMatchID string, stats map[string]json.RawMessage) MatchDataMessage {
	return MatchDataMessage{Type: WriteStats, Subpack: subpack, ExternalMatchID: externalMatchID, Stats: stats}
}

// NewWriteEvents builds a write_events message.
func NewWriteEvents(subpack uint8, externalMatchID string, events []Event) MatchDataMessage {
	return MatchDataMessage{Type: WriteEvents, Subpack: subpack, ExternalMatchID: externalMatchID, Events: events}
}

// NewSetComplete builds a set_complete message. finalStats may be nil.
func NewSetComplete(subpack uint8, externalMatchID, summarySource string, finalStats map[string]json.RawMessage) MatchDataMessage {
	return MatchDataMessage{
		Type:            SetComplete,
		Subpack:         subpack,
		ExternalMatchID: externalMatchID,
		SummarySource:   summarySource,
		FinalStats:      finalStats,
	}
}

// StatKeys returns the stat column names the message writes.
func (m MatchDataMessage) StatKeys() []string {
	source := m.Stats
	if m.Type == SetComplete {
		source = m.FinalStats
	}
	keys := make([]string, 0, len(source))
	for key := range source {
		keys = append(keys, key)
	}
	return keys
}

// Validate checks the tag and the fields that belong to it. Fields of
// other variants must be absent.
func (m MatchDataMessage) Validate() error {
	const payload = "match data message"
	if m.ExternalMatchID == "" {
		return invalid(payload, "external_match_id", "is required")
	}

	switch m.Type {
	case WriteStats:
		if m.PlayedAt != "" {
			if _, err := time.Parse(time.RFC3339, m.PlayedAt); err != nil {
				return invalid(payload, "played_at", "must be RFC 3339, got %q", m.PlayedAt)
			}
		}
		if m.DurationSecs != nil && *m.DurationSecs < 0 {
			return invalid(payload, "duration_secs", "must be >= 0, got %d", *m.DurationSecs)
		}
		if m.Result != "" && !m.Result.Valid() {
			return invalid(payload, "result", "must be win, loss, draw or remake, got %q", m.Result)
		}
		if err := checkStats(payload, "stats", m.Stats); err != nil {
			return err
		}
		if len(m.Events) > 0 || m.SummarySource != "" || m.FinalStats != nil {
			return invalid(payload, "type", "write_stats carries fields of another variant")
		}

	case WriteEvents:
		if len(m.Events) == 0 {
			return invalid(payload, "events", "must not be empty")
		}
		for i, event := range m.Events {
			if err := event.Validate(); err != nil {
				return invalid(payload, fmt.Sprintf("events[%d]", i), "%v", err)
			}
		}
		if m.Stats != nil || m.SummarySource != "" || m.FinalStats != nil {
			return invalid(payload, "type", "write_events carries fields of another variant")
		}

	case SetComplete:
		if m.SummarySource != SummarySourceAPI && m.SummarySource != SummarySourceLiveFallback {
			return invalid(payload, "summary_source", "must be api or live_fallback, got %q", m.SummarySource)
		}
		if err := checkStats(payload, "final_stats", m.FinalStats); err != nil {
			return err
		}
		if m.Stats != nil || len(m.Events) > 0 {
			return invalid(payload, "type", "set_complete carries fields of another variant")
		}

	default:
		return invalid(payload, "type", "must be write_stats, write_events or set_complete, got %q", m.Type)
	}
	return nil
}

func checkStats(payload, field string, stats map[string]json.RawMessage) error {
	for key, value := range stats {
		if key == "" {
			return invalid(payload, field, "has an empty column name")
		}
		if err := checkJSON(payload, field+"."+key, value); err != nil {
			return err
		}
	}
	return nil
}

// MatchProgressQuery asks a pack whether a match the daemon believes is
// still open is actually still being played.
type MatchProgressQuery struct {
	Subpack         uint8  `json:"subpack"`
	ExternalMatchID string `json:"external_match_id"`
}

// Validate requires a match id.
func (q MatchProgressQuery) Validate() error {
	if q.ExternalMatchID == "" {
		return invalid("match progress query", "external_match_id", "is required")
	}
	return nil
}

// MatchProgress answers a [MatchProgressQuery]. When the match has
// ended the pack may attach a set_complete message with final stats.
type MatchProgress struct {
	StillPlaying bool              `json:"still_playing"`
	SetComplete  *MatchDataMessage `json:"set_complete,omitempty"`
}

// Validate checks that a completion is attached only to an ended match.
func (p MatchProgress) Validate() error {
	if p.SetComplete == nil {
		return nil
	}
	if p.StillPlaying {
		return invalid("match progress", "set_complete", "must be absent while still playing")
	}
	if p.SetComplete.Type != SetComplete {
		return invalid("match progress", "set_complete", "must be a set_complete message, got %q", p.SetComplete.Type)
	}
	return p.SetComplete.Validate()
}
