// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestDisconnectedStatusJSON(t *testing.T) {
	data, err := json.Marshal(Disconnected())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"connected":false,"connection_status":"Not connected","is_in_game":false}`
	if string(data) != want {
		t.Errorf("Disconnected() = %s, want %s", data, want)
	}
}

func TestStatusModifiers(t *testing.T) {
	status := Connected("Connected to client").WithPhase("InProgress").InGame(true)
	if !status.Connected || !status.IsInGame || status.GamePhase != "InProgress" {
		t.Errorf("unexpected status %+v", status)
	}
	if err := status.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	base := Connected("ok")
	_ = base.InGame(true)
	if base.IsInGame {
		t.Error("InGame mutated the receiver")
	}
}

func TestValidate(t *testing.T) {
	negative := -1.0
	tests := []struct {
		name    string
		payload interface{ Validate() error }
		wantErr bool
	}{
		{"valid init", InitResult{GameID: 99, Slug: "my-game", ProtocolVersion: 1}, false},
		{"init zero game id", InitResult{Slug: "my-game", ProtocolVersion: 1}, true},
		{"init uppercase slug", InitResult{GameID: 1, Slug: "My Game", ProtocolVersion: 1}, true},
		{"init protocol zero", InitResult{GameID: 1, Slug: "x"}, true},

		{"disconnected", Disconnected(), false},
		{"empty connection status", Status{}, true},
		{"in game but disconnected", Status{ConnectionStatus: "?", IsInGame: true}, true},

		{"valid event", NewEvent("ChampionKill", 12.5, json.RawMessage(`{"killer":"a"}`)), false},
		{"event without data", NewEvent("DragonKill", 0, nil), false},
		{"event missing type", NewEvent("  ", 1, nil), true},
		{"event negative timestamp", NewEvent("Kill", -3, nil), true},
		{"event NaN timestamp", NewEvent("Kill", math.NaN(), nil), true},
		{"event negative pre-capture", Event{EventType: "Kill", PreCaptureSecs: &negative}, true},
		{"event malformed data", NewEvent("Kill", 1, json.RawMessage(`{`)), true},

		{"valid moment", Moment{MomentID: "pentakill", GameTimeSecs: 1800}, false},
		{"moment missing id", Moment{GameTimeSecs: 1}, true},
		{"moment id with space", Moment{MomentID: "penta kill"}, true},

		{"valid match data", MatchData{GameSlug: "my-game", GameID: 99, Result: ResultWin}, false},
		{"match data remake", MatchData{GameSlug: "my-game", GameID: 99, Result: ResultRemake}, false},
		{"match data unknown result", MatchData{GameSlug: "my-game", GameID: 99, Result: "victory"}, true},
		{"match data missing slug", MatchData{GameID: 99, Result: ResultLoss}, true},

		{"progress still playing", MatchProgress{StillPlaying: true}, false},
		{"progress ended with completion", MatchProgress{SetComplete: ptr(NewSetComplete(0, "m1", SummarySourceAPI, nil))}, false},
		{"progress playing with completion", MatchProgress{StillPlaying: true, SetComplete: ptr(NewSetComplete(0, "m1", SummarySourceAPI, nil))}, true},
		{"progress wrong message type", MatchProgress{SetComplete: ptr(NewWriteStats(0, "m1", nil))}, true},
		{"query missing id", MatchProgressQuery{Subpack: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrSchemaValidation) {
					t.Errorf("error %v does not match ErrSchemaValidation", err)
				}
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) || validationErr.Field == "" {
					t.Errorf("error %v is not a *ValidationError with a field", err)
				}
			}
		})
	}
}

func TestMatchDataMessageValidate(t *testing.T) {
	duration := int32(1820)
	negativeDuration := int32(-1)

	tests := []struct {
		name    string
		message MatchDataMessage
		wantErr bool
	}{
		{
			name:    "write stats",
			message: NewWriteStats(0, "NA1-123", map[string]json.RawMessage{"kills": json.RawMessage("7")}),
		},
		{
			name: "write stats with metadata",
			message: MatchDataMessage{
				Type: WriteStats, ExternalMatchID: "NA1-123",
				PlayedAt: "2026-03-01T18:00:00Z", DurationSecs: &duration, Result: ResultWin,
			},
		},
		{
			name:    "write stats bad played_at",
			message: MatchDataMessage{Type: WriteStats, ExternalMatchID: "m", PlayedAt: "yesterday"},
			wantErr: true,
		},
		{
			name:    "write stats negative duration",
			message: MatchDataMessage{Type: WriteStats, ExternalMatchID: "m", DurationSecs: &negativeDuration},
			wantErr: true,
		},
		{
			name:    "write stats with events",
			message: MatchDataMessage{Type: WriteStats, ExternalMatchID: "m", Events: []Event{NewEvent("Kill", 1, nil)}},
			wantErr: true,
		},
		{
			name:    "write events",
			message: NewWriteEvents(1, "m", []Event{NewEvent("Kill", 1, nil), NewEvent("Death", 2, nil)}),
		},
		{
			name:    "write events empty",
			message: NewWriteEvents(1, "m", nil),
			wantErr: true,
		},
		{
			name:    "write events invalid event",
			message: NewWriteEvents(1, "m", []Event{NewEvent("", 1, nil)}),
			wantErr: true,
		},
		{
			name:    "set complete live fallback",
			message: NewSetComplete(0, "m", SummarySourceLiveFallback, map[string]json.RawMessage{"kills": json.RawMessage("9")}),
		},
		{
			name:    "set complete unknown source",
			message: NewSetComplete(0, "m", "guess", nil),
			wantErr: true,
		},
		{
			name:    "missing match id",
			message: NewWriteStats(0, "", nil),
			wantErr: true,
		},
		{
			name:    "unknown type",
			message: MatchDataMessage{Type: "write_everything", ExternalMatchID: "m"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.message.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchDataMessageWireShape(t *testing.T) {
	message := NewWriteStats(2, "EUW-9", map[string]json.RawMessage{"gold": json.RawMessage("12000")})
	data, err := json.Marshal(message)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"type":"write_stats","subpack":2,"external_match_id":"EUW-9","stats":{"gold":12000}}`
	if string(data) != want {
		t.Errorf("wire = %s, want %s", data, want)
	}
}

func TestStatKeys(t *testing.T) {
	complete := NewSetComplete(0, "m", SummarySourceAPI, map[string]json.RawMessage{"kills": nil})
	if keys := complete.StatKeys(); len(keys) != 1 || keys[0] != "kills" {
		t.Errorf("set_complete StatKeys = %v, want [kills]", keys)
	}
	if keys := NewWriteEvents(0, "m", nil).StatKeys(); len(keys) != 0 {
		t.Errorf("write_events StatKeys = %v, want none", keys)
	}
}

func TestEventCaptureModifiers(t *testing.T) {
	event := NewEvent("BaronKill", 1500, nil).WithPreCapture(15).WithPostCapture(5)
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"event_type":"BaronKill","timestamp_secs":1500,"data":null,"pre_capture_secs":15,"post_capture_secs":5}`
	if string(data) != want {
		t.Errorf("wire = %s, want %s", data, want)
	}
}

func ptr[T any](value T) *T { return &value }
