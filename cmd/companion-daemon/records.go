// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"

	"github.com/companion-foundation/companion/lib/protocol"
	"github.com/companion-foundation/companion/lib/schema/game"
)

// recordLogger logs pack records with their decoded fields.
type recordLogger struct {
	logger *slog.Logger
}

func (r recordLogger) Record(record protocol.Record) {
	attrs := []any{"record", record.Record, "emitted_at", record.EmittedAt}
	level := slog.LevelInfo
	message := "gamepack record"

	var err error
	switch record.Record {
	case protocol.RecordEvent:
		var event game.Event
		if err = record.DecodeBody(&event); err == nil {
			message = "game event"
			attrs = append(attrs, "event_type", event.EventType, "timestamp_secs", event.TimestampSecs)
		}
	case protocol.RecordMoment:
		var moment game.Moment
		if err = record.DecodeBody(&moment); err == nil {
			message = "game moment"
			attrs = append(attrs, "moment_id", moment.MomentID, "game_time_secs", moment.GameTimeSecs)
		}
	case protocol.RecordSessionStarted, protocol.RecordSessionEnded:
		var body protocol.SessionBody
		if err = record.DecodeBody(&body); err == nil {
			message = "game session " + sessionVerb(record.Record)
			attrs = append(attrs, "session", body.Session)
		}
	case protocol.RecordMatchData:
		var matchData game.MatchData
		if err = record.DecodeBody(&matchData); err == nil {
			message = "match data"
			attrs = append(attrs, "game_id", matchData.GameID, "result", matchData.Result)
		}
	case protocol.RecordMatchDataMessage:
		var matchMessage game.MatchDataMessage
		if err = record.DecodeBody(&matchMessage); err == nil {
			message = "match data message"
			attrs = append(attrs,
				"type", matchMessage.Type,
				"subpack", matchMessage.Subpack,
				"external_match_id", matchMessage.ExternalMatchID,
			)
		}
	case protocol.RecordError:
		var body protocol.ErrorBody
		if err = record.DecodeBody(&body); err == nil {
			message = "gamepack reported error"
			level = slog.LevelWarn
			attrs = append(attrs, "error", body.Error, "message", body.Message, "source", body.Source)
		}
	}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, "decode_error", err)
	}
	r.logger.Log(context.Background(), level, message, attrs...)
}

func sessionVerb(kind protocol.RecordKind) string {
	if kind == protocol.RecordSessionStarted {
		return "started"
	}
	return "ended"
}
