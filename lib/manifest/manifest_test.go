// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/companion-foundation/companion/lib/schema/game"
	"github.com/companion-foundation/companion/lib/testutil"
)

const leagueManifest = `{
	// League of Legends live client pack.
	"game_id": 1,
	"slug": "league",
	"name": "League of Legends",
	"command": "./bin/league-pack",
	"args": ["--region", "euw"],
	"ui_origin": "https://league.packs.companion.local",
	"subpacks": [
		{
			"name": "ranked",
			"columns": [
				{"name": "kills", "type": "integer"},
				{"name": "kda", "type": "real"},
				{"name": "champion", "type": "text"},
				{"name": "first_blood", "type": "boolean"},
				{"name": "items", "type": "json", "nullable": true}, /* trailing comma */
			],
		},
		{"name": "arena", "columns": [{"name": "placement", "type": "integer"}]},
	],
}`

func TestReadFile(t *testing.T) {
	path := testutil.WriteFile(t, "config.json", leagueManifest)
	manifest, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if manifest.GameID != 1 || manifest.Slug != "league" || manifest.Name != "League of Legends" {
		t.Errorf("identity = %d/%s/%s", manifest.GameID, manifest.Slug, manifest.Name)
	}
	if manifest.ProtocolVersion != 1 {
		t.Errorf("ProtocolVersion = %d, want default 1", manifest.ProtocolVersion)
	}
	if len(manifest.Subpacks) != 2 || len(manifest.Subpacks[0].Columns) != 5 {
		t.Fatalf("Subpacks = %+v", manifest.Subpacks)
	}
	if want := filepath.Join(filepath.Dir(path), "bin", "league-pack"); manifest.CommandPath() != want {
		t.Errorf("CommandPath = %q, want %q", manifest.CommandPath(), want)
	}
}

func TestCommandPath(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{command: "league-pack", want: "league-pack"},
		{command: "/opt/packs/league", want: "/opt/packs/league"},
		{command: "bin/league", want: "/packs/league/bin/league"},
	}
	for _, test := range tests {
		manifest := Manifest{Command: test.command, Dir: "/packs/league"}
		if got := manifest.CommandPath(); got != test.want {
			t.Errorf("CommandPath(%q) = %q, want %q", test.command, got, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Manifest {
		manifest, err := Parse([]byte(leagueManifest))
		if err != nil {
			t.Fatal(err)
		}
		return manifest
	}

	tests := []struct {
		name    string
		modify  func(*Manifest)
		wantErr string
	}{
		{name: "valid", modify: func(*Manifest) {}},
		{name: "zero game id", modify: func(m *Manifest) { m.GameID = 0 }, wantErr: "game_id"},
		{name: "bad slug", modify: func(m *Manifest) { m.Slug = "League Of Legends" }, wantErr: "slug"},
		{name: "missing name", modify: func(m *Manifest) { m.Name = "" }, wantErr: "name"},
		{name: "future protocol", modify: func(m *Manifest) { m.ProtocolVersion = 2 }, wantErr: "protocol_version"},
		{name: "missing command", modify: func(m *Manifest) { m.Command = "" }, wantErr: "command"},
		{
			name:    "duplicate column",
			modify:  func(m *Manifest) { m.Subpacks[1].Columns = append(m.Subpacks[1].Columns, Column{Name: "placement", Type: TypeInteger}) },
			wantErr: "duplicate column",
		},
		{
			name:    "unknown column type",
			modify:  func(m *Manifest) { m.Subpacks[0].Columns[0].Type = "bigint" },
			wantErr: "unknown type",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			manifest := valid()
			test.modify(manifest)
			err := manifest.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	manifest := &Manifest{ProtocolVersion: 1}
	err := manifest.Validate()
	for _, want := range []string{"game_id", "slug", "name", "command"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("Validate = %v, want mention of %s", err, want)
		}
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte(`{"game_id": 1, "slugg": "league"}`)); err == nil {
		t.Error("Parse accepted an unknown field")
	}
}

func stats(pairs ...string) map[string]json.RawMessage {
	result := make(map[string]json.RawMessage, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		result[pairs[i]] = json.RawMessage(pairs[i+1])
	}
	return result
}

func TestCheckMatchData(t *testing.T) {
	manifest, err := Parse([]byte(leagueManifest))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		message   game.MatchDataMessage
		wantField string
	}{
		{
			name:    "declared columns",
			message: game.NewWriteStats(0, "EUW1-1", stats("kills", "7", "kda", "3.5", "champion", `"Ahri"`, "first_blood", "true", "items", "[3089]")),
		},
		{
			name:    "nullable column",
			message: game.NewWriteStats(0, "EUW1-1", stats("items", "null")),
		},
		{
			name:    "second subpack",
			message: game.NewWriteStats(1, "EUW1-2", stats("placement", "2")),
		},
		{
			name:    "events carry no stats",
			message: game.NewWriteEvents(5, "EUW1-1", []game.Event{game.NewEvent("kill", 10, nil)}),
		},
		{
			name:      "unknown column",
			message:   game.NewWriteStats(0, "EUW1-1", stats("kills", "7", "gold", "1200")),
			wantField: "stats.gold",
		},
		{
			name:      "wrong type",
			message:   game.NewWriteStats(0, "EUW1-1", stats("kills", "7.5")),
			wantField: "stats.kills",
		},
		{
			name:      "null in non-nullable column",
			message:   game.NewWriteStats(0, "EUW1-1", stats("champion", "null")),
			wantField: "stats.champion",
		},
		{
			name:      "undeclared subpack",
			message:   game.NewWriteStats(2, "EUW1-1", stats("kills", "1")),
			wantField: "subpack",
		},
		{
			name:      "final stats checked",
			message:   game.NewSetComplete(0, "EUW1-1", game.SummarySourceAPI, stats("deaths", "1")),
			wantField: "final_stats.deaths",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := manifest.CheckMatchData(test.message)
			if test.wantField == "" {
				if err != nil {
					t.Fatalf("CheckMatchData: %v", err)
				}
				return
			}
			var validation *game.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("CheckMatchData = %v, want *game.ValidationError", err)
			}
			if validation.Field != test.wantField {
				t.Errorf("Field = %q, want %q", validation.Field, test.wantField)
			}
			if !errors.Is(err, game.ErrSchemaValidation) {
				t.Error("error does not match game.ErrSchemaValidation")
			}
		})
	}
}
