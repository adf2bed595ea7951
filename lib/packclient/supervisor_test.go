// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package packclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/companion-foundation/companion/lib/clock"
	"github.com/companion-foundation/companion/lib/manifest"
	"github.com/companion-foundation/companion/lib/protocol"
	"github.com/companion-foundation/companion/lib/schema/game"
	"github.com/companion-foundation/companion/lib/testutil"
)

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		GameID:          7,
		Slug:            "league",
		Name:            "League of Legends",
		ProtocolVersion: 1,
		Command:         "league-pack",
		Subpacks: []manifest.Subpack{
			{Name: "ranked", Columns: []manifest.Column{{Name: "kills", Type: manifest.TypeInteger}}},
		},
	}
}

type supervised struct {
	*harness
	supervisor *Supervisor
	fake       *clock.FakeClock
	result     chan error
	cancel     context.CancelFunc
}

func startSupervisor(t *testing.T, pack *scriptedPack, m *manifest.Manifest) *supervised {
	t.Helper()
	h := startPack(t, pack)
	fake := clock.Fake(testEpoch)
	supervisor, err := NewSupervisor(SupervisorConfig{
		Client:       h.client,
		Manifest:     m,
		Sink:         RecordSinkFunc(func(record protocol.Record) { h.records <- record }),
		PollInterval: time.Second,
		Clock:        fake,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	result := make(chan error, 1)
	go func() { result <- supervisor.Run(ctx) }()
	return &supervised{harness: h, supervisor: supervisor, fake: fake, result: result, cancel: cancel}
}

func (s *supervised) requireRecord(t *testing.T, want protocol.RecordKind) protocol.Record {
	t.Helper()
	record := testutil.RequireReceive(t, s.records, 5*time.Second, "record %s", want)
	if record.Record != want {
		t.Fatalf("record = %s, want %s", record.Record, want)
	}
	return record
}

func TestSupervisorPollLoop(t *testing.T) {
	pack := newScriptedPack()
	s := startSupervisor(t, pack, testManifest())
	s.fake.WaitForTimers(1)

	pack.set(true, true, game.NewEvent("champion_kill", 95.5, nil))
	s.fake.Advance(time.Second)

	s.requireRecord(t, protocol.RecordSessionStarted)
	eventRecord := s.requireRecord(t, protocol.RecordEvent)
	var event game.Event
	if err := eventRecord.DecodeBody(&event); err != nil {
		t.Fatal(err)
	}
	if event.EventType != "champion_kill" || !eventRecord.EmittedAt.Equal(testEpoch.Add(time.Second)) {
		t.Errorf("event record = %+v at %v", event, eventRecord.EmittedAt)
	}

	// The game closes: the next tick still fetches status so the
	// session can end.
	pack.set(false, false)
	s.fake.Advance(time.Second)

	matchRecord := s.requireRecord(t, protocol.RecordMatchData)
	var matchData game.MatchData
	if err := matchRecord.DecodeBody(&matchData); err != nil {
		t.Fatal(err)
	}
	if matchData.Result != game.ResultWin || string(matchData.Details) != `{"queue":"ranked"}` {
		t.Errorf("match data = %+v", matchData)
	}
	s.requireRecord(t, protocol.RecordSessionEnded)

	snapshot := s.supervisor.Snapshot()
	if snapshot.Identity.Slug != "league" || snapshot.Status.IsInGame {
		t.Errorf("Snapshot = %+v", snapshot)
	}

	s.cancel()
	if err := testutil.RequireReceive(t, s.result, 5*time.Second, "Run result"); err != nil {
		t.Errorf("Run after cancel = %v, want nil", err)
	}
	if pack.shutdownCount() != 1 {
		t.Errorf("shutdown calls = %d, want 1", pack.shutdownCount())
	}
}

func TestSupervisorIdentityMismatch(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*manifest.Manifest)
	}{
		{name: "game id", modify: func(m *manifest.Manifest) { m.GameID = 8 }},
		{name: "slug", modify: func(m *manifest.Manifest) { m.Slug = "valorant" }},
		{name: "protocol version", modify: func(m *manifest.Manifest) { m.ProtocolVersion = 2 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pack := newScriptedPack()
			m := testManifest()
			test.modify(m)
			s := startSupervisor(t, pack, m)

			err := testutil.RequireReceive(t, s.result, 5*time.Second, "Run result")
			if !errors.Is(err, ErrIdentityMismatch) {
				t.Fatalf("Run = %v, want ErrIdentityMismatch", err)
			}
			if pack.shutdownCount() != 1 {
				t.Errorf("mismatched pack was not shut down")
			}
		})
	}
}

func TestSupervisorChannelLost(t *testing.T) {
	s := startSupervisor(t, newScriptedPack(), testManifest())
	s.fake.WaitForTimers(1)

	s.output.Close()
	err := testutil.RequireReceive(t, s.result, 5*time.Second, "Run result")
	if !errors.Is(err, ErrChannelLost) {
		t.Errorf("Run = %v, want ErrChannelLost", err)
	}
}

func TestCheckedSink(t *testing.T) {
	var forwarded []protocol.RecordKind
	sink := CheckedSink(testManifest(), RecordSinkFunc(func(record protocol.Record) {
		forwarded = append(forwarded, record.Record)
	}), nil)

	record := func(kind protocol.RecordKind, body any) protocol.Record {
		t.Helper()
		r, err := protocol.NewRecord(kind, testEpoch, body)
		if err != nil {
			t.Fatal(err)
		}
		return r
	}

	sink.Record(record(protocol.RecordMoment, game.Moment{MomentID: "ace", Data: json.RawMessage(`{}`)}))
	sink.Record(record(protocol.RecordMatchDataMessage,
		game.NewWriteStats(0, "EUW1-1", map[string]json.RawMessage{"kills": json.RawMessage(`9`)})))
	sink.Record(record(protocol.RecordMatchDataMessage,
		game.NewWriteStats(0, "EUW1-1", map[string]json.RawMessage{"gold": json.RawMessage(`900`)})))
	sink.Record(record(protocol.RecordMatchDataMessage,
		game.NewWriteStats(3, "EUW1-1", map[string]json.RawMessage{"kills": json.RawMessage(`1`)})))
	sink.Record(record(protocol.RecordMatchDataMessage,
		game.NewWriteEvents(0, "EUW1-1", []game.Event{game.NewEvent("baron", 1500, nil)})))

	want := []protocol.RecordKind{protocol.RecordMoment, protocol.RecordMatchDataMessage, protocol.RecordMatchDataMessage}
	if len(forwarded) != len(want) {
		t.Fatalf("forwarded %v, want %v", forwarded, want)
	}
	for i := range want {
		if forwarded[i] != want[i] {
			t.Errorf("forwarded[%d] = %s, want %s", i, forwarded[i], want[i])
		}
	}
}
