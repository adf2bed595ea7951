// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package packclient

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/companion-foundation/companion/lib/gamepack"
	"github.com/companion-foundation/companion/lib/protocol"
	"github.com/companion-foundation/companion/lib/schema/game"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptedPack is a gamepack whose game state is set by the test.
type scriptedPack struct {
	gamepack.BaseHandler

	mu        sync.Mutex
	identity  game.InitResult
	running   bool
	inGame    bool
	events    []game.Event
	emitter   gamepack.Emitter
	shutdowns int
}

func newScriptedPack() *scriptedPack {
	return &scriptedPack{identity: game.InitResult{GameID: 7, Slug: "league", ProtocolVersion: 1}}
}

func (p *scriptedPack) Initialize(ctx context.Context, emitter gamepack.Emitter) (game.InitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitter = emitter
	return p.identity, nil
}

func (p *scriptedPack) DetectRunning(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *scriptedPack) Status(context.Context) (game.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return game.Disconnected(), nil
	}
	return game.Connected("Connected to live client").InGame(p.inGame), nil
}

func (p *scriptedPack) PollEvents(context.Context) ([]game.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events
	p.events = nil
	return events, nil
}

func (p *scriptedPack) LiveData(context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inGame {
		return nil, nil
	}
	return json.RawMessage(`{"game_time":312.5}`), nil
}

func (p *scriptedPack) OnSessionStart(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"queue":"ranked"}`), nil
}

func (p *scriptedPack) OnSessionEnd(ctx context.Context, sessionContext json.RawMessage) (*game.MatchData, error) {
	return &game.MatchData{GameSlug: "league", GameID: 7, Result: game.ResultWin, Details: sessionContext}, nil
}

func (p *scriptedPack) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns++
	return nil
}

func (p *scriptedPack) set(running, inGame bool, events ...game.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = running
	p.inGame = inGame
	p.events = append(p.events, events...)
}

func (p *scriptedPack) shutdownCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdowns
}

// recoveringPack also answers is_match_in_progress.
type recoveringPack struct {
	*scriptedPack
}

func (p recoveringPack) IsMatchInProgress(ctx context.Context, query game.MatchProgressQuery) (game.MatchProgress, error) {
	if query.ExternalMatchID == "live" {
		return game.MatchProgress{StillPlaying: true}, nil
	}
	final := game.NewSetComplete(query.Subpack, query.ExternalMatchID, game.SummarySourceAPI, nil)
	return game.MatchProgress{SetComplete: &final}, nil
}

type harness struct {
	client  *Client
	records chan protocol.Record
	served  chan error

	// output is the pack's stdout; closing it simulates the pack
	// dying.
	output *io.PipeWriter
}

// startPack serves handler with a gamepack runtime over in-memory pipes
// and connects a Client to it.
func startPack(t *testing.T, handler gamepack.Handler) *harness {
	t.Helper()
	commandsReader, commandsWriter := io.Pipe()
	outputReader, outputWriter := io.Pipe()

	runtime := gamepack.New(gamepack.Config{Handler: handler})
	served := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		err := runtime.Serve(context.Background(), commandsReader, outputWriter)
		outputWriter.Close()
		served <- err
	}()

	records := make(chan protocol.Record, 64)
	client, err := NewClient(ClientConfig{
		Reader:  outputReader,
		Writer:  commandsWriter,
		Sink:    RecordSinkFunc(func(record protocol.Record) { records <- record }),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("runtime did not stop after the client closed")
		}
	})
	return &harness{client: client, records: records, served: served, output: outputWriter}
}
