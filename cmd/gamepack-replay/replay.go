// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/companion-foundation/companion/lib/clock"
	"github.com/companion-foundation/companion/lib/gamepack"
	"github.com/companion-foundation/companion/lib/schema/game"
)

// replayPack is a gamepack that plays back a script against its clock.
// Every handler call first applies the steps that are due.
type replayPack struct {
	identity game.InitResult
	steps    []Step
	clock    clock.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	emitter   gamepack.Emitter
	started   time.Time
	next      int
	running   bool
	status    game.Status
	liveData  json.RawMessage
	events    []game.Event
	matchData *game.MatchData

	// openMatches holds the last stats written for each match that has
	// no set_complete yet.
	openMatches map[string]map[string]json.RawMessage
}

func newReplayPack(identity game.InitResult, steps []Step, clk clock.Clock, logger *slog.Logger) *replayPack {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &replayPack{
		identity:    identity,
		steps:       steps,
		clock:       clk,
		logger:      logger,
		status:      game.Disconnected(),
		openMatches: make(map[string]map[string]json.RawMessage),
	}
}

func (p *replayPack) Initialize(ctx context.Context, emitter gamepack.Emitter) (game.InitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitter = emitter
	p.started = p.clock.Now()
	p.logger.Info("replay started", "steps", len(p.steps))
	return p.identity, nil
}

// advanceLocked applies every step whose offset has elapsed.
func (p *replayPack) advanceLocked() {
	elapsed := p.clock.Now().Sub(p.started)
	for p.next < len(p.steps) && time.Duration(p.steps[p.next].At) <= elapsed {
		p.applyLocked(p.steps[p.next])
		p.next++
		if p.next == len(p.steps) {
			p.logger.Info("replay finished")
		}
	}
}

func (p *replayPack) applyLocked(step Step) {
	switch {
	case step.Running != nil:
		p.running = *step.Running
	case step.Status != nil:
		p.status = *step.Status
	case step.Event != nil:
		p.events = append(p.events, *step.Event)
	case step.LiveData != nil:
		p.liveData = step.LiveData
	case step.MatchData != nil:
		matchData := *step.MatchData
		p.matchData = &matchData
	case step.Moment != nil:
		if err := p.emitter.EmitMoment(*step.Moment); err != nil {
			p.logger.Warn("emitting moment failed", "line", step.line, "error", err)
		}
	case step.MatchDataMessage != nil:
		message := *step.MatchDataMessage
		p.trackMatchLocked(message)
		if err := p.emitter.EmitMatchData(message); err != nil {
			p.logger.Warn("emitting match data failed", "line", step.line, "error", err)
		}
	}
}

func (p *replayPack) trackMatchLocked(message game.MatchDataMessage) {
	switch message.Type {
	case game.SetComplete:
		delete(p.openMatches, message.ExternalMatchID)
	case game.WriteStats:
		stats := p.openMatches[message.ExternalMatchID]
		if stats == nil {
			stats = make(map[string]json.RawMessage)
		}
		maps.Copy(stats, message.Stats)
		p.openMatches[message.ExternalMatchID] = stats
	default:
		if _, ok := p.openMatches[message.ExternalMatchID]; !ok {
			p.openMatches[message.ExternalMatchID] = make(map[string]json.RawMessage)
		}
	}
}

func (p *replayPack) DetectRunning(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.running
}

func (p *replayPack) Status(context.Context) (game.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.status, nil
}

func (p *replayPack) PollEvents(context.Context) ([]game.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	events := p.events
	p.events = nil
	return events, nil
}

func (p *replayPack) LiveData(context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	if !p.status.IsInGame {
		return nil, nil
	}
	return p.liveData, nil
}

func (p *replayPack) OnSessionStart(context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matchData = nil
	return json.Marshal(map[string]any{"replay_step": p.next})
}

// OnSessionEnd returns the latest scripted match data of the session.
func (p *replayPack) OnSessionEnd(ctx context.Context, sessionContext json.RawMessage) (*game.MatchData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	matchData := p.matchData
	p.matchData = nil
	return matchData, nil
}

// IsMatchInProgress reports a match as still playing while the script
// has steps left. A match left open by a finished script is completed
// from its last written stats.
func (p *replayPack) IsMatchInProgress(ctx context.Context, query game.MatchProgressQuery) (game.MatchProgress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	stats, open := p.openMatches[query.ExternalMatchID]
	if !open {
		return game.MatchProgress{}, nil
	}
	if p.next < len(p.steps) {
		return game.MatchProgress{StillPlaying: true}, nil
	}
	var finalStats map[string]json.RawMessage
	if len(stats) > 0 {
		finalStats = maps.Clone(stats)
	}
	complete := game.NewSetComplete(query.Subpack, query.ExternalMatchID, game.SummarySourceLiveFallback, finalStats)
	return game.MatchProgress{SetComplete: &complete}, nil
}

func (p *replayPack) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Info("replay stopped", "steps_applied", p.next, "steps", len(p.steps))
	return nil
}

var _ gamepack.MatchRecoverer = (*replayPack)(nil)
