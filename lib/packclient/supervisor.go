// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package packclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/companion-foundation/companion/lib/clock"
	"github.com/companion-foundation/companion/lib/manifest"
	"github.com/companion-foundation/companion/lib/protocol"
	"github.com/companion-foundation/companion/lib/schema/game"
)

// Defaults for SupervisorConfig.
const (
	DefaultPollInterval    = time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

var (
	// ErrIdentityMismatch is returned by Run when init reports an
	// identity different from the manifest's.
	ErrIdentityMismatch = errors.New("packclient: gamepack identity does not match its manifest")

	// ErrChannelLost is returned by Run when the pack's output ends
	// before Run is stopped.
	ErrChannelLost = errors.New("packclient: gamepack channel lost")
)

// SupervisorConfig configures a Supervisor. Client and Manifest are
// required.
type SupervisorConfig struct {
	Client   *Client
	Manifest *manifest.Manifest

	// Sink receives polled events as event records, stamped with the
	// supervisor's clock.
	Sink RecordSink

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// ShutdownTimeout bounds the shutdown command. Defaults to
	// DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Clock drives the poll ticker. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Supervisor runs the poll loop for one pack.
type Supervisor struct {
	client          *Client
	manifest        *manifest.Manifest
	sink            RecordSink
	pollInterval    time.Duration
	shutdownTimeout time.Duration
	clock           clock.Clock
	logger          *slog.Logger

	mu       sync.Mutex
	identity game.InitResult
	running  bool
	status   game.Status
	ticks    int
}

// NewSupervisor validates cfg and returns a Supervisor.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("packclient: Client is required")
	}
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("packclient: Manifest is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{
		client:          cfg.Client,
		manifest:        cfg.Manifest,
		sink:            cfg.Sink,
		pollInterval:    cfg.PollInterval,
		shutdownTimeout: cfg.ShutdownTimeout,
		clock:           cfg.Clock,
		logger:          logger.With("pack", cfg.Manifest.Slug),
		status:          game.Disconnected(),
	}, nil
}

// Run initializes the pack and polls it until ctx ends, then sends
// shutdown. It returns nil after a clean stop, ErrChannelLost if the
// pack goes away first, and the init failure if the pack never comes
// up.
func (s *Supervisor) Run(ctx context.Context) error {
	identity, err := s.client.Init(ctx)
	if err != nil {
		return fmt.Errorf("packclient: init %s: %w", s.manifest.Slug, err)
	}
	if err := s.checkIdentity(identity); err != nil {
		s.shutdown(ctx)
		return err
	}
	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	s.logger.Info("gamepack initialized",
		"game_id", identity.GameID,
		"protocol_version", identity.ProtocolVersion,
	)

	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdown(ctx)
			return nil
		case <-s.client.Done():
			if err := s.client.Err(); err != nil {
				return fmt.Errorf("%w: %w", ErrChannelLost, err)
			}
			return ErrChannelLost
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				if errors.Is(err, ErrClosed) {
					continue
				}
				if ctx.Err() != nil {
					continue
				}
				s.logger.Warn("gamepack poll failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) checkIdentity(identity game.InitResult) error {
	switch {
	case identity.GameID != s.manifest.GameID:
		return fmt.Errorf("%w: game_id %d, manifest declares %d", ErrIdentityMismatch, identity.GameID, s.manifest.GameID)
	case identity.Slug != s.manifest.Slug:
		return fmt.Errorf("%w: slug %q, manifest declares %q", ErrIdentityMismatch, identity.Slug, s.manifest.Slug)
	case identity.ProtocolVersion != s.manifest.ProtocolVersion:
		return fmt.Errorf("%w: protocol_version %d, manifest declares %d",
			ErrIdentityMismatch, identity.ProtocolVersion, s.manifest.ProtocolVersion)
	}
	return nil
}

// tick runs one poll cycle. get_status and poll_events are skipped
// while the game is not running and no game was in progress, since
// nothing can change.
func (s *Supervisor) tick(ctx context.Context) error {
	running, err := s.client.DetectRunning(ctx)
	if err != nil {
		return fmt.Errorf("detect_running: %w", err)
	}

	s.mu.Lock()
	s.ticks++
	wasRunning := s.running
	wasInGame := s.status.IsInGame
	s.running = running
	s.mu.Unlock()

	if running != wasRunning {
		s.logger.Info("game process changed", "running", running)
	}
	if !running && !wasInGame {
		return nil
	}

	status, err := s.client.Status(ctx)
	if err != nil {
		return fmt.Errorf("get_status: %w", err)
	}
	s.mu.Lock()
	previous := s.status
	s.status = status
	s.mu.Unlock()
	if status != previous {
		s.logger.Info("game status changed",
			"connected", status.Connected,
			"connection_status", status.ConnectionStatus,
			"game_phase", status.GamePhase,
			"in_game", status.IsInGame,
		)
	}

	events, err := s.client.PollEvents(ctx)
	if err != nil {
		return fmt.Errorf("poll_events: %w", err)
	}
	if s.sink == nil {
		return nil
	}
	now := s.clock.Now()
	for _, event := range events {
		record, err := protocol.NewRecord(protocol.RecordEvent, now, event)
		if err != nil {
			s.logger.Error("wrapping polled event", "event_type", event.EventType, "error", err)
			continue
		}
		s.sink.Record(record)
	}
	return nil
}

func (s *Supervisor) shutdown(ctx context.Context) {
	select {
	case <-s.client.Done():
		return
	default:
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.client.Shutdown(ctx); err != nil {
		s.logger.Warn("gamepack shutdown failed", "error", err)
		return
	}
	s.logger.Info("gamepack shut down")
}

// Snapshot is the supervisor's view of its pack.
type Snapshot struct {
	Identity game.InitResult
	Running  bool
	Status   game.Status
	Ticks    int
}

// Snapshot returns the most recent observations.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Identity: s.identity, Running: s.running, Status: s.status, Ticks: s.ticks}
}

// CheckedSink returns a RecordSink that forwards records to next after
// checking match-data messages against the manifest's subpack columns.
// Messages that fail are logged and dropped.
func CheckedSink(m *manifest.Manifest, next RecordSink, logger *slog.Logger) RecordSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return RecordSinkFunc(func(record protocol.Record) {
		if record.Record == protocol.RecordMatchDataMessage {
			var message game.MatchDataMessage
			if err := record.DecodeBody(&message); err != nil {
				logger.Warn("dropping undecodable match data message", "pack", m.Slug, "error", err)
				return
			}
			if err := message.Validate(); err != nil {
				logger.Warn("dropping invalid match data message", "pack", m.Slug, "error", err)
				return
			}
			if err := m.CheckMatchData(message); err != nil {
				logger.Warn("dropping match data message",
					"pack", m.Slug,
					"type", message.Type,
					"external_match_id", message.ExternalMatchID,
					"error", err,
				)
				return
			}
		}
		next.Record(record)
	})
}
