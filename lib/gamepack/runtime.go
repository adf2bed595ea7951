// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package gamepack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/companion-foundation/companion/lib/clock"
	"github.com/companion-foundation/companion/lib/protocol"
	"github.com/companion-foundation/companion/lib/schema/game"
	"github.com/companion-foundation/companion/lib/session"
	"github.com/companion-foundation/companion/lib/version"
)

var (
	// ErrChannelClosed is returned by Serve when the command stream
	// ends without a shutdown command.
	ErrChannelClosed = errors.New("gamepack: command channel closed")

	// ErrStartupFailed is returned by Serve when init fails.
	ErrStartupFailed = errors.New("gamepack: startup failed")

	// ErrShutdownTimeout is returned when Handler.Shutdown overruns
	// its deadline.
	ErrShutdownTimeout = errors.New("gamepack: handler shutdown timed out")

	errUnsupported = errors.New("unsupported command")
)

// DefaultShutdownTimeout bounds Handler.Shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Config configures a Runtime. Handler is required.
type Config struct {
	Handler Handler

	// Clock stamps records and bounds shutdown. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger defaults to a discard logger. It must not write to the
	// protocol output.
	Logger *slog.Logger

	// ShutdownTimeout defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// Runtime runs the protocol loop for one handler. A Runtime serves a
// single channel once.
type Runtime struct {
	handler         Handler
	recoverer       MatchRecoverer
	clock           clock.Clock
	logger          *slog.Logger
	shutdownTimeout time.Duration
	machine         *session.Machine
	commands        map[protocol.Kind]commandFunc

	writer      *protocol.Writer
	initialized bool
	identity    game.InitResult
}

type commandFunc func(ctx context.Context, command protocol.Command) (any, error)

// outcome is what the loop does after writing a response.
type outcome int

const (
	continueLoop outcome = iota
	stopGraceful
	stopStartupFailed
)

// New returns a Runtime for cfg.Handler.
func New(cfg Config) *Runtime {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	runtime := &Runtime{
		handler:         cfg.Handler,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
		machine:         session.New(cfg.Handler, cfg.Logger),
	}
	runtime.recoverer, _ = cfg.Handler.(MatchRecoverer)
	runtime.commands = map[protocol.Kind]commandFunc{
		protocol.KindInit:              runtime.handleInit,
		protocol.KindDetectRunning:     runtime.handleDetectRunning,
		protocol.KindGetStatus:         runtime.handleGetStatus,
		protocol.KindPollEvents:        runtime.handlePollEvents,
		protocol.KindGetLiveData:       runtime.handleGetLiveData,
		protocol.KindSessionStart:      runtime.handleSessionStart,
		protocol.KindSessionEnd:        runtime.handleSessionEnd,
		protocol.KindShutdown:          runtime.handleShutdown,
		protocol.KindIsMatchInProgress: runtime.handleIsMatchInProgress,
	}
	return runtime
}

// Session exposes the session machine, mainly for tests and
// diagnostics.
func (r *Runtime) Session() *session.Machine { return r.machine }

// Serve reads commands from in and writes responses and records to out
// until a shutdown command (nil), an init failure (ErrStartupFailed),
// or the end of in (ErrChannelClosed).
func (r *Runtime) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := protocol.NewReader(in)
	r.writer = protocol.NewWriter(out)

	for {
		line, err := reader.ReadLine()
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				if writeErr := r.writeDecodeFailure(decodeErr); writeErr != nil {
					return r.channelLost(ctx, writeErr)
				}
				continue
			}
			return r.channelLost(ctx, err)
		}

		command, err := protocol.DecodeCommand(line)
		if err != nil {
			var decodeErr *protocol.DecodeError
			errors.As(err, &decodeErr)
			if writeErr := r.writeDecodeFailure(decodeErr); writeErr != nil {
				return r.channelLost(ctx, writeErr)
			}
			continue
		}

		response, next := r.dispatch(ctx, command)
		if err := r.writer.WriteResponse(response); err != nil {
			return r.channelLost(ctx, err)
		}

		switch next {
		case stopGraceful:
			r.logger.Info("gamepack shut down")
			return nil
		case stopStartupFailed:
			return fmt.Errorf("%w: %s", ErrStartupFailed, response.Message)
		}
	}
}

func (r *Runtime) writeDecodeFailure(decodeErr *protocol.DecodeError) error {
	r.logger.Warn("undecodable command line", "request_id", decodeErr.RequestID, "error", decodeErr.Err)
	return r.writer.WriteResponse(protocol.Failure(
		decodeErr.Kind, decodeErr.RequestID, protocol.ErrProtocolDecode, decodeErr.Error()))
}

// channelLost shuts the handler down best-effort and reports the loss.
func (r *Runtime) channelLost(ctx context.Context, cause error) error {
	if errors.Is(cause, io.EOF) {
		r.logger.Info("command channel closed")
	} else {
		r.logger.Warn("command channel failed", "error", cause)
	}
	if r.initialized {
		if err := r.shutdownHandler(ctx); err != nil {
			r.logger.Warn("handler shutdown after channel loss failed", "error", err)
		}
	}
	if errors.Is(cause, io.EOF) {
		return ErrChannelClosed
	}
	return fmt.Errorf("%w: %w", ErrChannelClosed, cause)
}

// dispatch runs one command and builds its response. Handler errors
// and panics stop here.
func (r *Runtime) dispatch(ctx context.Context, command protocol.Command) (protocol.Response, outcome) {
	logger := r.logger.With("kind", command.Kind, "request_id", command.RequestID)

	handle, ok := r.commands[command.Kind]
	if !ok {
		logger.Warn("unsupported command")
		return protocol.Failure(command.Kind, command.RequestID, protocol.ErrUnsupportedCommand,
			fmt.Sprintf("unknown command kind %q", command.Kind)), continueLoop
	}
	if command.Kind != protocol.KindInit && command.Kind != protocol.KindShutdown && !r.initialized {
		return protocol.Failure(command.Kind, command.RequestID, protocol.ErrNotInitialized,
			"init must succeed before "+string(command.Kind)), continueLoop
	}

	result, err := r.invoke(ctx, handle, command)
	next := continueLoop
	switch command.Kind {
	case protocol.KindShutdown:
		next = stopGraceful
	case protocol.KindInit:
		if err != nil {
			next = stopStartupFailed
		}
	}

	if err != nil {
		errorKind := classify(err)
		logger.Warn("command failed", "error_kind", errorKind, "error", err)
		return protocol.Failure(command.Kind, command.RequestID, errorKind, err.Error()), next
	}

	response, err := protocol.Success(command, result)
	if err != nil {
		logger.Error("encoding command result failed", "error", err)
		return protocol.Failure(command.Kind, command.RequestID, protocol.ErrHandler, err.Error()), next
	}
	logger.Debug("command handled")
	return response, next
}

func (r *Runtime) invoke(ctx context.Context, handle commandFunc, command protocol.Command) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result, err = nil, fmt.Errorf("handler panicked during %s: %v", command.Kind, recovered)
		}
	}()
	return handle(ctx, command)
}

func classify(err error) protocol.ErrorKind {
	var decodeErr *protocol.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		return protocol.ErrProtocolDecode
	case errors.Is(err, errUnsupported):
		return protocol.ErrUnsupportedCommand
	case errors.Is(err, game.ErrSchemaValidation):
		return protocol.ErrSchemaValidation
	default:
		return protocol.ErrHandler
	}
}

func (r *Runtime) handleInit(ctx context.Context, command protocol.Command) (any, error) {
	if r.initialized {
		return r.identity, nil
	}

	identity, err := r.handler.Initialize(ctx, &emitter{runtime: r})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if identity.ProtocolVersion == 0 {
		identity.ProtocolVersion = version.ProtocolVersion
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if identity.ProtocolVersion != version.ProtocolVersion {
		return nil, fmt.Errorf("%w: init result: protocol_version %d is not supported (runtime speaks %d)",
			game.ErrSchemaValidation, identity.ProtocolVersion, version.ProtocolVersion)
	}

	r.initialized = true
	r.identity = identity
	r.logger.Info("gamepack initialized", "game_id", identity.GameID, "slug", identity.Slug)
	return identity, nil
}

func (r *Runtime) handleDetectRunning(ctx context.Context, _ protocol.Command) (any, error) {
	return protocol.DetectRunningResult{Running: r.handler.DetectRunning(ctx)}, nil
}

func (r *Runtime) handleGetStatus(ctx context.Context, _ protocol.Command) (any, error) {
	status, err := r.handler.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if err := status.Validate(); err != nil {
		return nil, err
	}
	r.applyTransition(r.machine.Observe(ctx, status.IsInGame))
	return status, nil
}

// handlePollEvents drains events first so that a session end triggered
// by the same poll sees every event of the closing session delivered.
func (r *Runtime) handlePollEvents(ctx context.Context, _ protocol.Command) (any, error) {
	events, err := r.handler.PollEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll events: %w", err)
	}
	for i, event := range events {
		if err := event.Validate(); err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	if events == nil {
		events = []game.Event{}
	}

	status, err := r.handler.Status(ctx)
	if err == nil {
		err = status.Validate()
	}
	if err != nil {
		r.writeError(protocol.ErrHandler, "status", err)
	} else {
		r.applyTransition(r.machine.Observe(ctx, status.IsInGame))
	}
	return protocol.PollEventsResult{Events: events}, nil
}

func (r *Runtime) handleGetLiveData(ctx context.Context, _ protocol.Command) (any, error) {
	data, err := r.handler.LiveData(ctx)
	if err != nil {
		return nil, fmt.Errorf("live data: %w", err)
	}
	if len(data) > 0 && !json.Valid(data) {
		return nil, fmt.Errorf("%w: live data is not valid JSON", game.ErrSchemaValidation)
	}
	return protocol.LiveDataResult{Data: data}, nil
}

func (r *Runtime) handleSessionStart(ctx context.Context, _ protocol.Command) (any, error) {
	transition := r.machine.Start(ctx)
	r.applyTransition(transition)
	return protocol.SessionStartResult{
		Started: transition.Fired(),
		Session: r.machine.Sessions(),
		Context: transition.Context,
	}, nil
}

func (r *Runtime) handleSessionEnd(ctx context.Context, _ protocol.Command) (any, error) {
	transition := r.machine.End(ctx)
	matchData := r.checkMatchData(transition.MatchData)
	transition.MatchData = nil
	r.applyTransition(transition)
	return protocol.SessionEndResult{
		Ended:     transition.Fired(),
		Session:   r.machine.Sessions(),
		MatchData: matchData,
	}, nil
}

// handleShutdown is accepted before init; the handler is only shut
// down once it has been initialized.
func (r *Runtime) handleShutdown(ctx context.Context, _ protocol.Command) (any, error) {
	if !r.initialized {
		return struct{}{}, nil
	}
	if err := r.shutdownHandler(ctx); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (r *Runtime) handleIsMatchInProgress(ctx context.Context, command protocol.Command) (any, error) {
	if r.recoverer == nil {
		return nil, fmt.Errorf("%w: pack does not support %s", errUnsupported, command.Kind)
	}
	var query game.MatchProgressQuery
	if err := command.DecodePayload(&query); err != nil {
		return nil, &protocol.DecodeError{RequestID: command.RequestID, Kind: command.Kind, Err: err}
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	progress, err := r.recoverer.IsMatchInProgress(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("match progress: %w", err)
	}
	if err := progress.Validate(); err != nil {
		return nil, err
	}
	return progress, nil
}

// applyTransition reports a session boundary as records. Match data
// attached to the transition is written before the session_ended
// record.
func (r *Runtime) applyTransition(transition session.Transition) {
	switch transition.Kind {
	case session.None:
		return
	case session.Started:
		if transition.HookErr != nil {
			r.writeError(protocol.ErrHandler, "on_session_start", transition.HookErr)
		}
		r.writeRecord(protocol.RecordSessionStarted, protocol.SessionBody{
			Session: transition.Session,
			Context: transition.Context,
		})
	case session.Ended:
		if transition.HookErr != nil {
			r.writeError(protocol.ErrHandler, "on_session_end", transition.HookErr)
		}
		if matchData := r.checkMatchData(transition.MatchData); matchData != nil {
			r.writeRecord(protocol.RecordMatchData, matchData)
		}
		r.writeRecord(protocol.RecordSessionEnded, protocol.SessionBody{Session: transition.Session})
	}
}

// checkMatchData validates match data, reporting and dropping invalid
// values.
func (r *Runtime) checkMatchData(matchData *game.MatchData) *game.MatchData {
	if matchData == nil {
		return nil
	}
	if err := matchData.Validate(); err != nil {
		r.writeError(protocol.ErrSchemaValidation, "on_session_end", err)
		return nil
	}
	return matchData
}

func (r *Runtime) writeRecord(kind protocol.RecordKind, body any) error {
	record, err := protocol.NewRecord(kind, r.clock.Now(), body)
	if err != nil {
		return err
	}
	if err := r.writer.WriteRecord(record); err != nil {
		r.logger.Warn("writing record failed", "record", kind, "error", err)
		return err
	}
	return nil
}

func (r *Runtime) writeError(kind protocol.ErrorKind, source string, err error) {
	r.logger.Warn("reporting error record", "error_kind", kind, "source", source, "error", err)
	r.writeRecord(protocol.RecordError, protocol.ErrorBody{Error: kind, Message: err.Error(), Source: source})
}

// shutdownHandler calls Handler.Shutdown with a deadline. A handler
// that overruns is abandoned.
func (r *Runtime) shutdownHandler(ctx context.Context) error {
	shutdownCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- fmt.Errorf("handler shutdown panicked: %v", recovered)
			}
		}()
		done <- r.handler.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case <-r.clock.After(r.shutdownTimeout):
		return fmt.Errorf("%w after %v", ErrShutdownTimeout, r.shutdownTimeout)
	}
}

// emitter publishes handler-originated records through the runtime's
// writer.
type emitter struct {
	runtime *Runtime
}

func (e *emitter) EmitEvent(event game.Event) error {
	return e.emit(protocol.RecordEvent, "emit_event", event, event.Validate())
}

// EmitMoment writes the moment once. Moments are never acknowledged or
// retried.
func (e *emitter) EmitMoment(moment game.Moment) error {
	return e.emit(protocol.RecordMoment, "emit_moment", moment, moment.Validate())
}

func (e *emitter) EmitMatchData(message game.MatchDataMessage) error {
	return e.emit(protocol.RecordMatchDataMessage, "emit_match_data", message, message.Validate())
}

func (e *emitter) emit(kind protocol.RecordKind, source string, body any, validationErr error) error {
	if validationErr != nil {
		e.runtime.writeError(protocol.ErrSchemaValidation, source, validationErr)
		return validationErr
	}
	return e.runtime.writeRecord(kind, body)
}
