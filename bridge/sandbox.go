// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/companion-foundation/companion/lib/clock"
	"github.com/companion-foundation/companion/lib/correlate"
	"github.com/companion-foundation/companion/lib/protocol"
)

// DefaultTimeout bounds each request when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// idAttempts bounds how often Send asks NewID for an unused id.
const idAttempts = 8

// Config configures a sandbox-side Bridge.
type Config struct {
	// Port is the channel to the host. The Bridge owns it.
	Port Port

	// HostOrigin is the only origin whose messages are accepted.
	// Required.
	HostOrigin string

	// Timeout bounds every request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Clock arms request timeouts. Defaults to clock.Real().
	Clock clock.Clock

	// NewID generates correlation ids. Defaults to uuid.NewString.
	NewID func() string

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Bridge is the sandbox side of the cache bridge. It is safe for
// concurrent use.
type Bridge struct {
	port       Port
	hostOrigin string
	timeout    time.Duration
	newID      func() string
	logger     *slog.Logger
	table      *correlate.Table[Reply]

	// sendMu orders id allocation and Post so requests reach the port
	// in send order.
	sendMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a Bridge receiving on cfg.Port.
func New(cfg Config) (*Bridge, error) {
	if cfg.Port == nil {
		return nil, fmt.Errorf("bridge: Port is required")
	}
	if cfg.HostOrigin == "" {
		return nil, fmt.Errorf("bridge: HostOrigin is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		port:       cfg.Port,
		hostOrigin: cfg.HostOrigin,
		timeout:    cfg.Timeout,
		newID:      cfg.NewID,
		logger:     logger.With("host_origin", cfg.HostOrigin),
		table:      correlate.New[Reply](correlate.Config{Clock: cfg.Clock, Timeout: cfg.Timeout}),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go func() {
		defer close(b.done)
		b.receiveLoop(ctx)
	}()
	return b, nil
}

// Write stores value under key in this pack's namespace. value is
// marshalled with encoding/json; a json.RawMessage is sent as is.
func (b *Bridge) Write(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bridge: marshalling value for %q: %w", key, err)
	}
	future, err := b.Send(ctx, Request{Type: TypeCacheWrite, Key: key, Value: data})
	if err != nil {
		return err
	}
	reply, err := future.Wait(ctx)
	if err != nil {
		return err
	}
	if !reply.OK {
		return &RejectedError{RequestID: reply.RequestID, Reason: reply.Error, Message: reply.Message}
	}
	return nil
}

// Read fetches key from this pack's namespace. A missing key is
// (nil, false, nil).
func (b *Bridge) Read(ctx context.Context, key string) (json.RawMessage, bool, error) {
	future, err := b.Send(ctx, Request{Type: TypeCacheRead, Key: key})
	if err != nil {
		return nil, false, err
	}
	reply, err := future.Wait(ctx)
	if err != nil {
		return nil, false, err
	}
	if !reply.OK {
		return nil, false, &RejectedError{RequestID: reply.RequestID, Reason: reply.Error, Message: reply.Message}
	}
	if reply.Found == nil || !*reply.Found {
		return nil, false, nil
	}
	return reply.Value, true, nil
}

// Send posts request with a fresh correlation id and returns without
// waiting for the reply. Any RequestID already set is replaced.
func (b *Bridge) Send(ctx context.Context, request Request) (*Future, error) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	var outcome <-chan correlate.Outcome[Reply]
	var err error
	for range idAttempts {
		request.RequestID = b.newID()
		outcome, err = b.table.Insert(request.RequestID, b.timeout)
		if !errors.Is(err, correlate.ErrDuplicateID) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, ErrBridgeClosed) || errors.Is(err, correlate.ErrClosed) {
			return nil, ErrBridgeClosed
		}
		return nil, fmt.Errorf("bridge: allocating request id: %w", err)
	}
	if err := request.validate(); err != nil {
		b.table.Cancel(request.RequestID)
		return nil, fmt.Errorf("bridge: %w", err)
	}

	data, err := json.Marshal(request)
	if err != nil {
		b.table.Cancel(request.RequestID)
		return nil, fmt.Errorf("bridge: marshalling request: %w", err)
	}
	if err := b.port.Post(ctx, data); err != nil {
		b.table.Cancel(request.RequestID)
		if errors.Is(err, ErrPortClosed) {
			return nil, ErrBridgeClosed
		}
		return nil, fmt.Errorf("bridge: posting %s: %w", request.Type, err)
	}

	b.logger.Debug("bridge request sent",
		"request_id", request.RequestID,
		"type", request.Type,
		"key", request.Key,
	)
	return &Future{
		RequestID: request.RequestID,
		request:   request,
		timeout:   b.timeout,
		outcome:   outcome,
		table:     b.table,
	}, nil
}

// Pending returns the number of requests awaiting replies.
func (b *Bridge) Pending() int { return b.table.Len() }

// Close fails every pending request with ErrBridgeClosed and closes the
// port.
func (b *Bridge) Close() error {
	b.table.Close(ErrBridgeClosed)
	b.cancel()
	err := b.port.Close()
	<-b.done
	return err
}

func (b *Bridge) receiveLoop(ctx context.Context) {
	defer b.table.Close(ErrBridgeClosed)
	for {
		envelope, err := b.port.Receive(ctx)
		if err != nil {
			if !errors.Is(err, ErrPortClosed) && ctx.Err() == nil {
				b.logger.Error("bridge receive failed", "error", err)
			}
			return
		}
		b.handle(envelope)
	}
}

func (b *Bridge) handle(envelope Envelope) {
	if envelope.Origin != b.hostOrigin {
		b.logger.Warn("bridge message dropped",
			"error", protocol.ErrBridgeOriginRejected,
			"origin", envelope.Origin,
		)
		return
	}
	var reply Reply
	if err := json.Unmarshal(envelope.Data, &reply); err != nil {
		b.logger.Warn("undecodable bridge message", "error", err)
		return
	}
	if reply.Type != TypeCacheReply {
		b.logger.Debug("ignoring bridge message", "type", reply.Type)
		return
	}
	if !b.table.Resolve(reply.RequestID, reply) {
		b.logger.Debug("discarding reply for unknown or abandoned request",
			"request_id", reply.RequestID,
		)
	}
}

// Future is an in-flight request.
type Future struct {
	RequestID string

	request Request
	timeout time.Duration
	outcome <-chan correlate.Outcome[Reply]
	table   *correlate.Table[Reply]
}

// Wait blocks for the reply. If ctx ends first the request is
// cancelled and ctx.Err() is returned.
func (f *Future) Wait(ctx context.Context) (Reply, error) {
	select {
	case outcome := <-f.outcome:
		if outcome.Err == nil {
			return outcome.Value, nil
		}
		if errors.Is(outcome.Err, correlate.ErrExpired) {
			return Reply{}, &TimeoutError{
				RequestID: f.RequestID,
				Type:      f.request.Type,
				Key:       f.request.Key,
				Timeout:   f.timeout,
			}
		}
		return Reply{}, outcome.Err
	case <-ctx.Done():
		f.Cancel()
		return Reply{}, ctx.Err()
	}
}

// Cancel abandons the request. Its id is never reused and a reply for
// it is discarded. It returns false if the request already completed.
func (f *Future) Cancel() bool {
	return f.table.Cancel(f.RequestID)
}
