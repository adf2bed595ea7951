// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package packclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/companion-foundation/companion/lib/clock"
	"github.com/companion-foundation/companion/lib/correlate"
	"github.com/companion-foundation/companion/lib/netutil"
	"github.com/companion-foundation/companion/lib/protocol"
	"github.com/companion-foundation/companion/lib/schema/game"
)

// DefaultTimeout bounds each command when ClientConfig.Timeout is zero.
const DefaultTimeout = 10 * time.Second

var (
	// ErrClosed fails commands pending when the channel closes and
	// every command issued afterwards.
	ErrClosed = errors.New("packclient: channel closed")

	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("packclient: command timed out")
)

// TimeoutError reports a command that got no response in time.
type TimeoutError struct {
	Kind      protocol.Kind
	RequestID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("packclient: %s (request %s) got no response within %v", e.Kind, e.RequestID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RecordSink receives unsolicited records. Calls are made from a single
// goroutine in stream order and must not block for long.
type RecordSink interface {
	Record(record protocol.Record)
}

// RecordSinkFunc adapts a function to RecordSink.
type RecordSinkFunc func(protocol.Record)

func (f RecordSinkFunc) Record(record protocol.Record) { f(record) }

// ClientConfig configures a Client. Reader and Writer are required.
type ClientConfig struct {
	// Reader is the pack's stdout.
	Reader io.Reader

	// Writer is the pack's stdin. If it implements io.Closer, Close
	// closes it.
	Writer io.Writer

	// Sink receives records. Records are dropped when nil.
	Sink RecordSink

	// Timeout bounds each command. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Clock arms command timeouts. Defaults to clock.Real().
	Clock clock.Clock

	// NewID generates request ids. Defaults to uuid.NewString.
	NewID func() string

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Client issues commands to one gamepack. It is safe for concurrent
// use.
type Client struct {
	reader  io.Reader
	writer  *protocol.Writer
	closer  io.Closer
	sink    RecordSink
	timeout time.Duration
	newID   func() string
	logger  *slog.Logger
	table   *correlate.Table[protocol.Response]

	done      chan struct{}
	closeOnce sync.Once
	readErr   error // valid once done is closed
}

// NewClient starts reading responses and records from cfg.Reader.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Reader == nil || cfg.Writer == nil {
		return nil, fmt.Errorf("packclient: Reader and Writer are required")
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

	client := &Client{
		reader:  cfg.Reader,
		writer:  protocol.NewWriter(cfg.Writer),
		sink:    cfg.Sink,
		timeout: cfg.Timeout,
		newID:   cfg.NewID,
		logger:  logger,
		table: correlate.New[protocol.Response](correlate.Config{
			Clock:   cfg.Clock,
			Timeout: cfg.Timeout,
		}),
		done: make(chan struct{}),
	}
	if closer, ok := cfg.Writer.(io.Closer); ok {
		client.closer = closer
	}
	go client.readLoop()
	return client, nil
}

// Call sends a command of kind with payload (nil for none) and waits
// for its response. A response with ok=false is returned together with
// its *protocol.Error.
func (c *Client) Call(ctx context.Context, kind protocol.Kind, payload any) (protocol.Response, error) {
	requestID := c.newID()
	command, err := protocol.NewCommand(kind, requestID, payload)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("packclient: %w", err)
	}
	outcome, err := c.table.Insert(requestID, c.timeout)
	if err != nil {
		if errors.Is(err, ErrClosed) || errors.Is(err, correlate.ErrClosed) {
			return protocol.Response{}, ErrClosed
		}
		return protocol.Response{}, fmt.Errorf("packclient: %w", err)
	}
	if err := c.writer.WriteCommand(command); err != nil {
		c.table.Cancel(requestID)
		if netutil.IsExpectedCloseError(err) {
			return protocol.Response{}, ErrClosed
		}
		return protocol.Response{}, fmt.Errorf("packclient: writing %s: %w", kind, err)
	}

	select {
	case result := <-outcome:
		if result.Err != nil {
			if errors.Is(result.Err, correlate.ErrExpired) {
				return protocol.Response{}, &TimeoutError{Kind: kind, RequestID: requestID, Timeout: c.timeout}
			}
			return protocol.Response{}, result.Err
		}
		response := result.Value
		if response.Kind != kind {
			return response, fmt.Errorf("packclient: response to %s %s has kind %q", kind, requestID, response.Kind)
		}
		return response, response.Err()
	case <-ctx.Done():
		c.table.Cancel(requestID)
		return protocol.Response{}, ctx.Err()
	}
}

// call issues kind and decodes a successful result into result.
func (c *Client) call(ctx context.Context, kind protocol.Kind, payload, result any) error {
	response, err := c.Call(ctx, kind, payload)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := response.DecodeResult(result); err != nil {
		return fmt.Errorf("packclient: decoding %s result: %w", kind, err)
	}
	return nil
}

// Init sends init and validates the identity.
func (c *Client) Init(ctx context.Context) (game.InitResult, error) {
	var identity game.InitResult
	if err := c.call(ctx, protocol.KindInit, nil, &identity); err != nil {
		return game.InitResult{}, err
	}
	if err := identity.Validate(); err != nil {
		return game.InitResult{}, fmt.Errorf("packclient: init: %w", err)
	}
	return identity, nil
}

func (c *Client) DetectRunning(ctx context.Context) (bool, error) {
	var result protocol.DetectRunningResult
	err := c.call(ctx, protocol.KindDetectRunning, nil, &result)
	return result.Running, err
}

func (c *Client) Status(ctx context.Context) (game.Status, error) {
	var status game.Status
	if err := c.call(ctx, protocol.KindGetStatus, nil, &status); err != nil {
		return game.Status{}, err
	}
	if err := status.Validate(); err != nil {
		return game.Status{}, fmt.Errorf("packclient: get_status: %w", err)
	}
	return status, nil
}

func (c *Client) PollEvents(ctx context.Context) ([]game.Event, error) {
	var result protocol.PollEventsResult
	if err := c.call(ctx, protocol.KindPollEvents, nil, &result); err != nil {
		return nil, err
	}
	for index, event := range result.Events {
		if err := event.Validate(); err != nil {
			return nil, fmt.Errorf("packclient: poll_events: event %d: %w", index, err)
		}
	}
	return result.Events, nil
}

func (c *Client) LiveData(ctx context.Context) (json.RawMessage, error) {
	var result protocol.LiveDataResult
	if err := c.call(ctx, protocol.KindGetLiveData, nil, &result); err != nil {
		return nil, err
	}
	if string(result.Data) == "null" {
		return nil, nil
	}
	return result.Data, nil
}

func (c *Client) SessionStart(ctx context.Context) (protocol.SessionStartResult, error) {
	var result protocol.SessionStartResult
	err := c.call(ctx, protocol.KindSessionStart, nil, &result)
	return result, err
}

func (c *Client) SessionEnd(ctx context.Context) (protocol.SessionEndResult, error) {
	var result protocol.SessionEndResult
	err := c.call(ctx, protocol.KindSessionEnd, nil, &result)
	return result, err
}

// IsMatchInProgress asks a pack whether a match it left open is still
// being played. Packs without recovery support answer with an
// UnsupportedCommand error.
func (c *Client) IsMatchInProgress(ctx context.Context, query game.MatchProgressQuery) (game.MatchProgress, error) {
	if err := query.Validate(); err != nil {
		return game.MatchProgress{}, fmt.Errorf("packclient: %w", err)
	}
	var progress game.MatchProgress
	if err := c.call(ctx, protocol.KindIsMatchInProgress, query, &progress); err != nil {
		return game.MatchProgress{}, err
	}
	return progress, nil
}

// Shutdown asks the pack to release its resources and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, protocol.KindShutdown, nil, nil)
}

// Done is closed once the pack's output has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the output ended: nil for a clean end of stream.
// It is valid once Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Close fails pending commands and closes the pack's stdin.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.table.Close(ErrClosed)
		if c.closer != nil {
			err = c.closer.Close()
		}
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.table.Close(ErrClosed)

	reader := protocol.NewReader(c.reader)
	for {
		line, err := reader.ReadLine()
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Warn("skipping oversized gamepack line", "error", err)
				continue
			}
			if !errors.Is(err, io.EOF) && !netutil.IsExpectedCloseError(err) {
				c.readErr = err
			}
			return
		}
		c.dispatch(line)
	}
}

func (c *Client) dispatch(line []byte) {
	inbound, err := protocol.DecodeInbound(line)
	if err != nil {
		c.logger.Warn("undecodable gamepack output", "error", err)
		var decodeErr *protocol.DecodeError
		if errors.As(err, &decodeErr) && decodeErr.RequestID != "" {
			c.table.Fail(decodeErr.RequestID, fmt.Errorf("packclient: undecodable response: %w", err))
		}
		return
	}

	if inbound.Record != nil {
		if c.sink != nil {
			c.sink.Record(*inbound.Record)
		}
		return
	}

	response := inbound.Response
	if response.RequestID == "" {
		c.logger.Warn("gamepack could not decode a command",
			"error", response.Error,
			"message", response.Message,
		)
		return
	}
	if !c.table.Resolve(response.RequestID, *response) {
		c.logger.Debug("discarding response for unknown or abandoned request",
			"request_id", response.RequestID,
			"kind", response.Kind,
		)
	}
}
