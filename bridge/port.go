// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/companion-foundation/companion/lib/netutil"
	"github.com/companion-foundation/companion/lib/protocol"
)

// Envelope is one delivered message. Origin is the sender's origin as
// established by the port, never a value the sender wrote into Data.
type Envelope struct {
	Origin string
	Data   []byte
}

// Port is one end of a message channel. Implementations are safe for
// concurrent use.
type Port interface {
	// Post delivers data to the peer, which sees it with this end's
	// LocalOrigin.
	Post(ctx context.Context, data []byte) error

	// Receive blocks for the next message. It returns ErrPortClosed
	// once either end has closed.
	Receive(ctx context.Context) (Envelope, error)

	LocalOrigin() string
	RemoteOrigin() string

	Close() error
}

const pipeBuffer = 64

// PipePort is one end of an in-process Pipe.
type PipePort struct {
	local  string
	remote string
	inbox  chan Envelope
	peer   *PipePort
	shared *pipeState
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

// Pipe returns the two ends of an in-process channel. Messages posted
// on one end arrive on the other stamped with the poster's origin.
func Pipe(hostOrigin, sandboxOrigin string) (host, sandbox *PipePort) {
	shared := &pipeState{done: make(chan struct{})}
	host = &PipePort{
		local:  hostOrigin,
		remote: sandboxOrigin,
		inbox:  make(chan Envelope, pipeBuffer),
		shared: shared,
	}
	sandbox = &PipePort{
		local:  sandboxOrigin,
		remote: hostOrigin,
		inbox:  make(chan Envelope, pipeBuffer),
		shared: shared,
	}
	host.peer, sandbox.peer = sandbox, host
	return host, sandbox
}

func (p *PipePort) Post(ctx context.Context, data []byte) error {
	return p.peer.Deliver(ctx, Envelope{Origin: p.local, Data: slices.Clone(data)})
}

// Deliver places envelope in this end's inbox as if some frame with
// envelope.Origin had posted it. A window receives messages from any
// frame that holds a reference to it; Deliver models the ones that are
// not the intended peer.
func (p *PipePort) Deliver(ctx context.Context, envelope Envelope) error {
	select {
	case <-p.shared.done:
		return ErrPortClosed
	default:
	}
	select {
	case p.inbox <- envelope:
		return nil
	case <-p.shared.done:
		return ErrPortClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipePort) Receive(ctx context.Context) (Envelope, error) {
	select {
	case envelope := <-p.inbox:
		return envelope, nil
	case <-p.shared.done:
		return Envelope{}, ErrPortClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (p *PipePort) LocalOrigin() string  { return p.local }
func (p *PipePort) RemoteOrigin() string { return p.remote }

// Close closes both ends.
func (p *PipePort) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}

// StreamPort carries one JSON message per line over a byte stream. The
// stream itself authenticates the peer, so every received message is
// attributed to remoteOrigin.
type StreamPort struct {
	stream io.ReadWriteCloser
	local  string
	remote string

	writeMu sync.Mutex

	inbox     chan Envelope
	done      chan struct{}
	closeOnce sync.Once
	readErr   error // valid once inbox is closed
}

// NewStreamPort wraps stream and starts reading from it. The port owns
// the stream and closes it on Close.
func NewStreamPort(stream io.ReadWriteCloser, localOrigin, remoteOrigin string) *StreamPort {
	port := &StreamPort{
		stream: stream,
		local:  localOrigin,
		remote: remoteOrigin,
		inbox:  make(chan Envelope, pipeBuffer),
		done:   make(chan struct{}),
	}
	go port.readLoop()
	return port
}

func (p *StreamPort) readLoop() {
	defer close(p.inbox)
	reader := protocol.NewReader(p.stream)
	for {
		line, err := reader.ReadLine()
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				// Oversized line; the reader has already skipped it.
				continue
			}
			p.readErr = err
			return
		}
		select {
		case p.inbox <- Envelope{Origin: p.remote, Data: line}:
		case <-p.done:
			p.readErr = ErrPortClosed
			return
		}
	}
}

func (p *StreamPort) Post(ctx context.Context, data []byte) error {
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("bridge: message contains a newline")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stream.Write(line); err != nil {
		if netutil.IsExpectedCloseError(err) {
			return ErrPortClosed
		}
		return fmt.Errorf("bridge: writing to %s: %w", p.remote, err)
	}
	return nil
}

func (p *StreamPort) Receive(ctx context.Context) (Envelope, error) {
	select {
	case envelope, ok := <-p.inbox:
		if !ok {
			return Envelope{}, p.closeError()
		}
		return envelope, nil
	case <-p.done:
		return Envelope{}, ErrPortClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (p *StreamPort) closeError() error {
	err := p.readErr
	if err == nil || errors.Is(err, ErrPortClosed) || netutil.IsExpectedCloseError(err) {
		return ErrPortClosed
	}
	select {
	case <-p.done:
		return ErrPortClosed
	default:
	}
	return fmt.Errorf("bridge: reading from %s: %w", p.remote, err)
}

func (p *StreamPort) LocalOrigin() string  { return p.local }
func (p *StreamPort) RemoteOrigin() string { return p.remote }

func (p *StreamPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.stream.Close()
	})
	if err != nil && netutil.IsExpectedCloseError(err) {
		return nil
	}
	return err
}
