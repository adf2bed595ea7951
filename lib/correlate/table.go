// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package correlate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/companion-foundation/companion/lib/clock"
)

var (
	// ErrDuplicateID is returned by Insert for an id that is pending or
	// was used recently.
	ErrDuplicateID = errors.New("correlation id already in use")

	// ErrExpired is delivered when an entry's timeout elapses.
	ErrExpired = errors.New("request expired")

	// ErrClosed is returned by Insert after Close.
	ErrClosed = errors.New("correlation table closed")
)

// DefaultRetiredLimit is the number of completed ids remembered when
// Config.RetiredLimit is zero.
const DefaultRetiredLimit = 4096

// Outcome is the result delivered for one entry: a value or an error.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Config configures a Table.
type Config struct {
	// Clock arms entry timeouts. Defaults to clock.Real().
	Clock clock.Clock

	// Timeout applies to entries inserted with a zero timeout.
	// Zero means no default timeout.
	Timeout time.Duration

	// RetiredLimit bounds the completed-id memory. Defaults to
	// DefaultRetiredLimit.
	RetiredLimit int
}

// Table is a concurrency-safe correlation table.
type Table[T any] struct {
	clock        clock.Clock
	timeout      time.Duration
	retiredLimit int

	mu           sync.Mutex
	pending      map[string]*entry[T]
	retired      map[string]struct{}
	retiredOrder []string
	closed       error
}

type entry[T any] struct {
	outcome chan Outcome[T]
	timer   *clock.Timer
}

// New returns an empty table.
func New[T any](cfg Config) *Table[T] {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.RetiredLimit <= 0 {
		cfg.RetiredLimit = DefaultRetiredLimit
	}
	return &Table[T]{
		clock:        cfg.Clock,
		timeout:      cfg.Timeout,
		retiredLimit: cfg.RetiredLimit,
		pending:      make(map[string]*entry[T]),
		retired:      make(map[string]struct{}),
	}
}

// Insert registers id and returns the channel its outcome is delivered
// on. The channel is buffered and receives at most once. timeout of
// zero uses the table default; a negative timeout disables expiry.
func (t *Table[T]) Insert(id string, timeout time.Duration) (<-chan Outcome[T], error) {
	if timeout == 0 {
		timeout = t.timeout
	}

	t.mu.Lock()
	if t.closed != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("inserting %q: %w", id, t.closed)
	}
	if _, ok := t.pending[id]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("inserting %q: %w", id, ErrDuplicateID)
	}
	if _, ok := t.retired[id]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("inserting %q: %w", id, ErrDuplicateID)
	}
	e := &entry[T]{outcome: make(chan Outcome[T], 1)}
	t.pending[id] = e
	t.mu.Unlock()

	// Armed outside the lock: a fake clock may run the callback
	// synchronously for non-positive delays.
	if timeout > 0 {
		timer := t.clock.AfterFunc(timeout, func() {
			t.Fail(id, fmt.Errorf("%w after %v", ErrExpired, timeout))
		})
		t.mu.Lock()
		if current, ok := t.pending[id]; ok && current == e {
			e.timer = timer
		} else {
			timer.Stop()
		}
		t.mu.Unlock()
	}
	return e.outcome, nil
}

// Resolve delivers value to id's waiter. It returns false when id is
// not pending, which covers late replies for completed ids.
func (t *Table[T]) Resolve(id string, value T) bool {
	return t.complete(id, Outcome[T]{Value: value})
}

// Fail delivers err to id's waiter. It returns false when id is not
// pending.
func (t *Table[T]) Fail(id string, err error) bool {
	return t.complete(id, Outcome[T]{Err: err})
}

// Cancel abandons id without delivering anything. It returns false when
// id is not pending.
func (t *Table[T]) Cancel(id string) bool {
	t.mu.Lock()
	e, ok := t.takeLocked(id)
	t.mu.Unlock()
	if ok && e.timer != nil {
		e.timer.Stop()
	}
	return ok
}

func (t *Table[T]) complete(id string, outcome Outcome[T]) bool {
	t.mu.Lock()
	e, ok := t.takeLocked(id)
	t.mu.Unlock()
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.outcome <- outcome
	return true
}

// takeLocked removes id from pending and retires it.
func (t *Table[T]) takeLocked(id string) (*entry[T], bool) {
	e, ok := t.pending[id]
	if !ok {
		return nil, false
	}
	delete(t.pending, id)

	t.retired[id] = struct{}{}
	t.retiredOrder = append(t.retiredOrder, id)
	if len(t.retiredOrder) > t.retiredLimit {
		evicted := t.retiredOrder[0]
		t.retiredOrder = t.retiredOrder[1:]
		delete(t.retired, evicted)
	}
	return e, true
}

// Pending reports whether id is in flight.
func (t *Table[T]) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Retired reports whether id completed recently. A reply for a retired
// id is late.
func (t *Table[T]) Retired(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.retired[id]
	return ok
}

// Used reports whether id is pending or retired.
func (t *Table[T]) Used(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, pending := t.pending[id]
	_, retired := t.retired[id]
	return pending || retired
}

// Len returns the number of pending entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close fails every pending entry with err (ErrClosed when nil) and
// rejects further inserts. Close is idempotent.
func (t *Table[T]) Close(err error) {
	if err == nil {
		err = ErrClosed
	}

	t.mu.Lock()
	if t.closed != nil {
		t.mu.Unlock()
		return
	}
	t.closed = err
	entries := make([]*entry[T], 0, len(t.pending))
	for id := range t.pending {
		e, _ := t.takeLocked(id)
		entries = append(entries, e)
	}
	t.mu.Unlock()

	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.outcome <- Outcome[T]{Err: err}
	}
}
