// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/companion-foundation/companion/lib/cachestore"
	"github.com/companion-foundation/companion/lib/clock"
)

const (
	hostOrigin     = "companion://host"
	leagueOrigin   = "https://league.packs.companion.local"
	valorantOrigin = "https://valorant.packs.companion.local"
	evilOrigin     = "https://evil.example"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHost(t *testing.T) (*Host, *Registry, cachestore.Store) {
	t.Helper()
	registry := NewRegistry()
	for _, pack := range []Pack{
		{Slug: "league", Origin: leagueOrigin},
		{Slug: "valorant", Origin: valorantOrigin},
	} {
		if err := registry.Register(pack); err != nil {
			t.Fatalf("Register(%s): %v", pack.Slug, err)
		}
	}
	store := cachestore.NewMemory(cachestore.Options{Compression: cachestore.CompressionZstd})
	host, err := NewHost(HostConfig{Registry: registry, Store: store, Origin: hostOrigin})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	return host, registry, store
}

// attach connects a sandbox Bridge for packOrigin to host over a Pipe.
func attach(t *testing.T, host *Host, packOrigin string) (*Bridge, *PipePort) {
	t.Helper()
	hostPort, sandboxPort := Pipe(hostOrigin, packOrigin)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- host.Serve(ctx, hostPort) }()

	bridge, err := New(Config{Port: sandboxPort, HostOrigin: hostOrigin})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		bridge.Close()
		cancel()
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after the port closed")
		}
	})
	return bridge, hostPort
}

// detached returns a Bridge whose host end is driven by the test.
func detached(t *testing.T, fake *clock.FakeClock, ids ...string) (*Bridge, *PipePort, *PipePort) {
	t.Helper()
	hostPort, sandboxPort := Pipe(hostOrigin, leagueOrigin)
	bridge, err := New(Config{
		Port:       sandboxPort,
		HostOrigin: hostOrigin,
		Clock:      fake,
		NewID:      sequence(ids...),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { bridge.Close() })
	return bridge, hostPort, sandboxPort
}

func sequence(ids ...string) func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(ids) {
			next++
			return fmt.Sprintf("overflow-%d", next)
		}
		id := ids[next]
		next++
		return id
	}
}

func receiveRequest(t *testing.T, port Port) Request {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	envelope, err := port.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	var request Request
	if err := json.Unmarshal(envelope.Data, &request); err != nil {
		t.Fatalf("decoding request %s: %v", envelope.Data, err)
	}
	return request
}

func postJSON(t *testing.T, port Port, message any) {
	t.Helper()
	data, err := json.Marshal(message)
	if err != nil {
		t.Fatal(err)
	}
	if err := port.Post(context.Background(), data); err != nil {
		t.Fatalf("Post: %v", err)
	}
}

func TestWriteThenRead(t *testing.T) {
	host, _, _ := newTestHost(t)
	bridge, _ := attach(t, host, leagueOrigin)
	ctx := context.Background()

	if err := bridge.Write(ctx, "last_match", map[string]any{"kills": 7, "champion": "Ahri"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	value, found, err := bridge.Read(ctx, "last_match")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found {
		t.Fatal("Read reported not found after Write")
	}
	var decoded struct {
		Kills    int    `json:"kills"`
		Champion string `json:"champion"`
	}
	if err := json.Unmarshal(value, &decoded); err != nil {
		t.Fatalf("decoding %s: %v", value, err)
	}
	if decoded.Kills != 7 || decoded.Champion != "Ahri" {
		t.Errorf("Read = %s", value)
	}
}

func TestReadMissingIsNotAnError(t *testing.T) {
	host, _, _ := newTestHost(t)
	bridge, _ := attach(t, host, leagueOrigin)

	value, found, err := bridge.Read(context.Background(), "never_written")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found || value != nil {
		t.Errorf("Read = (%s, %v), want (nil, false)", value, found)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	host, _, store := newTestHost(t)
	league, _ := attach(t, host, leagueOrigin)
	valorant, _ := attach(t, host, valorantOrigin)
	ctx := context.Background()

	if err := league.Write(ctx, "rank", "gold"); err != nil {
		t.Fatal(err)
	}
	if _, found, err := valorant.Read(ctx, "rank"); err != nil || found {
		t.Fatalf("valorant Read(rank) = (%v, %v), want not found", found, err)
	}
	if err := valorant.Write(ctx, "rank", "radiant"); err != nil {
		t.Fatal(err)
	}

	value, _, err := league.Read(ctx, "rank")
	if err != nil {
		t.Fatal(err)
	}
	if string(value) != `"gold"` {
		t.Errorf("league rank = %s, want \"gold\"", value)
	}

	stored, found, _ := store.Get(ctx, "valorant", "rank")
	if !found || string(stored) != `"radiant"` {
		t.Errorf("store valorant/rank = (%s, %v)", stored, found)
	}
}

func TestExplicitForeignNamespaceRefused(t *testing.T) {
	host, _, store := newTestHost(t)
	bridge, _ := attach(t, host, leagueOrigin)
	ctx := context.Background()

	future, err := bridge.Send(ctx, Request{
		Type:      TypeCacheWrite,
		Key:       "rank",
		Value:     json.RawMessage(`"iron"`),
		Namespace: "valorant",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if reply.OK || reply.Error != ReplyNamespaceViolation {
		t.Fatalf("reply = %+v, want NamespaceViolation", reply)
	}
	if _, found, _ := store.Get(ctx, "valorant", "rank"); found {
		t.Error("refused write reached the store")
	}

	future, err = bridge.Send(ctx, Request{Type: TypeCacheWrite, Key: "rank", Value: json.RawMessage(`1`), Namespace: "league"})
	if err != nil {
		t.Fatal(err)
	}
	if reply, err := future.Wait(ctx); err != nil || !reply.OK {
		t.Errorf("own namespace write = (%+v, %v), want ok", reply, err)
	}
}

func TestRejectedErrorMatchesNamespaceViolation(t *testing.T) {
	err := error(&RejectedError{RequestID: "r1", Reason: ReplyNamespaceViolation})
	if !errors.Is(err, ErrNamespaceViolation) {
		t.Error("RejectedError with NamespaceViolation does not match ErrNamespaceViolation")
	}
	if errors.Is(&RejectedError{Reason: ReplyStoreError}, ErrNamespaceViolation) {
		t.Error("StoreError rejection matches ErrNamespaceViolation")
	}
}

func TestRequestWireFormat(t *testing.T) {
	bridge, hostPort, _ := detached(t, clock.Fake(epoch), "r1")

	future, err := bridge.Send(context.Background(), Request{Type: TypeCacheWrite, Key: "k", Value: json.RawMessage(`{"a":1}`)})
	if err != nil {
		t.Fatal(err)
	}
	defer future.Cancel()

	envelope, err := hostPort.Receive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if envelope.Origin != leagueOrigin {
		t.Errorf("origin = %q, want %q", envelope.Origin, leagueOrigin)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(envelope.Data, &fields); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"type":       `"cache-write"`,
		"request_id": `"r1"`,
		"key":        `"k"`,
		"value":      `{"a":1}`,
	}
	if len(fields) != len(want) {
		t.Errorf("request has fields %v, want exactly %v", fields, want)
	}
	for name, value := range want {
		if string(fields[name]) != value {
			t.Errorf("%s = %s, want %s", name, fields[name], value)
		}
	}
}

func TestTimeoutThenLateReplyDiscarded(t *testing.T) {
	fake := clock.Fake(epoch)
	bridge, hostPort, _ := detached(t, fake, "r1", "r1", "r2")
	ctx := context.Background()

	future, err := bridge.Send(ctx, Request{Type: TypeCacheWrite, Key: "k", Value: json.RawMessage(`1`)})
	if err != nil {
		t.Fatal(err)
	}
	if future.RequestID != "r1" {
		t.Fatalf("RequestID = %q, want r1", future.RequestID)
	}
	receiveRequest(t, hostPort)

	fake.WaitForTimers(1)
	fake.Advance(DefaultTimeout)

	_, err = future.Wait(ctx)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Wait error = %v, want *TimeoutError", err)
	}
	if !errors.Is(err, ErrBridgeTimeout) || timeout.RequestID != "r1" || timeout.Key != "k" {
		t.Errorf("timeout = %+v", timeout)
	}

	// The host answers r1 too late.
	postJSON(t, hostPort, writeReply("r1"))

	// The next request must not reuse r1 even though NewID offers it.
	read := make(chan error, 1)
	go func() {
		_, _, err := bridge.Read(ctx, "k")
		read <- err
	}()
	request := receiveRequest(t, hostPort)
	if request.RequestID != "r2" {
		t.Fatalf("second request id = %q, want r2", request.RequestID)
	}
	postJSON(t, hostPort, readReply("r2", nil, false))
	select {
	case err := <-read:
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not complete")
	}
	if pending := bridge.Pending(); pending != 0 {
		t.Errorf("Pending = %d, want 0", pending)
	}
}

func TestForeignOriginReplyIgnored(t *testing.T) {
	bridge, hostPort, sandboxPort := detached(t, clock.Fake(epoch), "r1")
	ctx := context.Background()

	type result struct {
		value json.RawMessage
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, _, err := bridge.Read(ctx, "k")
		done <- result{value, err}
	}()
	receiveRequest(t, hostPort)

	forged, _ := json.Marshal(readReply("r1", json.RawMessage(`"forged"`), true))
	if err := sandboxPort.Deliver(ctx, Envelope{Origin: evilOrigin, Data: forged}); err != nil {
		t.Fatal(err)
	}
	postJSON(t, hostPort, readReply("r1", json.RawMessage(`"genuine"`), true))

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("Read: %v", got.err)
		}
		if string(got.value) != `"genuine"` {
			t.Errorf("Read = %s, want the host's reply", got.value)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not complete")
	}
}

func TestHostDropsForeignOrigin(t *testing.T) {
	host, _, store := newTestHost(t)
	bridge, hostPort := attach(t, host, leagueOrigin)
	ctx := context.Background()

	forged, _ := json.Marshal(Request{Type: TypeCacheWrite, RequestID: "x1", Key: "rank", Value: json.RawMessage(`"forged"`)})
	if err := hostPort.Deliver(ctx, Envelope{Origin: evilOrigin, Data: forged}); err != nil {
		t.Fatal(err)
	}

	// Served in order, so the forged write has been handled by now.
	if _, found, err := bridge.Read(ctx, "rank"); err != nil || found {
		t.Fatalf("Read = (%v, %v), want not found", found, err)
	}
	if _, found, _ := store.Get(ctx, "league", "rank"); found {
		t.Error("forged write reached the store")
	}
}

func TestConcurrentRequests(t *testing.T) {
	host, _, _ := newTestHost(t)
	bridge, _ := attach(t, host, leagueOrigin)
	ctx := context.Background()

	const workers = 16
	var waitGroup sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			key := fmt.Sprintf("key-%d", i)
			if err := bridge.Write(ctx, key, i); err != nil {
				errs <- fmt.Errorf("Write(%s): %w", key, err)
				return
			}
			value, found, err := bridge.Read(ctx, key)
			if err != nil || !found {
				errs <- fmt.Errorf("Read(%s) = (%v, %v)", key, found, err)
				return
			}
			if string(value) != fmt.Sprint(i) {
				errs <- fmt.Errorf("Read(%s) = %s, want %d", key, value, i)
			}
		}()
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestConcurrentSendsPostInIDOrder(t *testing.T) {
	const senders = 32
	ids := make([]string, senders)
	for i := range ids {
		ids[i] = fmt.Sprintf("r%02d", i)
	}
	bridge, hostPort, _ := detached(t, clock.Fake(epoch), ids...)

	var waitGroup sync.WaitGroup
	errs := make(chan error, senders)
	for i := range senders {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if _, err := bridge.Send(context.Background(), Request{Type: TypeCacheWrite, Key: fmt.Sprint(i), Value: json.RawMessage(`1`)}); err != nil {
				errs <- err
			}
		}()
	}
	for i := range senders {
		if got := receiveRequest(t, hostPort); got.RequestID != ids[i] {
			t.Fatalf("request %d posted with id %s, want %s", i, got.RequestID, ids[i])
		}
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCloseFailsPending(t *testing.T) {
	bridge, hostPort, _ := detached(t, clock.Fake(epoch), "r1")
	ctx := context.Background()

	future, err := bridge.Send(ctx, Request{Type: TypeCacheRead, Key: "k"})
	if err != nil {
		t.Fatal(err)
	}
	receiveRequest(t, hostPort)
	bridge.Close()

	if _, err := future.Wait(ctx); !errors.Is(err, ErrBridgeClosed) {
		t.Errorf("Wait after Close = %v, want ErrBridgeClosed", err)
	}
	if _, err := bridge.Send(ctx, Request{Type: TypeCacheRead, Key: "k"}); !errors.Is(err, ErrBridgeClosed) {
		t.Errorf("Send after Close = %v, want ErrBridgeClosed", err)
	}
}

func TestWaitCancelledAbandonsRequest(t *testing.T) {
	bridge, hostPort, _ := detached(t, clock.Fake(epoch), "r1")

	future, err := bridge.Send(context.Background(), Request{Type: TypeCacheRead, Key: "k"})
	if err != nil {
		t.Fatal(err)
	}
	receiveRequest(t, hostPort)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := future.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
	if bridge.Pending() != 0 {
		t.Errorf("Pending = %d after cancellation, want 0", bridge.Pending())
	}
	if future.Cancel() {
		t.Error("second Cancel reported success")
	}
}

func TestInvalidRequestsAnswered(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{name: "write without value", message: `{"type":"cache-write","request_id":"a","key":"k"}`, want: ReplyInvalidRequest},
		{name: "read without key", message: `{"type":"cache-read","request_id":"b"}`, want: ReplyInvalidRequest},
		{name: "unknown type", message: `{"type":"cache-drop","request_id":"c","key":"k"}`, want: ReplyInvalidRequest},
		{name: "read with value", message: `{"type":"cache-read","request_id":"d","key":"k","value":1}`, want: ReplyInvalidRequest},
	}
	host, _, _ := newTestHost(t)
	hostPort, sandboxPort := Pipe(hostOrigin, leagueOrigin)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Serve(ctx, hostPort)

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := sandboxPort.Post(ctx, []byte(test.message)); err != nil {
				t.Fatal(err)
			}
			envelope, err := sandboxPort.Receive(ctx)
			if err != nil {
				t.Fatal(err)
			}
			var reply Reply
			if err := json.Unmarshal(envelope.Data, &reply); err != nil {
				t.Fatal(err)
			}
			if reply.OK || reply.Error != test.want {
				t.Errorf("reply = %+v, want error %s", reply, test.want)
			}
		})
	}
}

func TestDeregisteredPackLosesAccess(t *testing.T) {
	host, registry, _ := newTestHost(t)
	bridge, _ := attach(t, host, leagueOrigin)
	ctx := context.Background()

	if err := bridge.Write(ctx, "k", 1); err != nil {
		t.Fatal(err)
	}
	registry.Deregister("league")

	_, _, err := bridge.Read(ctx, "k")
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Reason != ReplyUnknownPack {
		t.Fatalf("Read after Deregister = %v, want UnknownPack rejection", err)
	}
}

func TestServeUnknownOrigin(t *testing.T) {
	host, _, _ := newTestHost(t)
	hostPort, _ := Pipe(hostOrigin, evilOrigin)
	if err := host.Serve(context.Background(), hostPort); !errors.Is(err, ErrUnknownOrigin) {
		t.Errorf("Serve = %v, want ErrUnknownOrigin", err)
	}
}

func TestStreamPort(t *testing.T) {
	host, _, _ := newTestHost(t)
	serverConn, clientConn := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- host.Serve(ctx, NewStreamPort(serverConn, hostOrigin, leagueOrigin)) }()

	bridge, err := New(Config{Port: NewStreamPort(clientConn, leagueOrigin, hostOrigin), HostOrigin: hostOrigin})
	if err != nil {
		t.Fatal(err)
	}
	if err := bridge.Write(ctx, "k", []int{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	value, found, err := bridge.Read(ctx, "k")
	if err != nil || !found || string(value) != "[1,2,3]" {
		t.Fatalf("Read = (%s, %v, %v)", value, found, err)
	}

	bridge.Close()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve after peer close = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not notice the closed stream")
	}
}

func TestStreamPortRejectsNewlines(t *testing.T) {
	_, clientConn := net.Pipe()
	port := NewStreamPort(clientConn, leagueOrigin, hostOrigin)
	defer port.Close()
	if err := port.Post(context.Background(), []byte("{}\n{}")); err == nil {
		t.Error("Post accepted a message containing a newline")
	}
}

func TestWebSocketServer(t *testing.T) {
	host, _, _ := newTestHost(t)
	server := &Server{ListenAddr: "127.0.0.1:0", Host: host}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	port, err := DialWebSocket(ctx, server.URL(), leagueOrigin, hostOrigin)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	bridge, err := New(Config{Port: port, HostOrigin: hostOrigin})
	if err != nil {
		t.Fatal(err)
	}
	defer bridge.Close()

	if err := bridge.Write(ctx, "session", map[string]string{"map": "Ascent"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	value, found, err := bridge.Read(ctx, "session")
	if err != nil || !found || string(value) != `{"map":"Ascent"}` {
		t.Fatalf("Read = (%s, %v, %v)", value, found, err)
	}

	if _, err := DialWebSocket(ctx, server.URL(), evilOrigin, hostOrigin); err == nil {
		t.Error("DialWebSocket from an unregistered origin succeeded")
	}
}

func TestServerStopEndsConnections(t *testing.T) {
	host, _, _ := newTestHost(t)
	server := &Server{ListenAddr: "127.0.0.1:0", Host: host}
	if err := server.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	port, err := DialWebSocket(ctx, server.URL(), leagueOrigin, hostOrigin)
	if err != nil {
		t.Fatal(err)
	}
	defer port.Close()

	bridge, err := New(Config{Port: port, HostOrigin: hostOrigin})
	if err != nil {
		t.Fatal(err)
	}
	defer bridge.Close()
	if err := bridge.Write(ctx, "k", true); err != nil {
		t.Fatal(err)
	}

	stopped := make(chan struct{})
	go func() {
		server.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return with a connection attached")
	}

	if err := bridge.Write(ctx, "k", false); err == nil {
		t.Error("Write succeeded after the server stopped")
	}
}
