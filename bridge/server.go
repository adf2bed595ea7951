// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultPath is where Server mounts the WebSocket endpoint.
const DefaultPath = "/bridge"

// Server serves a Host's WebSocket endpoint over TCP.
type Server struct {
	// ListenAddr is the TCP address to listen on (e.g. "127.0.0.1:7461").
	ListenAddr string

	// Host answers the requests. Required.
	Host *Host

	// Path defaults to DefaultPath.
	Path string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	listener    net.Listener
	httpServer  *http.Server
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Start binds the listener and serves in the background until Stop is
// called or ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s.ListenAddr == "" {
		return fmt.Errorf("bridge: ListenAddr is required")
	}
	if s.Host == nil {
		return fmt.Errorf("bridge: Host is required")
	}
	path := s.Path
	if path == "" {
		path = DefaultPath
	}

	listener, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("bridge: failed to listen on %s: %w", s.ListenAddr, err)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	socket := s.Host.WebSocketHandler()
	mux := http.NewServeMux()
	mux.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.connections.Add(1)
		defer s.connections.Done()
		socket.ServeHTTP(w, r)
	}))
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.logger().Handler(), slog.LevelDebug),
	}

	go func() {
		defer close(s.done)
		err := s.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger().Error("bridge server failed", "error", err)
		}
		s.connections.Wait()
	}()
	context.AfterFunc(ctx, func() { s.httpServer.Close() })

	s.logger().Info("bridge server started",
		"listen_addr", listener.Addr().String(),
		"path", path,
	)
	return nil
}

// Addr returns the listener's address, useful when binding to port 0.
// Returns nil if the server has not been started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the ws:// URL of the endpoint.
func (s *Server) URL() string {
	path := s.Path
	if path == "" {
		path = DefaultPath
	}
	return "ws://" + s.Addr().String() + path
}

// Stop closes the listener, ends every attached port and waits for
// their handlers to return.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	if s.done != nil {
		<-s.done
	}
}

// Wait blocks until the server has stopped.
func (s *Server) Wait() {
	if s.done != nil {
		<-s.done
	}
}
