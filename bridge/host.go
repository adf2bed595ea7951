// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/net/websocket"

	"github.com/companion-foundation/companion/lib/cachestore"
	"github.com/companion-foundation/companion/lib/protocol"
)

// HostConfig configures a Host.
type HostConfig struct {
	Registry *Registry
	Store    cachestore.Store

	// Origin is the host's own origin, reported as the local origin of
	// WebSocket ports.
	Origin string

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Host serves cache requests from sandboxed pack UIs.
type Host struct {
	registry *Registry
	store    cachestore.Store
	origin   string
	logger   *slog.Logger
}

// NewHost returns a Host. Registry and Store are required.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("bridge: Registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("bridge: Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Host{
		registry: cfg.Registry,
		store:    cfg.Store,
		origin:   cfg.Origin,
		logger:   logger,
	}, nil
}

// Serve answers requests arriving on port until the port closes or ctx
// ends. The port's remote origin selects the pack; messages from any
// other origin are dropped. Serve closes port before returning.
func (h *Host) Serve(ctx context.Context, port Port) error {
	defer port.Close()

	bound := port.RemoteOrigin()
	pack, ok := h.registry.ByOrigin(bound)
	if !ok {
		h.logger.Warn("bridge port rejected",
			"error", protocol.ErrBridgeOriginRejected,
			"origin", bound,
		)
		return fmt.Errorf("%w: %q", ErrUnknownOrigin, bound)
	}
	logger := h.logger.With("pack", pack.Slug, "origin", bound)
	logger.Info("bridge port attached")

	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()

	for {
		envelope, err := port.Receive(ctx)
		if err != nil {
			logger.Info("bridge port detached")
			if errors.Is(err, ErrPortClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if envelope.Origin != bound {
			logger.Warn("bridge message dropped",
				"error", protocol.ErrBridgeOriginRejected,
				"sender_origin", envelope.Origin,
			)
			continue
		}

		reply, ok := h.handle(ctx, logger, envelope)
		if !ok {
			continue
		}
		data, err := json.Marshal(reply)
		if err != nil {
			logger.Error("marshalling bridge reply", "request_id", reply.RequestID, "error", err)
			continue
		}
		if err := port.Post(ctx, data); err != nil {
			if errors.Is(err, ErrPortClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bridge: replying to %s: %w", pack.Slug, err)
		}
	}
}

// handle serves one message. It returns false for messages that get no
// reply.
func (h *Host) handle(ctx context.Context, logger *slog.Logger, envelope Envelope) (Reply, bool) {
	var request Request
	if err := json.Unmarshal(envelope.Data, &request); err != nil {
		logger.Warn("undecodable bridge request", "error", err)
		return Reply{}, false
	}
	if request.Type == TypeCacheReply {
		logger.Debug("ignoring reply sent to host", "request_id", request.RequestID)
		return Reply{}, false
	}
	if err := request.validate(); err != nil {
		if request.RequestID == "" {
			logger.Warn("bridge request without request_id", "error", err)
			return Reply{}, false
		}
		return errorReply(request.RequestID, ReplyInvalidRequest, err.Error()), true
	}

	// Resolved per request so a deregistered pack loses access
	// immediately.
	pack, ok := h.registry.ByOrigin(envelope.Origin)
	if !ok {
		return errorReply(request.RequestID, ReplyUnknownPack, "origin is not registered"), true
	}
	if request.Namespace != "" && request.Namespace != pack.Namespace {
		logger.Warn("bridge namespace violation",
			"request_id", request.RequestID,
			"namespace", request.Namespace,
		)
		return errorReply(request.RequestID, ReplyNamespaceViolation,
			fmt.Sprintf("pack %q cannot access namespace %q", pack.Slug, request.Namespace)), true
	}

	switch request.Type {
	case TypeCacheRead:
		value, found, err := h.store.Get(ctx, pack.Namespace, request.Key)
		if err != nil {
			logger.Error("cache read failed", "request_id", request.RequestID, "key", request.Key, "error", err)
			return errorReply(request.RequestID, ReplyStoreError, err.Error()), true
		}
		return readReply(request.RequestID, value, found), true
	default:
		entry, err := h.store.Put(ctx, pack.Namespace, request.Key, request.Value)
		if err != nil {
			logger.Error("cache write failed", "request_id", request.RequestID, "key", request.Key, "error", err)
			return errorReply(request.RequestID, ReplyStoreError, err.Error()), true
		}
		logger.Debug("cache write",
			"request_id", request.RequestID,
			"key", request.Key,
			"digest", entry.Digest,
			"compression", entry.Compression.String(),
		)
		return writeReply(request.RequestID), true
	}
}

// WebSocketHandler returns an HTTP handler that upgrades connections
// from registered pack origins and serves each with Serve. Requests
// whose Origin header matches no pack get 403.
func (h *Host) WebSocketHandler() http.Handler {
	socket := websocket.Handler(func(conn *websocket.Conn) {
		origin := conn.Request().Header.Get("Origin")
		port := NewStreamPort(conn, h.origin, origin)
		if err := h.Serve(conn.Request().Context(), port); err != nil {
			h.logger.Warn("bridge connection ended", "origin", origin, "error", err)
		}
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		origin := r.Header.Get("Origin")
		if _, ok := h.registry.ByOrigin(origin); !ok {
			h.logger.Warn("bridge connection refused",
				"error", protocol.ErrBridgeOriginRejected,
				"origin", origin,
				"remote_addr", r.RemoteAddr,
			)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		socket.ServeHTTP(w, r)
	})
}

// DialWebSocket connects to a host WebSocket endpoint at url, presenting
// origin. The returned port accepts messages only as coming from
// hostOrigin.
func DialWebSocket(ctx context.Context, url, origin, hostOrigin string) (*StreamPort, error) {
	config, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("bridge: websocket config for %s: %w", url, err)
	}
	conn, err := config.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("bridge: dialing %s: %w", url, err)
	}
	return NewStreamPort(conn, origin, hostOrigin), nil
}
