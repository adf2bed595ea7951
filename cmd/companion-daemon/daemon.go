// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/companion-foundation/companion/bridge"
	"github.com/companion-foundation/companion/lib/cachestore"
	"github.com/companion-foundation/companion/lib/config"
	"github.com/companion-foundation/companion/lib/manifest"
	"github.com/companion-foundation/companion/lib/packclient"
	"github.com/companion-foundation/companion/lib/packstate"
)

// hostOrigin is the origin the daemon reports on bridge ports.
const hostOrigin = "companion://daemon"

// Daemon owns the cache store, the bridge and one supervised process
// per gamepack.
type Daemon struct {
	config    *config.Config
	logger    *slog.Logger
	logLevel  string
	manifests []*manifest.Manifest
	store     cachestore.Store
	registry  *bridge.Registry
	server    *bridge.Server

	// records receives every record the packs emit, after match-data
	// checks. Tests replace it.
	records packclient.RecordSink

	// ready, when set, receives each pack's slug once its supervisor
	// is running.
	ready chan<- string
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	manifests, err := loadManifests(cfg, logger)
	if err != nil {
		return nil, err
	}

	compression, err := cachestore.ParseCompression(cfg.Bridge.Compression)
	if err != nil {
		return nil, err
	}
	store, err := cachestore.OpenSQLite(cachestore.SQLiteConfig{
		Path:    cfg.Paths.CacheDB,
		Options: cachestore.Options{Compression: compression},
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	registry := bridge.NewRegistry()
	for _, m := range manifests {
		if m.UIOrigin == "" {
			continue
		}
		if err := registry.Register(bridge.Pack{
			Slug:      m.Slug,
			Origin:    m.UIOrigin,
			Namespace: strconv.FormatInt(int64(m.GameID), 10),
		}); err != nil {
			store.Close()
			return nil, fmt.Errorf("registering %s with the bridge: %w", m.Slug, err)
		}
	}

	daemon := &Daemon{
		config:    cfg,
		logger:    logger,
		manifests: manifests,
		store:     store,
		registry:  registry,
	}
	daemon.records = recordLogger{logger: logger}

	if cfg.Bridge.ListenAddr != "" {
		host, err := bridge.NewHost(bridge.HostConfig{
			Registry: registry,
			Store:    store,
			Origin:   hostOrigin,
			Logger:   logger.With("component", "bridge"),
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		daemon.server = &bridge.Server{
			ListenAddr: cfg.Bridge.ListenAddr,
			Host:       host,
			Logger:     logger.With("component", "bridge"),
		}
	}
	return daemon, nil
}

// loadManifests reads the manifest of every enabled gamepack. Slugs
// and game ids must be unique.
func loadManifests(cfg *config.Config, logger *slog.Logger) ([]*manifest.Manifest, error) {
	var (
		manifests []*manifest.Manifest
		errs      []error
	)
	slugs := make(map[string]string)
	gameIDs := make(map[int32]string)
	for _, pack := range cfg.Gamepacks {
		path := cfg.ManifestPath(pack)
		if !pack.IsEnabled() {
			logger.Info("gamepack disabled", "manifest", path)
			continue
		}
		m, err := manifest.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if previous, ok := slugs[m.Slug]; ok {
			errs = append(errs, fmt.Errorf("%s: slug %q already declared by %s", path, m.Slug, previous))
			continue
		}
		if previous, ok := gameIDs[m.GameID]; ok {
			errs = append(errs, fmt.Errorf("%s: game_id %d already declared by %s", path, m.GameID, previous))
			continue
		}
		slugs[m.Slug] = path
		gameIDs[m.GameID] = path
		manifests = append(manifests, m)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("loading gamepack manifests: %w", err)
	}
	return manifests, nil
}

// Run starts the bridge and every pack, and blocks until ctx ends and
// all packs have stopped.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.store.Close()

	reaped, err := packstate.Reap(d.config.Paths.State, d.logger)
	if err != nil {
		d.logger.Warn("reaping orphaned gamepacks", "error", err)
	}
	if len(reaped) > 0 {
		d.logger.Warn("previous daemon left gamepacks running", "killed", len(reaped))
	}

	if d.server != nil {
		if err := d.server.Start(ctx); err != nil {
			return err
		}
		defer d.server.Stop()
	}

	var packs sync.WaitGroup
	for _, m := range d.manifests {
		packs.Add(1)
		go func() {
			defer packs.Done()
			d.runPack(ctx, m)
		}()
	}

	<-ctx.Done()
	d.logger.Info("shutting down", "gamepacks", len(d.manifests))
	packs.Wait()
	d.logger.Info("companion-daemon stopped")
	return nil
}

// runPack launches and supervises one pack until ctx ends or the pack
// goes away. A pack that exits is not restarted; its bridge
// registration is withdrawn.
func (d *Daemon) runPack(ctx context.Context, m *manifest.Manifest) {
	logger := d.logger.With("pack", m.Slug)
	defer d.registry.Deregister(m.Slug)

	sink := packclient.CheckedSink(m, d.records, logger)
	proc, err := packclient.Launch(ctx, packclient.LaunchConfig{
		Manifest: m,
		LogLevel: d.logLevel,
		Sink:     sink,
		Timeout:  d.config.Protocol.CommandTimeout.Std(),
		StateDir: d.config.Paths.State,
		Logger:   d.logger,
	})
	if err != nil {
		logger.Error("launching gamepack failed", "error", err)
		return
	}

	supervisor, err := packclient.NewSupervisor(packclient.SupervisorConfig{
		Client:          proc.Client,
		Manifest:        m,
		Sink:            sink,
		PollInterval:    d.config.Protocol.PollInterval.Std(),
		ShutdownTimeout: d.config.Protocol.ShutdownTimeout.Std(),
		Logger:          d.logger,
	})
	if err != nil {
		logger.Error("supervising gamepack failed", "error", err)
		proc.Stop(context.WithoutCancel(ctx), d.config.Protocol.ShutdownTimeout.Std())
		return
	}
	if d.ready != nil {
		d.ready <- m.Slug
	}

	if err := supervisor.Run(ctx); err != nil {
		logger.Error("gamepack stopped unexpectedly", "error", err)
	}
	if err := proc.Stop(context.WithoutCancel(ctx), d.config.Protocol.ShutdownTimeout.Std()); err != nil {
		logger.Error("stopping gamepack failed", "error", err)
	}
	logger.Info("gamepack finished", "exit_code", proc.ExitCode())
}
