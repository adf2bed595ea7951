// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package packclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/companion-foundation/companion/lib/clock"
	"github.com/companion-foundation/companion/lib/gamepack"
	"github.com/companion-foundation/companion/lib/manifest"
	"github.com/companion-foundation/companion/lib/packstate"
	"github.com/companion-foundation/companion/lib/process"
)

// DefaultGracePeriod is how long Stop waits at each escalation step.
const DefaultGracePeriod = 3 * time.Second

// LaunchConfig configures Launch. Manifest is required.
type LaunchConfig struct {
	Manifest *manifest.Manifest

	// Env is appended to the daemon's environment.
	Env []string

	// LogLevel is passed to the pack as COMPANION_LOG_LEVEL when set.
	LogLevel string

	// Sink, Timeout and NewID configure the Client.
	Sink    RecordSink
	Timeout time.Duration
	NewID   func() string

	// StateDir, when set, receives a packstate record while the pack
	// runs.
	StateDir string

	// Clock times command timeouts and grace periods. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives the pack's stderr and lifecycle messages.
	// Defaults to a discard logger.
	Logger *slog.Logger
}

// Process is a running gamepack.
type Process struct {
	*Client

	slug   string
	cmd    *exec.Cmd
	clock  clock.Clock
	logger *slog.Logger

	exited  chan struct{}
	waitErr error // valid once exited is closed
}

// Launch starts the pack described by cfg.Manifest in a new process
// group.
func Launch(ctx context.Context, cfg LaunchConfig) (*Process, error) {
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("packclient: Manifest is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("pack", cfg.Manifest.Slug)

	path := cfg.Manifest.CommandPath()
	cmd := exec.Command(path, cfg.Manifest.Args...)
	cmd.Dir = cfg.Manifest.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)
	if cfg.LogLevel != "" {
		cmd.Env = append(cmd.Env, gamepack.LogLevelEnv+"="+cfg.LogLevel)
	}
	// A group of its own lets Stop signal the pack and anything it
	// spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("packclient: stdin pipe for %s: %w", path, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("packclient: stdout pipe for %s: %w", path, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("packclient: stderr pipe for %s: %w", path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("packclient: starting %s: %w", path, err)
	}

	client, err := NewClient(ClientConfig{
		Reader:  stdout,
		Writer:  stdin,
		Sink:    cfg.Sink,
		Timeout: cfg.Timeout,
		Clock:   cfg.Clock,
		NewID:   cfg.NewID,
		Logger:  logger,
	})
	if err != nil {
		unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		cmd.Wait()
		return nil, err
	}

	proc := &Process{
		Client: client,
		slug:   cfg.Manifest.Slug,
		cmd:    cmd,
		clock:  cfg.Clock,
		logger: logger,
		exited: make(chan struct{}),
	}
	if cfg.StateDir != "" {
		proc.recordState(cfg.StateDir)
	}
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		forwardStderr(stderr, logger)
	}()
	go func() {
		// Wait closes the pipes, so both readers must be finished.
		<-client.Done()
		<-stderrDone
		proc.waitErr = cmd.Wait()
		client.Close()
		if cfg.StateDir != "" {
			if err := packstate.Clear(cfg.StateDir, proc.slug); err != nil {
				logger.Warn("clearing gamepack state failed", "error", err)
			}
		}
		close(proc.exited)
		logger.Info("gamepack exited", "exit_code", proc.ExitCode())
	}()

	logger.Info("gamepack started", "pid", cmd.Process.Pid, "command", path)
	return proc, nil
}

func (p *Process) recordState(dir string) {
	command := p.cmd.Path
	if resolved, err := filepath.EvalSymlinks(command); err == nil {
		command = resolved
	}
	if absolute, err := filepath.Abs(command); err == nil {
		command = absolute
	}
	err := packstate.Write(dir, packstate.State{
		Slug:      p.slug,
		PID:       p.cmd.Process.Pid,
		Command:   command,
		DaemonPID: os.Getpid(),
		StartedAt: p.clock.Now(),
	})
	if err != nil {
		p.logger.Warn("recording gamepack state failed", "error", err)
	}
}

func forwardStderr(stderr io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		logger.Info("gamepack stderr", "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("gamepack stderr ended", "error", err)
	}
}

// Slug returns the pack's slug.
func (p *Process) Slug() string { return p.slug }

// Pid returns the pack's process id, which is also its process group
// id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Exited is closed once the process has exited and its output has been
// drained.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitCode returns the process exit code: -1 while running or when
// killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.exited:
	default:
		return -1
	}
	if p.waitErr == nil {
		return process.ExitOK
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Signal sends sig to the pack's process group.
func (p *Process) Signal(sig syscall.Signal) error {
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Stop closes the pack's stdin and waits for it to exit, escalating to
// SIGTERM and then SIGKILL on the process group when grace elapses at
// each step. A pack that already received shutdown normally exits in
// the first step. Zero grace means DefaultGracePeriod.
func (p *Process) Stop(ctx context.Context, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	p.Client.Close()
	if p.wait(ctx, grace) {
		return nil
	}

	p.logger.Warn("gamepack did not exit, sending SIGTERM", "grace", grace)
	if err := p.Signal(unix.SIGTERM); err != nil {
		p.logger.Error("signalling gamepack", "signal", "SIGTERM", "error", err)
	}
	if p.wait(ctx, grace) {
		return nil
	}

	p.logger.Warn("gamepack ignored SIGTERM, sending SIGKILL")
	if err := p.Signal(unix.SIGKILL); err != nil {
		return fmt.Errorf("packclient: killing %s: %w", p.slug, err)
	}
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) wait(ctx context.Context, grace time.Duration) bool {
	select {
	case <-p.exited:
		return true
	case <-p.clock.After(grace):
		return false
	case <-ctx.Done():
		return false
	}
}
