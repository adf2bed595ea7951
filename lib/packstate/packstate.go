// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package packstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const suffix = ".pack.json"

// State describes one running pack.
type State struct {
	Slug string `json:"slug"`

	// PID is the pack's process id, which is also its process group id.
	PID int `json:"pid"`

	// Command is the absolute path of the pack executable.
	Command string `json:"command"`

	// DaemonPID is the daemon that launched the pack.
	DaemonPID int `json:"daemon_pid"`

	StartedAt time.Time `json:"started_at"`
}

// Path returns the state file for slug inside dir.
func Path(dir, slug string) string {
	return filepath.Join(dir, slug+suffix)
}

// Write atomically records state in dir. The directory must exist.
func Write(dir string, state State) error {
	if state.Slug == "" || state.PID <= 0 {
		return fmt.Errorf("packstate: slug and pid are required")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("packstate: marshaling %s: %w", state.Slug, err)
	}
	data = append(data, '\n')

	path := Path(dir, state.Slug)
	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("packstate: creating %s: %w", temporaryPath, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("packstate: writing %s: %w", temporaryPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("packstate: syncing %s: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("packstate: closing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("packstate: renaming %s into place: %w", path, err)
	}

	if parent, err := os.Open(dir); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Read parses the state file at path. A missing file yields an error
// wrapping os.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("packstate: parsing %s: %w", path, err)
	}
	return state, nil
}

// Clear removes the state file for slug. Removing a missing file is
// not an error.
func Clear(dir, slug string) error {
	if err := os.Remove(Path(dir, slug)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("packstate: removing state of %s: %w", slug, err)
	}
	return nil
}

// List returns every readable state in dir, sorted by file name.
// Unreadable files are reported in the joined error but do not stop
// the listing.
func List(dir string) ([]State, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
	if err != nil {
		return nil, err
	}
	var (
		states []State
		errs   []error
	)
	for _, path := range paths {
		state, err := Read(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		states = append(states, state)
	}
	return states, errors.Join(errs...)
}

// Reap kills the process group of every recorded pack that is still
// running its recorded command, and clears all state files in dir. It
// returns the states whose groups were signalled.
func Reap(dir string, logger *slog.Logger) ([]State, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	states, listErr := List(dir)
	errs := []error{listErr}

	var reaped []State
	for _, state := range states {
		if state.DaemonPID == os.Getpid() {
			continue
		}
		if running(state) {
			err := unix.Kill(-state.PID, unix.SIGKILL)
			switch {
			case err == nil:
				logger.Warn("killed orphaned gamepack",
					"pack", state.Slug,
					"pid", state.PID,
					"started_at", state.StartedAt,
				)
				reaped = append(reaped, state)
			case errors.Is(err, unix.ESRCH):
			default:
				errs = append(errs, fmt.Errorf("packstate: killing %s (pid %d): %w", state.Slug, state.PID, err))
				continue
			}
		}
		if err := Clear(dir, state.Slug); err != nil {
			errs = append(errs, err)
		}
	}
	return reaped, errors.Join(errs...)
}

// running reports whether state.PID is alive and executing
// state.Command.
func running(state State) bool {
	executable, err := os.Readlink("/proc/" + strconv.Itoa(state.PID) + "/exe")
	if err != nil {
		return false
	}
	executable = strings.TrimSuffix(executable, " (deleted)")
	return executable == state.Command
}
