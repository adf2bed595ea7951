// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package packstate

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// helperEnv makes the test binary idle as a stand-in gamepack.
const helperEnv = "PACKSTATE_HELPER_PACK"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) != "" {
		for {
			time.Sleep(time.Hour)
		}
	}
	os.Exit(m.Run())
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	state := State{
		Slug:      "league",
		PID:       4242,
		Command:   "/opt/companion/packs/league/league-pack",
		DaemonPID: 4200,
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := Write(dir, state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(Path(dir, "league"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Slug != state.Slug || got.PID != state.PID || got.Command != state.Command ||
		got.DaemonPID != state.DaemonPID || !got.StartedAt.Equal(state.StartedAt) {
		t.Errorf("Read = %+v, want %+v", got, state)
	}

	if _, err := os.Stat(Path(dir, "league") + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary file left behind: %v", err)
	}
	info, err := os.Stat(Path(dir, "league"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestWriteOverwrites(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, State{Slug: "league", PID: 100}); err != nil {
		t.Fatal(err)
	}
	if err := Write(dir, State{Slug: "league", PID: 200}); err != nil {
		t.Fatal(err)
	}
	got, err := Read(Path(dir, "league"))
	if err != nil {
		t.Fatal(err)
	}
	if got.PID != 200 {
		t.Errorf("PID = %d, want 200 from the second write", got.PID)
	}
}

func TestWriteRequiresIdentity(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, State{PID: 100}); err == nil {
		t.Error("Write without a slug succeeded")
	}
	if err := Write(dir, State{Slug: "league"}); err == nil {
		t.Error("Write without a pid succeeded")
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(Path(t.TempDir(), "league"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read = %v, want os.ErrNotExist", err)
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, State{Slug: "league", PID: 100}); err != nil {
		t.Fatal(err)
	}
	if err := Clear(dir, "league"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := Clear(dir, "league"); err != nil {
		t.Errorf("second Clear: %v", err)
	}
	if _, err := os.Stat(Path(dir, "league")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("state file still present: %v", err)
	}
}

func TestListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	for _, slug := range []string{"valorant", "league"} {
		if err := Write(dir, State{Slug: slug, PID: 100}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(Path(dir, "broken"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a pack"), 0o600); err != nil {
		t.Fatal(err)
	}

	states, err := List(dir)
	if err == nil {
		t.Error("List did not report the corrupt file")
	}
	if len(states) != 2 || states[0].Slug != "league" || states[1].Slug != "valorant" {
		t.Errorf("List = %+v, want league and valorant", states)
	}
}

func TestReapKillsOrphanedPack(t *testing.T) {
	executable, err := os.Executable()
	if err != nil {
		t.Skipf("os.Executable: %v", err)
	}
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		t.Fatal(err)
	}

	cmd := exec.Command(executable)
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()
	t.Cleanup(func() {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	})

	dir := t.TempDir()
	if err := Write(dir, State{Slug: "league", PID: cmd.Process.Pid, Command: executable, DaemonPID: 1}); err != nil {
		t.Fatal(err)
	}

	reaped, err := Reap(dir, nil)
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if len(reaped) != 1 || reaped[0].Slug != "league" {
		t.Errorf("reaped = %+v, want league", reaped)
	}
	select {
	case err := <-waited:
		if err == nil {
			t.Error("orphan exited cleanly, want killed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("orphan still running after Reap")
	}
	if _, err := os.Stat(Path(dir, "league")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("state file still present: %v", err)
	}
}

func TestReapSparesOtherProcesses(t *testing.T) {
	dir := t.TempDir()
	states := []State{
		// A reused pid now running something else.
		{Slug: "league", PID: os.Getpid(), Command: "/opt/companion/packs/league/league-pack", DaemonPID: 1},
		// A pid that no longer exists.
		{Slug: "valorant", PID: 1 << 30, Command: "/opt/companion/packs/valorant/valorant-pack", DaemonPID: 1},
	}
	for _, state := range states {
		if err := Write(dir, state); err != nil {
			t.Fatal(err)
		}
	}
	// Packs of the running daemon are left in place.
	if err := Write(dir, State{Slug: "dota", PID: 1 << 30, DaemonPID: os.Getpid()}); err != nil {
		t.Fatal(err)
	}

	reaped, err := Reap(dir, nil)
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if len(reaped) != 0 {
		t.Errorf("reaped = %+v, want none", reaped)
	}
	remaining, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].Slug != "dota" {
		t.Errorf("remaining = %+v, want only dota", remaining)
	}
}
