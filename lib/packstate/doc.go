// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package packstate records which gamepack processes the daemon has
// running, so that a daemon restarted after a crash can find and kill
// the process groups its predecessor left behind.
//
// The daemon calls [Write] after starting a pack and [Clear] once the
// pack has exited. On startup it calls [Reap], which kills every group
// still recorded and removes the files. A pid is only signalled when
// /proc shows it still runs the recorded executable, so a pid reused by
// an unrelated program is left alone.
//
// State files are written atomically (temporary file, fsync, rename,
// fsync of the directory), so readers never see a partial file.
package packstate
