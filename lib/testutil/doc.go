// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Companion packages.
//
// [RequireReceive], [RequireSend] and [RequireClosed] wrap the
// select-with-timeout safety valve so a broken test fails instead of
// hanging. They are the only helpers that use real wall-clock
// timeouts; the code under test runs on a [clock.FakeClock].
//
// [UniqueID] produces distinct identifiers without consulting the
// clock, and [WriteFile] drops fixture files (configs, manifests,
// replay scripts) into a per-test directory.
//
// Every helper calls t.Fatalf on failure.
package testutil
