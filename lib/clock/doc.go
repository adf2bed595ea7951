// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock time so that timeouts and poll
// intervals can be driven deterministically in tests.
//
// Components that schedule work (bridge request deadlines, daemon
// command timeouts, the gamepack poll loop) hold a [Clock] instead of
// calling the time package. Production wiring passes [Real]; tests
// pass [Fake] and move time forward explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	bridge := bridge.New(port, bridge.Config{Clock: fake})
//	go bridge.Write(ctx, "key", value)
//	fake.WaitForTimers(1)       // request deadline registered
//	fake.Advance(10 * time.Second)
//
// WaitForTimers closes the race between a goroutine arming a timer and
// the test advancing past its deadline.
package clock
