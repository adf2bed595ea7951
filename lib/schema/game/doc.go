// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package game defines the game-agnostic payloads a gamepack reports to
// the daemon: [InitResult], [Status], [Event], [Moment], [MatchData],
// the [MatchDataMessage] subpack writes, and the [MatchProgressQuery]
// and [MatchProgress] pair used for stale-match recovery.
//
// Every payload has a Validate method. Validation failures are
// *[ValidationError] values that match [ErrSchemaValidation] under
// errors.Is. Both ends of the line protocol validate: the gamepack
// runtime before writing a payload, the daemon client after reading
// one.
//
// Nothing here knows about specific games. Game-specific detail lives
// in the opaque JSON carried by the Data and Details fields, and
// subpack stat columns are declared in each pack's manifest.
package game
