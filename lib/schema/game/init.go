// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package game

import "regexp"

// InitResult identifies a gamepack. It is the payload of the init
// response.
type InitResult struct {
	GameID          int32  `json:"game_id"`
	Slug            string `json:"slug"`
	ProtocolVersion int    `json:"protocol_version"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidSlug reports whether slug is a lowercase URL-safe identifier.
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// Validate checks that the pack identified itself completely.
func (r InitResult) Validate() error {
	if r.GameID <= 0 {
		return invalid("init result", "game_id", "must be positive, got %d", r.GameID)
	}
	if !ValidSlug(r.Slug) {
		return invalid("init result", "slug", "must match %s, got %q", slugPattern, r.Slug)
	}
	if r.ProtocolVersion < 1 {
		return invalid("init result", "protocol_version", "must be >= 1, got %d", r.ProtocolVersion)
	}
	return nil
}
