// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrSchemaValidation matches every *ValidationError.
var ErrSchemaValidation = errors.New("schema validation failed")

// ValidationError describes the first invalid field of a payload.
type ValidationError struct {
	// Payload names the payload type ("game event", "match data").
	Payload string
	// Field is the JSON name of the offending field.
	Field string
	// Reason is a short human-readable explanation.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Payload, e.Field, e.Reason)
}

// Is reports whether target is ErrSchemaValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrSchemaValidation
}

func invalid(payload, field, format string, args ...any) *ValidationError {
	return &ValidationError{Payload: payload, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func checkSeconds(payload, field string, secs float64) error {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return invalid(payload, field, "must be finite")
	}
	if secs < 0 {
		return invalid(payload, field, "must be >= 0, got %g", secs)
	}
	return nil
}

// checkJSON accepts an absent value or any well-formed JSON document.
func checkJSON(payload, field string, raw json.RawMessage) error {
	if len(raw) > 0 && !json.Valid(raw) {
		return invalid(payload, field, "is not valid JSON")
	}
	return nil
}
