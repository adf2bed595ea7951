// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest reads gamepack manifests. A manifest is a JSONC file
// (JSON with comments and trailing commas) shipped next to a gamepack
// binary. It names the game, tells the daemon how to launch the pack,
// and declares the stat columns of each subpack so that match data can
// be checked before it is stored.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/companion-foundation/companion/lib/schema/game"
	"github.com/companion-foundation/companion/lib/version"
)

// Column types.
const (
	TypeInteger = "integer"
	TypeReal    = "real"
	TypeText    = "text"
	TypeBoolean = "boolean"
	TypeJSON    = "json"
)

// MaxSubpacks is the number of subpacks addressable by a uint8 index.
const MaxSubpacks = 256

// Manifest is the parsed content of a gamepack's config.json.
type Manifest struct {
	GameID          int32  `json:"game_id"`
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	ProtocolVersion int    `json:"protocol_version"`

	// Command is the pack executable. A relative path containing a
	// separator is resolved against the manifest's directory; a bare
	// name is looked up in PATH.
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`

	// UIOrigin is the origin the pack's UI frame posts bridge messages
	// from.
	UIOrigin string `json:"ui_origin,omitempty"`

	// Subpacks are indexed by position; index 0 is the default.
	Subpacks []Subpack `json:"subpacks,omitempty"`

	// Dir is the directory the manifest was read from.
	Dir string `json:"-"`
}

// Subpack is one set of match stats a pack records.
type Subpack struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column is one stat column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	stripped := jsonc.ToJSON(data)

	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()
	var manifest Manifest
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if manifest.ProtocolVersion == 0 {
		manifest.ProtocolVersion = version.ProtocolVersion
	}
	return &manifest, nil
}

// ReadFile reads, parses and validates the manifest at path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	manifest, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	manifest.Dir = filepath.Dir(absolute)
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, nil
}

// Validate reports every structural problem at once.
func (m *Manifest) Validate() error {
	var errs []error
	if m.GameID <= 0 {
		errs = append(errs, fmt.Errorf("game_id must be positive, got %d", m.GameID))
	}
	if !game.ValidSlug(m.Slug) {
		errs = append(errs, fmt.Errorf("slug %q must be lowercase letters, digits, '-' or '_'", m.Slug))
	}
	if m.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if m.ProtocolVersion != version.ProtocolVersion {
		errs = append(errs, fmt.Errorf("protocol_version %d is not supported (want %d)",
			m.ProtocolVersion, version.ProtocolVersion))
	}
	if m.Command == "" {
		errs = append(errs, fmt.Errorf("command is required"))
	}
	if len(m.Subpacks) > MaxSubpacks {
		errs = append(errs, fmt.Errorf("%d subpacks declared, limit is %d", len(m.Subpacks), MaxSubpacks))
	}
	for index, subpack := range m.Subpacks {
		seen := make(map[string]bool, len(subpack.Columns))
		for _, column := range subpack.Columns {
			switch {
			case column.Name == "":
				errs = append(errs, fmt.Errorf("subpack %d: column without a name", index))
			case seen[column.Name]:
				errs = append(errs, fmt.Errorf("subpack %d: duplicate column %q", index, column.Name))
			}
			seen[column.Name] = true
			switch column.Type {
			case TypeInteger, TypeReal, TypeText, TypeBoolean, TypeJSON:
			default:
				errs = append(errs, fmt.Errorf("subpack %d: column %q has unknown type %q", index, column.Name, column.Type))
			}
		}
	}
	return errors.Join(errs...)
}

// CommandPath returns Command resolved against Dir.
func (m *Manifest) CommandPath() string {
	if filepath.IsAbs(m.Command) || !strings.ContainsRune(m.Command, filepath.Separator) || m.Dir == "" {
		return m.Command
	}
	return filepath.Join(m.Dir, m.Command)
}

// Subpack returns the subpack at index.
func (m *Manifest) Subpack(index uint8) (Subpack, bool) {
	if int(index) >= len(m.Subpacks) {
		return Subpack{}, false
	}
	return m.Subpacks[index], true
}

// Column returns the named column.
func (s Subpack) Column(name string) (Column, bool) {
	for _, column := range s.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

// CheckMatchData checks the stats written by message against the
// declared columns of its subpack. Messages that write no stats pass.
// Failures are *game.ValidationError values.
func (m *Manifest) CheckMatchData(message game.MatchDataMessage) error {
	const payload = "match data message"

	stats := message.Stats
	field := "stats"
	if message.Type == game.SetComplete {
		stats, field = message.FinalStats, "final_stats"
	}
	if message.Type == game.WriteEvents || len(stats) == 0 {
		return nil
	}

	subpack, ok := m.Subpack(message.Subpack)
	if !ok {
		return &game.ValidationError{
			Payload: payload,
			Field:   "subpack",
			Reason:  fmt.Sprintf("%d is not declared by %s", message.Subpack, m.Slug),
		}
	}

	keys := message.StatKeys()
	slices.Sort(keys)
	for _, key := range keys {
		column, ok := subpack.Column(key)
		if !ok {
			return &game.ValidationError{
				Payload: payload,
				Field:   field + "." + key,
				Reason:  fmt.Sprintf("is not a column of subpack %d", message.Subpack),
			}
		}
		if err := column.check(stats[key]); err != nil {
			return &game.ValidationError{
				Payload: payload,
				Field:   field + "." + key,
				Reason:  err.Error(),
			}
		}
	}
	return nil
}

func (c Column) check(raw json.RawMessage) error {
	var value any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return fmt.Errorf("is not valid JSON")
	}
	if value == nil {
		if c.Nullable {
			return nil
		}
		return fmt.Errorf("is null but the column is not nullable")
	}
	switch c.Type {
	case TypeInteger:
		number, ok := value.(json.Number)
		if !ok {
			return fmt.Errorf("must be an integer")
		}
		if _, err := number.Int64(); err != nil {
			return fmt.Errorf("must be an integer, got %s", number)
		}
	case TypeReal:
		if _, ok := value.(json.Number); !ok {
			return fmt.Errorf("must be a number")
		}
	case TypeText:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("must be a string")
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("must be a boolean")
		}
	}
	return nil
}
