// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/companion-foundation/companion/lib/schema/game"
)

// maxLineSize bounds one script line.
const maxLineSize = 1 << 20

// Offset is a step's time since init, written as a Go duration string
// ("1m30s").
type Offset time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (o *Offset) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("offset must be a duration string: %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("offset %s is negative", text)
	}
	*o = Offset(parsed)
	return nil
}

// Step is one line of a replay script. Exactly one action field is
// set.
type Step struct {
	At Offset `json:"at"`

	Running          *bool                  `json:"running,omitempty"`
	Status           *game.Status           `json:"status,omitempty"`
	Event            *game.Event            `json:"event,omitempty"`
	Moment           *game.Moment           `json:"moment,omitempty"`
	LiveData         json.RawMessage        `json:"live_data,omitempty"`
	MatchData        *game.MatchData        `json:"match_data,omitempty"`
	MatchDataMessage *game.MatchDataMessage `json:"match_data_message,omitempty"`

	line int
}

func (s Step) validate() error {
	actions := 0
	var err error
	if s.Running != nil {
		actions++
	}
	if s.Status != nil {
		actions++
		err = s.Status.Validate()
	}
	if s.Event != nil {
		actions++
		err = s.Event.Validate()
	}
	if s.Moment != nil {
		actions++
		err = s.Moment.Validate()
	}
	if s.LiveData != nil {
		actions++
		if !json.Valid(s.LiveData) {
			err = errors.New("live_data is not valid JSON")
		}
	}
	if s.MatchData != nil {
		actions++
		err = s.MatchData.Validate()
	}
	if s.MatchDataMessage != nil {
		actions++
		err = s.MatchDataMessage.Validate()
	}
	if actions != 1 {
		return fmt.Errorf("step has %d actions, want exactly 1", actions)
	}
	return err
}

// ReadScript parses a replay script: one JSON step per line, with
// blank lines and // comments ignored. Offsets must not decrease.
func ReadScript(r io.Reader) ([]Step, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		steps    []Step
		previous Offset
		number   int
	)
	for scanner.Scan() {
		number++
		line := bytes.TrimSpace(jsonc.ToJSON(scanner.Bytes()))
		if len(line) == 0 {
			continue
		}

		decoder := json.NewDecoder(bytes.NewReader(line))
		decoder.DisallowUnknownFields()
		var step Step
		if err := decoder.Decode(&step); err != nil {
			return nil, fmt.Errorf("line %d: %w", number, err)
		}
		if err := step.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", number, err)
		}
		if step.At < previous {
			return nil, fmt.Errorf("line %d: offset %s is before the previous step (%s)",
				number, time.Duration(step.At), time.Duration(previous))
		}
		previous = step.At
		step.line = number
		steps = append(steps, step)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return steps, nil
}

// ReadScriptFile reads the script at path.
func ReadScriptFile(path string) ([]Step, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	steps, err := ReadScript(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return steps, nil
}
