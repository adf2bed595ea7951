// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// MaxLineSize bounds a single protocol line. Longer lines are skipped
// and reported as a *DecodeError wrapping ErrLineTooLong.
const MaxLineSize = 4 << 20

// ErrLineTooLong is wrapped by the DecodeError for an oversized line.
var ErrLineTooLong = errors.New("line exceeds maximum size")

// Reader splits a byte stream into protocol lines.
type Reader struct {
	reader *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine returns the next non-blank line without surrounding
// whitespace. It returns io.EOF once the stream ends; a final line
// lacking a newline is still returned first. An oversized line yields a
// *DecodeError and the reader moves on to the following line.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		line, err := r.readRawLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
	}
}

func (r *Reader) readRawLine() ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.reader.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > MaxLineSize {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return nil, &DecodeError{Err: ErrLineTooLong}
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return nil, &DecodeError{Err: ErrLineTooLong}
			}
			if len(bytes.TrimSpace(line)) > 0 {
				return line, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// DecodeCommand decodes one command line. Failures are *DecodeError
// values carrying whatever request id and kind could be salvaged.
func DecodeCommand(line []byte) (Command, error) {
	var command Command
	if err := json.Unmarshal(line, &command); err != nil {
		requestID, kind := salvage(line)
		return Command{}, &DecodeError{RequestID: requestID, Kind: kind, Err: err}
	}
	if command.Kind == "" {
		return Command{}, &DecodeError{RequestID: command.RequestID, Err: errors.New("missing kind")}
	}
	if command.RequestID == "" {
		return Command{}, &DecodeError{Kind: command.Kind, Err: errors.New("missing request_id")}
	}
	return command, nil
}

// salvage extracts request_id and kind from a line that failed to
// decode as a Command, for example because the payload had the wrong
// shape or request_id was a number.
func salvage(line []byte) (string, Kind) {
	var members map[string]json.RawMessage
	if json.Unmarshal(line, &members) != nil {
		return "", ""
	}

	var requestID string
	if raw, ok := members["request_id"]; ok {
		if json.Unmarshal(raw, &requestID) != nil {
			var number json.Number
			if json.Unmarshal(raw, &number) == nil {
				requestID = number.String()
			}
		}
	}

	var kind string
	if raw, ok := members["kind"]; ok {
		_ = json.Unmarshal(raw, &kind)
	}
	return requestID, Kind(kind)
}

// Inbound is one line read by the daemon: exactly one of Response and
// Record is set.
type Inbound struct {
	Response *Response
	Record   *Record
}

// DecodeInbound decodes a gamepack output line. A response may carry an
// empty request_id when it answers a command line that could not be
// decoded.
func DecodeInbound(line []byte) (Inbound, error) {
	var discriminator struct {
		Record *RecordKind `json:"record"`
	}
	if err := json.Unmarshal(line, &discriminator); err != nil {
		return Inbound{}, &DecodeError{Err: err}
	}

	if discriminator.Record != nil {
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			return Inbound{}, &DecodeError{Err: err}
		}
		if record.Record == "" {
			return Inbound{}, &DecodeError{Err: errors.New("empty record kind")}
		}
		return Inbound{Record: &record}, nil
	}

	var response Response
	if err := json.Unmarshal(line, &response); err != nil {
		requestID, kind := salvage(line)
		return Inbound{}, &DecodeError{RequestID: requestID, Kind: kind, Err: err}
	}
	return Inbound{Response: &response}, nil
}
