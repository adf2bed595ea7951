// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Command is a daemon to gamepack request.
type Command struct {
	Kind      Kind            `json:"kind"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewCommand builds a command, marshalling payload when non-nil.
func NewCommand(kind Kind, requestID string, payload any) (Command, error) {
	command := Command{Kind: kind, RequestID: requestID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Command{}, fmt.Errorf("marshalling %s payload: %w", kind, err)
		}
		command.Payload = data
	}
	return command, nil
}

// DecodePayload unmarshals the payload into v. An absent payload leaves
// v untouched.
func (c Command) DecodePayload(v any) error {
	if len(c.Payload) == 0 || string(c.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", c.Kind, err)
	}
	return nil
}

// Response answers exactly one Command. On success Result holds the
// payload object whose fields are flattened into the response line; on
// failure Error and Message describe the failure.
type Response struct {
	Kind      Kind
	RequestID string
	OK        bool
	Error     ErrorKind
	Message   string
	Result    json.RawMessage
}

// envelopeKeys are reserved at the top level of responses.
var envelopeKeys = []string{"kind", "request_id", "ok", "error", "message"}

type responseEnvelope struct {
	Kind      Kind      `json:"kind"`
	RequestID string    `json:"request_id"`
	OK        bool      `json:"ok"`
	Error     ErrorKind `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Success builds a successful response to command. result must marshal
// to a JSON object (or be nil).
func Success(command Command, result any) (Response, error) {
	response := Response{Kind: command.Kind, RequestID: command.RequestID, OK: true}
	if result == nil {
		return response, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("marshalling %s result: %w", command.Kind, err)
	}
	response.Result = data
	return response, nil
}

// Failure builds a failed response.
func Failure(kind Kind, requestID string, errorKind ErrorKind, message string) Response {
	return Response{Kind: kind, RequestID: requestID, Error: errorKind, Message: message}
}

// Err returns nil for a successful response and a *Error otherwise.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	return &Error{Kind: r.Error, Message: r.Message}
}

// DecodeResult unmarshals the flattened result fields into v.
func (r Response) DecodeResult(v any) error {
	if len(r.Result) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(r.Result, v)
}

// MarshalJSON writes the envelope followed by the result's fields.
func (r Response) MarshalJSON() ([]byte, error) {
	envelope, err := json.Marshal(responseEnvelope{
		Kind:      r.Kind,
		RequestID: r.RequestID,
		OK:        r.OK,
		Error:     r.Error,
		Message:   r.Message,
	})
	if err != nil {
		return nil, err
	}
	if !r.OK {
		return envelope, nil
	}
	return flatten(envelope, r.Result, envelopeKeys)
}

// UnmarshalJSON splits a response line into envelope and result.
func (r *Response) UnmarshalJSON(data []byte) error {
	var envelope responseEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	rest, err := remainder(data, envelopeKeys)
	if err != nil {
		return err
	}
	*r = Response{
		Kind:      envelope.Kind,
		RequestID: envelope.RequestID,
		OK:        envelope.OK,
		Error:     envelope.Error,
		Message:   envelope.Message,
	}
	if envelope.OK {
		r.Result = rest
	}
	return nil
}

// Record is an unsolicited gamepack to daemon message. Body is the
// record's payload object, flattened like a response result.
type Record struct {
	Record    RecordKind
	EmittedAt time.Time
	Body      json.RawMessage
}

var recordKeys = []string{"record", "emitted_at"}

type recordEnvelope struct {
	Record    RecordKind `json:"record"`
	EmittedAt time.Time  `json:"emitted_at"`
}

// NewRecord builds a record, marshalling body.
func NewRecord(kind RecordKind, emittedAt time.Time, body any) (Record, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Record{}, fmt.Errorf("marshalling %s record: %w", kind, err)
	}
	return Record{Record: kind, EmittedAt: emittedAt.UTC(), Body: data}, nil
}

// DecodeBody unmarshals the flattened body into v.
func (r Record) DecodeBody(v any) error {
	if len(r.Body) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(r.Body, v)
}

// MarshalJSON writes the record envelope followed by the body's fields.
func (r Record) MarshalJSON() ([]byte, error) {
	envelope, err := json.Marshal(recordEnvelope{Record: r.Record, EmittedAt: r.EmittedAt})
	if err != nil {
		return nil, err
	}
	return flatten(envelope, r.Body, recordKeys)
}

// UnmarshalJSON splits a record line into envelope and body.
func (r *Record) UnmarshalJSON(data []byte) error {
	var envelope recordEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	rest, err := remainder(data, recordKeys)
	if err != nil {
		return err
	}
	*r = Record{Record: envelope.Record, EmittedAt: envelope.EmittedAt, Body: rest}
	return nil
}

var errNotObject = errors.New("payload must be a JSON object")

// flatten splices the members of the object body into the object
// envelope. Body members may not shadow reserved keys.
func flatten(envelope, body json.RawMessage, reserved []string) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return envelope, nil
	}
	if body[0] != '{' {
		return nil, errNotObject
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, err
	}
	for _, key := range reserved {
		if _, ok := members[key]; ok {
			return nil, fmt.Errorf("payload field %q collides with the envelope", key)
		}
	}
	if len(members) == 0 {
		return envelope, nil
	}

	var buffer bytes.Buffer
	buffer.Grow(len(envelope) + len(body))
	buffer.Write(envelope[:len(envelope)-1])
	buffer.WriteByte(',')
	buffer.Write(body[1:])
	return buffer.Bytes(), nil
}

// remainder returns the members of object data other than reserved, as
// a JSON object. It returns nil when nothing remains.
func remainder(data []byte, reserved []string) (json.RawMessage, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	for _, key := range reserved {
		delete(members, key)
	}
	if len(members) == 0 {
		return nil, nil
	}
	return json.Marshal(members)
}
