// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Kind identifies a command. Responses echo the command's kind.
type Kind string

const (
	KindInit              Kind = "init"
	KindDetectRunning     Kind = "detect_running"
	KindGetStatus         Kind = "get_status"
	KindPollEvents        Kind = "poll_events"
	KindGetLiveData       Kind = "get_live_data"
	KindSessionStart      Kind = "session_start"
	KindSessionEnd        Kind = "session_end"
	KindShutdown          Kind = "shutdown"
	KindIsMatchInProgress Kind = "is_match_in_progress"
)

// Kinds lists every command kind the protocol defines.
var Kinds = []Kind{
	KindInit,
	KindDetectRunning,
	KindGetStatus,
	KindPollEvents,
	KindGetLiveData,
	KindSessionStart,
	KindSessionEnd,
	KindShutdown,
	KindIsMatchInProgress,
}

// ErrorKind is the taxonomy tag carried in a failed response's "error"
// field and in error records.
type ErrorKind string

const (
	// ErrProtocolDecode: the command line could not be decoded.
	ErrProtocolDecode ErrorKind = "ProtocolDecodeError"
	// ErrUnsupportedCommand: the kind is unknown or the handler does
	// not implement it.
	ErrUnsupportedCommand ErrorKind = "UnsupportedCommand"
	// ErrHandler: the handler returned an error or panicked.
	ErrHandler ErrorKind = "HandlerError"
	// ErrSchemaValidation: a payload failed validation.
	ErrSchemaValidation ErrorKind = "SchemaValidationError"
	// ErrNotInitialized: a command other than init or shutdown arrived
	// before a successful init.
	ErrNotInitialized ErrorKind = "NotInitialized"
	// ErrBridgeTimeout: a bridge request got no reply in time.
	ErrBridgeTimeout ErrorKind = "BridgeTimeoutError"
	// ErrBridgeOriginRejected: a bridge message came from the wrong
	// origin.
	ErrBridgeOriginRejected ErrorKind = "BridgeOriginRejected"
	// ErrNamespaceViolation: a bridge request addressed a namespace
	// other than its own.
	ErrNamespaceViolation ErrorKind = "NamespaceViolation"
)

// RecordKind identifies an unsolicited record.
type RecordKind string

const (
	RecordEvent            RecordKind = "event"
	RecordMoment           RecordKind = "moment"
	RecordMatchData        RecordKind = "match_data"
	RecordMatchDataMessage RecordKind = "match_data_message"
	RecordSessionStarted   RecordKind = "session_started"
	RecordSessionEnded     RecordKind = "session_ended"
	RecordError            RecordKind = "error"
)
