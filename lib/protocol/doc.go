// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the line-oriented wire format between the
// daemon and a gamepack subprocess.
//
// Every message is one JSON object on one line. The daemon writes
// [Command] lines to the pack's stdin; the pack writes exactly one
// [Response] per command to stdout, echoing the command's kind and
// request_id, and may interleave unsolicited [Record] lines (events,
// moments, match data, session boundaries, asynchronous errors).
//
// A successful response carries its payload flattened into the top
// level object:
//
//	{"kind":"init","request_id":"1","ok":true,"game_id":99,"slug":"my-game","protocol_version":1}
//
// A failed response carries an [ErrorKind] tag and a message:
//
//	{"kind":"foo","request_id":"7","ok":false,"error":"UnsupportedCommand","message":"unknown command kind \"foo\""}
//
// Records are distinguished from responses by their "record" field.
//
// [Reader] splits and decodes lines; [Writer] serializes writes so that
// concurrent emitters never interleave within a line.
package protocol
