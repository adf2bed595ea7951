// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Writer serializes messages as JSON lines. It is safe for concurrent
// use; each message is written with a single Write call under a mutex.
type Writer struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{writer: w}
}

// WriteMessage marshals message and writes it followed by a newline.
func (w *Writer) WriteMessage(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshalling protocol message: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("writing protocol message: %w", err)
	}
	return nil
}

// WriteCommand writes a command line.
func (w *Writer) WriteCommand(command Command) error { return w.WriteMessage(command) }

// WriteResponse writes a response line.
func (w *Writer) WriteResponse(response Response) error { return w.WriteMessage(response) }

// WriteRecord writes a record line.
func (w *Writer) WriteRecord(record Record) error { return w.WriteMessage(record) }
