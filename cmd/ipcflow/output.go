package main

import (
	"io"
	"sync"

	"github.com/drblury/ipcflow/internal/runtime/events"
	"github.com/drblury/ipcflow/internal/runtime/jsoncodec"
)

type messageRecord struct {
	Topic    string `json:"topic"`
	Message  any    `json:"message"`
	ClientID string `json:"clientId,omitempty"`
}

// messageWriter prints one JSON line per message. Server handlers run on
// one goroutine per connection, so writes are serialised.
type messageWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newMessageWriter(w io.Writer) *messageWriter {
	return &messageWriter{w: w}
}

func (m *messageWriter) write(ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return jsoncodec.Encode(m.w, messageRecord{Topic: ev.Topic, Message: ev.Message, ClientID: ev.ClientID})
}

// parsePayload decodes arg as JSON when it is valid JSON and keeps it as a
// string otherwise.
func parsePayload(arg string) any {
	data := []byte(arg)
	if !jsoncodec.Valid(data) {
		return arg
	}
	var v any
	if err := jsoncodec.Unmarshal(data, &v); err != nil {
		return arg
	}
	return v
}
