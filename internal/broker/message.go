// Package broker implements the durable event channel: an AMQP topic
// exchange with durable queues, a lazily-connecting publisher, and a
// prefetch-bounded consumer that routes messages to category handlers.
package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Message is the wire envelope carried on the broker. It must be fully
// reconstructable from UTF-8 JSON text.
type Message struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Encode serializes the message for publishing.
func (m Message) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal wire message: %w", err)
	}
	return body, nil
}

// DecodeMessage parses a broker body. Numbers are kept as json.Number so the
// audit layer can normalize fixed-point values without float round-tripping.
// An empty event_type is a decode failure: no handler could ever route it.
func DecodeMessage(body []byte) (Message, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("unmarshal wire message: %w", err)
	}
	if m.EventType == "" {
		return Message{}, fmt.Errorf("wire message missing event_type")
	}
	if m.Payload == nil {
		m.Payload = map[string]any{}
	}
	return m, nil
}
