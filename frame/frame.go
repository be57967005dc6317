// Package frame implements the envelope codec for the chat gateway protocol.
//
// Every WebSocket message carries one JSON envelope:
//
//	{"event": "<name>", "data": <payload>}
//
// Envelopes larger than the compression threshold are zstd-compressed and sent
// as binary frames. Everything else goes out as a text frame.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxPayloadLen bounds an envelope after decompression.
const MaxPayloadLen = 1 << 20

var (
	ErrPayloadTooLarge = errors.New("frame: payload exceeds maximum size")
	ErrNoEvent         = errors.New("frame: envelope has no event name")
)

// Envelope is a named event with a raw JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals data into an envelope for event. The returned flag reports
// whether the bytes are compressed and must travel as a binary frame.
func Encode(event string, data any) ([]byte, bool, error) {
	if event == "" {
		return nil, false, ErrNoEvent
	}
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, false, fmt.Errorf("frame: marshal %s: %w", event, err)
		}
		env.Data = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, false, fmt.Errorf("frame: marshal envelope: %w", err)
	}
	if len(out) > MaxPayloadLen {
		return nil, false, ErrPayloadTooLarge
	}
	out, compressed := Compress(out)
	return out, compressed, nil
}

// Decode parses an envelope, decompressing it first when compressed is set.
func Decode(data []byte, compressed bool) (Envelope, error) {
	if compressed {
		plain, err := Decompress(data)
		if err != nil {
			return Envelope{}, err
		}
		data = plain
	}
	if len(data) > MaxPayloadLen {
		return Envelope{}, ErrPayloadTooLarge
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("frame: decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrNoEvent
	}
	return env, nil
}
