package realtime

import (
	"encoding/json"
	"fmt"
)

// Frame is the envelope for every message on the connection.
type Frame struct {
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// ID is set on outbound frames that expect an acknowledgement.
	ID string `json:"id,omitempty"`
	// AckID is set by the server on the acknowledgement of frame ID.
	AckID string `json:"ackId,omitempty"`
}

// IsAck reports whether the frame acknowledges an earlier emit.
func (f Frame) IsAck() bool {
	return f.AckID != ""
}

// DefaultStreamEvent is the event name chat streams are delivered on.
const DefaultStreamEvent = "chat_stream"

// StreamKind identifies the kind of a stream frame.
type StreamKind string

const (
	StreamChunk StreamKind = "chunk"
	StreamEnd   StreamKind = "end"
)

// StreamFrame is the payload carried by stream events.
type StreamFrame struct {
	Type      StreamKind `json:"type"`
	SessionID string     `json:"sessionId"`
	Content   string     `json:"content,omitempty"`
}

// encodePayload turns an arbitrary value into a raw JSON payload.
// json.RawMessage and []byte are passed through unchanged.
func encodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
