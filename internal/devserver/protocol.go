package devserver

import "encoding/json"

// Wire types mirror internal/realtime; the server keeps its own copy so it
// can evolve independently of the client package.

const (
	EventChat    = "chat_message"
	EventStream  = "chat_stream"
	EventMetrics = "metrics"
)

type Frame struct {
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ID      string          `json:"id,omitempty"`
	AckID   string          `json:"ackId,omitempty"`
}

type ChatMessage struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

type ChatAck struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type EchoAck struct {
	OK    bool            `json:"ok"`
	Event string          `json:"event"`
	Echo  json.RawMessage `json:"echo,omitempty"`
}

type StreamPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content,omitempty"`
}

type MetricsPayload struct {
	CPU float64 `json:"cpu"`
	Mem float64 `json:"mem"`
}

type HealthPayload struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Payload: body})
}

func encodeAck(id string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{AckID: id, Payload: body})
}
