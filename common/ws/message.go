package ws

import (
	"encoding/json"
	"time"
)

// Message is the WebSocket envelope pushed to status subscribers.
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// Marshal marshals the message to JSON bytes.
func (m *Message) Marshal() ([]byte, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return json.Marshal(m)
}

// NewMessage builds a message from any JSON-encodable value. The value is
// round-tripped through encoding/json so Data matches what clients decode.
func NewMessage(msgType string, v interface{}) (Message, error) {
	msg := Message{Type: msgType, Timestamp: time.Now()}
	if v == nil {
		return msg, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(raw, &msg.Data); err != nil {
		return msg, err
	}
	return msg, nil
}

// Message types exchanged with status subscribers
const (
	MessageTypeHeartbeat     = "heartbeat"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
	MessageTypePrinterStatus = "printer_status" // latest aggregated status snapshot
	MessageTypeFeedState     = "feed_state"     // push feed connected/disconnected
)
