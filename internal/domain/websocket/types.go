// internal/domain/websocket/types.go
package websocket

import (
	"encoding/json"
	"time"

	"quantumbulls-session/internal/pkg/session"

	"github.com/oklog/ulid/v2"
)

// EventType represents different real-time event types
type EventType string

const (
	// Connection events
	EventTypePing         EventType = "ping"
	EventTypePong         EventType = "pong"
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"

	// Session events (server -> client)
	EventTypeSessionChanged EventType = "session:changed"
	EventTypeSessionStatus  EventType = "session:status"

	// Session events (client -> server)
	EventTypeSessionCheck EventType = "session:check"
)

// WSMessage is the universal message format
type WSMessage struct {
	Type      EventType              `json:"type"`
	Data      json.RawMessage        `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id,omitempty"` // For message tracking/acknowledgment
}

// ErrorData for error events
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ConnectedData is sent once after the hub accepts a connection.
type ConnectedData struct {
	AccountID int64  `json:"account_id"`
	DeviceID  string `json:"device_id,omitempty"`
}

// SessionChangedData tells a device to re-check the authority record. It never
// carries token material.
type SessionChangedData struct {
	AccountID int64     `json:"account_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStatusData answers session:check. Record is nil when the account has
// no authority record.
type SessionStatusData struct {
	Found  bool                `json:"found"`
	Record *session.RecordView `json:"record,omitempty"`
}

// Helper to create messages
func NewMessage(eventType EventType, data interface{}) *WSMessage {
	msg := &WSMessage{
		Type:      eventType,
		Timestamp: time.Now(),
		ID:        generateMessageID(),
	}
	if data != nil {
		// Payload types here are plain structs; marshalling cannot fail.
		msg.Data, _ = json.Marshal(data)
	}
	return msg
}

// Decode unmarshals the message payload into target.
func (m *WSMessage) Decode(target interface{}) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, target)
}

func (m *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

func generateMessageID() string {
	return ulid.Make().String()
}
