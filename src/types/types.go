package types

import (
	"encoding/json"
	"slices"
	"time"
)

// Message is a realtime message pushed to connections.
// Fields carries application fields that are flattened next to the
// reserved keys when encoded.
type Message struct {
	Type      string
	Content   any
	Topic     string
	Timestamp time.Time
	Fields    map[string]any
}

// reserved keys win over Fields when both are set.
var reservedKeys = []string{"type", "content", "topic", "timestamp"}

// MarshalJSON encodes the message as a single flat JSON object.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+4)
	for k, v := range m.Fields {
		out[k] = v
	}
	out["type"] = m.Type
	if m.Content != nil {
		out["content"] = m.Content
	} else {
		delete(out, "content")
	}
	if m.Topic != "" {
		out["topic"] = m.Topic
	} else {
		delete(out, "topic")
	}
	if !m.Timestamp.IsZero() {
		out["timestamp"] = m.Timestamp.Format(time.RFC3339Nano)
	} else {
		delete(out, "timestamp")
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a flat JSON object, keeping unknown keys in Fields.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{}
	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &m.Type); err != nil {
			return err
		}
	}
	if v, ok := raw["content"]; ok {
		if err := json.Unmarshal(v, &m.Content); err != nil {
			return err
		}
	}
	if v, ok := raw["topic"]; ok {
		if err := json.Unmarshal(v, &m.Topic); err != nil {
			return err
		}
	}
	if v, ok := raw["timestamp"]; ok {
		if err := json.Unmarshal(v, &m.Timestamp); err != nil {
			return err
		}
	}
	for k, v := range raw {
		if slices.Contains(reservedKeys, k) {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if m.Fields == nil {
			m.Fields = make(map[string]any)
		}
		m.Fields[k] = val
	}
	return nil
}

// Connection is an authenticated realtime session. It is never mutated
// after the service builds it.
type Connection struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Roles     []string          `json:"roles"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// HasRole reports whether role is in the connection's role set.
func (c Connection) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Transport is the live channel backing one connection. Implementations
// are supplied by the embedding transport layer.
type Transport interface {
	Send(msg Message) error
	Close() error
	IsOpen() bool
	ConnectionID() string
}

// Binder is implemented by transports that need to learn the connection
// id generated for them at connect time.
type Binder interface {
	BindConnection(id string)
}

// ConnectionInfo is a snapshot of a connection with its topic subscriptions.
type ConnectionInfo struct {
	Connection
	Topics []string `json:"topics"`
}
