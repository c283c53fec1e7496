// Package protocol defines the WebSocket event types and structures exchanged
// between clients and the relay. All events are serialized as JSON and follow
// a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeMessage       = "message"
	TypeStatusUpdate  = "status_update"
	TypeDeleteMessage = "delete_message"
	TypePing          = "ping"
)

// Server -> Client event types.
const (
	TypeSessionCreated = "session_created"
	TypeError          = "error"
	TypePong           = "pong"
)

// Error codes carried in ErrorEvent, one per failure class. Authentication
// failures never produce an ErrorEvent; they refuse the connection instead.
const (
	CodeNotFound    = "not_found"
	CodeProtocol    = "protocol_error"
	CodeStore       = "store_error"
	CodeRateLimited = "rate_limited"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// MessageEvent is sent by a client to deliver a direct message. The content
// is plaintext on the wire from the client and is encrypted before storage
// and fan-out.
type MessageEvent struct {
	Type             string `json:"type"`
	SenderUsername   string `json:"sender_username"`
	ReceiverUsername string `json:"receiver_username"`
	Content          string `json:"content"`
}

// StatusUpdateEvent is sent by a client to mark a message delivered or seen.
type StatusUpdateEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
}

// DeleteMessageEvent is sent by a client to unsend a message.
type DeleteMessageEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}

// PingEvent is a client-initiated keepalive ping.
type PingEvent struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// SessionCreatedEvent is sent by the server once a session is authenticated
// and admitted to the registry.
type SessionCreatedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// ServerMessageEvent carries a persisted message to the sender's and
// receiver's live sessions. Nonce and content are hex-encoded ciphertext
// material; the plaintext never leaves the relay unencrypted except on the
// inbound leg.
type ServerMessageEvent struct {
	Type             string `json:"type"`
	MessageID        int64  `json:"message_id"`
	SenderUsername   string `json:"sender_username"`
	ReceiverUsername string `json:"receiver_username"`
	Nonce            string `json:"nonce"`
	Content          string `json:"content"`
	Status           string `json:"status"`
	Timestamp        string `json:"timestamp"`
}

// ServerStatusEvent notifies both participants' sessions of a status change.
type ServerStatusEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	NewStatus string `json:"new_status"`
}

// ServerDeleteEvent notifies both participants' sessions that a message was
// unsent so clients can drop it locally.
type ServerDeleteEvent struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}

// ErrorEvent is sent by the server to communicate an error scoped to a
// single inbound event. The session stays open.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongEvent is the server's response to a client ping.
type PongEvent struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered. Unknown types, server-only types, and events missing
// required fields are errors; the caller reports them to the originating
// session without closing it.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		event interface{}
		err   error
	)

	switch env.Type {
	case TypeMessage:
		var m MessageEvent
		if err = json.Unmarshal(env.Raw, &m); err == nil {
			err = m.validate()
		}
		event = m
	case TypeStatusUpdate:
		var m StatusUpdateEvent
		if err = json.Unmarshal(env.Raw, &m); err == nil {
			err = m.validate()
		}
		event = m
	case TypeDeleteMessage:
		var m DeleteMessageEvent
		if err = json.Unmarshal(env.Raw, &m); err == nil {
			err = m.validate()
		}
		event = m
	case TypePing:
		var m PingEvent
		err = json.Unmarshal(env.Raw, &m)
		event = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, event, nil
}

func (m MessageEvent) validate() error {
	if m.SenderUsername == "" {
		return fmt.Errorf("missing required field \"sender_username\"")
	}
	if m.ReceiverUsername == "" {
		return fmt.Errorf("missing required field \"receiver_username\"")
	}
	return nil
}

func (m StatusUpdateEvent) validate() error {
	if m.MessageID <= 0 {
		return fmt.Errorf("missing or invalid required field \"message_id\"")
	}
	if m.Status == "" {
		return fmt.Errorf("missing required field \"status\"")
	}
	return nil
}

func (m DeleteMessageEvent) validate() error {
	if m.MessageID <= 0 {
		return fmt.Errorf("missing or invalid required field \"message_id\"")
	}
	return nil
}

// NewServerEvent creates a JSON-encoded byte slice for a server event.
// The eventType is injected into the payload under the "type" key so that
// the Server* structs do not need their Type field set by every caller.
func NewServerEvent(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = eventType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}
