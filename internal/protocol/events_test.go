package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid message event
// ---------------------------------------------------------------------------

func TestParseClientEvent_Message(t *testing.T) {
	input := []byte(`{"type":"message","sender_username":"alice","receiver_username":"bob","content":"hi"}`)

	eventType, event, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eventType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, eventType)
	}

	m, ok := event.(MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent, got %T", event)
	}
	if m.SenderUsername != "alice" {
		t.Errorf("expected sender %q, got %q", "alice", m.SenderUsername)
	}
	if m.ReceiverUsername != "bob" {
		t.Errorf("expected receiver %q, got %q", "bob", m.ReceiverUsername)
	}
	if m.Content != "hi" {
		t.Errorf("expected content %q, got %q", "hi", m.Content)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid status_update event
// ---------------------------------------------------------------------------

func TestParseClientEvent_StatusUpdate(t *testing.T) {
	input := []byte(`{"type":"status_update","message_id":7,"status":"seen"}`)

	eventType, event, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eventType != TypeStatusUpdate {
		t.Fatalf("expected type %q, got %q", TypeStatusUpdate, eventType)
	}

	m, ok := event.(StatusUpdateEvent)
	if !ok {
		t.Fatalf("expected StatusUpdateEvent, got %T", event)
	}
	if m.MessageID != 7 {
		t.Errorf("expected message_id 7, got %d", m.MessageID)
	}
	if m.Status != "seen" {
		t.Errorf("expected status %q, got %q", "seen", m.Status)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid delete_message event
// ---------------------------------------------------------------------------

func TestParseClientEvent_DeleteMessage(t *testing.T) {
	input := []byte(`{"type":"delete_message","message_id":42}`)

	eventType, event, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eventType != TypeDeleteMessage {
		t.Fatalf("expected type %q, got %q", TypeDeleteMessage, eventType)
	}

	m, ok := event.(DeleteMessageEvent)
	if !ok {
		t.Fatalf("expected DeleteMessageEvent, got %T", event)
	}
	if m.MessageID != 42 {
		t.Errorf("expected message_id 42, got %d", m.MessageID)
	}
}

// ---------------------------------------------------------------------------
// Test: Missing required fields are rejected
// ---------------------------------------------------------------------------

func TestParseClientEvent_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"message without receiver", `{"type":"message","sender_username":"alice","content":"hi"}`},
		{"message without sender", `{"type":"message","receiver_username":"bob","content":"hi"}`},
		{"status_update without message_id", `{"type":"status_update","status":"seen"}`},
		{"status_update without status", `{"type":"status_update","message_id":7}`},
		{"delete_message without message_id", `{"type":"delete_message"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseClientEvent([]byte(tc.input)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown and malformed events are rejected
// ---------------------------------------------------------------------------

func TestParseClientEvent_UnknownType(t *testing.T) {
	input := []byte(`{"type":"make_coffee","message_id":7}`)

	eventType, _, err := ParseClientEvent(input)
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if eventType != "make_coffee" {
		t.Errorf("expected the unknown type to be surfaced, got %q", eventType)
	}
}

func TestParseClientEvent_MissingType(t *testing.T) {
	if _, _, err := ParseClientEvent([]byte(`{"message_id":7}`)); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientEvent_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientEvent([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: Server event construction injects the type discriminator
// ---------------------------------------------------------------------------

func TestNewServerEvent_Message(t *testing.T) {
	payload := ServerMessageEvent{
		MessageID:        7,
		SenderUsername:   "alice",
		ReceiverUsername: "bob",
		Nonce:            "00112233445566778899aabb",
		Content:          "deadbeef",
		Status:           "sent",
		Timestamp:        "2026-08-30T12:00:00Z",
	}

	data, err := NewServerEvent(TypeMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMessage {
		t.Errorf("expected type %q, got %v", TypeMessage, result["type"])
	}
	if id, ok := result["message_id"].(float64); !ok || int64(id) != 7 {
		t.Errorf("expected message_id 7, got %v", result["message_id"])
	}
	if result["nonce"] != "00112233445566778899aabb" {
		t.Errorf("unexpected nonce: %v", result["nonce"])
	}
	if result["content"] != "deadbeef" {
		t.Errorf("unexpected content: %v", result["content"])
	}
}

func TestNewServerEvent_Error(t *testing.T) {
	data, err := NewServerEvent(TypeError, ErrorEvent{
		Code:    CodeNotFound,
		Message: "receiver not found",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeError {
		t.Errorf("expected type %q, got %v", TypeError, result["type"])
	}
	if result["code"] != CodeNotFound {
		t.Errorf("expected code %q, got %v", CodeNotFound, result["code"])
	}
}
