package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseWatchMessage(t *testing.T) {
	data := []byte(`{"type":"watch","stream_id":"debate-42","from_seq":12}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	if msgType != TypeWatch {
		t.Errorf("type = %q, want %q", msgType, TypeWatch)
	}

	watch, ok := msg.(WatchMsg)
	if !ok {
		t.Fatalf("expected WatchMsg, got %T", msg)
	}
	if watch.StreamID != "debate-42" {
		t.Errorf("stream_id = %q, want debate-42", watch.StreamID)
	}
	if watch.FromSeq != 12 {
		t.Errorf("from_seq = %d, want 12", watch.FromSeq)
	}
}

func TestParseWatchWithoutCheckpoint(t *testing.T) {
	data := []byte(`{"type":"watch","stream_id":"debate-1"}`)

	_, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	if watch := msg.(WatchMsg); watch.FromSeq != 0 {
		t.Errorf("from_seq = %d, want 0", watch.FromSeq)
	}
}

func TestParseUnwatchMessage(t *testing.T) {
	data := []byte(`{"type":"unwatch","stream_id":"debate-42"}`)

	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	if msgType != TypeUnwatch {
		t.Errorf("type = %q, want %q", msgType, TypeUnwatch)
	}
	if unwatch := msg.(UnwatchMsg); unwatch.StreamID != "debate-42" {
		t.Errorf("stream_id = %q, want debate-42", unwatch.StreamID)
	}
}

func TestParsePingMessage(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage: %v", err)
	}
	if msgType != TypePing {
		t.Errorf("type = %q, want %q", msgType, TypePing)
	}
	if _, ok := msg.(PingMsg); !ok {
		t.Errorf("expected PingMsg, got %T", msg)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"subscribe_all"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if msgType != "subscribe_all" {
		t.Errorf("type = %q, want the offending type back", msgType)
	}
}

func TestParseRejectsServerOnlyType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"event"}`)); err == nil {
		t.Fatal("expected error for server-only type")
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if _, _, err := ParseClientMessage([]byte(`{"stream_id":"x"}`)); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestNewServerMessageInjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeSyncState, SyncStateMsg{
		StreamID: "debate-1",
		State:    "synced",
	})
	if err != nil {
		t.Fatalf("NewServerMessage: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if m["type"] != TypeSyncState {
		t.Errorf("type = %v, want %q", m["type"], TypeSyncState)
	}
	if m["stream_id"] != "debate-1" || m["state"] != "synced" {
		t.Errorf("payload mismatch: %v", m)
	}
}

func TestNewServerMessageEmbedsRawEvent(t *testing.T) {
	raw := json.RawMessage(`{"type":"turn_completed","stream_id":"debate-1","seq":5,"ts":1}`)
	data, err := NewServerMessage(TypeEvent, EventMsg{Event: raw})
	if err != nil {
		t.Fatalf("NewServerMessage: %v", err)
	}

	var m struct {
		Type  string `json:"type"`
		Event struct {
			Type string `json:"type"`
			Seq  int64  `json:"seq"`
		} `json:"event"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if m.Type != TypeEvent {
		t.Errorf("outer type = %q, want %q", m.Type, TypeEvent)
	}
	if m.Event.Type != "turn_completed" || m.Event.Seq != 5 {
		t.Errorf("embedded event mismatch: %+v", m.Event)
	}
}
