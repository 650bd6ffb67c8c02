package event

import (
	"testing"
)

func TestClassifyKnownTypes(t *testing.T) {
	tests := []struct {
		eventType string
		want      Class
	}{
		{TypeDebateStarted, ClassDurable},
		{TypeTurnStarted, ClassDurable},
		{TypeTurnCompleted, ClassDurable},
		{TypeRoundCompleted, ClassDurable},
		{TypeDebateCompleted, ClassDurable},
		{TypeDebateError, ClassDurable},
		{TypeArgumentChunk, ClassEphemeral},
		{TypeSpeakerThinking, ClassEphemeral},
		{TypeAudienceReaction, ClassEphemeral},
		{TypeDebateInterrupted, ClassImmediateDurable},
	}

	for _, tt := range tests {
		got, ok := Classify(tt.eventType)
		if !ok {
			t.Errorf("Classify(%q): not in catalogue", tt.eventType)
			continue
		}
		if got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestClassifyUnknownType(t *testing.T) {
	if _, ok := Classify("no_such_event"); ok {
		t.Fatal("expected unknown type to be rejected")
	}
}

func TestClassProperties(t *testing.T) {
	if !ClassDurable.IsPersisted() || !ClassDurable.IsSequenceGated() {
		t.Error("durable events must be persisted and sequence-gated")
	}
	if ClassEphemeral.IsPersisted() || ClassEphemeral.IsSequenceGated() {
		t.Error("ephemeral events must be neither persisted nor gated")
	}
	if !ClassImmediateDurable.IsPersisted() {
		t.Error("immediate-durable events must be persisted")
	}
	if ClassImmediateDurable.IsSequenceGated() {
		t.Error("immediate-durable events must bypass the sequence gate")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	ev, err := New("debate-1", TypeTurnCompleted, 7, TurnCompleted{
		Round:    2,
		Speaker:  "pro-1",
		Argument: "closing statement",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Type != TypeTurnCompleted || parsed.StreamID != "debate-1" || parsed.Seq != 7 {
		t.Fatalf("envelope mismatch: %+v", parsed)
	}

	payload, err := DecodePayload(parsed)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	tc, ok := payload.(TurnCompleted)
	if !ok {
		t.Fatalf("expected TurnCompleted, got %T", payload)
	}
	if tc.Round != 2 || tc.Speaker != "pro-1" || tc.Argument != "closing statement" {
		t.Errorf("payload mismatch: %+v", tc)
	}
}

func TestEphemeralEventOmitsSeq(t *testing.T) {
	ev, err := New("debate-1", TypeArgumentChunk, 0, ArgumentChunk{Text: "partial", Index: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Seq != 0 {
		t.Errorf("ephemeral event carried seq=%d, want 0", parsed.Seq)
	}
}

func TestParseRejectsMissingType(t *testing.T) {
	if _, err := Parse([]byte(`{"stream_id":"d1","seq":1}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	ev := Event{Type: "bogus", StreamID: "d1"}
	if _, err := DecodePayload(ev); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
