// Package event defines the debate event catalogue: the envelope shared by
// every event, the typed payloads, and the static durable/ephemeral
// classification that drives sequencing and client-side ordering.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Durable event types. These reconstruct authoritative debate state after a
// gap and always carry a sequence number.
const (
	TypeDebateStarted   = "debate_started"
	TypeTurnStarted     = "turn_started"
	TypeTurnCompleted   = "turn_completed"
	TypeRoundCompleted  = "round_completed"
	TypeDebateCompleted = "debate_completed"
	TypeDebateError     = "debate_error"
)

// Ephemeral event types. High-frequency incremental updates whose loss is
// tolerable because a later durable event supersedes them. Never sequenced.
const (
	TypeArgumentChunk    = "argument_chunk"
	TypeSpeakerThinking  = "speaker_thinking"
	TypeAudienceReaction = "audience_reaction"
)

// Immediate-durable event types. Persisted for replay but exempt from the
// client's sequence gate: latency matters more than ordering for these.
const (
	TypeDebateInterrupted = "debate_interrupted"
)

// Class describes how an event type is delivered and replayed.
type Class int

const (
	// ClassDurable events get a sequence number, are persisted, and are
	// applied by clients in strict sequence order.
	ClassDurable Class = iota

	// ClassEphemeral events carry no sequence number and are applied the
	// moment they arrive.
	ClassEphemeral

	// ClassImmediateDurable events get a sequence number and are persisted,
	// but clients apply them on arrival without waiting for earlier
	// sequence numbers.
	ClassImmediateDurable
)

// String returns the class name for logging.
func (c Class) String() string {
	switch c {
	case ClassDurable:
		return "durable"
	case ClassEphemeral:
		return "ephemeral"
	case ClassImmediateDurable:
		return "immediate_durable"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// classes is the static classification map. Every publishable event type
// must appear here; Publish rejects unknown types.
var classes = map[string]Class{
	TypeDebateStarted:   ClassDurable,
	TypeTurnStarted:     ClassDurable,
	TypeTurnCompleted:   ClassDurable,
	TypeRoundCompleted:  ClassDurable,
	TypeDebateCompleted: ClassDurable,
	TypeDebateError:     ClassDurable,

	TypeArgumentChunk:    ClassEphemeral,
	TypeSpeakerThinking:  ClassEphemeral,
	TypeAudienceReaction: ClassEphemeral,

	TypeDebateInterrupted: ClassImmediateDurable,
}

// Classify returns the delivery class for an event type. The second return
// is false for types not in the catalogue.
func Classify(eventType string) (Class, bool) {
	c, ok := classes[eventType]
	return c, ok
}

// IsPersisted reports whether events of this class are written to the
// durable log (and therefore carry a sequence number).
func (c Class) IsPersisted() bool {
	return c == ClassDurable || c == ClassImmediateDurable
}

// IsSequenceGated reports whether clients must hold events of this class
// until all earlier sequence numbers have been applied.
func (c Class) IsSequenceGated() bool {
	return c == ClassDurable
}

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Event is the envelope published to NATS debate.events.<stream_id> subjects
// and persisted to the durable log. Seq is 0 for ephemeral events; durable
// events are never emitted with Seq == 0.
type Event struct {
	Type     string          `json:"type"`
	StreamID string          `json:"stream_id"`
	Seq      int64           `json:"seq,omitempty"`
	Ts       int64           `json:"ts"` // unix milliseconds
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// New constructs an event stamped with the current time. The payload is
// marshalled immediately so a bad payload fails at publish time, not at
// delivery time.
func New(streamID, eventType string, seq int64, payload interface{}) (Event, error) {
	ev := Event{
		Type:     eventType,
		StreamID: streamID,
		Seq:      seq,
		Ts:       time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("event: marshal %q payload: %w", eventType, err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

// Encode serializes the event envelope for the wire.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %q: %w", e.Type, err)
	}
	return data, nil
}

// Parse decodes raw wire bytes into an event envelope. The payload is left
// as raw JSON for deferred decoding via DecodePayload.
func Parse(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("event: parse: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("event: missing or empty \"type\" field")
	}
	return ev, nil
}
