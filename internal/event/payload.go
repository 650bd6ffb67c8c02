package event

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Durable payloads
// ---------------------------------------------------------------------------

// DebateStarted is the payload of the first event on every stream.
type DebateStarted struct {
	Topic        string   `json:"topic"`
	Participants []string `json:"participants"`
	Rounds       int      `json:"rounds"`
}

// TurnStarted marks a speaker taking the floor.
type TurnStarted struct {
	Round   int    `json:"round"`
	Speaker string `json:"speaker"`
	Stance  string `json:"stance"` // "pro" or "con"
}

// TurnCompleted carries the speaker's full argument text. It supersedes any
// argument_chunk events that streamed during the turn.
type TurnCompleted struct {
	Round    int    `json:"round"`
	Speaker  string `json:"speaker"`
	Argument string `json:"argument"`
}

// RoundCompleted marks a round boundary.
type RoundCompleted struct {
	Round int `json:"round"`
}

// DebateCompleted is the terminal event of a successful debate.
type DebateCompleted struct {
	Verdict string `json:"verdict"`
	Summary string `json:"summary,omitempty"`
}

// DebateError is the terminal event of a failed debate.
type DebateError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Ephemeral payloads
// ---------------------------------------------------------------------------

// ArgumentChunk is a streamed fragment of the argument being composed.
type ArgumentChunk struct {
	Round   int    `json:"round"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Index   int    `json:"index"` // chunk position within the turn
}

// SpeakerThinking toggles the "speaker is preparing" indicator.
type SpeakerThinking struct {
	Speaker  string `json:"speaker"`
	Thinking bool   `json:"thinking"`
}

// AudienceReaction is an aggregated live reaction tick.
type AudienceReaction struct {
	Reaction string `json:"reaction"`
	Count    int    `json:"count"`
}

// ---------------------------------------------------------------------------
// Immediate-durable payloads
// ---------------------------------------------------------------------------

// DebateInterrupted is a moderator control signal. Clients apply it the
// instant it arrives rather than waiting behind earlier sequence numbers.
type DebateInterrupted struct {
	By     string `json:"by"`
	Reason string `json:"reason,omitempty"`
}

// DecodePayload decodes an event's raw payload into its concrete struct
// based on the type discriminant. It returns an error for types outside the
// catalogue so that handling stays exhaustive.
func DecodePayload(ev Event) (interface{}, error) {
	var (
		out interface{}
		err error
	)

	switch ev.Type {
	case TypeDebateStarted:
		var p DebateStarted
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	case TypeTurnStarted:
		var p TurnStarted
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	case TypeTurnCompleted:
		var p TurnCompleted
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	case TypeRoundCompleted:
		var p RoundCompleted
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	case TypeDebateCompleted:
		var p DebateCompleted
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	case TypeDebateError:
		var p DebateError
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	case TypeArgumentChunk:
		var p ArgumentChunk
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	case TypeSpeakerThinking:
		var p SpeakerThinking
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	case TypeAudienceReaction:
		var p AudienceReaction
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	case TypeDebateInterrupted:
		var p DebateInterrupted
		err = json.Unmarshal(ev.Payload, &p)
		out = p
	default:
		return nil, fmt.Errorf("event: unknown event type: %q", ev.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("event: decode %q payload: %w", ev.Type, err)
	}
	return out, nil
}
