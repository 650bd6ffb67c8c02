// Package protocol defines the WebSocket message types and structures used
// for communication between observer clients and the gateway. All messages
// are serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeWatch   = "watch"
	TypeUnwatch = "unwatch"
	TypePing    = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeWatchStarted   = "watch_started"
	TypeWatchEnded     = "watch_ended"
	TypeEvent          = "event"
	TypeSyncState      = "sync_state"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
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
// Client -> Server message structs
// ---------------------------------------------------------------------------

// WatchMsg is sent by the client to start observing a debate stream.
// FromSeq resumes delivery from a known checkpoint; zero means from the
// beginning of the retained log.
type WatchMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	FromSeq  int64  `json:"from_seq,omitempty"`
}

// UnwatchMsg is sent by the client to stop observing a debate stream.
type UnwatchMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new observer session is
// established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// WatchStartedMsg confirms that the client is now observing a stream.
type WatchStartedMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// WatchEndedMsg confirms that the client stopped observing a stream.
type WatchEndedMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// EventMsg relays one debate event to the client. The embedded event keeps
// its own envelope (type, stream_id, seq, ts, payload); gated durable events
// are relayed strictly in sequence order.
type EventMsg struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// SyncStateMsg reports synchronizer state transitions for a watched stream:
// "syncing", "synced", or "degraded".
type SyncStateMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	State    string `json:"state"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeWatch:
		var m WatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUnwatch:
		var m UnwatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
