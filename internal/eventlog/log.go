// Package eventlog provides the append-only durable event log: per-stream
// storage of sequenced events keyed by sequence number, with catch-up reads
// for clients recovering from gaps, disconnects, and page reloads.
//
// Appends are best-effort from the publisher's point of view: a store
// failure is logged and must never block real-time delivery.
package eventlog

import (
	"context"
	"errors"
)

// ErrPersistence wraps durable store failures so callers can distinguish
// "store down" from logic errors.
var ErrPersistence = errors.New("eventlog: persistence unavailable")

// Record is one durable event as stored in the log.
type Record struct {
	StreamID string `json:"stream_id"`
	Seq      int64  `json:"seq"`
	Type     string `json:"type"`
	Ts       int64  `json:"ts"`
	Payload  []byte `json:"payload,omitempty"`
}

// ReadResult is the response of a catch-up read. CurrentSeq is the stream's
// highest assigned sequence number, which may exceed the last returned
// event when some numbers in range were never persisted (permanent holes) or
// the read was truncated by the limit.
type ReadResult struct {
	Events     []Record `json:"events"`
	CurrentSeq int64    `json:"current_seq"`
}

// Log is the durable event log contract.
type Log interface {
	// Append stores one durable event. The event must already carry its
	// assigned sequence number. Returns an error wrapping ErrPersistence
	// when the store is unavailable.
	Append(ctx context.Context, rec Record) error

	// ReadAfter returns durable events with seq > afterSeq in ascending
	// sequence order, capped at limit, plus the stream's current maximum
	// assigned sequence number. Reads against expired or unknown streams
	// return an empty result, not an error.
	ReadAfter(ctx context.Context, streamID string, afterSeq int64, limit int) (ReadResult, error)
}

// DefaultReadLimit caps catch-up reads when the caller passes limit <= 0.
const DefaultReadLimit = 500
