package eventlog

import (
	"context"
	"sort"
	"sync"

	"github.com/rostrum/debate-app/internal/sequence"
)

// MemoryLog is an in-process log for single-node deployments and tests. It
// honors the same contract as PostgresLog, including reporting CurrentSeq
// from the sequencer so holes from abandoned sequence numbers are visible.
type MemoryLog struct {
	mu      sync.RWMutex
	streams map[string][]Record // sorted by seq ascending
	seq     sequence.Sequencer
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog(seq sequence.Sequencer) *MemoryLog {
	return &MemoryLog{
		streams: make(map[string][]Record),
		seq:     seq,
	}
}

// Append stores one durable event, keeping the stream sorted by seq.
func (l *MemoryLog) Append(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.streams[rec.StreamID]
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Seq >= rec.Seq })
	if i < len(recs) && recs[i].Seq == rec.Seq {
		// Duplicate append, first write wins as in the Postgres store.
		return nil
	}
	recs = append(recs, Record{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	l.streams[rec.StreamID] = recs
	return nil
}

// ReadAfter returns durable events with seq > afterSeq in ascending order.
func (l *MemoryLog) ReadAfter(ctx context.Context, streamID string, afterSeq int64, limit int) (ReadResult, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	l.mu.RLock()
	recs := l.streams[streamID]
	result := ReadResult{Events: []Record{}}
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Seq > afterSeq })
	for ; i < len(recs) && len(result.Events) < limit; i++ {
		result.Events = append(result.Events, recs[i])
	}
	l.mu.RUnlock()

	cur, err := l.seq.Current(ctx, streamID)
	if err != nil {
		cur = afterSeq
		if n := len(result.Events); n > 0 {
			cur = result.Events[n-1].Seq
		}
	}
	result.CurrentSeq = cur

	return result, nil
}

// Drop removes a stream entirely, simulating retention expiry in tests.
func (l *MemoryLog) Drop(streamID string) {
	l.mu.Lock()
	delete(l.streams, streamID)
	l.mu.Unlock()
}
