package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rostrum/debate-app/internal/event"
	"github.com/rostrum/debate-app/internal/eventlog"
	"github.com/rostrum/debate-app/internal/sequence"
	"github.com/rostrum/debate-app/internal/syncer"
)

func TestPollerDeliversNewEvents(t *testing.T) {
	seq := sequence.NewMemorySequencer()
	l := eventlog.NewMemoryLog(seq)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var applied []int64
	s, err := syncer.New(syncer.Config{
		StreamID: "debate-1",
		Fetcher:  l,
		Apply: func(ev event.Event) {
			mu.Lock()
			applied = append(applied, ev.Seq)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("syncer.New: %v", err)
	}
	s.PerformInitialSync(ctx)

	p := New(Config{
		StreamID: "debate-1",
		Fetcher:  l,
		Interval: 10 * time.Millisecond,
	}, s)
	go p.Run(ctx)

	// Events become durable while the real-time transport is "down".
	for i := 0; i < 5; i++ {
		n, _ := seq.Next(ctx, "debate-1")
		l.Append(ctx, eventlog.Record{StreamID: "debate-1", Seq: n, Type: event.TypeTurnCompleted, Ts: n})
	}

	deadline := time.After(2 * time.Second)
	for {
		if s.LastAppliedSeq() == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("poller never caught up: lastApplied=%d", s.LastAppliedSeq())
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 5 {
		t.Fatalf("applied %d events, want 5: %v", len(applied), applied)
	}
	for i, got := range applied {
		if got != int64(i+1) {
			t.Errorf("index %d: seq = %d, want %d", i, got, i+1)
		}
	}
}

// TestPollerOverlapWithTransportIsIdempotent verifies double delivery via
// poll and push applies each event once.
func TestPollerOverlapWithTransportIsIdempotent(t *testing.T) {
	seq := sequence.NewMemorySequencer()
	l := eventlog.NewMemoryLog(seq)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var applied []int64
	s, err := syncer.New(syncer.Config{
		StreamID: "debate-1",
		Fetcher:  l,
		Apply: func(ev event.Event) {
			mu.Lock()
			applied = append(applied, ev.Seq)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("syncer.New: %v", err)
	}
	s.PerformInitialSync(ctx)

	p := New(Config{StreamID: "debate-1", Fetcher: l, Interval: 10 * time.Millisecond}, s)
	go p.Run(ctx)

	for i := 0; i < 10; i++ {
		n, _ := seq.Next(ctx, "debate-1")
		rec := eventlog.Record{StreamID: "debate-1", Seq: n, Type: event.TypeTurnCompleted, Ts: n}
		l.Append(ctx, rec)
		// Simultaneous push delivery of the same event.
		s.BufferEvent(event.Event{Type: rec.Type, StreamID: rec.StreamID, Seq: rec.Seq, Ts: rec.Ts})
	}

	deadline := time.After(2 * time.Second)
	for s.LastAppliedSeq() != 10 {
		select {
		case <-deadline:
			t.Fatalf("never converged: lastApplied=%d", s.LastAppliedSeq())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Give the poller one more cycle to attempt re-delivery.
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 10 {
		t.Fatalf("applied %d events, want exactly 10: %v", len(applied), applied)
	}
}
