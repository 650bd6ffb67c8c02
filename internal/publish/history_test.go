package publish

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rostrum/debate-app/internal/event"
)

func TestHistoryAddAndGet(t *testing.T) {
	h := NewHistory()

	h.Add("debate-1", event.Event{Type: event.TypeDebateStarted, Seq: 1})
	h.Add("debate-1", event.Event{Type: event.TypeTurnStarted, Seq: 2})
	h.Add("debate-1", event.Event{Type: event.TypeArgumentChunk})

	evs := h.Get("debate-1")
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	if evs[0].Type != event.TypeDebateStarted || evs[2].Type != event.TypeArgumentChunk {
		t.Errorf("events out of order: %+v", evs)
	}
}

func TestHistoryWraparound(t *testing.T) {
	h := NewHistory()

	// Add more events than the buffer holds.
	total := MaxHistoryEvents + 20
	for i := 1; i <= total; i++ {
		h.Add("debate-1", event.Event{Type: event.TypeArgumentChunk, Ts: int64(i)})
	}

	evs := h.Get("debate-1")
	if len(evs) != MaxHistoryEvents {
		t.Fatalf("expected %d events, got %d", MaxHistoryEvents, len(evs))
	}

	// Should contain the most recent MaxHistoryEvents in order.
	for i, ev := range evs {
		want := int64(total - MaxHistoryEvents + i + 1)
		if ev.Ts != want {
			t.Fatalf("index %d: ts = %d, want %d", i, ev.Ts, want)
		}
	}
}

func TestHistoryGetNonExistentStream(t *testing.T) {
	h := NewHistory()

	evs := h.Get("does-not-exist")
	if evs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(evs) != 0 {
		t.Fatalf("expected 0 events, got %d", len(evs))
	}
}

func TestHistoryRemove(t *testing.T) {
	h := NewHistory()

	h.Add("debate-1", event.Event{Type: event.TypeDebateStarted})
	h.Remove("debate-1")

	if len(h.Get("debate-1")) != 0 {
		t.Fatal("expected empty history after remove")
	}

	// Removing an unknown stream should not panic.
	h.Remove("does-not-exist")
}

func TestHistoryMultipleStreams(t *testing.T) {
	h := NewHistory()

	h.Add("debate-1", event.Event{StreamID: "debate-1", Seq: 1})
	h.Add("debate-2", event.Event{StreamID: "debate-2", Seq: 1})
	h.Add("debate-1", event.Event{StreamID: "debate-1", Seq: 2})

	if n := len(h.Get("debate-1")); n != 2 {
		t.Errorf("debate-1: expected 2 events, got %d", n)
	}
	if n := len(h.Get("debate-2")); n != 1 {
		t.Errorf("debate-2: expected 1 event, got %d", n)
	}
}

func TestHistoryConcurrentAccess(t *testing.T) {
	h := NewHistory()
	goroutines := 50
	eventsPerGoroutine := 40

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			streamID := fmt.Sprintf("debate-%d", id%4)
			for i := 0; i < eventsPerGoroutine; i++ {
				h.Add(streamID, event.Event{StreamID: streamID, Ts: int64(i)})
				h.Get(streamID)
			}
		}(g)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		evs := h.Get(fmt.Sprintf("debate-%d", i))
		if len(evs) != MaxHistoryEvents {
			t.Errorf("debate-%d: expected full buffer of %d, got %d", i, MaxHistoryEvents, len(evs))
		}
	}
}
