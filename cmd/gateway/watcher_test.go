package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rostrum/debate-app/internal/event"
	"github.com/rostrum/debate-app/internal/eventlog"
	"github.com/rostrum/debate-app/internal/sequence"
	"github.com/rostrum/debate-app/internal/ws"
)

// fakeTransport records stream subscriptions and lets tests push events to
// them.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]func(data []byte) // key -> handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(data []byte))}
}

func (t *fakeTransport) SubscribeToStream(streamID string, key string, handler func(data []byte)) error {
	t.mu.Lock()
	t.handlers[key] = handler
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) UnsubscribeFromStream(key string) error {
	t.mu.Lock()
	delete(t.handlers, key)
	t.mu.Unlock()
	return nil
}

// frameRecorder captures frames sent to connections.
type frameRecorder struct {
	mu     sync.Mutex
	frames map[string][][]byte // connID -> frames
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{frames: make(map[string][][]byte)}
}

func (r *frameRecorder) SendMessage(connID string, data []byte) error {
	r.mu.Lock()
	r.frames[connID] = append(r.frames[connID], data)
	r.mu.Unlock()
	return nil
}

// eventFrameCount returns how many frames sent to connID carry an event.
func (r *frameRecorder) eventFrameCount(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, data := range r.frames[connID] {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &env) == nil && env.Type == "event" {
			n++
		}
	}
	return n
}

func (r *watcherRegistry) watcherFor(connID, streamID string) *watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byConn[connID][streamID]
}

func appendDurable(t *testing.T, seq sequence.Sequencer, l *eventlog.MemoryLog, streamID string, count int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		n, err := seq.Next(ctx, streamID)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		err = l.Append(ctx, eventlog.Record{
			StreamID: streamID, Seq: n, Type: event.TypeTurnCompleted, Ts: n,
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func waitForSeq(t *testing.T, w *watcher, want int64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for w.sync.LastAppliedSeq() != want {
		select {
		case <-deadline:
			t.Fatalf("watcher never reached seq %d, at %d", want, w.sync.LastAppliedSeq())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestTransportLostFallsBackToPolling: with NATS down, durable events must
// still reach watchers via the fallback pull path, and the pollers must stop
// once the transport comes back.
func TestTransportLostFallsBackToPolling(t *testing.T) {
	seq := sequence.NewMemorySequencer()
	l := eventlog.NewMemoryLog(seq)
	transport := newFakeTransport()
	sender := newFrameRecorder()

	r := newWatcherRegistry(transport, l, 10*time.Millisecond, 10*time.Millisecond)
	r.setServer(sender)

	conn := &ws.Connection{ID: "obs-1"}
	if err := r.add(conn, "debate-1", 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	w := r.watcherFor("obs-1", "debate-1")
	if w == nil {
		t.Fatal("watcher not registered")
	}
	waitForSeq(t, w, 0)

	r.transportLost()

	// Events become durable while no transport delivery happens.
	appendDurable(t, seq, l, "debate-1", 3)
	waitForSeq(t, w, 3)

	if got := sender.eventFrameCount("obs-1"); got != 3 {
		t.Errorf("connection received %d event frames, want 3", got)
	}

	r.resyncAll()
	r.mu.Lock()
	stopped := w.stopPoll == nil
	degraded := r.degraded
	r.mu.Unlock()
	if !stopped {
		t.Error("fallback poller still running after reconnect")
	}
	if degraded {
		t.Error("registry still degraded after reconnect")
	}

	r.removeAll("obs-1")
}

// TestWatchDuringOutageStartsOnPullPath: a watch added while the transport
// is down must come up polling rather than waiting for a reconnect.
func TestWatchDuringOutageStartsOnPullPath(t *testing.T) {
	seq := sequence.NewMemorySequencer()
	l := eventlog.NewMemoryLog(seq)
	transport := newFakeTransport()
	sender := newFrameRecorder()

	r := newWatcherRegistry(transport, l, 10*time.Millisecond, 10*time.Millisecond)
	r.setServer(sender)

	r.transportLost()
	appendDurable(t, seq, l, "debate-1", 2)

	conn := &ws.Connection{ID: "obs-2"}
	if err := r.add(conn, "debate-1", 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	w := r.watcherFor("obs-2", "debate-1")
	waitForSeq(t, w, 2)

	// More events while still down: only the poller can deliver them.
	appendDurable(t, seq, l, "debate-1", 2)
	waitForSeq(t, w, 4)

	r.remove("obs-2", "debate-1")
	r.mu.Lock()
	stopped := w.stopPoll == nil
	r.mu.Unlock()
	if !stopped {
		t.Error("fallback poller still running after unwatch")
	}
}
