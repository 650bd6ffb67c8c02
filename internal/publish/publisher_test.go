package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rostrum/debate-app/internal/event"
	"github.com/rostrum/debate-app/internal/eventlog"
	"github.com/rostrum/debate-app/internal/sequence"
)

// recordingTransport captures published frames.
type recordingTransport struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (t *recordingTransport) PublishEvent(streamID string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.frames = append(t.frames, data)
	return nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// failingLog rejects every append and signals each attempt.
type failingLog struct {
	attempts chan eventlog.Record
}

func (l *failingLog) Append(ctx context.Context, rec eventlog.Record) error {
	select {
	case l.attempts <- rec:
	default:
	}
	return eventlog.ErrPersistence
}

func (l *failingLog) ReadAfter(ctx context.Context, streamID string, afterSeq int64, limit int) (eventlog.ReadResult, error) {
	return eventlog.ReadResult{}, eventlog.ErrPersistence
}

// notifyingLog wraps MemoryLog and signals each successful append, so tests
// can wait for the async persist branch.
type notifyingLog struct {
	*eventlog.MemoryLog
	appended chan eventlog.Record
}

func (l *notifyingLog) Append(ctx context.Context, rec eventlog.Record) error {
	err := l.MemoryLog.Append(ctx, rec)
	l.appended <- rec
	return err
}

func TestPublishDurableAssignsIncreasingSeq(t *testing.T) {
	seq := sequence.NewMemorySequencer()
	transport := &recordingTransport{}
	p := NewPublisher(seq, nil, transport)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		ev, err := p.Publish(ctx, "debate-1", event.TypeTurnStarted, event.TurnStarted{Round: int(want)})
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if ev.Seq != want {
			t.Errorf("seq = %d, want %d", ev.Seq, want)
		}
	}
}

func TestPublishEphemeralHasNoSeqAndIsNotPersisted(t *testing.T) {
	seq := sequence.NewMemorySequencer()
	log_ := &notifyingLog{
		MemoryLog: eventlog.NewMemoryLog(seq),
		appended:  make(chan eventlog.Record, 1),
	}
	p := NewPublisher(seq, log_, &recordingTransport{})
	ctx := context.Background()

	ev, err := p.Publish(ctx, "debate-1", event.TypeArgumentChunk, event.ArgumentChunk{Text: "so"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ev.Seq != 0 {
		t.Errorf("ephemeral seq = %d, want 0", ev.Seq)
	}

	select {
	case rec := <-log_.appended:
		t.Fatalf("ephemeral event was persisted: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}

	// The sequencer must not have been consulted either.
	if cur, _ := seq.Current(ctx, "debate-1"); cur != 0 {
		t.Errorf("sequencer advanced to %d for ephemeral event", cur)
	}
}

func TestPublishImmediateDurableIsPersisted(t *testing.T) {
	seq := sequence.NewMemorySequencer()
	log_ := &notifyingLog{
		MemoryLog: eventlog.NewMemoryLog(seq),
		appended:  make(chan eventlog.Record, 1),
	}
	p := NewPublisher(seq, log_, &recordingTransport{})

	ev, err := p.Publish(context.Background(), "debate-1", event.TypeDebateInterrupted, event.DebateInterrupted{By: "moderator"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ev.Seq != 1 {
		t.Errorf("seq = %d, want 1", ev.Seq)
	}

	select {
	case rec := <-log_.appended:
		if rec.Seq != 1 || rec.Type != event.TypeDebateInterrupted {
			t.Errorf("persisted record mismatch: %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("immediate-durable event was never persisted")
	}
}

func TestPublishUnknownTypeRejected(t *testing.T) {
	p := NewPublisher(sequence.NewMemorySequencer(), nil, nil)

	if _, err := p.Publish(context.Background(), "debate-1", "no_such_event", nil); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

// TestFanOutIndependence verifies that a failing durable log append does not
// keep the event from reaching the transport and local subscribers.
func TestFanOutIndependence(t *testing.T) {
	seq := sequence.NewMemorySequencer()
	log_ := &failingLog{attempts: make(chan eventlog.Record, 1)}
	transport := &recordingTransport{}
	p := NewPublisher(seq, log_, transport)

	var mu sync.Mutex
	var received []event.Event
	p.Subscribe("debate-1", func(ev event.Event) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})

	ev, err := p.Publish(context.Background(), "debate-1", event.TypeTurnCompleted, event.TurnCompleted{Argument: "qed"})
	if err != nil {
		t.Fatalf("Publish must not surface persistence errors: %v", err)
	}

	select {
	case <-log_.attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("persist was never attempted")
	}

	if transport.count() != 1 {
		t.Errorf("transport received %d events, want 1", transport.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Seq != ev.Seq {
		t.Errorf("subscriber received %v, want one event with seq %d", received, ev.Seq)
	}
}

func TestPublishTransportFailureSwallowed(t *testing.T) {
	transport := &recordingTransport{err: errors.New("nats down")}
	p := NewPublisher(sequence.NewMemorySequencer(), nil, transport)

	var got int
	p.Subscribe("debate-1", func(ev event.Event) { got++ })

	if _, err := p.Publish(context.Background(), "debate-1", event.TypeRoundCompleted, event.RoundCompleted{Round: 1}); err != nil {
		t.Fatalf("Publish must not surface transport errors: %v", err)
	}
	if got != 1 {
		t.Errorf("subscriber invoked %d times, want 1", got)
	}
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	p := NewPublisher(sequence.NewMemorySequencer(), nil, nil)

	p.Subscribe("debate-1", func(ev event.Event) { panic("boom") })
	var got int
	p.Subscribe("debate-1", func(ev event.Event) { got++ })

	if _, err := p.Publish(context.Background(), "debate-1", event.TypeSpeakerThinking, event.SpeakerThinking{Thinking: true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got != 1 {
		t.Errorf("second subscriber invoked %d times, want 1", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher(sequence.NewMemorySequencer(), nil, nil)

	var got int
	cancel := p.Subscribe("debate-1", func(ev event.Event) { got++ })

	p.Publish(context.Background(), "debate-1", event.TypeSpeakerThinking, nil)
	cancel()
	p.Publish(context.Background(), "debate-1", event.TypeSpeakerThinking, nil)

	if got != 1 {
		t.Errorf("subscriber invoked %d times after unsubscribe, want 1", got)
	}
}

func TestPublishAppendsToHistory(t *testing.T) {
	p := NewPublisher(sequence.NewMemorySequencer(), nil, nil)
	ctx := context.Background()

	p.Publish(ctx, "debate-1", event.TypeDebateStarted, event.DebateStarted{Topic: "motion"})
	p.Publish(ctx, "debate-1", event.TypeArgumentChunk, event.ArgumentChunk{Text: "a"})

	hist := p.History("debate-1")
	if len(hist) != 2 {
		t.Fatalf("history has %d events, want 2", len(hist))
	}
	if hist[0].Type != event.TypeDebateStarted || hist[1].Type != event.TypeArgumentChunk {
		t.Errorf("history out of order: %+v", hist)
	}

	p.EndStream("debate-1")
	if len(p.History("debate-1")) != 0 {
		t.Error("history not dropped after EndStream")
	}
}
