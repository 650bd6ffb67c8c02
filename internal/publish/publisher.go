// Package publish is the single entry point producers call to emit debate
// events. It classifies each event as durable or ephemeral, assigns sequence
// numbers to durable events, persists them best-effort, and fans every event
// out to the real-time transport and any local in-process subscribers.
//
// The fan-out branches are independent: a durable log outage never stops
// transport delivery, and one failing subscriber never blocks another.
// Producers only get an error back when the event cannot be constructed at
// all (unknown type, sequencer failure, unmarshalable payload).
package publish

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rostrum/debate-app/internal/event"
	"github.com/rostrum/debate-app/internal/eventlog"
	"github.com/rostrum/debate-app/internal/metrics"
	"github.com/rostrum/debate-app/internal/sequence"
)

// Transport is the narrow contract the publisher needs from the real-time
// pub/sub layer. Delivery is at-least-once, possibly reordered, possibly
// lossy; ordering is recovered client-side from sequence numbers.
type Transport interface {
	PublishEvent(streamID string, data []byte) error
}

// Subscriber receives events synchronously in the publishing process. Used
// as a same-process fallback path alongside the transport.
type Subscriber func(ev event.Event)

const persistTimeout = 5 * time.Second

// Publisher assigns sequence numbers and fans events out to the durable
// log, the real-time transport, local subscribers, and the replay history.
type Publisher struct {
	seq       sequence.Sequencer
	log       eventlog.Log
	transport Transport
	history   *History

	mu     sync.RWMutex
	subs   map[string]map[int]Subscriber // streamID -> subscription ID -> fn
	nextID int
}

// NewPublisher creates a Publisher. log and transport may be nil in tests
// or reduced deployments; the corresponding fan-out branch is skipped.
func NewPublisher(seq sequence.Sequencer, log_ eventlog.Log, transport Transport) *Publisher {
	return &Publisher{
		seq:       seq,
		log:       log_,
		transport: transport,
		history:   NewHistory(),
		subs:      make(map[string]map[int]Subscriber),
	}
}

// Publish emits one event on a stream. Durable and immediate-durable events
// get a sequence number and a best-effort async persist; every event goes to
// the transport, local subscribers, and the replay history. Persistence and
// transport failures are logged, counted, and swallowed.
func (p *Publisher) Publish(ctx context.Context, streamID, eventType string, payload interface{}) (event.Event, error) {
	class, ok := event.Classify(eventType)
	if !ok {
		return event.Event{}, fmt.Errorf("publish: unknown event type %q", eventType)
	}

	var seq int64
	if class.IsPersisted() {
		var err error
		seq, err = p.seq.Next(ctx, streamID)
		if err != nil {
			// Without a sequence number a durable event cannot be ordered
			// or replayed; this is the one failure producers must see.
			return event.Event{}, fmt.Errorf("publish: assign seq stream=%s: %w", streamID, err)
		}
	}

	ev, err := event.New(streamID, eventType, seq, payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("publish: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(class.String()).Inc()

	// Branch 1: best-effort async persist. Uses its own context so a
	// producer cancelling its request does not abort the write.
	if class.IsPersisted() && p.log != nil {
		go p.persist(ev)
	}

	// Branch 2: fire-and-forget transport publish.
	if p.transport != nil {
		if data, err := ev.Encode(); err != nil {
			log.Printf("[publish] encode stream=%s type=%s: %v", streamID, eventType, err)
		} else if err := p.transport.PublishEvent(streamID, data); err != nil {
			metrics.TransportFailures.Inc()
			log.Printf("[publish] transport publish stream=%s seq=%d: %v", streamID, seq, err)
		}
	}

	// Branch 3: synchronous local subscribers, individually isolated.
	p.notifyLocal(ev)

	// Branch 4: replay history.
	p.history.Add(streamID, ev)

	return ev, nil
}

// persist writes one durable event to the log with a bounded deadline.
func (p *Publisher) persist(ev event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	rec := eventlog.Record{
		StreamID: ev.StreamID,
		Seq:      ev.Seq,
		Type:     ev.Type,
		Ts:       ev.Ts,
		Payload:  ev.Payload,
	}
	if err := p.log.Append(ctx, rec); err != nil {
		metrics.PersistFailures.Inc()
		log.Printf("[publish] persist stream=%s seq=%d: %v", ev.StreamID, ev.Seq, err)
	}
}

// notifyLocal invokes every local subscriber for the stream. A panicking
// subscriber is logged and does not prevent the others from running.
func (p *Publisher) notifyLocal(ev event.Event) {
	p.mu.RLock()
	fns := make([]Subscriber, 0, len(p.subs[ev.StreamID]))
	for _, fn := range p.subs[ev.StreamID] {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[publish] subscriber panic stream=%s type=%s: %v", ev.StreamID, ev.Type, r)
				}
			}()
			fn(ev)
		}()
	}
}

// Subscribe registers a local in-process subscriber for a stream. The
// returned function removes the subscription.
func (p *Publisher) Subscribe(streamID string, fn Subscriber) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	if p.subs[streamID] == nil {
		p.subs[streamID] = make(map[int]Subscriber)
	}
	p.subs[streamID][id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		if m := p.subs[streamID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(p.subs, streamID)
			}
		}
		p.mu.Unlock()
	}
}

// History returns the recent events retained for a stream, oldest first.
func (p *Publisher) History(streamID string) []event.Event {
	return p.history.Get(streamID)
}

// EndStream drops the replay history for a finished stream.
func (p *Publisher) EndStream(streamID string) {
	p.history.Remove(streamID)
}
