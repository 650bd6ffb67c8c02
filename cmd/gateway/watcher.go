package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rostrum/debate-app/internal/event"
	"github.com/rostrum/debate-app/internal/eventlog"
	"github.com/rostrum/debate-app/internal/metrics"
	"github.com/rostrum/debate-app/internal/poll"
	"github.com/rostrum/debate-app/internal/protocol"
	"github.com/rostrum/debate-app/internal/syncer"
	"github.com/rostrum/debate-app/internal/ws"
)

// streamTransport is the slice of the NATS client the registry needs.
// *messaging.NATSClient satisfies it.
type streamTransport interface {
	SubscribeToStream(streamID string, key string, handler func(data []byte)) error
	UnsubscribeFromStream(key string) error
}

// frameSender delivers a server frame to one connection. *ws.Server
// satisfies it.
type frameSender interface {
	SendMessage(connID string, data []byte) error
}

// watcher is one connection's view of one debate stream: a NATS subscription
// feeding a synchronizer that forwards ordered events to the client. While
// the transport is down, stopPoll holds the cancel for a fallback poller
// feeding the same synchronizer from the durable log.
type watcher struct {
	connID   string
	streamID string
	subKey   string
	sync     *syncer.Synchronizer
	stopPoll context.CancelFunc // nil unless a fallback poller is running
}

// watcherRegistry tracks the active watchers per connection. All methods are
// goroutine-safe; mutations happen on read-worker goroutines (watch/unwatch)
// and the disconnect path.
type watcherRegistry struct {
	mu           sync.Mutex
	byConn       map[string]map[string]*watcher // connID -> streamID -> watcher
	transport    streamTransport
	eventLog     eventlog.Log
	server       frameSender
	gapDelay     time.Duration
	pollInterval time.Duration
	degraded     bool // transport down, watchers run on the pull path
}

func newWatcherRegistry(transport streamTransport, eventLog eventlog.Log, gapDelay, pollInterval time.Duration) *watcherRegistry {
	return &watcherRegistry{
		byConn:       make(map[string]map[string]*watcher),
		transport:    transport,
		eventLog:     eventLog,
		gapDelay:     gapDelay,
		pollInterval: pollInterval,
	}
}

// setServer must be called before any watch is added. The server is created
// after the registry because the dispatcher's handlers close over it.
func (r *watcherRegistry) setServer(s frameSender) {
	r.server = s
}

// add creates a watcher for (conn, stream): it subscribes the connection to
// the stream's NATS subject, builds a synchronizer over the durable log, and
// kicks off the initial catch-up read in the background. Watching a stream
// the connection already watches is a no-op.
func (r *watcherRegistry) add(conn *ws.Connection, streamID string, fromSeq int64) error {
	r.mu.Lock()
	streams := r.byConn[conn.ID]
	if streams == nil {
		streams = make(map[string]*watcher)
		r.byConn[conn.ID] = streams
	}
	if _, exists := streams[streamID]; exists {
		r.mu.Unlock()
		return nil
	}

	w := &watcher{
		connID:   conn.ID,
		streamID: streamID,
		subKey:   conn.ID + ":" + streamID,
	}

	connID := conn.ID
	sy, err := syncer.New(syncer.Config{
		StreamID:     streamID,
		Fetcher:      r.eventLog,
		StartFromSeq: fromSeq,
		GapFillDelay: r.gapDelay,
		Apply: func(ev event.Event) {
			data, err := ev.Encode()
			if err != nil {
				log.Printf("[watcher] encode event stream=%s seq=%d: %v", streamID, ev.Seq, err)
				return
			}
			msg, err := protocol.NewServerMessage(protocol.TypeEvent, protocol.EventMsg{
				Event: data,
			})
			if err != nil {
				return
			}
			if err := r.server.SendMessage(connID, msg); err != nil {
				log.Printf("[watcher] send event to session=%s failed: %v", connID, err)
			}
		},
		OnStateChange: func(state syncer.State) {
			msg, err := protocol.NewServerMessage(protocol.TypeSyncState, protocol.SyncStateMsg{
				StreamID: streamID,
				State:    string(state),
			})
			if err != nil {
				return
			}
			_ = r.server.SendMessage(connID, msg)
		},
	})
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("create synchronizer for stream %s: %w", streamID, err)
	}
	w.sync = sy

	streams[streamID] = w
	if r.degraded {
		// The transport is down: this watcher starts life on the pull path.
		r.startPollerLocked(w)
	}
	r.mu.Unlock()

	// Live path: every event published for the stream is handed to the
	// synchronizer, which gates, dedupes, and orders before Apply fires.
	err = r.transport.SubscribeToStream(streamID, w.subKey, func(data []byte) {
		ev, err := event.Parse(data)
		if err != nil {
			log.Printf("[watcher] bad event on stream=%s: %v", streamID, err)
			return
		}
		w.sync.BufferEvent(ev)
	})
	if err != nil {
		r.remove(conn.ID, streamID)
		return fmt.Errorf("subscribe stream %s: %w", streamID, err)
	}

	metrics.ActiveWatchers.Inc()

	// Catch-up read runs off the worker goroutine so a slow database does
	// not stall message dispatch for this connection.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		w.sync.PerformInitialSync(ctx)
	}()

	return nil
}

// remove tears down one watcher: the NATS subscription is dropped first so
// no further events reach the synchronizer, then the synchronizer is closed.
func (r *watcherRegistry) remove(connID, streamID string) {
	r.mu.Lock()
	streams := r.byConn[connID]
	w := streams[streamID]
	if w != nil {
		delete(streams, streamID)
		if len(streams) == 0 {
			delete(r.byConn, connID)
		}
	}
	r.mu.Unlock()

	if w == nil {
		return
	}
	if err := r.transport.UnsubscribeFromStream(w.subKey); err != nil {
		log.Printf("[watcher] unsubscribe %s: %v", w.subKey, err)
	}
	r.stopWatcher(w)
}

// stopWatcher cancels a watcher's fallback poller (if any) and closes its
// synchronizer.
func (r *watcherRegistry) stopWatcher(w *watcher) {
	r.mu.Lock()
	if w.stopPoll != nil {
		w.stopPoll()
		w.stopPoll = nil
	}
	r.mu.Unlock()

	w.sync.Close()
	metrics.ActiveWatchers.Dec()
}

// removeAll tears down every watcher owned by a connection. Called on
// disconnect.
func (r *watcherRegistry) removeAll(connID string) {
	r.mu.Lock()
	streams := r.byConn[connID]
	delete(r.byConn, connID)
	r.mu.Unlock()

	for _, w := range streams {
		if err := r.transport.UnsubscribeFromStream(w.subKey); err != nil {
			log.Printf("[watcher] unsubscribe %s: %v", w.subKey, err)
		}
		r.stopWatcher(w)
	}
}

// transportLost switches every live watcher onto the fallback pull path:
// each gets a poller that reads the durable log on a fixed interval and
// feeds the same synchronizer, so durable events keep flowing during a NATS
// outage. Called from the NATS disconnect handler.
func (r *watcherRegistry) transportLost() {
	r.mu.Lock()
	r.degraded = true
	started := 0
	for _, streams := range r.byConn {
		for _, w := range streams {
			if w.stopPoll == nil {
				r.startPollerLocked(w)
				started++
			}
		}
	}
	r.mu.Unlock()

	log.Printf("[watcher] transport lost, polling for %d watchers", started)
}

// startPollerLocked starts a fallback poller for one watcher. Requires r.mu
// held.
func (r *watcherRegistry) startPollerLocked(w *watcher) {
	ctx, cancel := context.WithCancel(context.Background())
	w.stopPoll = cancel
	p := poll.New(poll.Config{
		StreamID: w.streamID,
		Fetcher:  r.eventLog,
		Interval: r.pollInterval,
	}, w.sync)
	go p.Run(ctx)
}

// resyncAll stops the fallback pollers and triggers a reconnect catch-up on
// every live watcher. Called from the NATS reconnect handler, since events
// published while the connection was down were never delivered.
func (r *watcherRegistry) resyncAll() {
	r.mu.Lock()
	r.degraded = false
	var all []*watcher
	for _, streams := range r.byConn {
		for _, w := range streams {
			if w.stopPoll != nil {
				w.stopPoll()
				w.stopPoll = nil
			}
			all = append(all, w)
		}
	}
	r.mu.Unlock()

	log.Printf("[watcher] transport reconnected, resyncing %d watchers", len(all))
	for _, w := range all {
		w := w
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			w.sync.HandleReconnect(ctx)
		}()
	}
}
