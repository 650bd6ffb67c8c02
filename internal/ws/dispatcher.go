package ws

import (
	"context"
	"log"
	"time"

	"github.com/rostrum/debate-app/internal/protocol"
	"github.com/rostrum/debate-app/internal/ratelimit"
)

// WatchHandler starts delivering events for a stream to a connection. It is
// implemented by the gateway, which creates a per-connection synchronizer
// and wires it to the transport.
type WatchHandler func(conn *Connection, streamID string, fromSeq int64) error

// UnwatchHandler tears down the synchronizer created by a WatchHandler.
type UnwatchHandler func(conn *Connection, streamID string)

// Dispatcher routes parsed client messages to the registered handlers. It
// owns the protocol-level concerns (rate limiting, error replies, keepalive)
// so the gateway only deals with watcher lifecycle.
type Dispatcher struct {
	server    *Server
	limiter   *ratelimit.Limiter // nil disables rate limiting
	onWatch   WatchHandler
	onUnwatch UnwatchHandler
}

// NewDispatcher creates a Dispatcher. The watch and unwatch handlers are
// required; limiter may be nil. The server may be nil at construction and
// set later with SetServer, since the server's message callback is the
// dispatcher itself.
func NewDispatcher(server *Server, limiter *ratelimit.Limiter, onWatch WatchHandler, onUnwatch UnwatchHandler) *Dispatcher {
	return &Dispatcher{
		server:    server,
		limiter:   limiter,
		onWatch:   onWatch,
		onUnwatch: onUnwatch,
	}
}

// SetServer binds the dispatcher to its server after construction.
func (d *Dispatcher) SetServer(s *Server) {
	d.server = s
}

// Dispatch parses and routes a single client message. It is the gateway's
// onMessage callback and runs on a read-worker goroutine.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: bad message from session %s: %v", conn.ID, err)
		d.sendError(conn, "bad_message", "could not parse message")
		return
	}

	// Every valid message refreshes the observer's Redis session TTL.
	if store := d.server.ObserverStore(); store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := store.RefreshTTL(ctx, conn.ID); err != nil {
			log.Printf("ws: failed to refresh observer TTL for %s: %v", conn.ID, err)
		}
		cancel()
	}

	switch msgType {
	case protocol.TypeWatch:
		d.handleWatch(conn, msg.(protocol.WatchMsg))
	case protocol.TypeUnwatch:
		d.handleUnwatch(conn, msg.(protocol.UnwatchMsg))
	case protocol.TypePing:
		d.sendPong(conn)
	default:
		d.sendError(conn, "unknown_type", "unknown message type: "+msgType)
	}
}

func (d *Dispatcher) handleWatch(conn *Connection, msg protocol.WatchMsg) {
	if msg.StreamID == "" {
		d.sendError(conn, "bad_request", "watch requires stream_id")
		return
	}

	if d.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := d.limiter.Allow(ctx, conn.ID, ratelimit.RuleWatch)
		cancel()
		if !allowed {
			d.sendRateLimited(conn, ratelimit.RuleWatch)
			return
		}
	}

	if err := d.onWatch(conn, msg.StreamID, msg.FromSeq); err != nil {
		log.Printf("ws: watch failed session=%s stream=%s: %v", conn.ID, msg.StreamID, err)
		d.sendError(conn, "watch_failed", err.Error())
		return
	}

	if store := d.server.ObserverStore(); store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := store.SetStream(ctx, conn.ID, msg.StreamID); err != nil {
			log.Printf("ws: failed to record stream for %s: %v", conn.ID, err)
		}
		cancel()
	}

	reply, err := protocol.NewServerMessage(protocol.TypeWatchStarted, protocol.WatchStartedMsg{
		StreamID: msg.StreamID,
	})
	if err == nil {
		_ = conn.WriteMessage(reply)
	}

	log.Printf("ws: session=%s watching stream=%s from_seq=%d", conn.ID, msg.StreamID, msg.FromSeq)
}

func (d *Dispatcher) handleUnwatch(conn *Connection, msg protocol.UnwatchMsg) {
	if msg.StreamID == "" {
		d.sendError(conn, "bad_request", "unwatch requires stream_id")
		return
	}

	d.onUnwatch(conn, msg.StreamID)

	if store := d.server.ObserverStore(); store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := store.ClearStream(ctx, conn.ID); err != nil {
			log.Printf("ws: failed to clear stream for %s: %v", conn.ID, err)
		}
		cancel()
	}

	reply, err := protocol.NewServerMessage(protocol.TypeWatchEnded, protocol.WatchEndedMsg{
		StreamID: msg.StreamID,
	})
	if err == nil {
		_ = conn.WriteMessage(reply)
	}
}

func (d *Dispatcher) sendPong(conn *Connection) {
	reply, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err == nil {
		_ = conn.WriteMessage(reply)
	}
}

func (d *Dispatcher) sendError(conn *Connection, code, message string) {
	reply, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err == nil {
		_ = conn.WriteMessage(reply)
	}
}

func (d *Dispatcher) sendRateLimited(conn *Connection, rule ratelimit.Rule) {
	reply, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(rule.Window.Seconds()),
	})
	if err == nil {
		_ = conn.WriteMessage(reply)
	}
}
