// Package client provides a reusable WebSocket load test client for the
// Rostrum gateway. It connects using gobwas/ws (the same library the server
// uses), handles the session_created handshake, and tracks per-connection
// performance metrics plus the sequence numbers of every debate event
// received so that ordering can be verified after the test.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
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
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency    time.Duration
	FirstEventLatency time.Duration
	EventsReceived    int
	MessagesSent      int
	Errors            int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated observer connection to the gateway.
// It manages the WebSocket lifecycle, dispatches incoming messages to
// registered handlers, and records the sequence number of every debate event
// it sees.
type Client struct {
	conn      net.Conn
	sessionID string
	mu        sync.Mutex
	metrics   Metrics
	seqs      []int64 // sequence numbers of received events, in arrival order
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
	connected time.Time
}

// New creates a new load test client connected to the given WebSocket URL.
// The connection is established immediately and a background goroutine begins
// reading messages. The session_created handshake is handled internally: the
// assigned session ID becomes available via SessionID.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:      conn,
		handlers:  make(map[string]func(json.RawMessage)),
		done:      make(chan struct{}),
		connected: time.Now(),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Watch asks the gateway to start delivering events for a debate stream.
// fromSeq 0 means from the beginning of retained history.
func (c *Client) Watch(streamID string, fromSeq int64) error {
	return c.Send(map[string]interface{}{
		"type":      TypeWatch,
		"stream_id": streamID,
		"from_seq":  fromSeq,
	})
}

// Unwatch asks the gateway to stop delivering events for a stream.
func (c *Client) Unwatch(streamID string) error {
	return c.Send(map[string]string{
		"type":      TypeUnwatch,
		"stream_id": streamID,
	})
}

// On registers a handler for a specific server message type. The handler
// receives the full raw JSON of the message for flexible decoding. Handlers
// are invoked from the read loop goroutine so they should not block for
// extended periods. Only one handler per message type is supported;
// registering a second handler for the same type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// WaitForSession blocks until the server has assigned a session ID or the
// context is cancelled.
func (c *Client) WaitForSession(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("connection closed before session was created")
		case <-ticker.C:
			c.mu.Lock()
			sid := c.sessionID
			c.mu.Unlock()
			if sid != "" {
				return nil
			}
		}
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// SessionID returns the session ID assigned by the server, or an empty string
// if the handshake has not completed yet.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Seqs returns the sequence numbers of all events received so far, in
// arrival order. Ephemeral events (seq 0) are excluded.
func (c *Client) Seqs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.seqs))
	copy(out, c.seqs)
	return out
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case TypeSessionCreated:
			var msg struct {
				Type      string `json:"type"`
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(data, &msg); err == nil && msg.SessionID != "" {
				c.mu.Lock()
				c.sessionID = msg.SessionID
				c.mu.Unlock()
			}

		case TypeEvent:
			var msg struct {
				Type  string `json:"type"`
				Event struct {
					Seq int64 `json:"seq"`
				} `json:"event"`
			}
			c.mu.Lock()
			if c.metrics.EventsReceived == 0 {
				c.metrics.FirstEventLatency = time.Since(c.connected)
			}
			c.metrics.EventsReceived++
			if err := json.Unmarshal(data, &msg); err == nil && msg.Event.Seq > 0 {
				c.seqs = append(c.seqs, msg.Event.Seq)
			}
			c.mu.Unlock()
		}

		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}
