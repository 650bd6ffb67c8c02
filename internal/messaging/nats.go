// Package messaging provides a NATS client wrapper for the real-time event
// fan-out between Rostrum services. It handles connection lifecycle,
// per-stream subject subscriptions, and reconnect notification so observers
// can re-synchronize after a transport outage.
//
// NATS core delivery is at-least-once from the application's point of view:
// messages published while a subscriber is disconnected are lost, and
// redeliveries can arrive out of order relative to catch-up reads. Ordering
// is recovered downstream from sequence numbers, never assumed here.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectEvents is the subject prefix for debate events; the full subject is
// debate.events.<stream_id>.
const SubjectEvents = "debate.events"

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn

	mu           sync.Mutex
	subs         map[string]*nats.Subscription
	onReconnect  []func()
	onDisconnect []func()
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "rostrum",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	c := &NATSClient{
		subs: make(map[string]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
			c.fireDisconnect()
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
			c.fireReconnect()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	c.conn = nc
	return c, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishEvent publishes an encoded event to the debate.events.<streamID>
// subject. It satisfies the publisher's Transport contract.
func (c *NATSClient) PublishEvent(streamID string, data []byte) error {
	return c.Publish(SubjectEvents+"."+streamID, data)
}

// SubscribeToStream subscribes to the debate.events.<streamID> subject. The
// subscription is stored under key so that multiple watchers on the same
// gateway can subscribe to the same stream without overwriting each other.
func (c *NATSClient) SubscribeToStream(streamID string, key string, handler func(data []byte)) error {
	subject := SubjectEvents + "." + streamID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs["events:"+key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeFromStream removes a watcher's stream subscription.
func (c *NATSClient) UnsubscribeFromStream(key string) error {
	return c.unsubscribe("events:" + key)
}

// OnReconnect registers a callback invoked after the NATS connection is
// re-established. Observers use this to trigger a re-synchronization read,
// since anything published during the outage never reached them.
func (c *NATSClient) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = append(c.onReconnect, fn)
	c.mu.Unlock()
}

// OnDisconnect registers a callback invoked when the NATS connection drops.
// The gateway uses this to switch watchers onto the fallback pull path while
// the push transport is down.
func (c *NATSClient) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

// fireDisconnect invokes the registered disconnect callbacks in their own
// goroutines.
func (c *NATSClient) fireDisconnect() {
	c.mu.Lock()
	fns := make([]func(), len(c.onDisconnect))
	copy(fns, c.onDisconnect)
	c.mu.Unlock()

	for _, fn := range fns {
		go fn()
	}
}

// fireReconnect invokes the registered reconnect callbacks in their own
// goroutines so a slow resync cannot stall the NATS callback dispatcher.
func (c *NATSClient) fireReconnect() {
	c.mu.Lock()
	fns := make([]func(), len(c.onReconnect))
	copy(fns, c.onReconnect)
	c.mu.Unlock()

	for _, fn := range fns {
		go fn()
	}
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a stored subscription key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for key %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
