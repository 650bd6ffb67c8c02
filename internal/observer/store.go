// Package observer manages gateway observer sessions: one record per
// WebSocket connection, tracking which gateway instance owns it and which
// stream it is watching. Records are ephemeral Redis state with TTL-based
// expiry so crashed gateways leak nothing.
package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ObserverPrefix is the Redis key prefix for all observer hashes.
	ObserverPrefix = "observer:"

	// ObserverTTL is the time-to-live for observer keys in Redis.
	ObserverTTL = 1 * time.Hour
)

// Session represents an observer connection's state stored in Redis.
type Session struct {
	ID         string `redis:"id"`
	Server     string `redis:"server"`      // which gateway instance
	StreamID   string `redis:"stream_id"`   // watched stream, empty if none
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages observer session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this gateway instance
}

// NewStore creates a new observer store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("observer: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new observer session with 1h TTL.
func (s *Store) Create(ctx context.Context, observerID string) error {
	key := ObserverPrefix + observerID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":          observerID,
		"server":      s.serverName,
		"stream_id":   "",
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, ObserverTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves an observer session. Returns nil if not found.
func (s *Store) Get(ctx context.Context, observerID string) (*Session, error) {
	key := ObserverPrefix + observerID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// SetStream records which stream the observer is watching and refreshes the TTL.
func (s *Store) SetStream(ctx context.Context, observerID string, streamID string) error {
	key := ObserverPrefix + observerID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "stream_id", streamID, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, ObserverTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ClearStream removes the watched stream from the observer's session.
func (s *Store) ClearStream(ctx context.Context, observerID string) error {
	key := ObserverPrefix + observerID
	return s.client.HSet(ctx, key, "stream_id", "", "last_active", time.Now().Unix()).Err()
}

// RefreshTTL extends the observer session's TTL.
func (s *Store) RefreshTTL(ctx context.Context, observerID string) error {
	key := ObserverPrefix + observerID
	return s.client.Expire(ctx, key, ObserverTTL).Err()
}

// Delete removes an observer session from Redis.
func (s *Store) Delete(ctx context.Context, observerID string) error {
	key := ObserverPrefix + observerID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
