// Package stream manages debate stream lifecycle state in Redis. A stream is
// created when its debate starts, marked terminal when the debate completes
// or fails, and expires with the event log's retention window so metadata
// and log rows age out together.
package stream

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StreamPrefix = "stream:"

	// DefaultRetention matches the event log retention default. The TTL is
	// refreshed on writes while the debate is live.
	DefaultRetention = 24 * time.Hour

	StatusLive      = "live"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Info is the stream metadata stored in Redis.
type Info struct {
	StreamID   string
	Topic      string
	Status     string
	CreatedAt  int64 // unix timestamp
	TerminalAt int64 // unix timestamp, 0 while live
}

// IsTerminal reports whether the debate has reached a terminal state.
func (i *Info) IsTerminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

// Store manages stream lifecycle state in Redis.
type Store struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewStore creates a stream store backed by Redis. retention <= 0 uses
// DefaultRetention.
func NewStore(rdb *redis.Client, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{rdb: rdb, retention: retention}
}

// Create records a new live stream. Called when the debate starts.
func (s *Store) Create(ctx context.Context, streamID, topic string) error {
	key := StreamPrefix + streamID
	now := time.Now().Unix()

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"topic":       topic,
		"status":      StatusLive,
		"created_at":  now,
		"terminal_at": 0,
	})
	pipe.Expire(ctx, key, s.retention)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves stream metadata. Returns nil if the stream is unknown or
// its retention window has passed.
func (s *Store) Get(ctx context.Context, streamID string) (*Info, error) {
	key := StreamPrefix + streamID
	result, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	createdAt, _ := strconv.ParseInt(result["created_at"], 10, 64)
	terminalAt, _ := strconv.ParseInt(result["terminal_at"], 10, 64)

	return &Info{
		StreamID:   streamID,
		Topic:      result["topic"],
		Status:     result["status"],
		CreatedAt:  createdAt,
		TerminalAt: terminalAt,
	}, nil
}

// MarkCompleted records the debate's successful terminal state. The key
// keeps its retention TTL so replay remains possible for the full window.
func (s *Store) MarkCompleted(ctx context.Context, streamID string) error {
	return s.markTerminal(ctx, streamID, StatusCompleted)
}

// MarkFailed records the debate's failed terminal state.
func (s *Store) MarkFailed(ctx context.Context, streamID string) error {
	return s.markTerminal(ctx, streamID, StatusFailed)
}

func (s *Store) markTerminal(ctx context.Context, streamID, status string) error {
	key := StreamPrefix + streamID
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "status", status, "terminal_at", time.Now().Unix())
	pipe.Expire(ctx, key, s.retention)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a stream's metadata immediately.
func (s *Store) Delete(ctx context.Context, streamID string) error {
	return s.rdb.Del(ctx, StreamPrefix+streamID).Err()
}
