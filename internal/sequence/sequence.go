// Package sequence issues strictly increasing per-stream sequence numbers.
// Numbers start at 1, are never reused, and may have permanent holes when a
// caller obtains a number but never persists the event; consumers tolerate
// holes via baseline adjustment on the client side.
package sequence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sequencer hands out the next sequence number for a stream. Implementations
// must be atomic across concurrent callers for the same stream.
type Sequencer interface {
	// Next returns the next sequence number for the stream (1 for a new
	// stream).
	Next(ctx context.Context, streamID string) (int64, error)

	// Current returns the highest sequence number assigned so far, or 0 for
	// an unknown stream. Used by the durable log to report currentMaxSeq
	// even when some events in range were never persisted.
	Current(ctx context.Context, streamID string) (int64, error)
}

const (
	// SeqPrefix is the Redis key prefix for per-stream counters.
	SeqPrefix = "seq:"

	// SeqTTL bounds counter lifetime to the stream retention window. The
	// TTL is refreshed on every assignment so live streams never expire.
	SeqTTL = 48 * time.Hour
)

// RedisSequencer assigns sequence numbers with Redis INCR, which is atomic
// across all gateway and producer processes sharing the Redis instance.
type RedisSequencer struct {
	client *redis.Client
}

// NewRedisSequencer creates a sequencer backed by the given Redis client.
func NewRedisSequencer(client *redis.Client) *RedisSequencer {
	return &RedisSequencer{client: client}
}

// Next atomically increments and returns the stream's counter.
func (s *RedisSequencer) Next(ctx context.Context, streamID string) (int64, error) {
	key := SeqPrefix + streamID

	seq, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("sequence: incr %s: %w", key, err)
	}

	// Set the expiry on first assignment so abandoned streams age out with
	// their log.
	if seq == 1 {
		if err := s.client.Expire(ctx, key, SeqTTL).Err(); err != nil {
			return 0, fmt.Errorf("sequence: expire %s: %w", key, err)
		}
	}

	return seq, nil
}

// Current returns the stream's counter without advancing it.
func (s *RedisSequencer) Current(ctx context.Context, streamID string) (int64, error) {
	key := SeqPrefix + streamID

	seq, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sequence: get %s: %w", key, err)
	}
	return seq, nil
}

// MemorySequencer is an in-process sequencer for single-node deployments and
// tests. A single mutex guards the counter map; per-stream contention is low
// enough that finer locking is not worth the bookkeeping.
type MemorySequencer struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemorySequencer creates an empty in-process sequencer.
func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{counters: make(map[string]int64)}
}

// Next increments and returns the stream's counter.
func (s *MemorySequencer) Next(ctx context.Context, streamID string) (int64, error) {
	s.mu.Lock()
	s.counters[streamID]++
	seq := s.counters[streamID]
	s.mu.Unlock()
	return seq, nil
}

// Current returns the stream's counter without advancing it.
func (s *MemorySequencer) Current(ctx context.Context, streamID string) (int64, error) {
	s.mu.Lock()
	seq := s.counters[streamID]
	s.mu.Unlock()
	return seq, nil
}
