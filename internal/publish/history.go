package publish

import (
	"sync"

	"github.com/rostrum/debate-app/internal/event"
)

// MaxHistoryEvents is the number of recent events retained per stream. The
// history is a convenience replay path for local subscribers and the
// fallback poller, not the durability source of truth.
const MaxHistoryEvents = 100

// History stores the last N events per stream in memory. It is
// goroutine-safe and uses a ring buffer internally.
type History struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // streamID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of events.
type ringBuffer struct {
	items []event.Event
	pos   int
	count int
}

// NewHistory creates a new empty History.
func NewHistory() *History {
	return &History{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends an event to the stream's ring buffer. If the buffer is full,
// the oldest event is overwritten.
func (h *History) Add(streamID string, ev event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rb, ok := h.buffers[streamID]
	if !ok {
		rb = &ringBuffer{
			items: make([]event.Event, MaxHistoryEvents),
		}
		h.buffers[streamID] = rb
	}

	rb.items[rb.pos] = ev
	rb.pos = (rb.pos + 1) % MaxHistoryEvents
	if rb.count < MaxHistoryEvents {
		rb.count++
	}
}

// Get returns the retained events for a stream in publish order (oldest
// first). Returns an empty slice if the stream has no history.
func (h *History) Get(streamID string) []event.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rb, ok := h.buffers[streamID]
	if !ok {
		return []event.Event{}
	}

	result := make([]event.Event, rb.count)
	// The oldest event is at position (pos - count) mod MaxHistoryEvents.
	start := (rb.pos - rb.count + MaxHistoryEvents) % MaxHistoryEvents
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%MaxHistoryEvents]
	}
	return result
}

// Remove deletes the history for a stream (called when the debate ends).
func (h *History) Remove(streamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.buffers, streamID)
}
