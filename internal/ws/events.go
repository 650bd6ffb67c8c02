package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/rostrum/debate-app/internal/event"
	"github.com/rostrum/debate-app/internal/eventlog"
	"github.com/rostrum/debate-app/internal/metrics"
	"github.com/rostrum/debate-app/internal/ratelimit"
)

// eventsResponse is the JSON body of GET /events. CurrentSeq is the highest
// sequence number ever issued for the stream, which may be greater than the
// last event in the page when later events exist or were lost before
// persistence.
type eventsResponse struct {
	Events     []event.Event `json:"events"`
	CurrentSeq int64         `json:"current_seq"`
}

// handleEvents serves GET /events?stream=<id>&after=<seq>&limit=<n>, the
// durable read path used by reconnecting observers and the fallback poller.
// Events are returned in ascending sequence order starting strictly after
// the given sequence number.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	streamID := r.URL.Query().Get("stream")
	if streamID == "" {
		http.Error(w, "missing stream parameter", http.StatusBadRequest)
		return
	}

	after := int64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "invalid after parameter", http.StatusBadRequest)
			return
		}
		after = v
	}

	limit := eventlog.DefaultReadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		if v < limit {
			limit = v
		}
	}

	if s.limiter != nil {
		allowed, _ := s.limiter.Allow(r.Context(), remoteIP(r), ratelimit.RulePoll)
		if !allowed {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	start := time.Now()
	res, err := s.eventLog.ReadAfter(r.Context(), streamID, after, limit)
	metrics.FetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("ws: event read failed stream=%s after=%d: %v", streamID, after, err)
		http.Error(w, "event read failed", http.StatusInternalServerError)
		return
	}

	resp := eventsResponse{
		Events:     make([]event.Event, 0, len(res.Events)),
		CurrentSeq: res.CurrentSeq,
	}
	for _, rec := range res.Events {
		resp.Events = append(resp.Events, event.Event{
			Type:     rec.Type,
			StreamID: rec.StreamID,
			Seq:      rec.Seq,
			Ts:       rec.Ts,
			Payload:  json.RawMessage(rec.Payload),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
