// Package syncer implements the per-stream client synchronizer: it buffers
// events arriving over the at-least-once, possibly-reordering real-time
// transport, catches up from the durable event log, and applies events to
// the caller in strict sequence order with no silent gaps.
//
// Ephemeral events (seq 0) and immediate-durable events bypass the sequence
// gate and are applied on arrival. Everything else waits in the buffer until
// the run of applied sequence numbers reaches it; missing numbers trigger a
// debounced backfill read from the durable log.
package syncer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rostrum/debate-app/internal/event"
	"github.com/rostrum/debate-app/internal/eventlog"
	"github.com/rostrum/debate-app/internal/metrics"
)

// State is the synchronizer lifecycle state surfaced to the embedding
// application.
type State string

const (
	// StateIdle is the state before PerformInitialSync is called.
	StateIdle State = "idle"

	// StateSyncing is set while a catch-up read is in flight.
	StateSyncing State = "syncing"

	// StateSynced means the initial catch-up completed and buffered events
	// flow as they become applicable.
	StateSynced State = "synced"

	// StateDegraded means a catch-up or gap-fill read failed. The
	// synchronizer stays live: transport events still apply in order, and
	// later backfill attempts repair the gap.
	StateDegraded State = "degraded"
)

// Fetcher is the read side of the durable event log. *eventlog.PostgresLog
// and *eventlog.MemoryLog both satisfy it; remote clients substitute an HTTP
// implementation of the same shape.
type Fetcher interface {
	ReadAfter(ctx context.Context, streamID string, afterSeq int64, limit int) (eventlog.ReadResult, error)
}

// Config configures a Synchronizer. Apply is required; it receives every
// applied event, in strict sequence order for gated durable events. Apply
// and OnStateChange are invoked serially while the synchronizer's lock is
// held and must not call back into the Synchronizer.
type Config struct {
	StreamID      string
	Fetcher       Fetcher
	Apply         func(ev event.Event)
	OnStateChange func(state State)

	// StartFromSeq resumes from a known checkpoint. Zero means "from the
	// beginning", subject to baseline adjustment when sequence 1 was never
	// durably stored.
	StartFromSeq int64

	// GapFillDelay is the debounce window for backfill reads. Rapid
	// repeated gap detections coalesce into one fetch per window.
	GapFillDelay time.Duration

	// FetchLimit caps catch-up reads. Zero uses eventlog.DefaultReadLimit.
	FetchLimit int

	// Scheduler overrides timer creation in tests. Nil uses real timers.
	Scheduler Scheduler
}

// DefaultGapFillDelay is the debounce window used when Config.GapFillDelay
// is zero.
const DefaultGapFillDelay = 250 * time.Millisecond

const fetchTimeout = 10 * time.Second

// Synchronizer is the per-stream ordering state machine. All entry points
// are safe for concurrent use; a single mutex serializes every mutation of
// the applied counter and buffer. One instance per (observer, stream).
type Synchronizer struct {
	streamID string
	fetcher  Fetcher
	apply    func(ev event.Event)
	onState  func(state State)
	delay    time.Duration
	limit    int
	sched    Scheduler

	mu            sync.Mutex
	state         State
	lastApplied   int64
	buffer        map[int64]event.Event // gated durable events waiting on earlier seqs
	immediate     map[int64]bool        // seqs applied out of band, pending counter advance
	syncDone      bool
	syncing       bool
	resyncPending bool // a resync was requested while a fetch was in flight
	destroyed     bool

	gapTimer  Timer // single pending slot; nil when no fill is scheduled
	gapTarget int64
}

// New creates a Synchronizer for one stream. It starts idle; call
// PerformInitialSync after subscribing to the transport.
func New(cfg Config) (*Synchronizer, error) {
	if cfg.StreamID == "" {
		return nil, fmt.Errorf("syncer: stream ID is required")
	}
	if cfg.Apply == nil {
		return nil, fmt.Errorf("syncer: apply callback is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("syncer: fetcher is required")
	}

	s := &Synchronizer{
		streamID: cfg.StreamID,
		fetcher:  cfg.Fetcher,
		apply:    cfg.Apply,
		onState:  cfg.OnStateChange,
		delay:    cfg.GapFillDelay,
		limit:    cfg.FetchLimit,
		sched:    cfg.Scheduler,

		state:       StateIdle,
		lastApplied: cfg.StartFromSeq,
		buffer:      make(map[int64]event.Event),
		immediate:   make(map[int64]bool),
	}
	if s.delay <= 0 {
		s.delay = DefaultGapFillDelay
	}
	if s.limit <= 0 {
		s.limit = eventlog.DefaultReadLimit
	}
	if s.sched == nil {
		s.sched = realScheduler{}
	}
	return s, nil
}

// BufferEvent ingests one event from the real-time transport. Unordered and
// immediate-durable events apply on the spot; gated durable events are
// buffered and flushed once all earlier sequence numbers have been applied.
// Duplicates and already-applied events are discarded.
func (s *Synchronizer) BufferEvent(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	// No sequence number: apply immediately, no ordering guarantee.
	if ev.Seq <= 0 {
		s.applyLocked(ev)
		return
	}

	class, known := event.Classify(ev.Type)
	if known && !class.IsSequenceGated() {
		s.applyImmediateLocked(ev)
		if s.syncDone {
			s.flushLocked()
		}
		return
	}

	if ev.Seq <= s.lastApplied {
		return // already applied or superseded
	}
	if _, dup := s.buffer[ev.Seq]; dup {
		return
	}
	s.buffer[ev.Seq] = ev

	if s.syncDone {
		s.flushLocked()
	}
}

// PerformInitialSync catches up from the durable log and starts ordered
// delivery. Call it once, after subscribing to the transport. A fetch
// failure is not fatal: the synchronizer comes up degraded so events that
// already arrived over the transport are not stuck forever.
func (s *Synchronizer) PerformInitialSync(ctx context.Context) {
	s.resync(ctx, "initial sync")
}

// HandleReconnect re-synchronizes after the transport reports a reconnect.
// It is anchored at the current applied position, so progress is never
// reset and already-applied events are not re-applied.
func (s *Synchronizer) HandleReconnect(ctx context.Context) {
	s.resync(ctx, "reconnect")
}

func (s *Synchronizer) resync(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	if s.syncing {
		// Another sync's fetch is in flight. Mark the request so the
		// in-flight sync re-runs its fetch on completion; otherwise events
		// published during an outage would stay stranded in the log until
		// some later durable event trips gap detection.
		s.resyncPending = true
		s.mu.Unlock()
		return
	}
	s.syncing = true
	s.setStateLocked(StateSyncing)

	for {
		after := s.lastApplied
		s.mu.Unlock()

		start := time.Now()
		res, err := s.fetcher.ReadAfter(ctx, s.streamID, after, s.limit)
		metrics.FetchLatency.Observe(time.Since(start).Seconds())

		s.mu.Lock()
		if s.destroyed {
			s.mu.Unlock()
			return
		}

		if err != nil {
			// Degraded but live: buffered transport events still flush,
			// and the next debounced gap-fill retries the read.
			log.Printf("[syncer] %s fetch failed stream=%s after=%d: %v", reason, s.streamID, after, err)
			s.syncDone = true
			s.flushLocked()
			s.setStateLocked(StateDegraded)
		} else {
			s.mergeLocked(res.Events)
			s.adjustBaselineLocked()
			s.syncDone = true
			s.flushLocked()
			s.setStateLocked(StateSynced)

			// Holes between the applied position and the stream's assigned
			// extent mean events are missing from both buffer and this
			// read: fill them.
			if s.missingBelowLocked(res.CurrentSeq) {
				s.scheduleGapFillLocked(res.CurrentSeq)
			}
		}

		if !s.resyncPending {
			s.syncing = false
			s.mu.Unlock()
			return
		}
		s.resyncPending = false
		s.setStateLocked(StateSyncing)
	}
}

// Close destroys the synchronizer: the pending gap-fill timer is cancelled,
// the buffer is dropped, and results of in-flight fetches are discarded.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.gapTimer != nil {
		s.gapTimer.Stop()
		s.gapTimer = nil
	}
	s.buffer = make(map[int64]event.Event)
	s.immediate = make(map[int64]bool)
}

// LastAppliedSeq returns the highest sequence number applied so far.
func (s *Synchronizer) LastAppliedSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ---------------------------------------------------------------------------
// Internals (all require s.mu held)
// ---------------------------------------------------------------------------

func (s *Synchronizer) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.onState != nil {
		s.onState(st)
	}
}

func (s *Synchronizer) applyLocked(ev event.Event) {
	metrics.EventsApplied.Inc()
	s.apply(ev)
}

// applyImmediateLocked applies an immediate-durable event on arrival and
// records its sequence number so the ordered walk can step over it later.
func (s *Synchronizer) applyImmediateLocked(ev event.Event) {
	if ev.Seq <= s.lastApplied || s.immediate[ev.Seq] {
		return // duplicate delivery
	}
	delete(s.buffer, ev.Seq)
	s.immediate[ev.Seq] = true
	s.applyLocked(ev)
}

// mergeLocked folds fetched log records into the buffer. Gated events join
// the buffer; immediate-durable events apply on the spot, exactly as if they
// had arrived over the transport.
func (s *Synchronizer) mergeLocked(recs []eventlog.Record) int {
	merged := 0
	for _, rec := range recs {
		ev := event.Event{
			Type:     rec.Type,
			StreamID: rec.StreamID,
			Seq:      rec.Seq,
			Ts:       rec.Ts,
			Payload:  rec.Payload,
		}

		class, known := event.Classify(ev.Type)
		if known && !class.IsSequenceGated() {
			if ev.Seq > s.lastApplied && !s.immediate[ev.Seq] {
				s.applyImmediateLocked(ev)
				merged++
			}
			continue
		}

		if ev.Seq <= s.lastApplied {
			continue
		}
		if _, dup := s.buffer[ev.Seq]; dup {
			continue
		}
		s.buffer[ev.Seq] = ev
		merged++
	}
	return merged
}

// adjustBaselineLocked treats the first-seen sequence number as the
// effective starting point when earlier numbers were never durably stored.
// Sequence numbers can have permanent holes from abandoned emissions;
// without this a fresh client would wait forever for a sequence 1 that
// never existed.
func (s *Synchronizer) adjustBaselineLocked() {
	if s.lastApplied != 0 {
		return
	}

	min := int64(0)
	for seq := range s.buffer {
		if min == 0 || seq < min {
			min = seq
		}
	}
	for seq := range s.immediate {
		if min == 0 || seq < min {
			min = seq
		}
	}

	if min > 1 {
		log.Printf("[syncer] baseline adjusted stream=%s to %d (earlier seqs never stored)", s.streamID, min-1)
		s.lastApplied = min - 1
	}
}

// flushLocked applies buffered events while the next sequence number is
// available, stepping over sequence numbers consumed by immediate-durable
// events. It stops at the first true gap and, once initial sync is done,
// schedules a debounced backfill for it.
func (s *Synchronizer) flushLocked() {
	for {
		next := s.lastApplied + 1
		if ev, ok := s.buffer[next]; ok {
			delete(s.buffer, next)
			s.lastApplied = next
			s.applyLocked(ev)
			continue
		}
		if s.immediate[next] {
			delete(s.immediate, next)
			s.lastApplied = next
			continue
		}
		break
	}

	// Anything still buffered sits beyond a gap.
	if len(s.buffer) > 0 && s.syncDone {
		target := int64(0)
		for seq := range s.buffer {
			if seq > target {
				target = seq
			}
		}
		s.scheduleGapFillLocked(target)
	}
}

// missingBelowLocked reports whether any sequence number in
// (lastApplied, target] is neither buffered nor already applied.
func (s *Synchronizer) missingBelowLocked(target int64) bool {
	for seq := s.lastApplied + 1; seq <= target; seq++ {
		if _, ok := s.buffer[seq]; ok {
			continue
		}
		if s.immediate[seq] {
			continue
		}
		return true
	}
	return false
}

// scheduleGapFillLocked arms the debounced backfill. One pending timer per
// stream: re-scheduling while one is pending only widens the target, it
// never creates a second timer.
func (s *Synchronizer) scheduleGapFillLocked(target int64) {
	if target > s.gapTarget {
		s.gapTarget = target
	}
	if s.gapTimer != nil {
		return
	}
	s.gapTimer = s.sched.AfterFunc(s.delay, s.onGapTimer)
}

// onGapTimer fires outside the lock when the debounce window elapses.
func (s *Synchronizer) onGapTimer() {
	s.mu.Lock()
	s.gapTimer = nil
	target := s.gapTarget
	s.gapTarget = 0
	if s.destroyed || target <= s.lastApplied {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.detectAndFillGaps(target)
}

// detectAndFillGaps performs one backfill read for the missing sequence
// numbers up to target, merges the result, and flushes. It never recurses:
// a gap that survives the fetch is handled by the next debounced timer, not
// by looping here.
func (s *Synchronizer) detectAndFillGaps(target int64) {
	s.mu.Lock()
	minMissing := int64(0)
	for seq := s.lastApplied + 1; seq <= target; seq++ {
		if _, ok := s.buffer[seq]; ok {
			continue
		}
		if s.immediate[seq] {
			continue
		}
		minMissing = seq
		break
	}
	if minMissing == 0 {
		s.mu.Unlock()
		return // nothing missing
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.fetcher.ReadAfter(ctx, s.streamID, minMissing-1, s.limit)
	metrics.FetchLatency.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}

	if err != nil {
		metrics.GapFills.WithLabelValues("error").Inc()
		log.Printf("[syncer] gap fill failed stream=%s after=%d: %v", s.streamID, minMissing-1, err)
		s.setStateLocked(StateDegraded)
		// Retry on the next debounce tick rather than looping here.
		s.scheduleGapFillLocked(target)
		return
	}

	merged := s.mergeLocked(res.Events)
	if merged > 0 {
		metrics.GapFills.WithLabelValues("filled").Inc()
	} else {
		metrics.GapFills.WithLabelValues("empty").Inc()
	}

	s.flushLocked()
	if s.state == StateDegraded {
		s.setStateLocked(StateSynced)
	}

	// The log reported a wider extent than we were chasing: keep going on
	// the next tick.
	if res.CurrentSeq > target && s.missingBelowLocked(res.CurrentSeq) {
		s.scheduleGapFillLocked(res.CurrentSeq)
	}
}

// BufferedSeqs returns the sequence numbers currently waiting on earlier
// events, ascending. Used by tests and the gateway's debug surface.
func (s *Synchronizer) BufferedSeqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs := make([]int64, 0, len(s.buffer))
	for seq := range s.buffer {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}
