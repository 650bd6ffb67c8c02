// Package poll provides the fallback pull path used when the real-time
// transport is unavailable: a periodic catch-up read from the durable event
// log, fed into the same per-stream synchronizer that transport pushes use.
package poll

import (
	"context"
	"log"
	"time"

	"github.com/rostrum/debate-app/internal/event"
	"github.com/rostrum/debate-app/internal/syncer"
)

// DefaultInterval is the polling cadence when Config.Interval is zero. It is
// deliberately coarse: polling is a degraded mode, not the primary path.
const DefaultInterval = 3 * time.Second

// Config configures a Poller.
type Config struct {
	StreamID string
	Fetcher  syncer.Fetcher
	Interval time.Duration
	Limit    int
}

// Poller periodically reads the durable log and feeds new events into a
// Synchronizer. The synchronizer's own dedupe and ordering make overlap with
// a recovering real-time transport harmless.
type Poller struct {
	cfg  Config
	sync *syncer.Synchronizer
}

// New creates a Poller feeding the given synchronizer.
func New(cfg Config, s *syncer.Synchronizer) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{cfg: cfg, sync: s}
}

// Run polls until ctx is cancelled. It blocks; callers run it in a goroutine.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[poll] stopped stream=%s", p.cfg.StreamID)
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll performs one catch-up read anchored at the synchronizer's applied
// position. Read failures are logged and retried on the next tick.
func (p *Poller) poll(ctx context.Context) {
	after := p.sync.LastAppliedSeq()

	res, err := p.cfg.Fetcher.ReadAfter(ctx, p.cfg.StreamID, after, p.cfg.Limit)
	if err != nil {
		log.Printf("[poll] read failed stream=%s after=%d: %v", p.cfg.StreamID, after, err)
		return
	}

	for _, rec := range res.Events {
		p.sync.BufferEvent(event.Event{
			Type:     rec.Type,
			StreamID: rec.StreamID,
			Seq:      rec.Seq,
			Ts:       rec.Ts,
			Payload:  rec.Payload,
		})
	}
}
