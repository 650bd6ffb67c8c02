package eventlog

import (
	"context"
	"log"
	"time"
)

// Pruning targets anything that can delete rows by age. PostgresLog
// implements it; MemoryLog does not need pruning (its tests drop streams
// explicitly).
type Pruning interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DefaultRetention is how long durable events are kept before the log reads
// as empty for a stream. Retention is an explicit knob, not an inferred
// default: operators of long-lived streams should raise it.
const DefaultRetention = 24 * time.Hour

const pruneInterval = 10 * time.Minute

// StartPruner runs a background loop that deletes events older than the
// retention window. It returns immediately; the loop exits when ctx is
// cancelled.
func StartPruner(ctx context.Context, log_ Pruning, retention time.Duration) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[eventlog] pruner stopped")
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				n, err := log_.PruneBefore(ctx, cutoff)
				if err != nil {
					log.Printf("[eventlog] prune failed: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("[eventlog] pruned %d expired events", n)
				}
			}
		}
	}()
}
