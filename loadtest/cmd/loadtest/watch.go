package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rostrum/debate-app/loadtest/client"
	"github.com/rostrum/debate-app/loadtest/stats"
)

// runWatch implements the observer fan-out test. It connects N observers to
// the gateway, has all of them watch the same debate stream, and lets the
// debate run (typically driven by the simulator binary) for the test
// duration. At the end, every client's received sequence numbers are checked
// for the delivery contract: strictly ascending, no duplicates, no holes
// between the lowest and highest sequence seen.
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket gateway URL")
	metricsURL := fs.String("metrics", "", "Prometheus metrics URL to scrape (empty disables)")
	streamID := fs.String("stream", "", "Debate stream ID to watch (required)")
	observers := fs.Int("observers", 100, "Number of observer connections")
	duration := fs.Duration("duration", 60*time.Second, "How long to observe before verifying")
	stagger := fs.Duration("stagger", 10*time.Millisecond, "Delay between observer launches")
	fs.Parse(args)

	if *streamID == "" {
		fmt.Println("watch: -stream is required (start a debate with the simulator first)")
		return
	}

	fmt.Printf("Watch test: %d observers on stream %s via %s for %s\n",
		*observers, *streamID, *url, *duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 2*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *observers)

	// -----------------------------------------------------------------------
	// Launch observers
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Launching observers ---")

	var wg sync.WaitGroup
	for i := 0; i < *observers; i++ {
		select {
		case <-ctx.Done():
			break
		default:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
			defer connCancel()

			c, err := client.New(connCtx, *url)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitForSession(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			if err := c.Watch(*streamID, 0); err != nil {
				collector.AddError()
				c.Close()
				return
			}

			collector.AddConnect(c.GetMetrics().ConnectLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}()

		time.Sleep(*stagger)
	}
	wg.Wait()

	fmt.Printf("Observers connected: %d/%d (%d errors)\n",
		collector.ConnectionCount(), *observers, collector.ErrorCount())

	// -----------------------------------------------------------------------
	// Observe phase
	// -----------------------------------------------------------------------
	fmt.Printf("\n--- Observing for %s ---\n", *duration)

	observeTimer := time.NewTimer(*duration)
	statusTicker := time.NewTicker(5 * time.Second)

observeLoop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during observe phase.")
			break observeLoop
		case <-observeTimer.C:
			break observeLoop
		case <-statusTicker.C:
			mu.Lock()
			total := 0
			for _, c := range clients {
				total += c.GetMetrics().EventsReceived
			}
			n := len(clients)
			mu.Unlock()
			avg := 0
			if n > 0 {
				avg = total / n
			}
			fmt.Printf("  [observe] events received: %d total, %d avg/observer\n", total, avg)
		}
	}
	observeTimer.Stop()
	statusTicker.Stop()

	// -----------------------------------------------------------------------
	// Verification
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Verifying delivery order ---")

	mu.Lock()
	for _, c := range clients {
		m := c.GetMetrics()
		if m.FirstEventLatency > 0 {
			collector.AddEventLatency(m.FirstEventLatency)
		}

		violations := verifySeqs(c.Seqs())
		if violations > 0 {
			collector.AddOrderViolations(violations)
			fmt.Printf("  observer %s: %d ordering defects\n", c.SessionID(), violations)
		}
	}
	count := len(clients)
	mu.Unlock()

	if collector.OrderViolationCount() == 0 {
		fmt.Printf("All %d observers received gap-free, in-order event sequences.\n", count)
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	mu.Lock()
	for _, c := range clients {
		_ = c.Unwatch(*streamID)
		c.Close()
	}
	mu.Unlock()

	collector.Report()
}

// verifySeqs counts delivery-contract violations in a client's received
// sequence numbers. Immediate events legitimately arrive ahead of their
// sequence position, so arrival order is not checked directly; instead the
// set of received numbers must be duplicate-free and contiguous from the
// lowest to the highest number seen.
func verifySeqs(seqs []int64) int {
	if len(seqs) == 0 {
		return 0
	}

	sorted := make([]int64, len(seqs))
	copy(sorted, seqs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	violations := 0
	for i := 1; i < len(sorted); i++ {
		switch {
		case sorted[i] == sorted[i-1]:
			violations++ // duplicate delivery
		case sorted[i] != sorted[i-1]+1:
			violations++ // hole in the sequence
		}
	}
	return violations
}
