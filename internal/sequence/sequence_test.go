package sequence

import (
	"context"
	"sort"
	"sync"
	"testing"
)

func TestMemorySequencerStartsAtOne(t *testing.T) {
	s := NewMemorySequencer()
	ctx := context.Background()

	seq, err := s.Next(ctx, "debate-1")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if seq != 1 {
		t.Fatalf("first seq = %d, want 1", seq)
	}
}

func TestMemorySequencerStreamsAreIndependent(t *testing.T) {
	s := NewMemorySequencer()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Next(ctx, "debate-a")
	}
	seq, _ := s.Next(ctx, "debate-b")
	if seq != 1 {
		t.Errorf("debate-b first seq = %d, want 1", seq)
	}

	cur, _ := s.Current(ctx, "debate-a")
	if cur != 5 {
		t.Errorf("debate-a current = %d, want 5", cur)
	}
}

func TestMemorySequencerCurrentUnknownStream(t *testing.T) {
	s := NewMemorySequencer()

	cur, err := s.Current(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur != 0 {
		t.Errorf("current = %d, want 0", cur)
	}
}

// TestMemorySequencerConcurrent verifies that concurrent callers never
// receive the same number and that the full range is covered.
func TestMemorySequencerConcurrent(t *testing.T) {
	s := NewMemorySequencer()
	ctx := context.Background()

	goroutines := 50
	perGoroutine := 40

	var mu sync.Mutex
	seen := make([]int64, 0, goroutines*perGoroutine)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				seq, err := s.Next(ctx, "debate-1")
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				mu.Lock()
				seen = append(seen, seq)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	total := goroutines * perGoroutine
	if len(seen) != total {
		t.Fatalf("got %d numbers, want %d", len(seen), total)
	}
	for i, seq := range seen {
		if seq != int64(i+1) {
			t.Fatalf("index %d: seq = %d, want %d (duplicate or hole)", i, seq, i+1)
		}
	}
}
