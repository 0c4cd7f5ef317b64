package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
)

// testBlock returns a block whose id encodes height.
func testBlock(height uint64) *block.Block {
	return &block.Block{
		Height:   height,
		ID:       fmt.Sprintf("%08x%032x", height, height),
		Previous: fmt.Sprintf("%08x%032x", height-1, height-1),
	}
}

type fakeSource struct {
	mu       sync.Mutex
	failures map[uint64]int // remaining failures per height
	calls    map[uint64]int
	delay    func(h uint64) time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{failures: make(map[uint64]int), calls: make(map[uint64]int)}
}

func (f *fakeSource) GetBlock(ctx context.Context, h uint64) (*block.Block, error) {
	f.mu.Lock()
	f.calls[h]++
	fail := f.failures[h] > 0
	if fail {
		f.failures[h]--
	}
	delay := f.delay
	f.mu.Unlock()

	if delay != nil {
		select {
		case <-time.After(delay(h)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("upstream hiccup")
	}
	return testBlock(h), nil
}

func (f *fakeSource) Strategy() string { return "fake" }

func (f *fakeSource) callsFor(h uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[h]
}

func startFetcher(t *testing.T, f *Fetcher) (cancel func()) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	return func() {
		cancelFn()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run() error = %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not stop after cancel")
		}
	}
}

func dequeueHeights(t *testing.T, q *Queue[*block.Block], n int) []uint64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		blk, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() after %v: %v", out, err)
		}
		out = append(out, blk.Height)
	}
	return out
}

func TestFetcher_EnqueuesInHeightOrder(t *testing.T) {
	src := newFakeSource()
	// Later heights finish first.
	src.delay = func(h uint64) time.Duration { return time.Duration(20-h) * time.Millisecond }

	head := NewHeadTracker(10)
	q := NewQueue[*block.Block](32)
	stop := startFetcher(t, NewFetcher(src, head, q, FetcherOptions{From: 1, Concurrency: 4}))
	defer stop()

	got := dequeueHeights(t, q, 10)
	for i, h := range got {
		if h != uint64(i+1) {
			t.Fatalf("heights = %v, want 1..10 in order", got)
		}
	}
}

func TestFetcher_RetriesFailedHeight(t *testing.T) {
	src := newFakeSource()
	src.failures[3] = 2

	head := NewHeadTracker(5)
	q := NewQueue[*block.Block](32)
	stop := startFetcher(t, NewFetcher(src, head, q, FetcherOptions{From: 1, Concurrency: 8, RetryDelay: 5 * time.Millisecond}))
	defer stop()

	got := dequeueHeights(t, q, 5)
	for i, h := range got {
		if h != uint64(i+1) {
			t.Fatalf("heights = %v, want 1..5 without gaps or duplicates", got)
		}
	}
	if c := src.callsFor(3); c != 3 {
		t.Fatalf("height 3 fetched %d times, want 3", c)
	}
}

func TestFetcher_HonoursLagAndWaitsForHead(t *testing.T) {
	src := newFakeSource()
	head := NewHeadTracker(10)
	q := NewQueue[*block.Block](32)
	f := NewFetcher(src, head, q, FetcherOptions{From: 5, Lag: 3})
	stop := startFetcher(t, f)
	defer stop()

	got := dequeueHeights(t, q, 3)
	if got[0] != 5 || got[2] != 7 {
		t.Fatalf("heights = %v, want [5 6 7]", got)
	}

	time.Sleep(30 * time.Millisecond)
	if q.Len() != 0 || f.Last() != 7 {
		t.Fatalf("fetched beyond head-lag: len=%d last=%d", q.Len(), f.Last())
	}

	head.Update(11)
	if got := dequeueHeights(t, q, 1); got[0] != 8 {
		t.Fatalf("after head advance got %v, want [8]", got)
	}
}

func TestFetcher_BoundedByQueue(t *testing.T) {
	src := newFakeSource()
	head := NewHeadTracker(1000)
	q := NewQueue[*block.Block](2)
	f := NewFetcher(src, head, q, FetcherOptions{From: 1, Concurrency: 8})
	stop := startFetcher(t, f)
	defer stop()

	time.Sleep(50 * time.Millisecond)
	if q.Len() != 2 {
		t.Fatalf("queue len = %d, want 2", q.Len())
	}
	if f.Last() != 2 {
		t.Fatalf("Last() = %d, want 2", f.Last())
	}
}
