package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHeadTracker_Update(t *testing.T) {
	tr := NewHeadTracker(10)
	changed := tr.Changed()

	if tr.Update(10) {
		t.Fatal("equal height should not be accepted")
	}
	if tr.Update(9) {
		t.Fatal("lower height should not be accepted")
	}
	select {
	case <-changed:
		t.Fatal("Changed fired without an increase")
	default:
	}

	if !tr.Update(11) {
		t.Fatal("higher height should be accepted")
	}
	select {
	case <-changed:
	default:
		t.Fatal("Changed did not fire on increase")
	}
	if tr.Height() != 11 {
		t.Fatalf("Height() = %d, want 11", tr.Height())
	}

	// The channel is one-shot; a fresh one is handed out afterwards.
	next := tr.Changed()
	select {
	case <-next:
		t.Fatal("new Changed channel already closed")
	default:
	}
}

type fakeHead struct {
	mu      sync.Mutex
	heights []uint64
	err     error
	calls   int
}

func (f *fakeHead) HeadHeight(ctx context.Context, irreversible bool) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.heights) == 0 {
		return 0, errors.New("exhausted")
	}
	h := f.heights[0]
	if len(f.heights) > 1 {
		f.heights = f.heights[1:]
	}
	return h, nil
}

func TestHeadPoller_Run(t *testing.T) {
	src := &fakeHead{heights: []uint64{100, 99, 105}}
	tr := NewHeadTracker(0)
	p := NewHeadPoller(src, tr, 5*time.Millisecond, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for tr.Height() != 105 {
		select {
		case <-deadline:
			t.Fatalf("head = %d, want 105", tr.Height())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestHeadPoller_ErrorsKeepPolling(t *testing.T) {
	src := &fakeHead{err: errors.New("node down")}
	tr := NewHeadTracker(7)
	p := NewHeadPoller(src, tr, 2*time.Millisecond, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls < 2 {
		t.Fatalf("calls = %d, want polling to continue after errors", calls)
	}
	if tr.Height() != 7 {
		t.Fatalf("Height() = %d, want 7", tr.Height())
	}
}
