package stream

import (
	"context"
	"sync"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/metrics"
)

// HeadTracker holds the latest known chain head.
type HeadTracker struct {
	mu      sync.Mutex
	height  uint64
	changed chan struct{}
}

// NewHeadTracker creates a tracker starting at height.
func NewHeadTracker(height uint64) *HeadTracker {
	return &HeadTracker{height: height, changed: make(chan struct{})}
}

// Height returns the current head height.
func (t *HeadTracker) Height() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.height
}

// Update records a new head. Only strictly increasing heights are accepted;
// a lower height (typically a lagging node after failover) is logged and
// ignored. It reports whether the head moved.
func (t *HeadTracker) Update(height uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if height <= t.height {
		if height < t.height {
			log.Stream.Warn().Uint64("current", t.height).Uint64("reported", height).
				Msg("Ignoring head regression")
		}
		return false
	}
	t.height = height
	close(t.changed)
	t.changed = make(chan struct{})
	return true
}

// Changed returns a channel closed on the next head increase. Grab it
// before reading Height to avoid missing an update in between.
func (t *HeadTracker) Changed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// HeadSource reports the upstream head height.
type HeadSource interface {
	HeadHeight(ctx context.Context, irreversible bool) (uint64, error)
}

// HeadPoller periodically feeds a HeadTracker from a HeadSource.
type HeadPoller struct {
	src          HeadSource
	tracker      *HeadTracker
	interval     time.Duration
	irreversible bool
}

// NewHeadPoller creates a poller. With irreversible set it tracks the last
// irreversible block instead of the head block.
func NewHeadPoller(src HeadSource, tracker *HeadTracker, interval time.Duration, irreversible bool) *HeadPoller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &HeadPoller{src: src, tracker: tracker, interval: interval, irreversible: irreversible}
}

// Run polls until ctx is cancelled. Errors are logged and polling continues.
func (p *HeadPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *HeadPoller) poll(ctx context.Context) {
	h, err := p.src.HeadHeight(ctx, p.irreversible)
	if err != nil {
		if ctx.Err() == nil {
			log.Stream.Warn().Err(err).Msg("Head poll failed")
		}
		return
	}
	if p.tracker.Update(h) {
		metrics.HeadHeight(h)
		log.Stream.Trace().Uint64("head", h).Msg("Head advanced")
	}
}
