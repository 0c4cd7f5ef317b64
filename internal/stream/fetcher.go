package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/metrics"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
)

// BlockGetter fetches one block by height.
type BlockGetter interface {
	GetBlock(ctx context.Context, height uint64) (*block.Block, error)
}

// BlockSource is a fetch strategy.
type BlockSource interface {
	BlockGetter
	Strategy() string
}

// Direct asks a single upstream (usually a failover pool) for each block.
type Direct struct {
	src BlockGetter
}

// NewDirect wraps src as the direct fetch strategy.
func NewDirect(src BlockGetter) *Direct { return &Direct{src: src} }

// GetBlock implements BlockGetter.
func (d *Direct) GetBlock(ctx context.Context, height uint64) (*block.Block, error) {
	return d.src.GetBlock(ctx, height)
}

// Strategy implements BlockSource.
func (d *Direct) Strategy() string { return "direct" }

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// From is the first height to fetch.
	From uint64
	// Lag keeps the fetcher this many blocks behind the head.
	Lag uint64
	// Concurrency bounds parallel per-height fetches.
	Concurrency int
	// RetryDelay is the pause after a failed batch.
	RetryDelay time.Duration
}

// Fetcher pulls blocks into a Queue in strict height order.
type Fetcher struct {
	src        BlockSource
	head       *HeadTracker
	queue      *Queue[*block.Block]
	lag        uint64
	batch      int
	retryDelay time.Duration
	pool       pond.Pool
	last       atomic.Uint64
}

// NewFetcher creates a fetcher feeding queue.
func NewFetcher(src BlockSource, head *HeadTracker, queue *Queue[*block.Block], opts FetcherOptions) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 3 * time.Second
	}
	if opts.From == 0 {
		opts.From = 1
	}
	f := &Fetcher{
		src:        src,
		head:       head,
		queue:      queue,
		lag:        opts.Lag,
		batch:      opts.Concurrency,
		retryDelay: opts.RetryDelay,
		pool:       pond.NewPool(opts.Concurrency),
	}
	f.last.Store(opts.From - 1)
	return f
}

// Last returns the highest height enqueued so far.
func (f *Fetcher) Last() uint64 { return f.last.Load() }

// Run fetches until ctx is cancelled. It only returns ctx.Err() or an
// error from the queue; fetch failures are retried indefinitely.
func (f *Fetcher) Run(ctx context.Context) error {
	defer f.pool.StopAndWait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		changed := f.head.Changed()
		target := f.target()
		last := f.last.Load()
		if last >= target {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-changed:
			}
			continue
		}

		n := target - last
		if free := uint64(f.queue.Free()); n > free {
			n = free
		}
		if n > uint64(f.batch) {
			n = uint64(f.batch)
		}
		if n < 1 {
			n = 1
		}

		blocks, err := f.fetchBatch(ctx, last+1, int(n))
		for _, blk := range blocks {
			if qerr := f.queue.Enqueue(ctx, blk); qerr != nil {
				return qerr
			}
			f.last.Store(blk.Height)
		}
		metrics.QueueDepth(f.queue.Len())

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.FetchFailed(f.src.Strategy())
			log.Stream.Warn().Err(err).Uint64("height", f.last.Load()+1).
				Str("strategy", f.src.Strategy()).Dur("retry_in", f.retryDelay).
				Msg("Block fetch failed")
			if !sleep(ctx, f.retryDelay) {
				return ctx.Err()
			}
		}
	}
}

// target is the highest height the fetcher may enqueue.
func (f *Fetcher) target() uint64 {
	h := f.head.Height()
	if h <= f.lag {
		return 0
	}
	return h - f.lag
}

// fetchBatch fetches n consecutive heights in parallel and returns the
// contiguous prefix that succeeded, plus the first error.
func (f *Fetcher) fetchBatch(ctx context.Context, from uint64, n int) ([]*block.Block, error) {
	results := make([]*block.Block, n)
	errs := make([]error, n)

	group := f.pool.NewGroupContext(ctx)
	gctx := group.Context()
	for i := 0; i < n; i++ {
		height := from + uint64(i)
		group.Submit(func() {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = f.src.GetBlock(gctx, height)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		log.Stream.Warn().Err(err).Uint64("from", from).Int("count", n).Msg("Fetch group failed")
	}

	out := make([]*block.Block, 0, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			return out, fmt.Errorf("fetch block %d: %w", from+uint64(i), errs[i])
		}
		if results[i] == nil {
			return out, fmt.Errorf("fetch block %d: %w", from+uint64(i), block.ErrEmptyBlock)
		}
		out = append(out, results[i])
	}
	return out, nil
}

// sleep waits d or until ctx is done; it reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
