package stream

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/retry"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
)

// Safe mode errors.
var (
	ErrNoConsensus     = errors.New("upstream nodes disagree on block")
	ErrTooFewSafeNodes = errors.New("safe mode needs at least 3 nodes")
)

const (
	minSafeModeNodes    = 3
	defaultSafeAttempts = 3
)

// SafeOptions configures safe-mode fetching.
type SafeOptions struct {
	// Sample is how many nodes are asked per height (at least 3).
	Sample int
	// Attempts bounds retries against a single node.
	Attempts int
	// Backoff is the fixed delay between attempts on one node.
	Backoff time.Duration
}

// Safe asks a random subset of nodes for each height and only accepts a
// block when at least two thirds of them return the same block id.
type Safe struct {
	nodes []BlockGetter
	opts  SafeOptions

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSafe creates the safe-mode strategy.
func NewSafe(nodes []BlockGetter, opts SafeOptions) (*Safe, error) {
	if len(nodes) < minSafeModeNodes {
		return nil, fmt.Errorf("%w: have %d", ErrTooFewSafeNodes, len(nodes))
	}
	if opts.Sample < minSafeModeNodes {
		opts.Sample = minSafeModeNodes
	}
	if opts.Sample > len(nodes) {
		opts.Sample = len(nodes)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultSafeAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &Safe{
		nodes: nodes,
		opts:  opts,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5afe)),
	}, nil
}

// Strategy implements BlockSource.
func (s *Safe) Strategy() string { return "safe" }

// Threshold returns the number of identical answers needed out of asked.
func Threshold(asked int) int {
	return (2*asked + 2) / 3
}

func (s *Safe) sample() []BlockGetter {
	s.mu.Lock()
	perm := s.rng.Perm(len(s.nodes))
	s.mu.Unlock()

	out := make([]BlockGetter, s.opts.Sample)
	for i := range out {
		out[i] = s.nodes[perm[i]]
	}
	return out
}

// GetBlock implements BlockGetter.
func (s *Safe) GetBlock(ctx context.Context, height uint64) (*block.Block, error) {
	asked := s.sample()
	answers := make([]*block.Block, len(asked))

	var wg sync.WaitGroup
	for i, node := range asked {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg := retry.Config{Attempts: s.opts.Attempts, Delay: s.opts.Backoff, Backoff: retry.Fixed}
			err := retry.Do(ctx, cfg, log.Stream, "safe fetch", func(ctx context.Context) error {
				blk, err := node.GetBlock(ctx, height)
				if err != nil {
					return err
				}
				answers[i] = blk
				return nil
			})
			if err != nil && ctx.Err() == nil {
				log.Stream.Debug().Err(err).Uint64("height", height).Msg("Safe mode node gave no answer")
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return agree(height, answers, Threshold(len(asked)))
}

// agree returns the block whose id was reported at least need times.
// Missing answers count as dissent.
func agree(height uint64, answers []*block.Block, need int) (*block.Block, error) {
	counts := make(map[string]int)
	first := make(map[string]*block.Block)
	best, bestCount := "", 0
	for _, blk := range answers {
		if blk == nil {
			continue
		}
		counts[blk.ID]++
		if _, ok := first[blk.ID]; !ok {
			first[blk.ID] = blk
		}
		if counts[blk.ID] > bestCount {
			best, bestCount = blk.ID, counts[blk.ID]
		}
	}
	if bestCount < need {
		return nil, fmt.Errorf("%w: height %d, best id %q with %d of %d (need %d)",
			ErrNoConsensus, height, best, bestCount, len(answers), need)
	}
	return first[best], nil
}
