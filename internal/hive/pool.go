package hive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
)

// ErrNoEndpoints is returned when the pool has no usable node.
var ErrNoEndpoints = errors.New("no hive endpoints available")

// PoolOptions configures failover behaviour.
type PoolOptions struct {
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// endpointState tracks the health of one node.
type endpointState struct {
	Failures  int
	OpenUntil time.Time
	LastError string
}

// EndpointStatus is a snapshot of one node's health.
type EndpointStatus struct {
	Endpoint  string `json:"endpoint"`
	Failures  int    `json:"failures"`
	Open      bool   `json:"open"`
	LastError string `json:"last_error,omitempty"`
}

// Pool fans calls out over several Hive nodes. Calls go to the first node
// whose breaker is closed and fail over to the next one on error.
type Pool struct {
	clients []*Client
	health  *xsync.Map[string, endpointState]
	opts    PoolOptions
	now     func() time.Time
}

// NewPool creates a pool over the given endpoints, dropping duplicates.
func NewPool(endpoints []string, opts PoolOptions) (*Pool, error) {
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 3
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	p := &Pool{
		health: xsync.NewMap[string, endpointState](),
		opts:   opts,
		now:    time.Now,
	}
	seen := make(map[string]bool)
	for _, ep := range endpoints {
		if ep == "" || seen[ep] {
			continue
		}
		seen[ep] = true
		p.clients = append(p.clients, NewWithTimeout(ep, opts.Timeout))
	}
	if len(p.clients) == 0 {
		return nil, ErrNoEndpoints
	}
	return p, nil
}

// Clients returns the per-node clients in configuration order.
func (p *Pool) Clients() []*Client {
	out := make([]*Client, len(p.clients))
	copy(out, p.clients)
	return out
}

// Status reports the health of every node.
func (p *Pool) Status() []EndpointStatus {
	now := p.now()
	out := make([]EndpointStatus, 0, len(p.clients))
	for _, c := range p.clients {
		st, _ := p.health.Load(c.endpoint)
		out = append(out, EndpointStatus{
			Endpoint:  c.endpoint,
			Failures:  st.Failures,
			Open:      now.Before(st.OpenUntil),
			LastError: st.LastError,
		})
	}
	return out
}

func (p *Pool) isOpen(ep string) bool {
	st, ok := p.health.Load(ep)
	return ok && p.now().Before(st.OpenUntil)
}

func (p *Pool) noteFailure(ep string, err error) {
	p.health.Compute(ep, func(st endpointState, loaded bool) (endpointState, xsync.ComputeOp) {
		st.Failures++
		st.LastError = err.Error()
		if st.Failures >= p.opts.BreakerFailures {
			st.OpenUntil = p.now().Add(p.opts.BreakerCooldown)
			st.Failures = 0
			log.Hive.Warn().Str("endpoint", ep).Err(err).
				Dur("cooldown", p.opts.BreakerCooldown).Msg("Endpoint breaker opened")
		}
		return st, xsync.UpdateOp
	})
}

func (p *Pool) noteSuccess(ep string) {
	p.health.Compute(ep, func(st endpointState, loaded bool) (endpointState, xsync.ComputeOp) {
		if !loaded {
			return st, xsync.CancelOp
		}
		st.Failures = 0
		return st, xsync.UpdateOp
	})
}

// do runs fn against each node in turn until one succeeds. Context
// cancellation stops the failover immediately.
func (p *Pool) do(ctx context.Context, fn func(c *Client) error) error {
	var lastErr error
	tried := 0
	for _, c := range p.clients {
		if p.isOpen(c.endpoint) {
			continue
		}
		tried++
		err := fn(c)
		if err == nil {
			p.noteSuccess(c.endpoint)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, block.ErrEmptyBlock) {
			// The node answered; the block just is not there yet.
			return err
		}
		lastErr = err
		p.noteFailure(c.endpoint, err)
		log.Hive.Debug().Str("endpoint", c.endpoint).Err(err).Msg("Endpoint call failed, trying next")
	}
	if tried == 0 {
		return ErrNoEndpoints
	}
	return fmt.Errorf("all %d endpoints failed: %w", tried, lastErr)
}

// HeadHeight returns the head (or last irreversible) height from the first
// healthy node.
func (p *Pool) HeadHeight(ctx context.Context, irreversible bool) (uint64, error) {
	var h uint64
	err := p.do(ctx, func(c *Client) error {
		var err error
		h, err = c.HeadHeight(ctx, irreversible)
		return err
	})
	return h, err
}

// GetBlock fetches a block from the first healthy node.
func (p *Pool) GetBlock(ctx context.Context, height uint64) (*block.Block, error) {
	var blk *block.Block
	err := p.do(ctx, func(c *Client) error {
		var err error
		blk, err = c.GetBlock(ctx, height)
		return err
	})
	return blk, err
}

// TransactionRef derives reference block fields from the first healthy node.
func (p *Pool) TransactionRef(ctx context.Context) (TxRef, error) {
	var ref TxRef
	err := p.do(ctx, func(c *Client) error {
		var err error
		ref, err = c.TransactionRef(ctx)
		return err
	})
	return ref, err
}

// BroadcastTransaction submits tx through the first healthy node.
func (p *Pool) BroadcastTransaction(ctx context.Context, tx *SignedTransaction) error {
	return p.do(ctx, func(c *Client) error {
		return c.BroadcastTransaction(ctx, tx)
	})
}
