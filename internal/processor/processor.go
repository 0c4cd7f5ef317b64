// Package processor applies Hive blocks to the ledger.
//
// Each block is processed in one storage transaction: block reward, virtual
// sources, native operations, validator selection and the content hash. A
// failure anywhere rolls the whole block back.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/metrics"
	"github.com/Klingon-tech/hive-ledger-validator/internal/retry"
	"github.com/Klingon-tech/hive-ledger-validator/internal/router"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/crypto"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/types"
)

// ErrOutOfOrder is returned when a block does not follow the last one.
var ErrOutOfOrder = errors.New("block out of order")

// SystemAccount acts on behalf of the ledger in virtual operations.
const SystemAccount = "$ledger"

// VirtualSource produces synthetic per-block payloads.
type VirtualSource interface {
	Name() string
	Payloads(ctx context.Context, r storage.Reader, height uint64) ([]action.Payload, error)
}

// Notifier observes processed blocks. It must not block.
type Notifier interface {
	BeforeBlock(height uint64)
	AfterBlock(height uint64, events []action.EventLog, hash types.Hash, head uint64)
}

// Submitter posts a custom_json payload as this node's account.
type Submitter interface {
	Submit(ctx context.Context, payload []byte) error
}

// Options configures a processor.
type Options struct {
	Envelope action.Envelope
	// Account is this node's validator account. Empty disables submission.
	Account string
	// Submit controls validation transaction retries.
	Submit retry.Config
}

// Result is the outcome of one processed block.
type Result struct {
	Height    uint64
	Hash      types.Hash
	Validator string
	Events    []action.EventLog
}

// Processor applies blocks in height order.
type Processor struct {
	db       storage.DB
	ledger   *ledger.Ledger
	routes   *router.Composite[*action.Handler]
	selector Selector
	opts     Options

	sources   []VirtualSource
	notifier  Notifier
	submitter Submitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  func()
}

// New creates a processor. The routes are recomputed from the committed
// settings now and after every settings change.
func New(db storage.DB, l *ledger.Ledger, routes *router.Composite[*action.Handler], opts Options) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		db:       db,
		ledger:   l,
		routes:   routes,
		selector: NewSelector(l.Config),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
	routes.Recompute(l.Config.Heights())
	p.unsub = l.Config.Subscribe(func(s ledger.Settings) {
		log.Router.Info().Int("heights", len(s.Heights)).Msg("Settings changed, recomputing routes")
		routes.Recompute(s.Heights)
	})
	return p
}

// AddSource registers a virtual source. Sources run in registration order.
func (p *Processor) AddSource(s VirtualSource) {
	p.sources = append(p.sources, s)
}

// SetNotifier sets the block observer.
func (p *Processor) SetNotifier(n Notifier) {
	p.notifier = n
}

// SetSubmitter sets the validation transaction submitter.
func (p *Processor) SetSubmitter(s Submitter) {
	p.submitter = s
}

// Route returns the chain handler for name at height.
func (p *Processor) Route(height uint64, name string) (*action.Handler, bool, error) {
	return p.routes.Route(height, action.NamespaceChain, name)
}

// Close stops pending submissions and waits for them to return.
func (p *Processor) Close() {
	p.cancel()
	p.wg.Wait()
	if p.unsub != nil {
		p.unsub()
	}
}

// Wait blocks until pending submissions finish.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Process applies blk and persists its record. head is the latest known
// chain height and only affects validation submission.
func (p *Processor) Process(ctx context.Context, blk *block.Block, head uint64) (*Result, error) {
	start := time.Now()
	if p.notifier != nil {
		p.notifier.BeforeBlock(blk.Height)
	}

	var res *Result
	err := p.db.Update(func(tx storage.Txn) error {
		var err error
		res, err = p.apply(ctx, tx, blk)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("process block %d: %w", blk.Height, err)
	}

	took := time.Since(start)
	metrics.BlockProcessed(blk.Height, took)
	log.Processor.Debug().
		Uint64("height", blk.Height).
		Str("hash", res.Hash.Short()).
		Str("validator", res.Validator).
		Int("events", len(res.Events)).
		Dur("took", took).
		Msg("Block processed")

	if p.notifier != nil {
		p.notifier.AfterBlock(blk.Height, res.Events, res.Hash, head)
	}
	p.maybeSubmit(res, head)
	return res, nil
}

// blockContext carries the per-block fields shared by every operation.
type blockContext struct {
	blk    *block.Block
	reward int64
	seq    int
	recs   []action.TxRecord
	events []action.EventLog
}

func (b *blockContext) operation(account string, active bool, trxID string) *action.Operation {
	op := &action.Operation{
		Account:     account,
		Active:      active,
		BlockNum:    b.blk.Height,
		BlockTime:   b.blk.Timestamp,
		BlockID:     b.blk.ID,
		PrevBlockID: b.blk.Previous,
		TrxID:       trxID,
		Index:       b.seq,
		Reward:      b.reward,
	}
	b.seq++
	return op
}

func (p *Processor) apply(ctx context.Context, tx storage.Txn, blk *block.Block) (*Result, error) {
	last := p.ledger.Blocks.Last()
	if last != nil && blk.Height != last.BlockNum+1 {
		return nil, fmt.Errorf("%w: got %d after %d", ErrOutOfOrder, blk.Height, last.BlockNum)
	}

	cfg := p.ledger.Config.Validator()
	bc := &blockContext{blk: blk, reward: cfg.Reward(blk.Height), recs: []action.TxRecord{}}

	for _, src := range p.sources {
		payloads, err := src.Payloads(ctx, tx, blk.Height)
		if err != nil {
			return nil, fmt.Errorf("virtual source %s: %w", src.Name(), err)
		}
		if len(payloads) == 0 {
			continue
		}
		op := bc.operation(SystemAccount, true, action.VirtualTrxID(src.Name(), blk.Height))
		if err := p.execute(ctx, tx, bc, op, action.NamespaceVirtual, payloads); err != nil {
			return nil, err
		}
	}

	for _, trx := range blk.Transactions {
		for _, native := range trx.Operations {
			if name, ok := native.NewAccount(); ok {
				events, err := p.ledger.Accounts.Upsert(tx, name, blk.Height, blk.Timestamp)
				if err != nil {
					return nil, fmt.Errorf("account %s: %w", name, err)
				}
				bc.events = append(bc.events, events...)
				continue
			}
			cj, ok := native.CustomJSON()
			if !ok || !p.opts.Envelope.Matches(cj.ID) {
				continue
			}
			account, active := cj.Account()
			if account == "" {
				continue
			}
			payloads := p.opts.Envelope.Payloads(cj.ID, cj.JSON)
			if len(payloads) == 0 {
				continue
			}
			op := bc.operation(account, active, trx.ID)
			if err := p.execute(ctx, tx, bc, op, action.NamespaceChain, payloads); err != nil {
				return nil, err
			}
		}
	}

	active, err := p.ledger.Validators.Active(tx)
	if err != nil {
		return nil, fmt.Errorf("active validators: %w", err)
	}
	var validator string
	if v, ok := p.selector.Select(blk.Height, blk.Rand(), active); ok {
		validator = v.Account
	}

	var prevHash types.Hash
	if last != nil {
		prevHash = last.Hash
	}
	payload, err := json.Marshal(bc.recs)
	if err != nil {
		return nil, fmt.Errorf("encode transactions: %w", err)
	}
	hash := crypto.ChainHash(prevHash, payload)

	rec := ledger.BlockRecord{
		BlockNum:    blk.Height,
		BlockID:     blk.ID,
		PrevBlockID: blk.Previous,
		Hash:        hash,
		PrevHash:    prevHash,
		BlockTime:   blk.Timestamp,
		Validator:   validator,
		Reward:      bc.reward,
	}
	if err := p.ledger.Blocks.Put(tx, rec, bc.recs); err != nil {
		return nil, fmt.Errorf("store block record: %w", err)
	}

	return &Result{Height: blk.Height, Hash: hash, Validator: validator, Events: bc.events}, nil
}

// execute routes, builds and runs the actions of one operation. Unknown
// actions and schema mismatches are skipped; routing contract violations
// and unexpected errors abort the block.
func (p *Processor) execute(ctx context.Context, tx storage.Txn, bc *blockContext, op *action.Operation, namespace string, payloads []action.Payload) error {
	for i, pl := range payloads {
		h, ok, err := p.routes.Route(op.BlockNum, namespace, pl.Name)
		if err != nil {
			return fmt.Errorf("route %s/%s: %w", namespace, pl.Name, err)
		}
		if !ok {
			log.Processor.Debug().Uint64("height", op.BlockNum).Str("action", pl.Name).Msg("Unsupported action skipped")
			continue
		}
		a, err := action.New(h, op, pl.Params, action.ActionID(op.TrxID, i))
		if errors.Is(err, action.ErrSchema) {
			log.Processor.Debug().Uint64("height", op.BlockNum).Str("action", pl.Name).Err(err).Msg("Malformed action skipped")
			continue
		}
		if err != nil {
			return err
		}
		op.Actions = append(op.Actions, a)

		if err := a.Execute(ctx, tx); err != nil {
			return err
		}
		metrics.ActionExecuted(a.Name(), a.Succeeded())
		if verr := a.Err(); verr != nil {
			log.Processor.Debug().Str("trx", a.ID).Str("action", a.Name()).Str("code", verr.Code).Msg(verr.Message)
		}
		bc.recs = append(bc.recs, a.Record())
		bc.events = append(bc.events, a.Events()...)
	}
	return nil
}
