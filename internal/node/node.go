// Package node wires the ledger validator together: storage, the block
// stream, the processor and the optional diagnostics, gossip and publisher
// components. It can be embedded in any binary.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/hive-ledger-validator/config"
	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/actions"
	"github.com/Klingon-tech/hive-ledger-validator/internal/hive"
	klog "github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/p2p"
	"github.com/Klingon-tech/hive-ledger-validator/internal/plugin"
	"github.com/Klingon-tech/hive-ledger-validator/internal/processor"
	"github.com/Klingon-tech/hive-ledger-validator/internal/retry"
	"github.com/Klingon-tech/hive-ledger-validator/internal/router"
	"github.com/Klingon-tech/hive-ledger-validator/internal/rpc"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
	"github.com/Klingon-tech/hive-ledger-validator/internal/stream"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
)

// ExitProcessing is the process exit status after a fatal block
// processing error.
const ExitProcessing = 2

const (
	fetchRetryDelay = 3 * time.Second
	redisTimeout    = 5 * time.Second
)

// Node is a fully-initialized validator node.
type Node struct {
	cfg    *config.Config
	proto  *config.Protocol
	logger zerolog.Logger

	// Core
	db     storage.DB
	ledger *ledger.Ledger
	routes *router.Composite[*action.Handler]
	proc   *processor.Processor

	// Block stream
	pool   *hive.Pool
	head   *stream.HeadTracker
	poller *stream.HeadPoller
	source stream.BlockSource
	queue  *stream.Queue[*block.Block]

	// Observers
	plugins *plugin.Dispatcher
	redis   *plugin.RedisPublisher
	p2pNode *p2p.Node
	gossip  *p2p.Gossip

	// Diagnostics
	rpcServer *rpc.Server
	report    *cron.Cron

	// Lifecycle
	errs     chan error
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// New creates and initializes a Node. It opens storage, loads the ledger
// state and builds every component, but does NOT start fetching or
// processing. Call Start() for that.
func New(cfg *config.Config, proto *config.Protocol) (*Node, error) {
	// ── 1. Logger ───────────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "ledgerd.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("custom_json_id", proto.CustomJSONID).
		Uint64("start_block", proto.StartBlock).
		Msg("Starting Hive ledger validator")

	// ── 2. Storage ──────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.LedgerDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.LedgerDir(), err)
	}
	logger.Info().Str("path", cfg.LedgerDir()).Msg("Database opened")

	n, err := build(cfg, proto, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

// build assembles a node over an opened database. On error the caller
// still owns db.
func build(cfg *config.Config, proto *config.Protocol, db storage.DB, logger zerolog.Logger) (*Node, error) {
	// ── 3. Ledger state ─────────────────────────────────────────────
	l, err := openLedger(db, proto)
	if err != nil {
		return nil, err
	}
	if last := l.Blocks.Last(); last != nil {
		logger.Info().
			Uint64("height", last.BlockNum).
			Str("hash", last.Hash.Short()).
			Msg("Ledger state loaded")
	} else {
		logger.Info().Msg("Empty ledger, starting from genesis settings")
	}

	// ── 4. Routes and processor ─────────────────────────────────────
	routes := router.NewComposite[*action.Handler]()
	if err := actions.Register(routes, l); err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}
	proc := processor.New(db, l, routes, processor.Options{
		Envelope: proto.Envelope(),
		Account:  cfg.Validator.Account,
		Submit: retry.Config{
			Attempts: cfg.Validator.SubmitAttempts,
			Delay:    cfg.Validator.SubmitDelay,
			Backoff:  retry.Linear,
		},
	})
	proc.AddSource(actions.NewUnstakingSource(l))

	// ── 5. Upstream ─────────────────────────────────────────────────
	pool, err := hive.NewPool(cfg.Hive.Nodes, hive.PoolOptions{Timeout: cfg.Hive.Timeout})
	if err != nil {
		proc.Close()
		return nil, fmt.Errorf("hive pool: %w", err)
	}
	source, err := blockSource(cfg, pool)
	if err != nil {
		proc.Close()
		return nil, err
	}
	logger.Info().
		Int("nodes", len(pool.Clients())).
		Str("strategy", source.Strategy()).
		Msg("Hive upstream configured")

	if cfg.Validator.Enabled() {
		signer, err := hive.NewSigner(cfg.Validator.Key, proto.ChainID)
		if err != nil {
			proc.Close()
			return nil, fmt.Errorf("load validator key: %w", err)
		}
		proc.SetSubmitter(hive.NewSubmitter(pool, signer, cfg.Validator.Account, proto.CustomJSONID))
		logger.Info().
			Str("account", cfg.Validator.Account).
			Str("pubkey", signer.PublicKey()).
			Msg("Validation submission enabled")
	} else {
		logger.Info().Msg("No validator account configured, running as observer")
	}

	head := stream.NewHeadTracker(0)
	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:     cfg,
		proto:   proto,
		logger:  logger,
		db:      db,
		ledger:  l,
		routes:  routes,
		proc:    proc,
		pool:    pool,
		head:    head,
		poller:  stream.NewHeadPoller(pool, head, cfg.Stream.HeadPollInterval, cfg.Stream.Irreversible),
		source:  source,
		queue:   stream.NewQueue[*block.Block](cfg.Stream.QueueSize),
		plugins: plugin.NewDispatcher(),
		errs:    make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	proc.SetNotifier(n.plugins)

	// ── 6. Observers ────────────────────────────────────────────────
	if err := n.setupObservers(); err != nil {
		n.shutdown()
		return nil, err
	}

	// ── 7. Diagnostics ──────────────────────────────────────────────
	if cfg.RPC.Enabled {
		rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		n.rpcServer = rpc.New(rpcAddr, rpc.Deps{
			DB:     db,
			Ledger: l,
			Routes: proc,
			Head:   head,
			P2P:    n.p2pNode,
		}, rpc.Options{
			AllowedIPs:  cfg.RPC.AllowedIPs,
			CORSOrigins: cfg.RPC.CORSOrigins,
		})
		if err := n.rpcServer.Start(); err != nil {
			n.rpcServer = nil
			n.shutdown()
			return nil, fmt.Errorf("start RPC at %s: %w", rpcAddr, err)
		}
		logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	if cfg.Report.Schedule != "" {
		n.report = cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{klog.WithComponent("report")})),
		)
		if _, err := n.report.AddFunc(cfg.Report.Schedule, n.logStatus); err != nil {
			n.shutdown()
			return nil, fmt.Errorf("report schedule %q: %w", cfg.Report.Schedule, err)
		}
	}

	return n, nil
}

// openLedger loads persisted settings and the last processed block,
// seeding the genesis settings on an empty database.
func openLedger(db storage.DB, proto *config.Protocol) (*ledger.Ledger, error) {
	l := ledger.New(proto.Tokens, ledger.NewConfigStore(proto.Settings()), ledger.NewBlocks())
	if err := db.View(func(r storage.Reader) error {
		if err := l.Config.Load(r); err != nil {
			return err
		}
		return l.Blocks.LoadLast(r)
	}); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if err := db.Update(l.Config.Seed); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	return l, nil
}

// blockSource picks the fetch strategy.
func blockSource(cfg *config.Config, pool *hive.Pool) (stream.BlockSource, error) {
	if !cfg.Hive.SafeMode {
		return stream.NewDirect(pool), nil
	}
	var nodes []stream.BlockGetter
	if len(cfg.Hive.SafeModeNodes) == 0 {
		for _, c := range pool.Clients() {
			nodes = append(nodes, c)
		}
	} else {
		for _, ep := range cfg.Hive.SafeModeNodes {
			nodes = append(nodes, hive.NewWithTimeout(ep, cfg.Hive.Timeout))
		}
	}
	safe, err := stream.NewSafe(nodes, stream.SafeOptions{
		Sample:  cfg.Hive.SafeModeSample,
		Backoff: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("safe mode: %w", err)
	}
	return safe, nil
}

// setupObservers starts the redis publisher and the hash gossip node.
func (n *Node) setupObservers() error {
	if n.cfg.Redis.Enabled {
		pub, err := plugin.NewRedisPublisher(n.ctx, plugin.RedisOptions{
			Addr:     n.cfg.Redis.Addr,
			Password: n.cfg.Redis.Password,
			DB:       n.cfg.Redis.DB,
			Channel:  n.cfg.Redis.Channel,
			Timeout:  redisTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis publisher: %w", err)
		}
		n.redis = pub
		if err := n.plugins.Register(pub); err != nil {
			return err
		}
		n.logger.Info().Str("addr", n.cfg.Redis.Addr).Str("channel", n.cfg.Redis.Channel).Msg("Redis publisher enabled")
	}

	if n.cfg.P2P.Enabled {
		node := p2p.New(p2p.Config{
			ListenAddr: n.cfg.P2P.ListenAddr,
			Port:       n.cfg.P2P.Port,
			Seeds:      n.cfg.P2P.Seeds,
			MaxPeers:   n.cfg.P2P.MaxPeers,
			NoDiscover: n.cfg.P2P.NoDiscover,
			DHTServer:  n.cfg.P2P.DHTServer,
			NetworkID:  string(n.cfg.Network),
			DataDir:    n.cfg.NetworkDataDir(),
			DB:         n.db,
		})
		if err := node.Start(); err != nil {
			return fmt.Errorf("start P2P: %w", err)
		}
		n.p2pNode = node
		n.gossip = p2p.NewGossip(node, n.db, n.ledger.Blocks, string(n.cfg.Network))
		if err := n.plugins.Register(n.gossip); err != nil {
			return err
		}
		n.logger.Info().
			Str("id", node.ID().String()).
			Strs("addrs", node.Addrs()).
			Msg("P2P hash gossip started")
	}
	return nil
}

// Start launches the head poller, the fetcher and the process loop.
func (n *Node) Start() error {
	if n.started {
		return errors.New("node already started")
	}
	n.started = true

	from := n.resumeHeight()
	fetcher := stream.NewFetcher(n.source, n.head, n.queue, stream.FetcherOptions{
		From:        from,
		Lag:         n.cfg.Stream.LagBlocks,
		Concurrency: n.cfg.Stream.Concurrency,
		RetryDelay:  fetchRetryDelay,
	})

	n.wg.Add(3)
	go func() {
		defer n.wg.Done()
		n.poller.Run(n.ctx)
	}()
	go func() {
		defer n.wg.Done()
		if err := fetcher.Run(n.ctx); err != nil && !errors.Is(err, context.Canceled) {
			n.fail(fmt.Errorf("fetcher: %w", err))
		}
	}()
	go func() {
		defer n.wg.Done()
		n.runProcessLoop()
	}()

	if n.report != nil {
		n.report.Start()
	}

	n.logger.Info().
		Uint64("from", from).
		Uint64("lag", n.cfg.Stream.LagBlocks).
		Bool("irreversible", n.cfg.Stream.Irreversible).
		Msg("Node started successfully")
	return nil
}

// resumeHeight is the first block to fetch: the one after the last
// processed block, or the configured start block on an empty ledger.
func (n *Node) resumeHeight() uint64 {
	if last := n.ledger.Blocks.Last(); last != nil {
		return last.BlockNum + 1
	}
	if n.cfg.Stream.StartBlock > 0 {
		return n.cfg.Stream.StartBlock
	}
	return n.proto.StartBlock
}

// runProcessLoop applies queued blocks until the node stops or a block
// fails. Stop requests are honoured between blocks; a block in flight is
// always committed or rolled back as a whole.
func (n *Node) runProcessLoop() {
	for {
		if n.ctx.Err() != nil {
			return
		}
		blk, err := n.queue.Dequeue(n.ctx)
		if err != nil {
			return
		}
		if n.ctx.Err() != nil {
			return
		}
		if _, err := n.proc.Process(context.WithoutCancel(n.ctx), blk, n.head.Height()); err != nil {
			n.fail(err)
			return
		}
	}
}

// fail reports a fatal error once. Later errors are only logged.
func (n *Node) fail(err error) {
	n.logger.Error().Err(err).Msg("Fatal stream error")
	select {
	case n.errs <- err:
	default:
	}
}

// Errors delivers the fatal error that stopped processing. The owner is
// expected to Stop the node and exit with ExitProcessing.
func (n *Node) Errors() <-chan error {
	return n.errs
}

// logStatus writes the periodic status report.
func (n *Node) logStatus() {
	height := n.Height()
	head := n.head.Height()
	ev := n.logger.Info().
		Uint64("height", height).
		Uint64("head", head).
		Int("queued", n.queue.Len())
	if head > height {
		ev = ev.Uint64("behind", head-height)
	}
	open := 0
	for _, st := range n.pool.Status() {
		if st.Open {
			open++
		}
	}
	ev = ev.Int("upstreams", len(n.pool.Clients())).Int("upstreams_down", open)
	if n.p2pNode != nil {
		ev = ev.Int("peers", n.p2pNode.PeerCount())
	}
	ev.Msg("Status")
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.cancel()
		if n.report != nil {
			<-n.report.Stop().Done()
		}
		n.wg.Wait()
		n.shutdown()
		if err := n.db.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Database close")
		}
		n.logger.Info().Uint64("height", n.Height()).Msg("Goodbye!")
	})
}

// shutdown releases components after the goroutines have exited.
func (n *Node) shutdown() {
	n.cancel()
	n.proc.Close()
	n.plugins.Wait()

	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("RPC server stop")
		}
	}
	if n.gossip != nil {
		n.gossip.Close()
	}
	if n.p2pNode != nil {
		if err := n.p2pNode.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("P2P stop")
		}
	}
	if n.redis != nil {
		if err := n.redis.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Redis close")
		}
	}
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Height returns the last processed block height, or 0 before the first.
func (n *Node) Height() uint64 {
	if last := n.ledger.Blocks.Last(); last != nil {
		return last.BlockNum
	}
	return 0
}

// Head returns the latest known upstream height.
func (n *Node) Head() uint64 {
	return n.head.Height()
}
