// Package p2p gossips processed block hashes between validator nodes over
// libp2p. Announcements are only compared with local results and logged;
// they never change ledger state.
package p2p

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

const (
	rendezvousFallback   = "hive-ledger"
	dhtDiscoveryInterval = 30 * time.Second
	peerConnectTimeout   = 5 * time.Second
	seedRetryInterval    = 10 * time.Second
	maxMessageSize       = 4 * 1024
)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool
	DHTServer  bool
	// NetworkID isolates discovery and topics per network.
	NetworkID string
	// DataDir holds the node identity key. Empty uses a fresh identity.
	DataDir string
	// DB persists peers and bans. Nil disables persistence.
	DB storage.DB
}

// Node is a libp2p host joined to the hash gossip topic.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	topic       *pubsub.Topic
	sub         *pubsub.Subscription
	hashHandler func(from peer.ID, data []byte)

	mu    sync.RWMutex
	peers map[peer.ID]*Peer

	Bans      *BanManager
	peerStore *PeerStore
	dht       *dht.IpfsDHT
	wg        sync.WaitGroup
}

// New creates a node. Nothing listens until Start.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[peer.ID]*Peer),
	}
	var bans *BanStore
	if cfg.DB != nil {
		n.peerStore = NewPeerStore(cfg.DB)
		bans = NewBanStore(cfg.DB)
	}
	n.Bans = NewBanManager(bans, n)
	return n
}

func (n *Node) rendezvous() string {
	if n.config.NetworkID != "" {
		return "hive-ledger/" + n.config.NetworkID
	}
	return rendezvousFallback
}

// Start creates the host, joins the hash topic and starts discovery.
func (n *Node) Start() error {
	n.Bans.Load()

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)),
		libp2p.ConnectionGater(&banGater{bans: n.Bans}),
	}
	if n.config.DataDir != "" {
		key, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(key))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h
	h.Network().Notify(&connNotifier{node: n})

	if !n.config.NoDiscover {
		if err := n.initDHT(); err != nil {
			h.Close()
			return fmt.Errorf("init dht: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(n.ctx, h, pubsub.WithMaxMessageSize(maxMessageSize))
	if err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	if n.topic, err = ps.Join(HashTopic(n.config.NetworkID)); err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("join hash topic: %w", err)
	}
	if n.sub, err = n.topic.Subscribe(); err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("subscribe hash topic: %w", err)
	}

	n.spawn(n.readLoop)
	n.spawn(func() { n.Bans.RunPruneLoop(n.ctx.Done()) })
	n.spawn(n.loadPersistedPeers)
	if len(n.config.Seeds) > 0 {
		log.P2P.Info().Int("seeds", len(n.config.Seeds)).Msg("Connecting to seeds")
		n.connectSeeds()
		n.spawn(n.seedLoop)
	}
	if !n.config.NoDiscover {
		if err := mdns.NewMdnsService(n.host, n.rendezvous(), &discoveryNotifee{node: n}).Start(); err != nil {
			log.P2P.Debug().Err(err).Msg("mDNS unavailable")
		}
		n.spawn(n.dhtLoop)
	}
	if n.peerStore != nil {
		n.spawn(n.persistLoop)
	}

	log.P2P.Info().Str("id", h.ID().String()).Strs("addrs", n.Addrs()).Msg("P2P node started")
	return nil
}

func (n *Node) spawn(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

// Stop shuts the node down and persists known peers.
func (n *Node) Stop() error {
	n.persistPeers()
	n.cancel()
	if n.sub != nil {
		n.sub.Cancel()
	}
	if n.topic != nil {
		n.topic.Close()
	}
	n.closeDHT()
	var err error
	if n.host != nil {
		err = n.host.Close()
	}
	n.wg.Wait()
	return err
}

// ID returns the peer ID, or "" before Start.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the node's full multiaddrs.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// SetHashHandler registers the callback for incoming hash announcements.
func (n *Node) SetHashHandler(fn func(from peer.ID, data []byte)) {
	n.hashHandler = fn
}

// Publish broadcasts raw announcement bytes on the hash topic.
func (n *Node) Publish(data []byte) error {
	if n.topic == nil {
		return fmt.Errorf("p2p node not started")
	}
	return n.topic.Publish(n.ctx, data)
}

// DisconnectPeer closes all connections to id.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return fmt.Errorf("node not started")
	}
	n.removePeer(id)
	return n.host.Network().ClosePeer(id)
}

func (n *Node) readLoop() {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.handle(msg)
	}
}

func (n *Node) handle(msg *pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.P2P.Error().Interface("panic", r).Msg("Hash handler panicked")
		}
	}()
	n.addPeer(msg.ReceivedFrom, "gossip")
	if n.hashHandler != nil {
		n.hashHandler(msg.ReceivedFrom, msg.Data)
	}
}

func (n *Node) connectSeeds() bool {
	connected := false
	for _, addr := range n.config.Seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			log.P2P.Warn().Str("addr", addr).Err(err).Msg("Bad seed address")
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		err = n.host.Connect(ctx, *info)
		cancel()
		if err != nil {
			log.P2P.Warn().Str("peer", shortID(info.ID)).Err(err).Msg("Seed connect failed")
			continue
		}
		n.addPeer(info.ID, "seed")
		connected = true
	}
	return connected
}

func (n *Node) seedLoop() {
	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.PeerCount() == 0 {
				n.connectSeeds()
			}
		}
	}
}

func (n *Node) initDHT() error {
	mode := dht.ModeClient
	if n.config.DHTServer {
		mode = dht.ModeServer
	}
	kad, err := dht.New(n.ctx, n.host, dht.Mode(mode))
	if err != nil {
		return fmt.Errorf("create kad-dht: %w", err)
	}
	n.dht = kad
	return kad.Bootstrap(n.ctx)
}

func (n *Node) closeDHT() {
	if n.dht != nil {
		n.dht.Close()
		n.dht = nil
	}
}

func (n *Node) dhtLoop() {
	if n.dht == nil {
		return
	}
	disc := drouting.NewRoutingDiscovery(n.dht)
	dutil.Advertise(n.ctx, disc, n.rendezvous())

	ticker := time.NewTicker(dhtDiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.findPeers(disc)
		}
	}
}

func (n *Node) findPeers(disc *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, 20*time.Second)
	defer cancel()
	found, err := disc.FindPeers(ctx, n.rendezvous())
	if err != nil {
		return
	}
	for p := range found {
		if p.ID == n.host.ID() || len(p.Addrs) == 0 {
			continue
		}
		if n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers {
			return
		}
		cctx, ccancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		if err := n.host.Connect(cctx, p); err == nil {
			n.addPeer(p.ID, "dht")
		}
		ccancel()
	}
}

// loadOrCreateIdentity keeps the peer ID stable across restarts.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "p2p.key")
	if data, err := os.ReadFile(keyPath); err == nil {
		raw, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode node key: %w", err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(raw)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("save node key: %w", err)
	}
	return priv, nil
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
