package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/metrics"
)

// Peer represents a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string // "dht", "mdns", "seed", "gossip", "inbound"
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers.
func (n *Node) PeerList() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

func (n *Node) addPeer(id peer.ID, source string) {
	n.mu.Lock()
	if _, ok := n.peers[id]; !ok {
		n.peers[id] = &Peer{ID: id, ConnectedAt: time.Now(), Source: source}
		log.P2P.Debug().Str("peer", shortID(id)).Str("source", source).Msg("Peer connected")
	}
	count := len(n.peers)
	n.mu.Unlock()
	metrics.Peers(count)
}

func (n *Node) removePeer(id peer.ID) {
	n.mu.Lock()
	delete(n.peers, id)
	count := len(n.peers)
	n.mu.Unlock()
	metrics.Peers(count)
}

// connNotifier mirrors libp2p connection events into the peer map.
type connNotifier struct {
	node *Node
}

func (cn *connNotifier) Connected(_ network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if remote == cn.node.host.ID() {
		return
	}
	source := "inbound"
	if conn.Stat().Direction == network.DirOutbound {
		source = "dial"
	}
	cn.node.addPeer(remote, source)
}

// Disconnected drops the peer once its last connection closes.
func (cn *connNotifier) Disconnected(net network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if len(net.ConnsToPeer(remote)) == 0 {
		cn.node.removePeer(remote)
	}
}

func (cn *connNotifier) Listen(network.Network, multiaddr.Multiaddr)      {}
func (cn *connNotifier) ListenClose(network.Network, multiaddr.Multiaddr) {}

// discoveryNotifee connects to peers found over mDNS.
type discoveryNotifee struct {
	node *Node
}

func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == d.node.host.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(d.node.ctx, peerConnectTimeout)
	defer cancel()
	if err := d.node.host.Connect(ctx, pi); err == nil {
		d.node.addPeer(pi.ID, "mdns")
	}
}

func (n *Node) persistLoop() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.persistPeers()
		}
	}
}

func (n *Node) persistPeers() {
	if n.peerStore == nil || n.host == nil {
		return
	}
	now := time.Now().Unix()
	for _, p := range n.PeerList() {
		var addrs []string
		for _, a := range n.host.Peerstore().Addrs(p.ID) {
			addrs = append(addrs, a.String())
		}
		rec := PeerRecord{ID: p.ID.String(), Addrs: addrs, LastSeen: now, Source: p.Source}
		if err := n.peerStore.Save(rec); err != nil {
			log.P2P.Debug().Err(err).Str("peer", shortID(p.ID)).Msg("Persist peer failed")
		}
	}
}

func (n *Node) loadPersistedPeers() {
	if n.peerStore == nil {
		return
	}
	if pruned, err := n.peerStore.PruneStale(staleThreshold); err == nil && pruned > 0 {
		log.P2P.Debug().Int("pruned", pruned).Msg("Pruned stale peers")
	}
	records, err := n.peerStore.LoadAll()
	if err != nil {
		return
	}
	for _, rec := range records {
		id, err := peer.Decode(rec.ID)
		if err != nil || id == n.host.ID() || n.Bans.IsBanned(id) {
			continue
		}
		info := peer.AddrInfo{ID: id}
		for _, addr := range rec.Addrs {
			ai, err := peer.AddrInfoFromString(fmt.Sprintf("%s/p2p/%s", addr, rec.ID))
			if err != nil {
				continue
			}
			info.Addrs = append(info.Addrs, ai.Addrs...)
		}
		if len(info.Addrs) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		if n.host.Connect(ctx, info) == nil {
			n.addPeer(id, rec.Source)
		}
		cancel()
	}
}
