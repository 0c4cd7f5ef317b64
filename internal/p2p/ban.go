package p2p

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

const (
	BanThreshold = 100
	BanDuration  = 24 * time.Hour

	banPrefix        = "p2p/ban/"
	banPruneInterval = 10 * time.Minute
)

// Penalty values for gossip offenses.
const (
	PenaltyMalformed    = 20
	PenaltyWrongNetwork = 100
)

// BanRecord is a persisted ban entry.
type BanRecord struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"` // 0 = permanent
}

// IsExpired reports whether a non-permanent ban has run out.
func (r *BanRecord) IsExpired() bool {
	return r.ExpiresAt > 0 && time.Now().Unix() >= r.ExpiresAt
}

// BanStore persists ban records under "p2p/ban/".
type BanStore struct {
	db storage.DB
}

// NewBanStore creates a BanStore backed by db.
func NewBanStore(db storage.DB) *BanStore {
	return &BanStore{db: db}
}

// Put persists a ban record.
func (bs *BanStore) Put(rec *BanRecord) error {
	return bs.db.Update(func(tx storage.Txn) error {
		return storage.NewTable(tx, banPrefix).PutJSON(rec.ID, rec)
	})
}

// Delete removes the ban for id.
func (bs *BanStore) Delete(id peer.ID) error {
	return bs.db.Update(func(tx storage.Txn) error {
		return storage.NewTable(tx, banPrefix).Delete([]byte(id.String()))
	})
}

// All returns every readable ban record.
func (bs *BanStore) All() ([]*BanRecord, error) {
	var out []*BanRecord
	err := bs.db.View(func(r storage.Reader) error {
		return storage.ReadTable(r, banPrefix).ForEach(nil, func(_, value []byte) error {
			var rec BanRecord
			if json.Unmarshal(value, &rec) == nil {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}
	return out, nil
}

// PruneExpired deletes expired and corrupt records.
func (bs *BanStore) PruneExpired() (int, error) {
	pruned := 0
	err := bs.db.Update(func(tx storage.Txn) error {
		t := storage.NewTable(tx, banPrefix)
		var stale [][]byte
		err := t.ForEach(nil, func(key, value []byte) error {
			var rec BanRecord
			if json.Unmarshal(value, &rec) != nil || rec.IsExpired() {
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := t.Delete(k); err != nil {
				return err
			}
		}
		pruned = len(stale)
		return nil
	})
	return pruned, err
}

// BanManager scores peer offenses and bans peers that cross BanThreshold.
type BanManager struct {
	mu     sync.RWMutex
	scores map[peer.ID]int
	bans   map[peer.ID]*BanRecord
	store  *BanStore // nil disables persistence
	node   *Node     // nil disables disconnect-on-ban
}

// NewBanManager creates a BanManager. Either argument may be nil.
func NewBanManager(store *BanStore, node *Node) *BanManager {
	return &BanManager{
		scores: make(map[peer.ID]int),
		bans:   make(map[peer.ID]*BanRecord),
		store:  store,
		node:   node,
	}
}

// Load restores persisted, unexpired bans.
func (bm *BanManager) Load() {
	if bm.store == nil {
		return
	}
	bm.store.PruneExpired()
	recs, err := bm.store.All()
	if err != nil {
		log.P2P.Warn().Err(err).Msg("Load bans failed")
		return
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for _, rec := range recs {
		id, err := peer.Decode(rec.ID)
		if err != nil || rec.IsExpired() {
			continue
		}
		bm.bans[id] = rec
	}
}

// RecordOffense adds penalty to the peer's score, banning and disconnecting
// it once the score reaches BanThreshold.
func (bm *BanManager) RecordOffense(id peer.ID, penalty int, reason string) {
	bm.mu.Lock()
	if rec, ok := bm.bans[id]; ok && !rec.IsExpired() {
		bm.mu.Unlock()
		return
	}
	bm.scores[id] += penalty
	if bm.scores[id] < BanThreshold {
		bm.mu.Unlock()
		return
	}
	now := time.Now()
	rec := &BanRecord{
		ID:        id.String(),
		Reason:    reason,
		Score:     bm.scores[id],
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(BanDuration).Unix(),
	}
	bm.bans[id] = rec
	delete(bm.scores, id)
	bm.mu.Unlock()

	if bm.store != nil {
		if err := bm.store.Put(rec); err != nil {
			log.P2P.Warn().Err(err).Msg("Persist ban failed")
		}
	}
	log.P2P.Warn().
		Str("peer", shortID(id)).
		Str("reason", reason).
		Int("score", rec.Score).
		Msg("Peer banned")

	if bm.node != nil && bm.node.host != nil {
		go bm.node.DisconnectPeer(id)
	}
}

// Score returns the peer's accumulated offense score.
func (bm *BanManager) Score(id peer.ID) int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.scores[id]
}

// IsBanned reports whether the peer is currently banned.
func (bm *BanManager) IsBanned(id peer.ID) bool {
	bm.mu.RLock()
	rec, ok := bm.bans[id]
	bm.mu.RUnlock()
	if !ok {
		return false
	}
	if rec.IsExpired() {
		bm.Unban(id)
		return false
	}
	return true
}

// Unban removes a ban and clears the peer's score.
func (bm *BanManager) Unban(id peer.ID) {
	bm.mu.Lock()
	delete(bm.bans, id)
	delete(bm.scores, id)
	bm.mu.Unlock()
	if bm.store != nil {
		bm.store.Delete(id)
	}
}

// BanList returns a snapshot of active bans.
func (bm *BanManager) BanList() []BanRecord {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	var list []BanRecord
	for _, rec := range bm.bans {
		if !rec.IsExpired() {
			list = append(list, *rec)
		}
	}
	return list
}

// RunPruneLoop drops expired bans until done is closed.
func (bm *BanManager) RunPruneLoop(done <-chan struct{}) {
	ticker := time.NewTicker(banPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			bm.pruneExpired()
		}
	}
}

func (bm *BanManager) pruneExpired() {
	bm.mu.Lock()
	for id, rec := range bm.bans {
		if rec.IsExpired() {
			delete(bm.bans, id)
		}
	}
	bm.mu.Unlock()
	if bm.store != nil {
		bm.store.PruneExpired()
	}
}

// banGater rejects banned peers at the transport level.
type banGater struct {
	bans *BanManager
}

func (g *banGater) InterceptPeerDial(p peer.ID) bool {
	return !g.bans.IsBanned(p)
}

func (g *banGater) InterceptAddrDial(peer.ID, ma.Multiaddr) bool {
	return true
}

func (g *banGater) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

// InterceptSecured checks the peer once its identity is authenticated.
func (g *banGater) InterceptSecured(_ network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	return !g.bans.IsBanned(p)
}

func (g *banGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
