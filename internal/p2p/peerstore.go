package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

const (
	peerPrefix        = "p2p/peer/"
	staleThreshold    = 24 * time.Hour
	persistInterval   = 5 * time.Minute
	maxPersistedPeers = 500
)

// PeerRecord is a persisted peer entry.
type PeerRecord struct {
	ID       string   `json:"id"`
	Addrs    []string `json:"addrs"`
	LastSeen int64    `json:"last_seen"`
	Source   string   `json:"source"`
}

// PeerStore persists peer records alongside the ledger under "p2p/peer/".
type PeerStore struct {
	db storage.DB
}

// NewPeerStore creates a PeerStore backed by db.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{db: db}
}

// Save persists a peer record. New peers are skipped once the store holds
// maxPersistedPeers records.
func (ps *PeerStore) Save(rec PeerRecord) error {
	return ps.db.Update(func(tx storage.Txn) error {
		t := storage.NewTable(tx, peerPrefix)
		exists, err := t.Has([]byte(rec.ID))
		if err != nil {
			return fmt.Errorf("check peer exists: %w", err)
		}
		if !exists {
			n, err := count(t)
			if err != nil {
				return err
			}
			if n >= maxPersistedPeers {
				return nil
			}
		}
		return t.PutJSON(rec.ID, rec)
	})
}

// Load retrieves a single peer record.
func (ps *PeerStore) Load(id peer.ID) (*PeerRecord, error) {
	var rec PeerRecord
	err := ps.db.View(func(r storage.Reader) error {
		found, err := storage.ReadTable(r, peerPrefix).GetJSON(id.String(), &rec)
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get peer record: %w", err)
	}
	return &rec, nil
}

// LoadAll returns every readable peer record.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var records []PeerRecord
	err := ps.db.View(func(r storage.Reader) error {
		return storage.ReadTable(r, peerPrefix).ForEach(nil, func(_, value []byte) error {
			var rec PeerRecord
			if json.Unmarshal(value, &rec) == nil {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peer records: %w", err)
	}
	return records, nil
}

// Delete removes a peer record.
func (ps *PeerStore) Delete(id peer.ID) error {
	return ps.db.Update(func(tx storage.Txn) error {
		return storage.NewTable(tx, peerPrefix).Delete([]byte(id.String()))
	})
}

// PruneStale removes corrupt records and records not seen within threshold.
func (ps *PeerStore) PruneStale(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	pruned := 0
	err := ps.db.Update(func(tx storage.Txn) error {
		t := storage.NewTable(tx, peerPrefix)
		var stale [][]byte
		err := t.ForEach(nil, func(key, value []byte) error {
			var rec PeerRecord
			if json.Unmarshal(value, &rec) != nil || rec.LastSeen < cutoff {
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("iterate for prune: %w", err)
		}
		for _, k := range stale {
			if err := t.Delete(k); err != nil {
				return fmt.Errorf("delete stale peer: %w", err)
			}
		}
		pruned = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

// Count returns the number of persisted peer records.
func (ps *PeerStore) Count() (int, error) {
	n := 0
	err := ps.db.View(func(r storage.Reader) error {
		var err error
		n, err = count(storage.ReadTable(r, peerPrefix))
		return err
	})
	return n, err
}

func count(t *storage.Table) (int, error) {
	n := 0
	err := t.ForEach(nil, func(_, _ []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count peers: %w", err)
	}
	return n, nil
}
