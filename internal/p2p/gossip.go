package p2p

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/metrics"
	"github.com/Klingon-tech/hive-ledger-validator/internal/plugin"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

// maxAhead bounds how far past the local height announcements are held.
const maxAhead = 1000

// Verdict is the outcome of comparing a peer announcement with local state.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictPending
	VerdictMatch
	VerdictMismatch
)

func (v Verdict) String() string {
	switch v {
	case VerdictPending:
		return "pending"
	case VerdictMatch:
		return "match"
	case VerdictMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

type announcement struct {
	from string
	msg  HashMessage
}

type publisher interface {
	Publish(data []byte) error
}

// Gossip announces local block hashes and compares peer announcements with
// them. It is registered as a block observer.
type Gossip struct {
	pub     publisher
	db      storage.DB
	blocks  *ledger.Blocks
	network string
	bans    *BanManager

	pending *xsync.Map[uint64, []announcement]
	cancel  func()
}

// NewGossip wires a started node into hash gossip.
func NewGossip(node *Node, db storage.DB, blocks *ledger.Blocks, network string) *Gossip {
	g := newGossip(node, db, blocks, network, node.Bans)
	node.SetHashHandler(g.receive)
	return g
}

func newGossip(pub publisher, db storage.DB, blocks *ledger.Blocks, network string, bans *BanManager) *Gossip {
	g := &Gossip{
		pub:     pub,
		db:      db,
		blocks:  blocks,
		network: network,
		bans:    bans,
		pending: xsync.NewMap[uint64, []announcement](),
	}
	g.cancel = blocks.OnCommitted(g.committed)
	return g
}

func (g *Gossip) Name() string { return "gossip" }

func (g *Gossip) BeforeBlock(uint64) error { return nil }

// AfterBlock publishes the hash of the committed block.
func (g *Gossip) AfterBlock(ev plugin.BlockEvent) error {
	var rec *ledger.BlockRecord
	err := g.db.View(func(r storage.Reader) error {
		var err error
		rec, err = g.blocks.Get(r, ev.Height)
		return err
	})
	if err != nil {
		return fmt.Errorf("load block %d: %w", ev.Height, err)
	}
	data, err := HashMessage{
		Network:   g.network,
		BlockNum:  rec.BlockNum,
		BlockID:   rec.BlockID,
		Hash:      rec.Hash,
		Validator: rec.Validator,
	}.Encode()
	if err != nil {
		return err
	}
	return g.pub.Publish(data)
}

// Close stops watching committed blocks.
func (g *Gossip) Close() {
	if g.cancel != nil {
		g.cancel()
	}
}

func (g *Gossip) receive(from peer.ID, data []byte) {
	msg, err := DecodeHashMessage(data, g.network)
	if err != nil {
		penalty := PenaltyMalformed
		if errors.Is(err, ErrWrongNetwork) {
			penalty = PenaltyWrongNetwork
		}
		if g.bans != nil {
			g.bans.RecordOffense(from, penalty, err.Error())
		}
		log.P2P.Debug().Err(err).Str("peer", shortID(from)).Msg("Rejected hash announcement")
		return
	}
	g.Check(shortID(from), msg)
}

// Check compares msg with the local record for the same height.
// Announcements ahead of the local height are held until that height
// commits.
func (g *Gossip) Check(from string, msg HashMessage) Verdict {
	last := g.blocks.Last()
	if last == nil || msg.BlockNum > last.BlockNum {
		if last != nil && msg.BlockNum > last.BlockNum+maxAhead {
			return VerdictUnknown
		}
		g.pending.Compute(msg.BlockNum, func(old []announcement, _ bool) ([]announcement, xsync.ComputeOp) {
			return append(old, announcement{from: from, msg: msg}), xsync.UpdateOp
		})
		// The block may have committed between reading Last and storing.
		if cur := g.blocks.Last(); cur != nil && cur.BlockNum >= msg.BlockNum {
			g.flush(msg.BlockNum)
		}
		return VerdictPending
	}

	var rec *ledger.BlockRecord
	err := g.db.View(func(r storage.Reader) error {
		var err error
		rec, err = g.blocks.Get(r, msg.BlockNum)
		return err
	})
	if err != nil {
		return VerdictUnknown
	}
	return g.compare(from, msg, rec)
}

// Pending returns the number of heights with held announcements.
func (g *Gossip) Pending() int {
	return g.pending.Size()
}

func (g *Gossip) committed(rec *ledger.BlockRecord) {
	g.flush(rec.BlockNum)
	// Drop anything that can no longer be resolved.
	g.pending.Range(func(h uint64, _ []announcement) bool {
		if h < rec.BlockNum {
			g.flush(h)
		}
		return true
	})
}

func (g *Gossip) flush(height uint64) {
	held, ok := g.pending.LoadAndDelete(height)
	if !ok {
		return
	}
	for _, a := range held {
		g.Check(a.from, a.msg)
	}
}

func (g *Gossip) compare(from string, msg HashMessage, rec *ledger.BlockRecord) Verdict {
	if msg.Hash == rec.Hash {
		metrics.HashCheck("match")
		return VerdictMatch
	}
	metrics.HashCheck("mismatch")
	log.P2P.Warn().
		Str("peer", from).
		Uint64("block", msg.BlockNum).
		Str("local", rec.Hash.Short()).
		Str("remote", msg.Hash.Short()).
		Msg("Ledger hash mismatch")
	return VerdictMismatch
}
