package block

import (
	"math/rand/v2"

	"github.com/Klingon-tech/hive-ledger-validator/pkg/crypto"
)

// Rand returns the block's deterministic generator. It is seeded only from
// the block id and the previous block id, so any node can rebuild it.
func (b *Block) Rand() *rand.Rand {
	return NewRand(b.ID, b.Previous)
}

// NewRand builds the generator for a block id pair.
func NewRand(blockID, previous string) *rand.Rand {
	seed := crypto.HashStrings(blockID, previous)
	return rand.New(rand.NewChaCha8([32]byte(seed)))
}

// Draws yields a sequence of boolean outcomes from a generator.
//
// With a reserve, the sequence behaves like drawing without replacement from
// a pool of hits+misses: it is exactly bounded and contains exactly hits
// true values. Without a reserve each draw succeeds with probability p.
type Draws struct {
	rng      *rand.Rand
	p        float64
	reserved bool
	hits     uint64
	total    uint64
}

// NewDraws returns an unbounded sequence succeeding with probability p.
func NewDraws(rng *rand.Rand, p float64) *Draws {
	return &Draws{rng: rng, p: p}
}

// NewReserveDraws returns a sequence of exactly hits+misses outcomes.
func NewReserveDraws(rng *rand.Rand, hits, misses uint64) *Draws {
	return &Draws{rng: rng, reserved: true, hits: hits, total: hits + misses}
}

// Next returns the next outcome. The second result is false once a reserve
// sequence is exhausted.
func (d *Draws) Next() (bool, bool) {
	if !d.reserved {
		return d.rng.Float64() < d.p, true
	}
	if d.total == 0 {
		return false, false
	}
	hit := d.rng.Uint64N(d.total) < d.hits
	d.total--
	if hit {
		d.hits--
	}
	return hit, true
}

// Remaining returns the outcomes left in a reserve sequence, or -1 when the
// sequence is unbounded.
func (d *Draws) Remaining() int64 {
	if !d.reserved {
		return -1
	}
	return int64(d.total)
}
