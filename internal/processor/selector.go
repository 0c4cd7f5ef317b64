package processor

import (
	"math/rand/v2"

	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
)

// Selector picks the validator of a block by stake-weighted lottery.
type Selector struct {
	config *ledger.ConfigStore
}

// NewSelector creates a selector reading its rules from cfg.
func NewSelector(cfg *ledger.ConfigStore) Selector {
	return Selector{config: cfg}
}

// Select draws the validator for height from the active validators.
//
// Candidates are active validators with positive weight ordered by weight
// descending, then account. A point is drawn in [0, total) and the first
// validator whose cumulative weight exceeds it wins. No validator is chosen
// while validation is paused or below the minimum validator count.
func (s Selector) Select(height uint64, rng *rand.Rand, validators []ledger.Validator) (ledger.Validator, bool) {
	cfg := s.config.Validator()
	if height < cfg.PausedUntilBlock {
		return ledger.Validator{}, false
	}

	candidates := make([]ledger.Validator, 0, len(validators))
	var total uint64
	for _, v := range validators {
		if !v.IsActive || v.TotalVotes <= 0 {
			continue
		}
		candidates = append(candidates, v)
		total += uint64(v.TotalVotes)
	}
	if len(candidates) == 0 || len(candidates) < cfg.MinValidators {
		return ledger.Validator{}, false
	}
	ledger.SortByWeight(candidates)

	return pick(candidates, rng.Uint64N(total))
}

// pick returns the validator whose weight interval contains draw. Intervals
// are half-open, so a draw equal to a cumulative boundary belongs to the
// next validator.
func pick(sorted []ledger.Validator, draw uint64) (ledger.Validator, bool) {
	var cumulative uint64
	for _, v := range sorted {
		cumulative += uint64(v.TotalVotes)
		if cumulative > draw {
			return v, true
		}
	}
	return ledger.Validator{}, false
}
