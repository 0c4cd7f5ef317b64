package ledger

import (
	"encoding/json"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

// Unstaking is an in-progress release of staked tokens in equal installments.
type Unstaking struct {
	Player           string `json:"player"`
	TrxID            string `json:"unstake_tx"`
	TotalQty         int64  `json:"total_qty"`
	UnstakedQty      int64  `json:"unstaked_qty"`
	Installments     int    `json:"total_installments"`
	InstallmentsDone int    `json:"installments_done"`
	NextReleaseBlock uint64 `json:"next_release_block"`
	StartBlock       uint64 `json:"start_block"`
}

// installment is the amount released next. The last installment releases
// the remainder.
func (u Unstaking) installment() int64 {
	remaining := u.TotalQty - u.UnstakedQty
	left := u.Installments - u.InstallmentsDone
	if left <= 1 {
		return remaining
	}
	return u.TotalQty / int64(u.Installments)
}

// Staking moves tokens between their liquid and staked forms and keeps the
// validator vote weights in step with staked balances.
type Staking struct {
	balances   *Balances
	validators *Validators
	tokens     Tokens
	config     *ConfigStore
}

// Staked returns the staked balance of player.
func (s *Staking) Staked(r storage.Reader, player string) (int64, error) {
	return s.balances.Get(r, player, s.tokens.Staked)
}

// Stake converts qty liquid tokens of player into staked tokens.
func (s *Staking) Stake(tx storage.Txn, player string, qty int64) ([]action.EventLog, error) {
	events, err := s.balances.Move(tx, player, s.tokens.Liquid, s.tokens.Staked, qty)
	if err != nil {
		return nil, err
	}
	votes, err := s.validators.AdjustVoter(tx, player, qty)
	if err != nil {
		return nil, err
	}
	return append(events, votes...), nil
}

// Pending returns the unstaking in progress for player, if any.
func (s *Staking) Pending(r storage.Reader, player string) (*Unstaking, error) {
	var u Unstaking
	found, err := storage.ReadTable(r, prefixUnstaking).GetJSON(player, &u)
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

// Unstake schedules the release of qty staked tokens. The first installment
// is due one interval after height.
func (s *Staking) Unstake(tx storage.Txn, player string, qty int64, trxID string, height uint64) ([]action.EventLog, error) {
	if qty <= 0 {
		return nil, action.Invalid(action.CodeInvalidAmount, "quantity must be positive, got %d", qty)
	}
	pending, err := s.Pending(tx, player)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, action.Invalid(action.CodeInvalidState, "%s already has an unstaking in progress", player)
	}
	staked, err := s.Staked(tx, player)
	if err != nil {
		return nil, err
	}
	if staked < qty {
		return nil, action.Invalid(action.CodeInsufficient, "%s has %d staked, needs %d", player, staked, qty)
	}

	cfg := s.config.Validator()
	periods := max(cfg.UnstakingPeriods, 1)
	u := Unstaking{
		Player:           player,
		TrxID:            trxID,
		TotalQty:         qty,
		Installments:     periods,
		NextReleaseBlock: height + cfg.UnstakingInterval,
		StartBlock:       height,
	}
	if err := storage.NewTable(tx, prefixUnstaking).PutJSON(player, u); err != nil {
		return nil, err
	}
	return []action.EventLog{action.Event(action.EventInsert, TableUnstaking, u)}, nil
}

// Due lists the players with an installment due at or before height,
// ordered by player name.
func (s *Staking) Due(r storage.Reader, height uint64) ([]string, error) {
	var out []string
	err := storage.ReadTable(r, prefixUnstaking).ForEach(nil, func(key, value []byte) error {
		var u Unstaking
		if err := json.Unmarshal(value, &u); err != nil {
			return err
		}
		if u.NextReleaseBlock <= height {
			out = append(out, u.Player)
		}
		return nil
	})
	return out, err
}

// Release pays out the next installment of player's unstaking if it is due.
func (s *Staking) Release(tx storage.Txn, player string, height uint64) ([]action.EventLog, error) {
	u, err := s.Pending(tx, player)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, action.Invalid(action.CodeNotFound, "%s has no unstaking in progress", player)
	}
	if u.NextReleaseBlock > height {
		return nil, action.Invalid(action.CodeInvalidState, "next installment for %s is due at block %d", player, u.NextReleaseBlock)
	}

	qty := u.installment()
	staked, err := s.Staked(tx, player)
	if err != nil {
		return nil, err
	}
	// Staked tokens may have been moved since the unstake was scheduled.
	qty = min(qty, staked)

	var events []action.EventLog
	if qty > 0 {
		moved, err := s.balances.Move(tx, player, s.tokens.Staked, s.tokens.Liquid, qty)
		if err != nil {
			return nil, err
		}
		votes, err := s.validators.AdjustVoter(tx, player, -qty)
		if err != nil {
			return nil, err
		}
		events = append(append(events, moved...), votes...)
	}

	u.UnstakedQty += qty
	u.InstallmentsDone++
	tbl := storage.NewTable(tx, prefixUnstaking)
	if u.InstallmentsDone >= u.Installments || u.UnstakedQty >= u.TotalQty {
		if err := tbl.Delete([]byte(player)); err != nil {
			return nil, err
		}
		return append(events, action.Event(action.EventDelete, TableUnstaking, u)), nil
	}
	u.NextReleaseBlock = height + s.config.Validator().UnstakingInterval
	if err := tbl.PutJSON(player, u); err != nil {
		return nil, err
	}
	return append(events, action.Event(action.EventUpdate, TableUnstaking, u)), nil
}
