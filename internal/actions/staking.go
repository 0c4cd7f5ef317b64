package actions

import (
	"context"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

const qtySchema = `{
	"type": "object",
	"properties": {"qty": {"type": "integer", "minimum": 1}},
	"required": ["qty"]
}`

type qtyParams struct {
	Qty int64 `json:"qty"`
}

type stakeAction struct {
	ledger *ledger.Ledger
	qty    int64
}

func stakeHandler(l *ledger.Ledger) *action.Handler {
	return &action.Handler{
		Name:          NameStakeTokens,
		Schema:        qtySchema,
		RequireActive: true,
		New: decoder(func(p qtyParams) action.Kind {
			return &stakeAction{ledger: l, qty: p.Qty}
		}),
	}
}

func (k *stakeAction) Validate(context.Context, *action.Action, storage.Txn) error { return nil }

func (k *stakeAction) Process(_ context.Context, a *action.Action, tx storage.Txn) ([]action.EventLog, error) {
	return k.ledger.Staking.Stake(tx, a.Account(), k.qty)
}

type unstakeAction struct {
	ledger *ledger.Ledger
	qty    int64
}

func unstakeHandler(l *ledger.Ledger) *action.Handler {
	return &action.Handler{
		Name:          NameUnstakeTokens,
		Schema:        qtySchema,
		RequireActive: true,
		New: decoder(func(p qtyParams) action.Kind {
			return &unstakeAction{ledger: l, qty: p.Qty}
		}),
	}
}

func (k *unstakeAction) Validate(context.Context, *action.Action, storage.Txn) error { return nil }

func (k *unstakeAction) Process(_ context.Context, a *action.Action, tx storage.Txn) ([]action.EventLog, error) {
	return k.ledger.Staking.Unstake(tx, a.Account(), k.qty, a.ID, a.Op.BlockNum)
}
