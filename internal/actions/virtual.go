package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

type releaseParams struct {
	Account string `json:"account"`
}

type unstakeReleaseAction struct {
	ledger  *ledger.Ledger
	account string
}

const releaseSchema = `{
	"type": "object",
	"properties": {"account": {"type": "string", "minLength": 1}},
	"required": ["account"]
}`

func unstakeReleaseHandler(l *ledger.Ledger) *action.Handler {
	return &action.Handler{
		Name:   NameUnstakeRelease,
		Schema: releaseSchema,
		New: decoder(func(p releaseParams) action.Kind {
			return &unstakeReleaseAction{ledger: l, account: p.Account}
		}),
	}
}

func (k *unstakeReleaseAction) Validate(context.Context, *action.Action, storage.Txn) error {
	return nil
}

func (k *unstakeReleaseAction) Process(_ context.Context, a *action.Action, tx storage.Txn) ([]action.EventLog, error) {
	a.AddPlayers(k.account)
	return k.ledger.Staking.Release(tx, k.account, a.Op.BlockNum)
}

// UnstakingSource emits one unstake_release per unstaking installment due
// at the block height.
type UnstakingSource struct {
	ledger *ledger.Ledger
}

// NewUnstakingSource creates the unstaking virtual source.
func NewUnstakingSource(l *ledger.Ledger) *UnstakingSource {
	return &UnstakingSource{ledger: l}
}

// Name returns the source name used in virtual transaction ids.
func (s *UnstakingSource) Name() string { return "unstaking" }

// Payloads lists the due releases in player order.
func (s *UnstakingSource) Payloads(_ context.Context, r storage.Reader, height uint64) ([]action.Payload, error) {
	due, err := s.ledger.Staking.Due(r, height)
	if err != nil {
		return nil, fmt.Errorf("unstaking source: %w", err)
	}
	out := make([]action.Payload, 0, len(due))
	for _, player := range due {
		params, err := json.Marshal(releaseParams{Account: player})
		if err != nil {
			return nil, err
		}
		out = append(out, action.Payload{Name: NameUnstakeRelease, Params: params})
	}
	return out, nil
}
