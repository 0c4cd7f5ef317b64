package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/types"
)

type updateValidatorParams struct {
	IsActive      bool   `json:"is_active"`
	PostURL       string `json:"post_url"`
	RewardAccount string `json:"reward_account"`
}

type updateValidatorAction struct {
	ledger *ledger.Ledger
	params updateValidatorParams
}

var updateValidatorSchema = fmt.Sprintf(`{
	"type": "object",
	"properties": {
		"is_active": {"type": "boolean"},
		"post_url": {"type": "string", "maxLength": 1024},
		"reward_account": {"type": "string", "pattern": %q}
	},
	"required": ["is_active"]
}`, accountPattern)

func updateValidatorHandler(l *ledger.Ledger) *action.Handler {
	return &action.Handler{
		Name:          NameUpdateValidator,
		Schema:        updateValidatorSchema,
		RequireActive: true,
		New: decoder(func(p updateValidatorParams) action.Kind {
			return &updateValidatorAction{ledger: l, params: p}
		}),
	}
}

func (k *updateValidatorAction) Validate(context.Context, *action.Action, storage.Txn) error {
	return nil
}

func (k *updateValidatorAction) Process(_ context.Context, a *action.Action, tx storage.Txn) ([]action.EventLog, error) {
	return k.ledger.Validators.Update(tx, a.Account(), ledger.ValidatorUpdate{
		IsActive:      k.params.IsActive,
		PostURL:       k.params.PostURL,
		RewardAccount: k.params.RewardAccount,
	})
}

type approveParams struct {
	Account string `json:"account_name"`
}

// approveAction handles both approve_validator and unapprove_validator.
type approveAction struct {
	ledger  *ledger.Ledger
	account string
	approve bool
}

var approveSchema = fmt.Sprintf(`{
	"type": "object",
	"properties": {"account_name": {"type": "string", "pattern": %q}},
	"required": ["account_name"]
}`, accountPattern)

func approveHandler(l *ledger.Ledger, approve bool) *action.Handler {
	name := NameUnapproveValidator
	if approve {
		name = NameApproveValidator
	}
	return &action.Handler{
		Name:          name,
		Schema:        approveSchema,
		RequireActive: true,
		New: decoder(func(p approveParams) action.Kind {
			return &approveAction{ledger: l, account: p.Account, approve: approve}
		}),
	}
}

func (k *approveAction) Validate(context.Context, *action.Action, storage.Txn) error { return nil }

func (k *approveAction) Process(_ context.Context, a *action.Action, tx storage.Txn) ([]action.EventLog, error) {
	a.AddPlayers(k.account)
	if k.approve {
		return k.ledger.Validators.Approve(tx, a.Account(), k.account)
	}
	return k.ledger.Validators.Unapprove(tx, a.Account(), k.account)
}

type validateBlockParams struct {
	BlockNum uint64 `json:"block_num"`
	Hash     string `json:"hash"`
}

// validateBlockAction is the chosen validator confirming the hash of an
// earlier block. It releases the block reward.
type validateBlockAction struct {
	ledger *ledger.Ledger
	params validateBlockParams
	record *ledger.BlockRecord
}

const validateBlockSchema = `{
	"type": "object",
	"properties": {
		"block_num": {"type": "integer", "minimum": 1},
		"hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
	},
	"required": ["block_num", "hash"]
}`

func validateBlockHandler(l *ledger.Ledger) *action.Handler {
	return &action.Handler{
		Name:   NameValidateBlock,
		Schema: validateBlockSchema,
		New: decoder(func(p validateBlockParams) action.Kind {
			return &validateBlockAction{ledger: l, params: p}
		}),
	}
}

func (k *validateBlockAction) Validate(_ context.Context, a *action.Action, tx storage.Txn) error {
	num := k.params.BlockNum
	if num >= a.Op.BlockNum {
		return action.Invalid(action.CodeInvalidParams, "block %d is not before %d", num, a.Op.BlockNum)
	}
	if maxAge := k.ledger.Config.Validator().MaxBlockAge; maxAge > 0 && a.Op.BlockNum-num > maxAge {
		return action.Invalid(action.CodeInvalidState, "block %d is older than %d blocks", num, maxAge)
	}
	rec, err := k.ledger.Blocks.Get(tx, num)
	if errors.Is(err, storage.ErrNotFound) {
		return action.Invalid(action.CodeNotFound, "block %d has not been processed", num)
	}
	if err != nil {
		return err
	}
	if rec.Validator == "" || rec.Validator != a.Account() {
		return action.Invalid(action.CodeUnauthorized, "%s is not the validator of block %d", a.Account(), num)
	}
	if rec.Validated() {
		return action.Invalid(action.CodeInvalidState, "block %d is already validated", num)
	}
	want, err := types.HexToHash(k.params.Hash)
	if err != nil || want != rec.Hash {
		return action.Invalid(action.CodeInvalidParams, "hash mismatch for block %d", num)
	}
	k.record = rec
	return nil
}

func (k *validateBlockAction) Process(_ context.Context, a *action.Action, tx storage.Txn) ([]action.EventLog, error) {
	events, err := k.ledger.Blocks.MarkValidated(tx, k.record.BlockNum, a.ID)
	if err != nil {
		return nil, err
	}
	marked, err := k.ledger.Validators.MarkValidated(tx, a.Account(), k.record.BlockNum)
	if err != nil {
		return nil, err
	}
	events = append(events, marked...)
	if k.record.Reward <= 0 {
		return events, nil
	}

	v, _, err := k.ledger.Validators.Get(tx, a.Account())
	if err != nil {
		return nil, err
	}
	payee := v.Payee()
	a.AddPlayers(payee)
	paid, err := k.ledger.Balances.Mint(tx, payee, k.ledger.Tokens.Liquid, k.record.Reward)
	if err != nil {
		return nil, err
	}
	return append(events, paid...), nil
}
