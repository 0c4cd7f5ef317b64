package actions

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

type transferParams struct {
	To    string `json:"to"`
	Qty   int64  `json:"qty"`
	Token string `json:"token"`
	Memo  string `json:"memo"`
}

type transferAction struct {
	ledger *ledger.Ledger
	params transferParams
	memo   bool
}

var transferSchemaV1 = fmt.Sprintf(`{
	"type": "object",
	"properties": {
		"to": {"type": "string", "pattern": %q},
		"qty": {"type": "integer", "minimum": 1},
		"token": {"type": "string", "minLength": 1}
	},
	"required": ["to", "qty", "token"]
}`, accountPattern)

var transferSchemaV2 = fmt.Sprintf(`{
	"type": "object",
	"properties": {
		"to": {"type": "string", "pattern": %q},
		"qty": {"type": "integer", "minimum": 1},
		"token": {"type": "string", "minLength": 1},
		"memo": {"type": "string", "maxLength": 256}
	},
	"required": ["to", "qty", "token"]
}`, accountPattern)

// transferHandler builds token_transfer. The memo version also rejects
// transfers to self.
func transferHandler(l *ledger.Ledger, memo bool) *action.Handler {
	schema := transferSchemaV1
	if memo {
		schema = transferSchemaV2
	}
	return &action.Handler{
		Name:          NameTokenTransfer,
		Schema:        schema,
		RequireActive: true,
		New: decoder(func(p transferParams) action.Kind {
			if !memo {
				p.Memo = ""
			}
			return &transferAction{ledger: l, params: p, memo: memo}
		}),
	}
}

func (k *transferAction) Validate(_ context.Context, a *action.Action, _ storage.Txn) error {
	if k.params.Token != k.ledger.Tokens.Liquid {
		return action.Invalid(action.CodeInvalidToken, "token %q is not transferable", k.params.Token)
	}
	if k.memo && k.params.To == a.Account() {
		return action.Invalid(action.CodeInvalidParams, "cannot transfer to self")
	}
	return nil
}

func (k *transferAction) Process(_ context.Context, a *action.Action, tx storage.Txn) ([]action.EventLog, error) {
	a.AddPlayers(k.params.To)
	return k.ledger.Balances.Transfer(tx, ledger.Transfer{
		From:   a.Account(),
		To:     k.params.To,
		Token:  k.params.Token,
		Qty:    k.params.Qty,
		Type:   NameTokenTransfer,
		Memo:   k.params.Memo,
		TrxID:  a.ID,
		Height: a.Op.BlockNum,
	})
}
