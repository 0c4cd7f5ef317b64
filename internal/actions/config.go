package actions

import (
	"context"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

const configUpdateSchema = `{
	"type": "object",
	"properties": {
		"validator": {"type": "object"},
		"heights": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 0}},
		"admins": {"type": "array", "items": {"type": "string"}, "minItems": 1}
	},
	"minProperties": 1,
	"additionalProperties": false
}`

type configUpdateAction struct {
	ledger *ledger.Ledger
	patch  ledger.SettingsPatch
}

func configUpdateHandler(l *ledger.Ledger) *action.Handler {
	return &action.Handler{
		Name:          NameConfigUpdate,
		Schema:        configUpdateSchema,
		RequireActive: true,
		New: decoder(func(p ledger.SettingsPatch) action.Kind {
			return &configUpdateAction{ledger: l, patch: p}
		}),
	}
}

func (k *configUpdateAction) Validate(_ context.Context, a *action.Action, _ storage.Txn) error {
	if !k.ledger.Config.IsAdmin(a.Account()) {
		return action.Invalid(action.CodeUnauthorized, "%s may not change settings", a.Account())
	}
	return nil
}

func (k *configUpdateAction) Process(_ context.Context, _ *action.Action, tx storage.Txn) ([]action.EventLog, error) {
	return k.ledger.Config.Apply(tx, k.patch)
}
