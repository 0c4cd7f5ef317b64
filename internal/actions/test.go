package actions

import (
	"context"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

type testParams struct {
	Type string `json:"type"`
}

// testAction is a no-op used to probe the pipeline end to end.
type testAction struct {
	params testParams
}

type testEvent struct {
	Player string `json:"player"`
	Type   string `json:"type"`
	TrxID  string `json:"trx_id"`
}

func testHandler() *action.Handler {
	return &action.Handler{
		Name:   NameTest,
		Schema: `{"type": "object", "properties": {"type": {"type": "string"}}}`,
		New: decoder(func(p testParams) action.Kind {
			return &testAction{params: p}
		}),
	}
}

func (k *testAction) Validate(context.Context, *action.Action, storage.Txn) error { return nil }

func (k *testAction) Process(_ context.Context, a *action.Action, _ storage.Txn) ([]action.EventLog, error) {
	return []action.EventLog{
		action.Event(action.EventUpdate, "test", testEvent{Player: a.Account(), Type: k.params.Type, TrxID: a.ID}),
	}, nil
}
