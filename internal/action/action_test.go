package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

// fakeKind writes a key and can be told to fail at either stage.
type fakeKind struct {
	validateErr error
	processErr  error
	processed   *int
}

func (k *fakeKind) Validate(ctx context.Context, a *Action, tx storage.Txn) error {
	return k.validateErr
}

func (k *fakeKind) Process(ctx context.Context, a *Action, tx storage.Txn) ([]EventLog, error) {
	if k.processed != nil {
		*k.processed++
	}
	if err := tx.Put([]byte("fx/"+a.ID), []byte("done")); err != nil {
		return nil, err
	}
	a.AddPlayers("bob", a.Account(), "bob")
	if k.processErr != nil {
		return nil, k.processErr
	}
	return []EventLog{Event(EventUpdate, "balances", map[string]string{"player": a.Account()})}, nil
}

const amountSchema = `{
  "type": "object",
  "properties": {"qty": {"type": "integer", "minimum": 1}},
  "required": ["qty"]
}`

func testHandler(kind *fakeKind, active bool) *Handler {
	return &Handler{
		Name:          "fake",
		Schema:        amountSchema,
		RequireActive: active,
		New: func(params json.RawMessage) (Kind, error) {
			return kind, nil
		},
	}
}

func testOp(active bool) *Operation {
	return &Operation{Account: "alice", Active: active, BlockNum: 7, TrxID: "trx", Index: 2}
}

func runUpdate(t *testing.T, db storage.DB, fn func(tx storage.Txn) error) error {
	t.Helper()
	return db.Update(fn)
}

func TestNew_SchemaMismatchNeverExecutes(t *testing.T) {
	processed := 0
	h := testHandler(&fakeKind{processed: &processed}, false)
	for _, params := range []string{`{}`, `{"qty": 0}`, `{"qty": "1"}`, `[1]`, `nope`} {
		_, err := New(h, testOp(false), json.RawMessage(params), "trx")
		if !errors.Is(err, ErrSchema) {
			t.Errorf("New(%s) error = %v, want ErrSchema", params, err)
		}
	}
	if processed != 0 {
		t.Fatalf("effects ran %d times for invalid payloads", processed)
	}
}

func TestNew_DecodeErrorIsSchemaError(t *testing.T) {
	h := &Handler{Name: "x", New: func(json.RawMessage) (Kind, error) { return nil, errors.New("bad field") }}
	if _, err := New(h, testOp(false), nil, "trx"); !errors.Is(err, ErrSchema) {
		t.Fatalf("New() error = %v, want ErrSchema", err)
	}
}

func TestHandler_CheckSchema(t *testing.T) {
	h := &Handler{Name: "broken", Schema: `{"type": 12}`}
	if err := h.CheckSchema(); err == nil {
		t.Fatal("CheckSchema() should reject an invalid schema")
	}
	if err := (&Handler{Name: "open"}).CheckSchema(); err != nil {
		t.Fatalf("CheckSchema() without schema error: %v", err)
	}
}

func TestExecute_Success(t *testing.T) {
	db := storage.NewMemory()
	a, err := New(testHandler(&fakeKind{}, false), testOp(false), json.RawMessage(`{"qty": 3}`), "trx")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if a.State() != StateConstructed {
		t.Fatalf("state = %s, want constructed", a.State())
	}

	err = runUpdate(t, db, func(tx storage.Txn) error { return a.Execute(context.Background(), tx) })
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !a.Succeeded() || len(a.Events()) != 1 || a.Events()[0].Kind != EventUpdate {
		t.Fatalf("state = %s, events = %+v", a.State(), a.Events())
	}
	players := a.Players()
	if len(players) != 2 || players[0] != "alice" || players[1] != "bob" {
		t.Fatalf("players = %v, want [alice bob]", players)
	}
	if ok, _ := db.Has([]byte("fx/trx")); !ok {
		t.Fatal("effect not committed")
	}

	rec := a.Record()
	if rec.ID != "trx" || rec.BlockNum != 7 || rec.Index != 2 || rec.Type != "fake" || rec.Player != "alice" || !rec.Success {
		t.Fatalf("Record() = %+v", rec)
	}

	err = runUpdate(t, db, func(tx storage.Txn) error { return a.Execute(context.Background(), tx) })
	if !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("second Execute() error = %v, want ErrAlreadyExecuted", err)
	}
}

func TestExecute_ValidationErrorIsRecorded(t *testing.T) {
	db := storage.NewMemory()
	tests := []struct {
		name string
		kind *fakeKind
	}{
		{"validate", &fakeKind{validateErr: Invalid(CodeInsufficient, "need 5")}},
		{"process", &fakeKind{processErr: Invalid(CodeInsufficient, "need 5")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := New(testHandler(tt.kind, false), testOp(false), json.RawMessage(`{"qty": 1}`), "trx-"+tt.name)
			err := runUpdate(t, db, func(tx storage.Txn) error { return a.Execute(context.Background(), tx) })
			if err != nil {
				t.Fatalf("Execute() error = %v, want nil", err)
			}
			if a.State() != StateFailed || a.Err() == nil || a.Err().Code != CodeInsufficient {
				t.Fatalf("state = %s, err = %v", a.State(), a.Err())
			}
			if len(a.Events()) != 0 {
				t.Fatalf("failed action has events: %+v", a.Events())
			}
			if ok, _ := db.Has([]byte("fx/" + a.ID)); ok {
				t.Fatal("writes of a failed action were kept")
			}
			if rec := a.Record(); rec.Success || rec.Error == nil {
				t.Fatalf("Record() = %+v", rec)
			}
		})
	}
}

func TestExecute_UnexpectedErrorPropagates(t *testing.T) {
	db := storage.NewMemory()
	boom := errors.New("disk on fire")
	a, _ := New(testHandler(&fakeKind{processErr: boom}, false), testOp(false), json.RawMessage(`{"qty": 1}`), "trx")

	err := runUpdate(t, db, func(tx storage.Txn) error { return a.Execute(context.Background(), tx) })
	if !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want boom", err)
	}
	if a.State() != StateFailed {
		t.Fatalf("state = %s, want failed", a.State())
	}
	if db.Len() != 0 {
		t.Fatal("block transaction should have rolled back")
	}
}

func TestExecute_RequiresActiveAuthority(t *testing.T) {
	processed := 0
	a, _ := New(testHandler(&fakeKind{processed: &processed}, true), testOp(false), json.RawMessage(`{"qty": 1}`), "trx")
	err := runUpdate(t, storage.NewMemory(), func(tx storage.Txn) error { return a.Execute(context.Background(), tx) })
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if a.Err() == nil || a.Err().Code != CodeAuthority {
		t.Fatalf("Err() = %v, want authority error", a.Err())
	}
	if processed != 0 {
		t.Fatal("process ran without active authority")
	}
}
