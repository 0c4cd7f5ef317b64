package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/actions"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/retry"
	"github.com/Klingon-tech/hive-ledger-validator/internal/router"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/types"
)

const protocolID = "hive-ledger"

type fixture struct {
	proc   *Processor
	ledger *ledger.Ledger
	routes *router.Composite[*action.Handler]
	db     *storage.MemoryDB
}

func testSettings() ledger.Settings {
	return ledger.Settings{
		Validator: ledger.ValidatorConfig{
			TokensPerBlock:    10,
			MinValidators:     1,
			MaxVotes:          5,
			MaxBlockAge:       100,
			UnstakingPeriods:  2,
			UnstakingInterval: 10,
		},
		Heights: router.Heights{},
		Admins:  []string{"admin"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.New(ledger.Tokens{Liquid: "SPS", Staked: "SPSP"}, ledger.NewConfigStore(testSettings()), ledger.NewBlocks())
	c := router.NewComposite[*action.Handler]()
	if err := actions.Register(c, l); err != nil {
		t.Fatalf("Register: %v", err)
	}
	db := storage.NewMemory()
	p := New(db, l, c, Options{
		Envelope: action.Envelope{ID: protocolID, LegacyPrefix: "hl_"},
		Account:  "me",
		Submit:   retry.Config{Attempts: 3, Delay: time.Millisecond, Backoff: retry.Linear},
	})
	p.AddSource(actions.NewUnstakingSource(l))
	t.Cleanup(p.Close)
	return &fixture{proc: p, ledger: l, routes: c, db: db}
}

func (f *fixture) setup(t *testing.T, fn func(tx storage.Txn) error) {
	t.Helper()
	if err := f.db.Update(fn); err != nil {
		t.Fatalf("setup: %v", err)
	}
}

func (f *fixture) process(t *testing.T, blk *block.Block, head uint64) *Result {
	t.Helper()
	res, err := f.proc.Process(context.Background(), blk, head)
	if err != nil {
		t.Fatalf("Process(%d): %v", blk.Height, err)
	}
	return res
}

func customJSON(account string, active bool, id, payload string) block.Operation {
	cj := block.CustomJSON{ID: id, JSON: payload, RequiredAuths: []string{}, RequiredPostingAuths: []string{}}
	if active {
		cj.RequiredAuths = []string{account}
	} else {
		cj.RequiredPostingAuths = []string{account}
	}
	v, _ := json.Marshal(cj)
	return block.Operation{Type: block.OpCustomJSON, Value: v}
}

func trx(id string, ops ...block.Operation) block.Transaction {
	return block.Transaction{ID: id, Operations: ops}
}

func testBlock(h uint64, txs ...block.Transaction) *block.Block {
	return &block.Block{
		Height:       h,
		ID:           fmt.Sprintf("%08x%032x", h, h),
		Previous:     fmt.Sprintf("%08x%032x", h-1, h-1),
		Timestamp:    time.Unix(1700000000+int64(h)*3, 0).UTC(),
		Transactions: txs,
	}
}

func TestProcess_TestActionEmitsUpdate(t *testing.T) {
	f := newFixture(t)
	blk := testBlock(100, trx("t1", customJSON("alice", false, protocolID, `{"action":"test","params":{"type":"hello"}}`)))

	res := f.process(t, blk, 100)
	if len(res.Events) != 1 || res.Events[0].Kind != action.EventUpdate {
		t.Fatalf("events = %+v", res.Events)
	}

	txs, err := f.ledger.Blocks.Transactions(f.db, 100)
	if err != nil || len(txs) != 1 {
		t.Fatalf("transactions = %+v, %v", txs, err)
	}
	if !txs[0].Success || txs[0].ID != "t1" || txs[0].Player != "alice" {
		t.Errorf("record = %+v", txs[0])
	}
	if last := f.ledger.Blocks.Last(); last == nil || last.Hash != res.Hash {
		t.Errorf("last block = %+v", last)
	}
}

func TestProcess_SkipsForeignAndMalformed(t *testing.T) {
	f := newFixture(t)
	blk := testBlock(5, trx("t1",
		customJSON("alice", false, "other-app", `{"action":"test","params":{}}`),
		customJSON("alice", false, protocolID, `not json`),
		customJSON("alice", false, protocolID, `{"action":"no_such_action","params":{}}`),
		customJSON("alice", true, protocolID, `{"action":"token_transfer","params":{"qty":"x"}}`),
		customJSON("alice", false, protocolID, `[{"action":"test"}, 7, {"params":{}}]`),
		customJSON("bob", false, "hl_test", `{"type":"legacy"}`),
	))

	f.process(t, blk, 5)
	txs, err := f.ledger.Blocks.Transactions(f.db, 5)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(txs), txs)
	}
	if txs[0].Player != "alice" || txs[1].Player != "bob" {
		t.Errorf("records = %+v", txs)
	}
}

func TestProcess_MultiActionIDs(t *testing.T) {
	f := newFixture(t)
	blk := testBlock(5, trx("abc", customJSON("alice", false, protocolID,
		`[{"action":"test","params":{}},{"action":"test","params":{}},{"action":"test","params":{}}]`)))
	f.process(t, blk, 5)

	txs, _ := f.ledger.Blocks.Transactions(f.db, 5)
	want := []string{"abc", "abc-1", "abc-2"}
	if len(txs) != len(want) {
		t.Fatalf("records = %+v", txs)
	}
	for i, id := range want {
		if txs[i].ID != id {
			t.Errorf("record %d id = %q, want %q", i, txs[i].ID, id)
		}
	}
}

func mixedBlocks() []*block.Block {
	return []*block.Block{
		testBlock(1, trx("a", customJSON("alice", true, protocolID, `{"action":"token_transfer","params":{"to":"bob","qty":5,"token":"SPS"}}`))),
		testBlock(2, trx("b", customJSON("bob", true, protocolID, `{"action":"stake_tokens","params":{"qty":3}}`))),
		testBlock(3),
		testBlock(4, trx("c", customJSON("bob", true, protocolID, `{"action":"token_transfer","params":{"to":"alice","qty":50,"token":"SPS"}}`))),
		testBlock(5, trx("d", customJSON("alice", false, protocolID, `{"action":"test","params":{"type":"x"}}`))),
	}
}

func TestProcess_Deterministic(t *testing.T) {
	run := func() []types.Hash {
		f := newFixture(t)
		f.setup(t, func(tx storage.Txn) error {
			_, err := f.ledger.Balances.Mint(tx, "alice", "SPS", 100)
			return err
		})
		var hashes []types.Hash
		for _, blk := range mixedBlocks() {
			hashes = append(hashes, f.process(t, blk, blk.Height).Hash)
		}
		return hashes
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("hash %d differs between runs: %s vs %s", i, first[i], second[i])
		}
	}
	if first[2] == first[3] {
		t.Error("consecutive hashes should differ")
	}
}

func TestProcess_HashChainsPrevious(t *testing.T) {
	a, b := newFixture(t), newFixture(t)
	a.process(t, testBlock(1, trx("x", customJSON("alice", false, protocolID, `{"action":"test","params":{}}`))), 1)
	b.process(t, testBlock(1), 1)

	ha := a.process(t, testBlock(2), 2).Hash
	hb := b.process(t, testBlock(2), 2).Hash
	if ha == hb {
		t.Error("identical blocks on different histories must hash differently")
	}
}

// failingKind writes and then fails with an unexpected error.
type failingKind struct {
	ledger *ledger.Ledger
}

func (k *failingKind) Validate(context.Context, *action.Action, storage.Txn) error { return nil }

func (k *failingKind) Process(_ context.Context, a *action.Action, tx storage.Txn) ([]action.EventLog, error) {
	if _, err := k.ledger.Balances.Mint(tx, a.Account(), "SPS", 1); err != nil {
		return nil, err
	}
	return nil, errors.New("disk on fire")
}

func TestProcess_RollsBackOnUnexpectedError(t *testing.T) {
	f := newFixture(t)
	tbl, err := f.routes.Table(action.NamespaceChain)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	boom := &action.Handler{Name: "boom", New: func(json.RawMessage) (action.Kind, error) {
		return &failingKind{ledger: f.ledger}, nil
	}}
	if err := tbl.AddRoute(router.Route[*action.Handler]{Name: "boom", Handler: boom}); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	f.routes.Recompute(f.ledger.Config.Heights())

	blk := testBlock(7,
		trx("ok", customJSON("alice", false, protocolID, `{"action":"test","params":{}}`),
			block.Operation{Type: block.OpAccountCreate, Value: json.RawMessage(`{"new_account_name":"newbie"}`)}),
		trx("bad", customJSON("alice", false, protocolID, `{"action":"boom","params":{}}`)),
	)
	if _, err := f.proc.Process(context.Background(), blk, 7); err == nil || !strings.Contains(err.Error(), "disk on fire") {
		t.Fatalf("err = %v", err)
	}
	if f.db.Len() != 0 {
		t.Errorf("db has %d keys after rollback", f.db.Len())
	}
	if f.ledger.Blocks.Last() != nil {
		t.Error("last block cache moved on failure")
	}

	// The same height can be retried once the cause is gone.
	f.process(t, testBlock(7), 7)
}

func TestProcess_StaleRoutesAreFatal(t *testing.T) {
	f := newFixture(t)
	tbl, _ := f.routes.Table(action.NamespaceChain)
	tbl.AddRoute(router.Route[*action.Handler]{Name: "late", Handler: &action.Handler{Name: "late"}})

	blk := testBlock(3, trx("t", customJSON("alice", false, protocolID, `{"action":"test","params":{}}`)))
	_, err := f.proc.Process(context.Background(), blk, 3)
	if !errors.Is(err, router.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
}

func TestProcess_OutOfOrder(t *testing.T) {
	f := newFixture(t)
	f.process(t, testBlock(10), 10)
	if _, err := f.proc.Process(context.Background(), testBlock(12), 12); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
	f.process(t, testBlock(11), 11)
}

func TestProcess_AccountCreate(t *testing.T) {
	f := newFixture(t)
	op := block.Operation{Type: block.OpCreateClaimedAccount, Value: json.RawMessage(`{"creator":"x","new_account_name":"newbie"}`)}
	res := f.process(t, testBlock(4, trx("t", op)), 4)
	if len(res.Events) != 1 || res.Events[0].Table != ledger.TableAccounts {
		t.Errorf("events = %+v", res.Events)
	}
	if ok, _ := f.ledger.Accounts.Exists(f.db, "newbie"); !ok {
		t.Error("newbie not recorded")
	}
}

func TestProcess_VirtualUnstakeRelease(t *testing.T) {
	f := newFixture(t)
	f.setup(t, func(tx storage.Txn) error {
		if _, err := f.ledger.Balances.Mint(tx, "alice", "SPSP", 10); err != nil {
			return err
		}
		_, err := f.ledger.Staking.Unstake(tx, "alice", 10, "u", 0)
		return err
	})

	f.process(t, testBlock(9), 9)
	f.process(t, testBlock(10), 10)
	txs, _ := f.ledger.Blocks.Transactions(f.db, 10)
	if len(txs) != 1 {
		t.Fatalf("records = %+v", txs)
	}
	if txs[0].ID != "virtual_unstaking_10" || txs[0].Player != SystemAccount || !txs[0].Success {
		t.Errorf("record = %+v", txs[0])
	}
	if got, _ := f.ledger.Balances.Get(f.db, "alice", "SPS"); got != 5 {
		t.Errorf("released = %d, want 5", got)
	}
}

func TestProcess_SettingsChangeRecomputesRoutes(t *testing.T) {
	f := newFixture(t)
	before, _, err := f.proc.Route(25, actions.NameTokenTransfer)
	if err != nil || before == nil {
		t.Fatalf("Route = %v, %v", before, err)
	}

	f.process(t, testBlock(5, trx("cfg", customJSON("admin", true, protocolID,
		`{"action":"config_update","params":{"heights":{"transfer_memo":20}}}`))), 5)

	early, _, _ := f.proc.Route(19, actions.NameTokenTransfer)
	late, _, err := f.proc.Route(25, actions.NameTokenTransfer)
	if err != nil {
		t.Fatalf("Route after update: %v", err)
	}
	if early != before || late == before {
		t.Error("transfer_memo activation did not switch the handler at height 20")
	}
}

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []string
	fails    int
}

func (s *fakeSubmitter) Submit(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("node unavailable")
	}
	s.payloads = append(s.payloads, string(payload))
	return nil
}

func (s *fakeSubmitter) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

type fakeNotifier struct {
	before, after []uint64
}

func (n *fakeNotifier) BeforeBlock(h uint64) { n.before = append(n.before, h) }

func (n *fakeNotifier) AfterBlock(h uint64, _ []action.EventLog, _ types.Hash, _ uint64) {
	n.after = append(n.after, h)
}

func TestProcess_SelectionSubmissionAndValidation(t *testing.T) {
	f := newFixture(t)
	sub := &fakeSubmitter{fails: 1}
	notes := &fakeNotifier{}
	f.proc.SetSubmitter(sub)
	f.proc.SetNotifier(notes)
	f.setup(t, func(tx storage.Txn) error {
		if _, err := f.ledger.Validators.Update(tx, "me", ledger.ValidatorUpdate{IsActive: true}); err != nil {
			return err
		}
		if _, err := f.ledger.Balances.Mint(tx, "voter", "SPSP", 100); err != nil {
			return err
		}
		_, err := f.ledger.Validators.Approve(tx, "voter", "me")
		return err
	})

	res := f.process(t, testBlock(10), 10)
	if res.Validator != "me" {
		t.Fatalf("validator = %q, want me", res.Validator)
	}
	f.proc.Wait()
	sent := sub.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], res.Hash.String()) {
		t.Fatalf("submitted = %v", sent)
	}

	// Too far behind head to bother.
	f.process(t, testBlock(11), 1000)
	f.proc.Wait()
	if got := len(sub.sent()); got != 1 {
		t.Errorf("submissions = %d after stale block, want 1", got)
	}

	// The submitted payload validates block 10 and pays its reward.
	f.process(t, testBlock(12, trx("v", customJSON("me", true, protocolID, sent[0]))), 12)
	rec, err := f.ledger.Blocks.Get(f.db, 10)
	if err != nil || !rec.Validated() {
		t.Fatalf("block 10 = %+v, %v", rec, err)
	}
	if got, _ := f.ledger.Balances.Get(f.db, "me", "SPS"); got != 10 {
		t.Errorf("reward = %d, want 10", got)
	}
	if len(notes.before) != 3 || len(notes.after) != 3 {
		t.Errorf("notifier saw before=%v after=%v", notes.before, notes.after)
	}
}
