package ledger

import (
	"encoding/json"
	"strings"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

// Balance is one account's holding of one token.
type Balance struct {
	Player  string `json:"player"`
	Token   string `json:"token"`
	Balance int64  `json:"balance"`
}

// Transfer is the event payload of a token movement.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token"`
	Qty    int64  `json:"qty"`
	Type   string `json:"type"`
	Memo   string `json:"memo,omitempty"`
	TrxID  string `json:"trx_id"`
	Height uint64 `json:"block_num"`
}

// Balances keeps per-account token balances.
type Balances struct{}

func balanceKey(player, token string) string {
	return player + "/" + token
}

// Get returns the balance of player in token. Unknown balances are zero.
func (s *Balances) Get(r storage.Reader, player, token string) (int64, error) {
	var b Balance
	if _, err := storage.ReadTable(r, prefixBalances).GetJSON(balanceKey(player, token), &b); err != nil {
		return 0, err
	}
	return b.Balance, nil
}

// List returns every non-zero balance of player, ordered by token.
func (s *Balances) List(r storage.Reader, player string) ([]Balance, error) {
	var out []Balance
	err := storage.ReadTable(r, prefixBalances).ForEach([]byte(player+"/"), func(key, value []byte) error {
		var b Balance
		if err := json.Unmarshal(value, &b); err != nil {
			return err
		}
		if b.Balance != 0 {
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

func (s *Balances) set(tx storage.Txn, player, token string, amount int64) (action.EventLog, error) {
	b := Balance{Player: player, Token: token, Balance: amount}
	if err := storage.NewTable(tx, prefixBalances).PutJSON(balanceKey(player, token), b); err != nil {
		return action.EventLog{}, err
	}
	return action.Event(action.EventUpsert, TableBalances, b), nil
}

// Transfer moves qty of token from one account to another.
func (s *Balances) Transfer(tx storage.Txn, t Transfer) ([]action.EventLog, error) {
	if t.Qty <= 0 {
		return nil, action.Invalid(action.CodeInvalidAmount, "quantity must be positive, got %d", t.Qty)
	}
	if t.Token == "" || strings.ContainsRune(t.Token, '/') {
		return nil, action.Invalid(action.CodeInvalidToken, "invalid token %q", t.Token)
	}
	fromBal, err := s.Get(tx, t.From, t.Token)
	if err != nil {
		return nil, err
	}
	if fromBal < t.Qty {
		return nil, action.Invalid(action.CodeInsufficient, "%s has %d %s, needs %d", t.From, fromBal, t.Token, t.Qty)
	}

	events := make([]action.EventLog, 0, 3)
	ev, err := s.set(tx, t.From, t.Token, fromBal-t.Qty)
	if err != nil {
		return nil, err
	}
	events = append(events, ev)

	toBal, err := s.Get(tx, t.To, t.Token)
	if err != nil {
		return nil, err
	}
	ev, err = s.set(tx, t.To, t.Token, toBal+t.Qty)
	if err != nil {
		return nil, err
	}
	events = append(events, ev, action.Event(action.EventInsert, TableTransfers, t))
	return events, nil
}

// Mint credits qty of token to player out of thin air.
func (s *Balances) Mint(tx storage.Txn, player, token string, qty int64) ([]action.EventLog, error) {
	if qty <= 0 {
		return nil, action.Invalid(action.CodeInvalidAmount, "quantity must be positive, got %d", qty)
	}
	bal, err := s.Get(tx, player, token)
	if err != nil {
		return nil, err
	}
	ev, err := s.set(tx, player, token, bal+qty)
	if err != nil {
		return nil, err
	}
	return []action.EventLog{ev}, nil
}

// Move converts qty of one token held by player into another token.
func (s *Balances) Move(tx storage.Txn, player, fromToken, toToken string, qty int64) ([]action.EventLog, error) {
	if qty <= 0 {
		return nil, action.Invalid(action.CodeInvalidAmount, "quantity must be positive, got %d", qty)
	}
	from, err := s.Get(tx, player, fromToken)
	if err != nil {
		return nil, err
	}
	if from < qty {
		return nil, action.Invalid(action.CodeInsufficient, "%s has %d %s, needs %d", player, from, fromToken, qty)
	}
	to, err := s.Get(tx, player, toToken)
	if err != nil {
		return nil, err
	}
	ev1, err := s.set(tx, player, fromToken, from-qty)
	if err != nil {
		return nil, err
	}
	ev2, err := s.set(tx, player, toToken, to+qty)
	if err != nil {
		return nil, err
	}
	return []action.EventLog{ev1, ev2}, nil
}
