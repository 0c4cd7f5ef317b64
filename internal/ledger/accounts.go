package ledger

import (
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

// Account is a Hive account known to the ledger.
type Account struct {
	Name         string    `json:"name"`
	CreatedBlock uint64    `json:"created_block"`
	CreatedAt    time.Time `json:"created_at"`
}

// Accounts tracks Hive accounts seen on chain.
type Accounts struct{}

// Upsert records an account created at block height.
func (s *Accounts) Upsert(tx storage.Txn, name string, height uint64, at time.Time) ([]action.EventLog, error) {
	tbl := storage.NewTable(tx, prefixAccounts)
	var existing Account
	found, err := tbl.GetJSON(name, &existing)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, nil
	}
	acct := Account{Name: name, CreatedBlock: height, CreatedAt: at.UTC()}
	if err := tbl.PutJSON(name, acct); err != nil {
		return nil, err
	}
	return []action.EventLog{action.Event(action.EventUpsert, TableAccounts, acct)}, nil
}

// Exists reports whether the account is known.
func (s *Accounts) Exists(r storage.Reader, name string) (bool, error) {
	return storage.ReadTable(r, prefixAccounts).Has([]byte(name))
}
