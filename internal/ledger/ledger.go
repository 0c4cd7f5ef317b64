// Package ledger holds the effect handlers actions apply to ledger state.
//
// Every method works on a storage.Txn handed in by the caller, returns the
// events it caused and reports rule violations as *action.ValidationError.
// In-memory caches are only touched from commit hooks.
package ledger

import (
	"encoding/binary"
	"encoding/hex"
)

// Table prefixes.
const (
	prefixAccounts   = "acct/"
	prefixBalances   = "bal/"
	prefixUnstaking  = "unstk/"
	prefixValidators = "val/"
	prefixVotes      = "vote/"
	prefixConfig     = "cfg/"
	prefixBlocks     = "blk/"
	prefixTxs        = "txs/"
	prefixMeta       = "meta/"
)

// Event tables.
const (
	TableAccounts   = "hive_accounts"
	TableBalances   = "balances"
	TableTransfers  = "token_transfers"
	TableUnstaking  = "token_unstaking"
	TableValidators = "validators"
	TableVotes      = "validator_votes"
	TableConfig     = "config"
	TableBlocks     = "blocks"
)

// Tokens names the liquid token and its staked counterpart.
type Tokens struct {
	Liquid string `json:"liquid"`
	Staked string `json:"staked"`
}

// Ledger bundles the effect handlers.
type Ledger struct {
	Tokens     Tokens
	Accounts   *Accounts
	Balances   *Balances
	Staking    *Staking
	Validators *Validators
	Config     *ConfigStore
	Blocks     *Blocks
}

// New wires the handlers together.
func New(tokens Tokens, cfg *ConfigStore, blocks *Blocks) *Ledger {
	balances := &Balances{}
	validators := &Validators{balances: balances, tokens: tokens, config: cfg}
	return &Ledger{
		Tokens:     tokens,
		Accounts:   &Accounts{},
		Balances:   balances,
		Staking:    &Staking{balances: balances, validators: validators, tokens: tokens, config: cfg},
		Validators: validators,
		Config:     cfg,
		Blocks:     blocks,
	}
}

// heightKey encodes a height so byte order matches numeric order.
func heightKey(h uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h)
	return hex.EncodeToString(b[:])
}
