package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/cell"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/types"
)

const lastBlockKey = "last_block"

// BlockRecord is the ledger's record of one processed chain block.
type BlockRecord struct {
	BlockNum     uint64     `json:"block_num"`
	BlockID      string     `json:"block_id"`
	PrevBlockID  string     `json:"prev_block_id"`
	Hash         types.Hash `json:"l2_block_id"`
	PrevHash     types.Hash `json:"prev_l2_block_id"`
	BlockTime    time.Time  `json:"block_time"`
	Validator    string     `json:"validator,omitempty"`
	ValidationTx string     `json:"validation_tx,omitempty"`
	Reward       int64      `json:"reward"`
}

// Validated reports whether the chosen validator confirmed the block.
func (b BlockRecord) Validated() bool { return b.ValidationTx != "" }

// Blocks stores processed block records and their transaction records.
type Blocks struct {
	last *cell.Cell[*BlockRecord]
}

// NewBlocks creates an empty block store cache.
func NewBlocks() *Blocks {
	return &Blocks{last: cell.New[*BlockRecord](nil, nil)}
}

// LoadLast primes the last-block cache from storage.
func (s *Blocks) LoadLast(r storage.Reader) error {
	var b BlockRecord
	found, err := storage.ReadTable(r, prefixMeta).GetJSON(lastBlockKey, &b)
	if err != nil {
		return fmt.Errorf("load last block: %w", err)
	}
	if found {
		s.last.Set(&b)
	} else {
		s.last.Clear()
	}
	return nil
}

// Last returns the last committed block record, or nil before the first.
func (s *Blocks) Last() *BlockRecord { return s.last.Get() }

// OnCommitted calls fn with every newly committed block record.
func (s *Blocks) OnCommitted(fn func(*BlockRecord)) (cancel func()) {
	return s.last.Subscribe(func(b *BlockRecord) {
		if b != nil {
			fn(b)
		}
	})
}

// Get returns the record for height.
func (s *Blocks) Get(r storage.Reader, height uint64) (*BlockRecord, error) {
	var b BlockRecord
	found, err := storage.ReadTable(r, prefixBlocks).GetJSON(heightKey(height), &b)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, storage.ErrNotFound
	}
	return &b, nil
}

// Put stores a processed block and its transaction records and advances the
// last block once tx commits.
func (s *Blocks) Put(tx storage.Txn, b BlockRecord, txs []action.TxRecord) error {
	if err := storage.NewTable(tx, prefixBlocks).PutJSON(heightKey(b.BlockNum), b); err != nil {
		return err
	}
	txTbl := storage.NewTable(tx, prefixTxs)
	for i, rec := range txs {
		if err := txTbl.PutJSON(fmt.Sprintf("%s/%06d", heightKey(b.BlockNum), i), rec); err != nil {
			return err
		}
	}
	if err := storage.NewTable(tx, prefixMeta).PutJSON(lastBlockKey, b); err != nil {
		return err
	}
	committed := b
	tx.OnCommit(func() { s.last.Set(&committed) })
	return nil
}

// Transactions returns the transaction records of the block at height in
// execution order.
func (s *Blocks) Transactions(r storage.Reader, height uint64) ([]action.TxRecord, error) {
	var out []action.TxRecord
	err := storage.ReadTable(r, prefixTxs).ForEach([]byte(heightKey(height)+"/"), func(key, value []byte) error {
		var rec action.TxRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// MarkValidated records the validation transaction for the block at height.
func (s *Blocks) MarkValidated(tx storage.Txn, height uint64, trxID string) ([]action.EventLog, error) {
	b, err := s.Get(tx, height)
	if err != nil {
		return nil, err
	}
	b.ValidationTx = trxID
	if err := storage.NewTable(tx, prefixBlocks).PutJSON(heightKey(height), b); err != nil {
		return nil, err
	}
	return []action.EventLog{action.Event(action.EventUpdate, TableBlocks, b)}, nil
}
