// Package block defines the Hive block model consumed by the ledger.
package block

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the timestamp format used by Hive nodes (UTC, no zone).
const TimeLayout = "2006-01-02T15:04:05"

// Decoding errors.
var (
	ErrEmptyBlock     = errors.New("block not found")
	ErrBadBlockID     = errors.New("malformed block id")
	ErrHeightMismatch = errors.New("block id does not match requested height")
	ErrBadTimestamp   = errors.New("malformed block timestamp")
	ErrBadOperation   = errors.New("malformed operation")
)

// Block is an immutable Hive block.
type Block struct {
	Height       uint64        `json:"height"`
	ID           string        `json:"block_id"`
	Previous     string        `json:"previous"`
	Timestamp    time.Time     `json:"timestamp"`
	Witness      string        `json:"witness,omitempty"`
	Transactions []Transaction `json:"transactions"`
}

// Transaction is one signed Hive transaction inside a block.
type Transaction struct {
	ID         string      `json:"transaction_id"`
	Operations []Operation `json:"operations"`
}

// Operation is a native Hive operation, still undecoded.
type Operation struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// rawBlock mirrors the condenser_api.get_block response.
type rawBlock struct {
	Previous       string   `json:"previous"`
	Timestamp      string   `json:"timestamp"`
	Witness        string   `json:"witness"`
	BlockID        string   `json:"block_id"`
	TransactionIDs []string `json:"transaction_ids"`
	Transactions   []struct {
		TransactionID string            `json:"transaction_id"`
		Operations    []json.RawMessage `json:"operations"`
	} `json:"transactions"`
}

// Decode parses a condenser_api.get_block result for the given height.
// A JSON null result means the block does not exist yet.
func Decode(height uint64, data []byte) (*Block, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, ErrEmptyBlock
	}

	var raw rawBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", height, err)
	}

	idHeight, err := HeightFromID(raw.BlockID)
	if err != nil {
		return nil, err
	}
	if idHeight != height {
		return nil, fmt.Errorf("%w: id %s encodes %d, want %d", ErrHeightMismatch, raw.BlockID, idHeight, height)
	}

	ts, err := time.ParseInLocation(TimeLayout, strings.TrimSuffix(raw.Timestamp, "Z"), time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadTimestamp, raw.Timestamp)
	}

	blk := &Block{
		Height:       height,
		ID:           raw.BlockID,
		Previous:     raw.Previous,
		Timestamp:    ts,
		Witness:      raw.Witness,
		Transactions: make([]Transaction, 0, len(raw.Transactions)),
	}
	for i, rt := range raw.Transactions {
		txID := rt.TransactionID
		if txID == "" && i < len(raw.TransactionIDs) {
			txID = raw.TransactionIDs[i]
		}
		tx := Transaction{ID: txID, Operations: make([]Operation, 0, len(rt.Operations))}
		for j, ro := range rt.Operations {
			op, err := decodeOperation(ro)
			if err != nil {
				return nil, fmt.Errorf("block %d tx %d op %d: %w", height, i, j, err)
			}
			tx.Operations = append(tx.Operations, op)
		}
		blk.Transactions = append(blk.Transactions, tx)
	}
	return blk, nil
}

// decodeOperation accepts both the legacy ["name", {...}] pair and the
// {"type": "name_operation", "value": {...}} object form.
func decodeOperation(data json.RawMessage) (Operation, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return Operation{}, ErrBadOperation
		}
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil {
			return Operation{}, ErrBadOperation
		}
		return Operation{Type: name, Value: pair[1]}, nil
	}

	var obj Operation
	if err := json.Unmarshal(data, &obj); err != nil || obj.Type == "" {
		return Operation{}, ErrBadOperation
	}
	obj.Type = strings.TrimSuffix(obj.Type, "_operation")
	return obj, nil
}

// HeightFromID extracts the block number encoded in the first four bytes of
// a Hive block id.
func HeightFromID(id string) (uint64, error) {
	if len(id) != 40 {
		return 0, fmt.Errorf("%w: %q", ErrBadBlockID, id)
	}
	b, err := hex.DecodeString(id[:8])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadBlockID, id)
	}
	return uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3]), nil
}

// OperationCount returns the number of native operations in the block.
func (b *Block) OperationCount() int {
	n := 0
	for _, tx := range b.Transactions {
		n += len(tx.Operations)
	}
	return n
}
