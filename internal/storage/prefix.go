package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Table wraps a Reader and prepends a fixed prefix to all keys, so each
// ledger table lives in its own namespace of a single underlying database.
type Table struct {
	r      Reader
	w      Writer
	prefix []byte
}

// NewTable creates a read/write table over tx.
func NewTable(tx Txn, prefix string) *Table {
	return &Table{r: tx, w: tx, prefix: []byte(prefix)}
}

// ReadTable creates a read-only table over r. Writes return an error.
func ReadTable(r Reader, prefix string) *Table {
	return &Table{r: r, prefix: []byte(prefix)}
}

// prefixed returns key with the prefix prepended.
func (t *Table) prefixed(key []byte) []byte {
	out := make([]byte, len(t.prefix)+len(key))
	copy(out, t.prefix)
	copy(out[len(t.prefix):], key)
	return out
}

// Get retrieves a value by key.
func (t *Table) Get(key []byte) ([]byte, error) {
	return t.r.Get(t.prefixed(key))
}

// Has checks if a key exists.
func (t *Table) Has(key []byte) (bool, error) {
	return t.r.Has(t.prefixed(key))
}

// Put stores a key-value pair.
func (t *Table) Put(key, value []byte) error {
	if t.w == nil {
		return fmt.Errorf("table %q is read-only", t.prefix)
	}
	return t.w.Put(t.prefixed(key), value)
}

// Delete removes a key.
func (t *Table) Delete(key []byte) error {
	if t.w == nil {
		return fmt.Errorf("table %q is read-only", t.prefix)
	}
	return t.w.Delete(t.prefixed(key))
}

// ForEach iterates over keys with the given prefix inside the table. The
// callback receives keys with the table prefix stripped.
func (t *Table) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	full := t.prefixed(prefix)
	return t.r.ForEach(full, func(key, value []byte) error {
		return fn(key[len(t.prefix):], value)
	})
}

// GetJSON decodes the value stored under key into v. It reports false when
// the key does not exist.
func (t *Table) GetJSON(key string, v any) (bool, error) {
	data, err := t.Get([]byte(key))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s%s: %w", t.prefix, key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under key.
func (t *Table) PutJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s%s: %w", t.prefix, key, err)
	}
	return t.Put([]byte(key), data)
}
