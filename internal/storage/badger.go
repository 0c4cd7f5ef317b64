package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB implements DB using Badger.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger creates a new Badger database at the given path.
func NewBadger(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger's built-in logging.

	db, err := badger.Open(opts)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Cannot acquire directory lock") ||
			strings.Contains(errMsg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("database at %s is locked by another process (is another ledgerd instance running?): %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	return &BadgerDB{db: db}, nil
}

// Get retrieves a value by key. Returns ErrNotFound if the key does not exist.
func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		val, err = badgerGet(txn, key)
		return err
	})
	return val, err
}

// Put stores a key-value pair.
func (b *BadgerDB) Put(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (b *BadgerDB) Delete(key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (b *BadgerDB) Has(key []byte) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		exists, err = badgerHas(txn, key)
		return err
	})
	return exists, err
}

// ForEach iterates over all keys with the given prefix.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		return badgerForEach(txn, prefix, fn)
	})
}

// Update runs fn inside a badger read/write transaction.
func (b *BadgerDB) Update(fn func(tx Txn) error) (err error) {
	bt := &badgerTxn{}
	err = b.db.Update(func(txn *badger.Txn) (ferr error) {
		bt.txn = txn
		defer func() {
			if r := recover(); r != nil {
				ferr = fmt.Errorf("transaction panic: %v", r)
			}
		}()
		return fn(bt)
	})
	if err != nil {
		return err
	}
	for _, hook := range bt.hooks {
		hook()
	}
	return nil
}

// View runs fn against a badger read-only snapshot.
func (b *BadgerDB) View(fn func(r Reader) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// badgerTxn adapts *badger.Txn to Txn.
type badgerTxn struct {
	txn   *badger.Txn
	hooks []func()
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) { return badgerGet(t.txn, key) }

func (t *badgerTxn) Has(key []byte) (bool, error) { return badgerHas(t.txn, key) }

func (t *badgerTxn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return badgerForEach(t.txn, prefix, fn)
}

func (t *badgerTxn) Put(key, value []byte) error {
	// Badger keeps a reference to the slices until commit.
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	if err := t.txn.Set(k, v); err != nil {
		return fmt.Errorf("badger txn put: %w", err)
	}
	return nil
}

func (t *badgerTxn) Delete(key []byte) error {
	k := append([]byte(nil), key...)
	if err := t.txn.Delete(k); err != nil {
		return fmt.Errorf("badger txn delete: %w", err)
	}
	return nil
}

func (t *badgerTxn) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func badgerGet(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

func badgerHas(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger has: %w", err)
	}
	return true, nil
}

func badgerForEach(txn *badger.Txn, prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}
