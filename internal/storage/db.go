// Package storage provides database abstractions.
package storage

import "errors"

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Reader is the read half of the key-value interface.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix in ascending key
	// order. The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
}

// Writer is the write half of the key-value interface.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Txn is a read/write unit of work. Writes are visible to reads made through
// the same Txn and become visible to everyone else only when the enclosing
// Update returns nil.
type Txn interface {
	Reader
	Writer
	// OnCommit registers fn to run after the transaction commits. Hooks are
	// dropped when the transaction rolls back.
	OnCommit(fn func())
}

// DB is the interface for key-value storage.
type DB interface {
	Reader
	Writer
	// Update runs fn inside a read/write transaction. A non-nil error from fn
	// (or a panic) rolls every write back.
	Update(fn func(tx Txn) error) error
	// View runs fn against a consistent read-only snapshot that never
	// observes a concurrent Update mid-flight.
	View(fn func(r Reader) error) error
	Close() error
}
