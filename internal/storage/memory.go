package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryDB is an in-memory DB implementation for testing.
type MemoryDB struct {
	mu      sync.RWMutex
	writeMu sync.Mutex // serializes Update calls
	data    map[string][]byte
	closed  bool
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{data: make(map[string][]byte)}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(key)
}

func (m *MemoryDB) get(key []byte) ([]byte, error) {
	val, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory db closed")
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix in key order.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	snapshot := m.collect(prefix)
	m.mu.RUnlock()
	return snapshot.each(fn)
}

func (m *MemoryDB) collect(prefix []byte) kvList {
	p := string(prefix)
	var out kvList
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			out = append(out, kv{key: k, value: append([]byte(nil), v...)})
		}
	}
	out.sort()
	return out
}

// Update runs fn against an overlay and applies the overlay atomically when
// fn returns nil.
func (m *MemoryDB) Update(fn func(tx Txn) error) (err error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx := newOverlay(m)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction panic: %v", r)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	for k := range tx.deletes {
		delete(m.data, k)
	}
	for k, v := range tx.writes {
		m.data[k] = v
	}
	m.mu.Unlock()

	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

// View runs fn while holding the read lock, so no Update can commit
// underneath it. fn must not write to the database.
func (m *MemoryDB) View(fn func(r Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(memView{m})
}

// Close marks the database as closed.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of keys.
func (m *MemoryDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// memView reads the map directly; the caller holds the read lock.
type memView struct{ db *MemoryDB }

func (v memView) Get(key []byte) ([]byte, error) { return v.db.get(key) }

func (v memView) Has(key []byte) (bool, error) {
	_, ok := v.db.data[string(key)]
	return ok, nil
}

func (v memView) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return v.db.collect(prefix).each(fn)
}

type kv struct {
	key   string
	value []byte
}

type kvList []kv

func (l kvList) sort() {
	sort.Slice(l, func(i, j int) bool { return l[i].key < l[j].key })
}

func (l kvList) each(fn func(key, value []byte) error) error {
	for _, e := range l {
		if err := fn([]byte(e.key), e.value); err != nil {
			return err
		}
	}
	return nil
}
