// Package cell provides a typed, observable cache cell.
//
// A Cell holds one value of type T. It is owned by whoever creates it and is
// passed explicitly to readers and writers; there is no global registry.
// Subscribers are called synchronously, in subscription order, after every
// change made through Update, Reload or Clear.
package cell

import (
	"context"
	"sync"
)

// Loader produces a fresh value for Reload.
type Loader[T any] func(ctx context.Context) (T, error)

// Cell is a mutable value with change subscriptions.
type Cell[T any] struct {
	mu     sync.RWMutex
	value  T
	zero   T
	loader Loader[T]

	subMu sync.Mutex
	subs  []func(T)
}

// New creates a cell holding initial. loader may be nil, in which case Reload
// is a no-op.
func New[T any](initial T, loader Loader[T]) *Cell[T] {
	return &Cell[T]{value: initial, zero: initial, loader: loader}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the current value and notifies subscribers.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	c.notify(v)
}

// Update applies fn to the current value and stores the result.
func (c *Cell[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	v := fn(c.value)
	c.value = v
	c.mu.Unlock()
	c.notify(v)
	return v
}

// Reload replaces the value with one produced by the loader. On error the
// current value is kept and subscribers are not called.
func (c *Cell[T]) Reload(ctx context.Context) error {
	if c.loader == nil {
		return nil
	}
	v, err := c.loader(ctx)
	if err != nil {
		return err
	}
	c.Set(v)
	return nil
}

// Clear resets the cell to its initial value.
func (c *Cell[T]) Clear() {
	c.Set(c.zero)
}

// Subscribe registers fn to be called with the new value on every change.
// The returned function removes the subscription.
func (c *Cell[T]) Subscribe(fn func(T)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs = append(c.subs, fn)
	idx := len(c.subs) - 1
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if idx < len(c.subs) {
			c.subs[idx] = nil
		}
	}
}

func (c *Cell[T]) notify(v T) {
	c.subMu.Lock()
	subs := make([]func(T), len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn(v)
		}
	}
}
