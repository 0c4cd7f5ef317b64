package storage

import (
	"sort"
	"strings"
)

// overlay buffers writes on top of a base reader.
type overlay struct {
	base    Reader
	writes  map[string][]byte
	deletes map[string]struct{}
	hooks   []func()
}

func newOverlay(base Reader) *overlay {
	return &overlay{base: base, writes: make(map[string][]byte), deletes: make(map[string]struct{})}
}

func (o *overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := o.writes[k]; ok {
		return append([]byte(nil), v...), nil
	}
	if _, ok := o.deletes[k]; ok {
		return nil, ErrNotFound
	}
	return o.base.Get(key)
}

func (o *overlay) Has(key []byte) (bool, error) {
	k := string(key)
	if _, ok := o.writes[k]; ok {
		return true, nil
	}
	if _, ok := o.deletes[k]; ok {
		return false, nil
	}
	return o.base.Has(key)
}

func (o *overlay) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	err := o.base.ForEach(prefix, func(key, value []byte) error {
		k := string(key)
		if _, gone := o.deletes[k]; !gone {
			merged[k] = value
		}
		return nil
	})
	if err != nil {
		return err
	}
	p := string(prefix)
	for k, v := range o.writes {
		if strings.HasPrefix(k, p) {
			merged[k] = append([]byte(nil), v...)
		}
	}
	list := make(kvList, 0, len(merged))
	for k, v := range merged {
		list = append(list, kv{key: k, value: v})
	}
	list.sort()
	return list.each(fn)
}

func (o *overlay) Put(key, value []byte) error {
	k := string(key)
	o.writes[k] = append([]byte(nil), value...)
	delete(o.deletes, k)
	return nil
}

func (o *overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

func (o *overlay) OnCommit(fn func()) {
	o.hooks = append(o.hooks, fn)
}

// flush applies the buffered changes to w in key order.
func (o *overlay) flush(w Writer) error {
	dels := make([]string, 0, len(o.deletes))
	for k := range o.deletes {
		dels = append(dels, k)
	}
	sort.Strings(dels)
	for _, k := range dels {
		if err := w.Delete([]byte(k)); err != nil {
			return err
		}
	}

	puts := make([]string, 0, len(o.writes))
	for k := range o.writes {
		puts = append(puts, k)
	}
	sort.Strings(puts)
	for _, k := range puts {
		if err := w.Put([]byte(k), o.writes[k]); err != nil {
			return err
		}
	}
	return nil
}

// Savepoint is a nested unit of work inside a Txn. Its writes reach the
// parent only on Release; dropping it discards them.
type Savepoint struct {
	*overlay
	parent Txn
}

// NewSavepoint opens a savepoint on parent.
func NewSavepoint(parent Txn) *Savepoint {
	return &Savepoint{overlay: newOverlay(parent), parent: parent}
}

// Release writes the savepoint's changes into the parent and hands its
// commit hooks over to the parent transaction.
func (s *Savepoint) Release() error {
	if err := s.flush(s.parent); err != nil {
		return err
	}
	for _, hook := range s.hooks {
		s.parent.OnCommit(hook)
	}
	s.overlay = newOverlay(s.parent)
	return nil
}
