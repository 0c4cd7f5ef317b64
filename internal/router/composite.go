package router

import (
	"fmt"
	"sort"
	"sync"
)

// Key identifies an action inside a composite router.
type Key struct {
	Namespace string
	Name      string
}

// Composite aggregates several tables (for example "normal" and "virtual"
// actions) behind one merged, cut-based snapshot.
type Composite[H any] struct {
	mu       sync.RWMutex
	order    []string
	tables   map[string]*Table[H]
	merged   *mergedSnapshot[H]
	versions map[string]uint64
}

type mergedSnapshot[H any] struct {
	cuts []uint64
	maps []map[Key]H
}

// NewComposite creates an empty composite router.
func NewComposite[H any]() *Composite[H] {
	return &Composite[H]{tables: make(map[string]*Table[H])}
}

// Add registers t under its namespace, replacing an existing table with the
// same namespace.
func (c *Composite[H]) Add(t *Table[H]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[t.Namespace()]; !ok {
		c.order = append(c.order, t.Namespace())
	}
	c.tables[t.Namespace()] = t
	c.merged = nil
}

// Table returns the table for namespace.
func (c *Composite[H]) Table(namespace string) (*Table[H], error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[namespace]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	return t, nil
}

// Namespaces returns the namespaces in registration order.
func (c *Composite[H]) Namespaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Recompute recomputes every sub-table with cfg and rebuilds the merged
// snapshot.
func (c *Composite[H]) Recompute(cfg Heights) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snaps := make(map[string]*snapshot[H], len(c.tables))
	versions := make(map[string]uint64, len(c.tables))
	cutSet := map[uint64]struct{}{0: {}}
	for _, ns := range c.order {
		t := c.tables[ns]
		t.Recompute(cfg)
		snap, ver, err := t.state()
		if err != nil {
			// A concurrent AddRoute raced the recompute; leave the
			// composite unmerged so Route keeps failing fast.
			c.merged = nil
			return
		}
		snaps[ns] = snap
		versions[ns] = ver
		for _, cut := range snap.cuts {
			cutSet[cut] = struct{}{}
		}
	}

	cuts := make([]uint64, 0, len(cutSet))
	for cut := range cutSet {
		cuts = append(cuts, cut)
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })

	maps := make([]map[Key]H, len(cuts))
	for i, start := range cuts {
		m := make(map[Key]H)
		for _, ns := range c.order {
			for name, h := range snaps[ns].lookup(start) {
				m[Key{Namespace: ns, Name: name}] = h
			}
		}
		maps[i] = m
	}

	c.merged = &mergedSnapshot[H]{cuts: cuts, maps: maps}
	c.versions = versions
}

// Route looks up name in namespace at height. Every sub-table must be
// precomputed and unchanged since the composite's last Recompute.
func (c *Composite[H]) Route(height uint64, namespace, name string) (H, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero H
	if len(c.tables) > 0 && c.merged == nil {
		for _, ns := range c.order {
			if _, _, err := c.tables[ns].state(); err != nil {
				return zero, false, err
			}
		}
		return zero, false, fmt.Errorf("%w: composite not recomputed", ErrNotPrecomputed)
	}
	if _, ok := c.tables[namespace]; !ok {
		return zero, false, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	for _, ns := range c.order {
		_, ver, err := c.tables[ns].state()
		if err != nil {
			return zero, false, err
		}
		if ver != c.versions[ns] {
			return zero, false, fmt.Errorf("%w: namespace %q recomputed outside the composite", ErrStale, ns)
		}
	}

	i := sort.Search(len(c.merged.cuts), func(i int) bool { return c.merged.cuts[i] > height }) - 1
	if i < 0 {
		return zero, false, nil
	}
	h, ok := c.merged.maps[i][Key{Namespace: namespace, Name: name}]
	return h, ok, nil
}
