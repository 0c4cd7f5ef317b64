package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
)

// Table is a versioned route table for one namespace.
//
// Route lookups on the hot path go through a precomputed snapshot: every
// window bound becomes a cut, and each interval between consecutive cuts
// owns a flat name -> handler map. Any change to the routes leaves the
// table stale until Recompute is called again.
type Table[H any] struct {
	namespace string

	mu      sync.RWMutex
	routes  []Route[H]
	snap    *snapshot[H]
	stale   bool
	version uint64
}

type snapshot[H any] struct {
	cuts []uint64
	maps []map[string]H
}

// lookup finds the interval map covering height.
func (s *snapshot[H]) lookup(height uint64) map[string]H {
	i := sort.Search(len(s.cuts), func(i int) bool { return s.cuts[i] > height }) - 1
	if i < 0 {
		return nil
	}
	return s.maps[i]
}

// NewTable creates an empty table. namespace only labels log output.
func NewTable[H any](namespace string) *Table[H] {
	return &Table[H]{namespace: namespace}
}

// Namespace returns the table's label.
func (t *Table[H]) Namespace() string { return t.namespace }

// AddRoute registers r. The table must be recomputed before the next Route.
func (t *Table[H]) AddRoute(r Route[H]) error {
	if err := r.validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, r)
	t.stale = true
	return nil
}

// RemoveRoutes drops every route registered under name and returns how
// many were removed.
func (t *Table[H]) RemoveRoutes(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.routes[:0]
	removed := 0
	for _, r := range t.routes {
		if r.Name == name {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	t.routes = kept
	if removed > 0 {
		t.stale = true
	}
	return removed
}

// Routes returns the registered routes in registration order.
func (t *Table[H]) Routes() []Route[H] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route[H], len(t.routes))
	copy(out, t.routes)
	return out
}

// RouteDynamic resolves every window against cfg on each call. It needs no
// precomputation. The first route in registration order wins.
func (t *Table[H]) RouteDynamic(height uint64, name string, cfg Heights) (H, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if r.Name == name && r.Covers(height, cfg) {
			return r.Handler, true
		}
	}
	var zero H
	return zero, false
}

// Recompute rebuilds the snapshot for cfg.
func (t *Table[H]) Recompute(cfg Heights) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type resolved struct {
		route    Route[H]
		from, to uint64
	}
	active := make([]resolved, 0, len(t.routes))
	cutSet := map[uint64]struct{}{0: {}}
	for _, r := range t.routes {
		from, to, ok := r.window(cfg)
		if !ok {
			continue
		}
		active = append(active, resolved{route: r, from: from, to: to})
		cutSet[from] = struct{}{}
		if to != unbounded {
			cutSet[to] = struct{}{}
		}
	}

	cuts := make([]uint64, 0, len(cutSet))
	for c := range cutSet {
		cuts = append(cuts, c)
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })

	maps := make([]map[string]H, len(cuts))
	for i, start := range cuts {
		m := make(map[string]H)
		for _, a := range active {
			if a.from > start || start >= a.to {
				continue
			}
			if _, dup := m[a.route.Name]; dup {
				end := "always"
				if i+1 < len(cuts) {
					end = fmt.Sprintf("%d", cuts[i+1])
				}
				log.Router.Warn().Str("namespace", t.namespace).Str("action", a.route.Name).
					Uint64("from", start).Str("to", end).
					Msg("Overlapping route windows, keeping the first registered route")
				continue
			}
			m[a.route.Name] = a.route.Handler
		}
		maps[i] = m
	}

	t.snap = &snapshot[H]{cuts: cuts, maps: maps}
	t.stale = false
	t.version++
	log.Router.Debug().Str("namespace", t.namespace).Int("routes", len(t.routes)).
		Int("intervals", len(cuts)).Msg("Route table recomputed")
}

// Route looks up the handler for name at height in the precomputed
// snapshot. It fails with ErrNotPrecomputed or ErrStale instead of
// answering from an outdated snapshot.
func (t *Table[H]) Route(height uint64, name string) (H, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero H
	if err := t.checkLocked(); err != nil {
		return zero, false, err
	}
	h, ok := t.snap.lookup(height)[name]
	return h, ok, nil
}

// Names returns the action names routable at height, sorted.
func (t *Table[H]) Names(height uint64) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkLocked(); err != nil {
		return nil, err
	}
	m := t.snap.lookup(height)
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (t *Table[H]) checkLocked() error {
	if t.snap == nil {
		return fmt.Errorf("%w: namespace %q", ErrNotPrecomputed, t.namespace)
	}
	if t.stale {
		return fmt.Errorf("%w: namespace %q", ErrStale, t.namespace)
	}
	return nil
}

// state reports the snapshot and its version, or an error if unusable.
func (t *Table[H]) state() (*snapshot[H], uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkLocked(); err != nil {
		return nil, 0, err
	}
	return t.snap, t.version, nil
}
