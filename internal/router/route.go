// Package router maps action names to handlers by block height.
//
// Every route carries a validity window [from, to). Windows are either
// fixed heights, unbounded, or read from a named activation height in the
// protocol configuration, so a rule change can be scheduled for a future
// block without breaking replay of older blocks.
package router

import (
	"errors"
	"fmt"
	"math"
)

// Routing errors.
var (
	// ErrNotPrecomputed is returned by Route before the first Recompute.
	ErrNotPrecomputed = errors.New("route table used before recompute")
	// ErrStale is returned by Route after routes changed without Recompute.
	ErrStale = errors.New("route table changed since last recompute")
	// ErrInvalidRoute is returned when a route descriptor is malformed.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrUnknownNamespace is returned for a namespace no table was added for.
	ErrUnknownNamespace = errors.New("unknown route namespace")
)

// unbounded marks an open upper end.
const unbounded = math.MaxUint64

// Heights holds named activation heights used by Config bounds.
type Heights map[string]uint64

type boundKind uint8

const (
	boundAlways boundKind = iota
	boundAt
	boundConfig
)

// Bound is one end of a route window.
type Bound struct {
	kind   boundKind
	height uint64
	key    string
}

// Always is an unbounded end: height 0 as a lower bound, no limit as an
// upper bound.
func Always() Bound { return Bound{kind: boundAlways} }

// At is a fixed height.
func At(height uint64) Bound { return Bound{kind: boundAt, height: height} }

// Config reads the height from the named activation height at recompute
// time. A missing key keeps a route from ever starting when used as the
// lower bound, and leaves the window open when used as the upper bound.
func Config(key string) Bound { return Bound{kind: boundConfig, key: key} }

func (b Bound) String() string {
	switch b.kind {
	case boundAt:
		return fmt.Sprintf("%d", b.height)
	case boundConfig:
		return "cfg:" + b.key
	default:
		return "always"
	}
}

// resolveFrom returns the lower bound, or false if the route never starts.
func (b Bound) resolveFrom(cfg Heights) (uint64, bool) {
	switch b.kind {
	case boundAt:
		return b.height, true
	case boundConfig:
		h, ok := cfg[b.key]
		return h, ok
	default:
		return 0, true
	}
}

// resolveTo returns the exclusive upper bound.
func (b Bound) resolveTo(cfg Heights) uint64 {
	switch b.kind {
	case boundAt:
		return b.height
	case boundConfig:
		if h, ok := cfg[b.key]; ok {
			return h
		}
		return unbounded
	default:
		return unbounded
	}
}

// Route binds an action name to a handler over a window of heights.
type Route[H any] struct {
	Name    string
	Handler H
	From    Bound
	To      Bound
}

func (r Route[H]) validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty action name", ErrInvalidRoute)
	}
	if r.From.kind == boundConfig && r.From.key == "" || r.To.kind == boundConfig && r.To.key == "" {
		return fmt.Errorf("%w: %s has an empty config key", ErrInvalidRoute, r.Name)
	}
	if r.From.kind == boundAt && r.To.kind == boundAt && r.From.height >= r.To.height {
		return fmt.Errorf("%w: %s has empty window [%d, %d)", ErrInvalidRoute, r.Name, r.From.height, r.To.height)
	}
	return nil
}

// window resolves the route against cfg. ok is false when the window is
// empty.
func (r Route[H]) window(cfg Heights) (from, to uint64, ok bool) {
	from, ok = r.From.resolveFrom(cfg)
	if !ok {
		return 0, 0, false
	}
	to = r.To.resolveTo(cfg)
	return from, to, from < to
}

// Covers reports whether height falls inside the resolved window.
func (r Route[H]) Covers(height uint64, cfg Heights) bool {
	from, to, ok := r.window(cfg)
	return ok && from <= height && height < to
}
