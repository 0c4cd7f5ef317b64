// Package plugin dispatches best-effort block notifications to observers.
//
// Observers run on their own goroutines. A failing or panicking observer is
// logged and counted but never reaches the block processor.
package plugin

import (
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/metrics"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/types"
)

const (
	topicBeforeBlock = "block:before"
	topicAfterBlock  = "block:after"
)

// BlockEvent is the after-block notification.
type BlockEvent struct {
	Height uint64            `json:"block_num"`
	Hash   types.Hash        `json:"hash"`
	Head   uint64            `json:"head_block"`
	Events []action.EventLog `json:"events"`
}

// Plugin observes processed blocks.
type Plugin interface {
	Name() string
	BeforeBlock(height uint64) error
	AfterBlock(ev BlockEvent) error
}

// Dispatcher fans block notifications out to registered plugins.
type Dispatcher struct {
	bus evbus.Bus

	mu      sync.Mutex
	plugins []string
}

// NewDispatcher creates a dispatcher with no plugins.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{bus: evbus.New()}
}

// Register subscribes p to block notifications.
func (d *Dispatcher) Register(p Plugin) error {
	name := p.Name()
	before := func(height uint64) {
		d.call(name, "before_block", func() error { return p.BeforeBlock(height) })
	}
	after := func(ev BlockEvent) {
		d.call(name, "after_block", func() error { return p.AfterBlock(ev) })
	}
	if err := d.bus.SubscribeAsync(topicBeforeBlock, before, false); err != nil {
		return fmt.Errorf("register plugin %s: %w", name, err)
	}
	if err := d.bus.SubscribeAsync(topicAfterBlock, after, false); err != nil {
		return fmt.Errorf("register plugin %s: %w", name, err)
	}

	d.mu.Lock()
	d.plugins = append(d.plugins, name)
	d.mu.Unlock()
	log.Plugin.Info().Str("plugin", name).Msg("Plugin registered")
	return nil
}

// Plugins returns the registered plugin names.
func (d *Dispatcher) Plugins() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.plugins...)
}

// BeforeBlock notifies plugins that height is about to be processed.
func (d *Dispatcher) BeforeBlock(height uint64) {
	d.bus.Publish(topicBeforeBlock, height)
}

// AfterBlock notifies plugins of a processed block.
func (d *Dispatcher) AfterBlock(height uint64, events []action.EventLog, hash types.Hash, head uint64) {
	d.bus.Publish(topicAfterBlock, BlockEvent{Height: height, Hash: hash, Head: head, Events: events})
}

// Wait blocks until every notification published so far was handled.
func (d *Dispatcher) Wait() {
	d.bus.WaitAsync()
}

func (d *Dispatcher) call(name, hook string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PluginError(name)
			log.Plugin.Error().Str("plugin", name).Str("hook", hook).Interface("panic", r).Msg("Plugin panicked")
		}
	}()
	if err := fn(); err != nil {
		metrics.PluginError(name)
		log.Plugin.Warn().Str("plugin", name).Str("hook", hook).Err(err).Msg("Plugin failed")
	}
}
