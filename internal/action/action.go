// Package action implements the lifecycle of a single ledger action:
// construction against a schema, validation, effect application and the
// recorded outcome.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

// Kind is the behaviour of one concrete action type.
type Kind interface {
	// Validate checks the action against ledger state. Rule violations are
	// returned as *ValidationError.
	Validate(ctx context.Context, a *Action, tx storage.Txn) error
	// Process applies the effects and returns the emitted events.
	Process(ctx context.Context, a *Action, tx storage.Txn) ([]EventLog, error)
}

// Handler describes an action type. Routes point at handlers.
type Handler struct {
	Name string
	// Schema is a JSON schema the params must satisfy. Empty accepts any
	// JSON object.
	Schema string
	// RequireActive rejects operations signed with posting authority.
	RequireActive bool
	// New decodes validated params into the concrete kind.
	New func(params json.RawMessage) (Kind, error)

	once      sync.Once
	schema    *gojsonschema.Schema
	schemaErr error
}

func (h *Handler) compiled() (*gojsonschema.Schema, error) {
	h.once.Do(func() {
		if h.Schema == "" {
			return
		}
		h.schema, h.schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(h.Schema))
	})
	return h.schema, h.schemaErr
}

// CheckSchema compiles the handler schema. Registration calls it so a broken
// schema fails at startup instead of on the first matching operation.
func (h *Handler) CheckSchema() error {
	if _, err := h.compiled(); err != nil {
		return fmt.Errorf("action %s: compile schema: %w", h.Name, err)
	}
	return nil
}

// State is the lifecycle state of an action.
type State int

// Lifecycle states.
const (
	StateConstructed State = iota
	StateExecuting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateExecuting:
		return "executing"
	case StateSucceeded:
		return "succeeded"
	default:
		return "failed"
	}
}

// Action is one ledger instruction owned by its Operation.
type Action struct {
	ID      string
	Handler *Handler
	Op      *Operation
	Params  json.RawMessage
	Kind    Kind

	players []string
	state   State
	events  []EventLog
	err     *ValidationError
}

// New validates params against the handler schema and builds the action.
// It never touches ledger state; a schema mismatch returns ErrSchema.
func New(h *Handler, op *Operation, params json.RawMessage, id string) (*Action, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	schema, err := h.compiled()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchema, h.Name, err)
	}
	if schema != nil {
		res, err := schema.Validate(gojsonschema.NewBytesLoader(params))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSchema, h.Name, err)
		}
		if !res.Valid() {
			msgs := make([]string, 0, len(res.Errors()))
			for _, e := range res.Errors() {
				msgs = append(msgs, e.String())
			}
			return nil, fmt.Errorf("%w: %s: %s", ErrSchema, h.Name, strings.Join(msgs, "; "))
		}
	} else if !json.Valid(params) {
		return nil, fmt.Errorf("%w: %s: invalid JSON", ErrSchema, h.Name)
	}

	kind, err := h.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchema, h.Name, err)
	}
	a := &Action{ID: id, Handler: h, Op: op, Params: params, Kind: kind}
	if op != nil && op.Account != "" {
		a.players = []string{op.Account}
	}
	return a, nil
}

// Name returns the action type name.
func (a *Action) Name() string { return a.Handler.Name }

// Account returns the acting account.
func (a *Action) Account() string {
	if a.Op == nil {
		return ""
	}
	return a.Op.Account
}

// AddPlayers records accounts affected by the action.
func (a *Action) AddPlayers(names ...string) {
	a.players = append(a.players, names...)
}

// Players returns the affected accounts.
func (a *Action) Players() []string { return a.players }

// State returns the lifecycle state.
func (a *Action) State() State { return a.state }

// Events returns the events of a succeeded action.
func (a *Action) Events() []EventLog { return a.events }

// Err returns the validation error of a failed action.
func (a *Action) Err() *ValidationError { return a.err }

// Succeeded reports whether the action applied its effects.
func (a *Action) Succeeded() bool { return a.state == StateSucceeded }

// Execute runs validate and process inside a savepoint of tx.
//
// A *ValidationError fails the action, discards its writes and returns
// nil. Any other error also fails the action but is returned, so the
// caller aborts the whole block.
func (a *Action) Execute(ctx context.Context, tx storage.Txn) error {
	if a.state != StateConstructed {
		return fmt.Errorf("%w: %s (%s)", ErrAlreadyExecuted, a.ID, a.state)
	}
	a.state = StateExecuting

	if a.Handler.RequireActive && (a.Op == nil || !a.Op.Active) {
		a.fail(Invalid(CodeAuthority, "%s requires active authority", a.Name()))
		return nil
	}

	sp := storage.NewSavepoint(tx)
	events, err := a.run(ctx, sp)
	a.players = dedupe(a.players)

	if err == nil {
		if err := sp.Release(); err != nil {
			a.state = StateFailed
			return fmt.Errorf("action %s: release savepoint: %w", a.ID, err)
		}
		a.events = events
		a.state = StateSucceeded
		return nil
	}
	if verr, ok := AsValidation(err); ok {
		a.fail(verr)
		return nil
	}
	a.state = StateFailed
	return fmt.Errorf("action %s (%s): %w", a.ID, a.Name(), err)
}

func (a *Action) run(ctx context.Context, tx storage.Txn) ([]EventLog, error) {
	if err := a.Kind.Validate(ctx, a, tx); err != nil {
		return nil, err
	}
	return a.Kind.Process(ctx, a, tx)
}

func (a *Action) fail(err *ValidationError) {
	a.err = err
	a.events = nil
	a.state = StateFailed
}

// Record returns the hashed transaction record of an executed action.
func (a *Action) Record() TxRecord {
	r := TxRecord{
		ID:      a.ID,
		Type:    a.Name(),
		Player:  a.Account(),
		Data:    a.Params,
		Success: a.state == StateSucceeded,
		Error:   a.err,
	}
	if a.Op != nil {
		r.BlockNum = a.Op.BlockNum
		r.Index = a.Op.Index
	}
	return r
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
