package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Route namespaces.
const (
	// NamespaceChain holds actions carried by on-chain operations.
	NamespaceChain = "normal"
	// NamespaceVirtual holds actions of synthetic per-block operations.
	NamespaceVirtual = "virtual"
)

// Operation is the ledger-side view of one on-chain operation: who acted,
// with which authority, where in the chain, and the actions it carries.
type Operation struct {
	Account     string
	Active      bool
	BlockNum    uint64
	BlockTime   time.Time
	BlockID     string
	PrevBlockID string
	TrxID       string
	Index       int
	Reward      int64
	Actions     []*Action
}

// Payload is one undecoded action inside an operation.
type Payload struct {
	Name   string
	Params json.RawMessage
}

// Envelope names the custom_json ids the ledger listens to.
type Envelope struct {
	// ID is the protocol id whose json is {action, params} or an array of
	// such objects.
	ID string
	// LegacyPrefix marks ids of the form prefix+action whose json is the
	// params object itself.
	LegacyPrefix string
}

// Matches reports whether a custom_json id belongs to the ledger.
func (e Envelope) Matches(id string) bool {
	if id == e.ID {
		return true
	}
	return e.LegacyPrefix != "" && strings.HasPrefix(id, e.LegacyPrefix) && len(id) > len(e.LegacyPrefix)
}

type wireAction struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

// Payloads decodes the actions carried by a custom_json operation.
// Malformed payloads, and malformed entries of an array payload, yield no
// action: the chain carries plenty of data meant for other systems.
func (e Envelope) Payloads(id, data string) []Payload {
	raw := bytes.TrimSpace([]byte(data))
	if len(raw) == 0 {
		return nil
	}

	if id != e.ID {
		if !e.Matches(id) || raw[0] != '{' || !json.Valid(raw) {
			return nil
		}
		return []Payload{{Name: id[len(e.LegacyPrefix):], Params: raw}}
	}

	switch raw[0] {
	case '{':
		var w wireAction
		if err := json.Unmarshal(raw, &w); err != nil || w.Action == "" {
			return nil
		}
		return []Payload{{Name: w.Action, Params: normalizeParams(w.Params)}}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		out := make([]Payload, 0, len(items))
		for _, item := range items {
			var w wireAction
			if err := json.Unmarshal(item, &w); err != nil || w.Action == "" {
				continue
			}
			out = append(out, Payload{Name: w.Action, Params: normalizeParams(w.Params)})
		}
		return out
	}
	return nil
}

func normalizeParams(p json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(p)) == 0 || string(p) == "null" {
		return json.RawMessage(`{}`)
	}
	return p
}

// ActionID returns the transaction id of the i-th action of an operation:
// the first keeps the trx id, the rest get a -i suffix.
func ActionID(trxID string, i int) string {
	if i == 0 {
		return trxID
	}
	return fmt.Sprintf("%s-%d", trxID, i)
}

// VirtualTrxID returns the deterministic id of a synthetic operation.
func VirtualTrxID(source string, height uint64) string {
	return fmt.Sprintf("virtual_%s_%d", source, height)
}
