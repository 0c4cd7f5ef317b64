package action

import "encoding/json"

// EventKind is the type of a ledger side effect.
type EventKind string

// Event kinds.
const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventUpsert EventKind = "upsert"
	EventDelete EventKind = "delete"
)

// EventLog records one ledger side effect: the kind, the affected table and
// the record after the change. Events are for observers only and are never
// read back while processing.
type EventLog struct {
	Kind  EventKind `json:"event"`
	Table string    `json:"table"`
	Data  any       `json:"data"`
}

// Event builds an EventLog.
func Event(kind EventKind, table string, data any) EventLog {
	return EventLog{Kind: kind, Table: table, Data: data}
}

// TxRecord is the outcome of one action as stored and hashed per block.
type TxRecord struct {
	ID       string           `json:"id"`
	BlockNum uint64           `json:"block_num"`
	Index    int              `json:"index"`
	Type     string           `json:"type"`
	Player   string           `json:"player"`
	Data     json.RawMessage  `json:"data"`
	Success  bool             `json:"success"`
	Error    *ValidationError `json:"error,omitempty"`
}
