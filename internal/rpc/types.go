package rpc

import (
	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      any    `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// HeightParam is used by ledger_getBlock.
type HeightParam struct {
	Height uint64 `json:"height"`
}

// RouteParam is used by ledger_route. A zero height means the next block.
type RouteParam struct {
	Height uint64 `json:"height,omitempty"`
	Action string `json:"action"`
}

// PlayerParam is used by ledger_getBalance.
type PlayerParam struct {
	Player string `json:"player"`
}

// ValidatorsParam is used by ledger_getValidators.
type ValidatorsParam struct {
	ActiveOnly bool `json:"active_only,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// StatusResult is returned by ledger_status.
type StatusResult struct {
	LastBlock     uint64 `json:"last_block"`
	LastHash      string `json:"last_hash,omitempty"`
	LastValidator string `json:"last_validator,omitempty"`
	HeadBlock     uint64 `json:"head_block"`
	Lag           uint64 `json:"lag"`
	Peers         int    `json:"peers"`
}

// BlockResult is returned by ledger_getBlock.
type BlockResult struct {
	*ledger.BlockRecord
	Transactions []action.TxRecord `json:"transactions"`
}

// RouteResult is returned by ledger_route.
type RouteResult struct {
	Height        uint64 `json:"height"`
	Action        string `json:"action"`
	Active        bool   `json:"active"`
	RequireActive bool   `json:"require_active,omitempty"`
	Schema        bool   `json:"has_schema,omitempty"`
}

// BalanceResult is returned by ledger_getBalance.
type BalanceResult struct {
	Player    string            `json:"player"`
	Balances  []ledger.Balance  `json:"balances"`
	Unstaking *ledger.Unstaking `json:"unstaking,omitempty"`
}

// ValidatorsResult is returned by ledger_getValidators.
type ValidatorsResult struct {
	Count      int                `json:"count"`
	Validators []ledger.Validator `json:"validators"`
}

// PeerInfo describes a connected gossip peer.
type PeerInfo struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	ConnectedAt string `json:"connected_at"`
}

// PeerInfoResult is returned by net_getPeerInfo.
type PeerInfoResult struct {
	Count int        `json:"count"`
	Peers []PeerInfo `json:"peers"`
}

// NodeInfoResult is returned by net_getNodeInfo.
type NodeInfoResult struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
}

// BanEntry is one active ban.
type BanEntry struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// BanListResult is returned by net_getBanList.
type BanListResult struct {
	Count int        `json:"count"`
	Bans  []BanEntry `json:"bans"`
}
