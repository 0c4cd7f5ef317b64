// Package hive provides a JSON-RPC 2.0 client for Hive API nodes.
package hive

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
)

// ErrBadHeadBlockID is returned when a node reports an unusable head id.
var ErrBadHeadBlockID = errors.New("malformed head block id")

// Client is a JSON-RPC 2.0 HTTP client for a single Hive node.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the node URL.
func (c *Client) Endpoint() string { return c.endpoint }

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// RPCError is returned when the node responds with an error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d from %s", resp.StatusCode, c.endpoint)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// GlobalProperties is the subset of dynamic global properties the node uses.
type GlobalProperties struct {
	HeadBlockNumber          uint64 `json:"head_block_number"`
	HeadBlockID              string `json:"head_block_id"`
	Time                     string `json:"time"`
	LastIrreversibleBlockNum uint64 `json:"last_irreversible_block_num"`
}

// GlobalProperties fetches condenser_api.get_dynamic_global_properties.
func (c *Client) GlobalProperties(ctx context.Context) (*GlobalProperties, error) {
	var props GlobalProperties
	if err := c.Call(ctx, "condenser_api.get_dynamic_global_properties", nil, &props); err != nil {
		return nil, err
	}
	return &props, nil
}

// HeadHeight returns the current head block number, or the last
// irreversible block number when irreversible is set.
func (c *Client) HeadHeight(ctx context.Context, irreversible bool) (uint64, error) {
	props, err := c.GlobalProperties(ctx)
	if err != nil {
		return 0, err
	}
	if irreversible {
		return props.LastIrreversibleBlockNum, nil
	}
	return props.HeadBlockNumber, nil
}

// GetBlock fetches and decodes the block at height.
func (c *Client) GetBlock(ctx context.Context, height uint64) (*block.Block, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, "condenser_api.get_block", []uint64{height}, &raw); err != nil {
		return nil, err
	}
	return block.Decode(height, raw)
}

// TxRef is the reference block data every Hive transaction carries.
type TxRef struct {
	RefBlockNum    uint16
	RefBlockPrefix uint32
	HeadTime       time.Time
}

// TransactionRef reads the current head and derives the reference block
// fields for a new transaction.
func (c *Client) TransactionRef(ctx context.Context) (TxRef, error) {
	props, err := c.GlobalProperties(ctx)
	if err != nil {
		return TxRef{}, err
	}
	return refFromProps(props)
}

func refFromProps(props *GlobalProperties) (TxRef, error) {
	id, err := hex.DecodeString(props.HeadBlockID)
	if err != nil || len(id) < 8 {
		return TxRef{}, fmt.Errorf("%w: %q", ErrBadHeadBlockID, props.HeadBlockID)
	}
	headTime, err := time.ParseInLocation(block.TimeLayout, props.Time, time.UTC)
	if err != nil {
		return TxRef{}, fmt.Errorf("parse head time %q: %w", props.Time, err)
	}
	return TxRef{
		RefBlockNum:    uint16(props.HeadBlockNumber & 0xffff),
		RefBlockPrefix: uint32(id[4]) | uint32(id[5])<<8 | uint32(id[6])<<16 | uint32(id[7])<<24,
		HeadTime:       headTime,
	}, nil
}

// BroadcastResult is the response of a synchronous broadcast.
type BroadcastResult struct {
	ID       string `json:"id"`
	BlockNum uint64 `json:"block_num"`
}

// BroadcastTransaction submits a signed transaction.
func (c *Client) BroadcastTransaction(ctx context.Context, tx *SignedTransaction) error {
	return c.Call(ctx, "condenser_api.broadcast_transaction", []any{tx}, nil)
}
