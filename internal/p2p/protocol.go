package p2p

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/hive-ledger-validator/pkg/types"
)

// HashTopic returns the gossip topic for network.
func HashTopic(network string) string {
	if network == "" {
		return "/hive-ledger/hash/1.0.0"
	}
	return "/hive-ledger/" + network + "/hash/1.0.0"
}

var (
	ErrMalformed    = errors.New("malformed hash announcement")
	ErrWrongNetwork = errors.New("announcement for another network")
)

// HashMessage announces the ledger hash a node computed for one block.
type HashMessage struct {
	Network   string     `json:"network"`
	BlockNum  uint64     `json:"block_num"`
	BlockID   string     `json:"block_id"`
	Hash      types.Hash `json:"hash"`
	Validator string     `json:"validator,omitempty"`
}

// Encode serializes the message for publishing.
func (m HashMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeHashMessage parses and checks an announcement received for network.
func DecodeHashMessage(data []byte, network string) (HashMessage, error) {
	var m HashMessage
	if len(data) == 0 || len(data) > maxMessageSize {
		return m, fmt.Errorf("%w: size %d", ErrMalformed, len(data))
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.BlockNum == 0 || m.Hash.IsZero() {
		return m, fmt.Errorf("%w: missing block_num or hash", ErrMalformed)
	}
	if m.Network != network {
		return m, fmt.Errorf("%w: %q", ErrWrongNetwork, m.Network)
	}
	return m, nil
}
