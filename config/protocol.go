package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/router"
)

// =============================================================================
// Protocol Rules (identical on every node)
// These MUST match across all nodes or block hashes diverge.
// =============================================================================

// Hive chain ids.
const (
	HiveMainnetChainID = "beeab0de00000000000000000000000000000000000000000000000000000000"
	HiveTestnetChainID = "18dcf0a285365fc58b71f18b3d3fec954aa0c141c44e4e5cb4cf777b9eab274e"
)

// Protocol holds the ledger rules every validator must share.
type Protocol struct {
	// ChainID is the upstream Hive chain id, used for signing.
	ChainID string `json:"chain_id"`
	// CustomJSONID is the custom_json id carrying {action, params}.
	CustomJSONID string `json:"custom_json_id"`
	// LegacyPrefix marks ids of the form prefix+action.
	LegacyPrefix string `json:"legacy_prefix"`
	// StartBlock is the first block processed on an empty database.
	StartBlock uint64        `json:"start_block"`
	Tokens     ledger.Tokens `json:"tokens"`
	// Admins may submit config_update.
	Admins []string `json:"admins"`
	// Validator is the genesis reward and staking configuration.
	Validator ledger.ValidatorConfig `json:"validator"`
	// Heights are the genesis route activation heights.
	Heights router.Heights `json:"heights"`
}

// MainnetProtocol returns the mainnet rules.
func MainnetProtocol() *Protocol {
	return &Protocol{
		ChainID:      HiveMainnetChainID,
		CustomJSONID: "hive-ledger",
		LegacyPrefix: "hl_",
		StartBlock:   90_000_000,
		Tokens:       ledger.Tokens{Liquid: "SPS", Staked: "SPSP"},
		Admins:       []string{"hive-ledger-admin"},
		Validator: ledger.ValidatorConfig{
			RewardStartBlock:  90_000_000,
			TokensPerBlock:    1000,
			ReductionBlocks:   864_000,
			ReductionPct:      1,
			MinValidators:     3,
			MaxVotes:          10,
			MaxBlockAge:       100,
			UnstakingPeriods:  4,
			UnstakingInterval: 201_600,
		},
		Heights: router.Heights{"transfer_memo": 90_500_000},
	}
}

// TestnetProtocol returns the testnet rules.
func TestnetProtocol() *Protocol {
	p := MainnetProtocol()
	p.ChainID = HiveTestnetChainID
	p.CustomJSONID = "hive-ledger-testnet"
	p.LegacyPrefix = "hlt_"
	p.StartBlock = 1
	p.Admins = []string{"hive-ledger-admin"}
	p.Validator.RewardStartBlock = 1
	p.Validator.MinValidators = 1
	p.Validator.UnstakingInterval = 100
	p.Heights = router.Heights{"transfer_memo": 1}
	return p
}

// ProtocolFor returns the built-in rules for network.
func ProtocolFor(network NetworkType) *Protocol {
	if network == Testnet {
		return TestnetProtocol()
	}
	return MainnetProtocol()
}

// LoadProtocol reads protocol rules from a JSON file.
func LoadProtocol(path string) (*Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol file: %w", err)
	}
	var p Protocol
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse protocol file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the rules for internal consistency.
func (p *Protocol) Validate() error {
	if b, err := hex.DecodeString(p.ChainID); err != nil || len(b) != 32 {
		return fmt.Errorf("protocol chain_id must be 32 bytes of hex")
	}
	if p.CustomJSONID == "" {
		return fmt.Errorf("protocol custom_json_id is required")
	}
	if p.StartBlock == 0 {
		return fmt.Errorf("protocol start_block must be positive")
	}
	if p.Tokens.Liquid == "" || p.Tokens.Staked == "" || p.Tokens.Liquid == p.Tokens.Staked {
		return fmt.Errorf("protocol tokens must name two distinct tokens")
	}
	if p.Validator.UnstakingPeriods <= 0 {
		return fmt.Errorf("protocol validator.unstaking_periods must be positive")
	}
	if p.Validator.MaxVotes <= 0 {
		return fmt.Errorf("protocol validator.max_votes must be positive")
	}
	return nil
}

// Envelope returns the custom_json ids the ledger listens to.
func (p *Protocol) Envelope() action.Envelope {
	return action.Envelope{ID: p.CustomJSONID, LegacyPrefix: p.LegacyPrefix}
}

// Settings returns the genesis ledger settings.
func (p *Protocol) Settings() ledger.Settings {
	heights := make(router.Heights, len(p.Heights))
	for k, v := range p.Heights {
		heights[k] = v
	}
	return ledger.Settings{
		Validator: p.Validator,
		Heights:   heights,
		Admins:    append([]string(nil), p.Admins...),
	}
}
