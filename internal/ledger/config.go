package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/cell"
	"github.com/Klingon-tech/hive-ledger-validator/internal/router"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

const settingsKey = "settings"

// ValidatorConfig holds the block reward and validator selection rules.
type ValidatorConfig struct {
	RewardStartBlock  uint64 `json:"reward_start_block"`
	TokensPerBlock    int64  `json:"tokens_per_block"`
	ReductionBlocks   uint64 `json:"reduction_blocks"`
	ReductionPct      int64  `json:"reduction_pct"`
	MinValidators     int    `json:"min_validators"`
	MaxVotes          int    `json:"max_votes"`
	MaxBlockAge       uint64 `json:"max_block_age"`
	PausedUntilBlock  uint64 `json:"paused_until_block"`
	UnstakingPeriods  int    `json:"unstaking_periods"`
	UnstakingInterval uint64 `json:"unstaking_interval_blocks"`
}

// Reward returns the amount a validator earns for the block at height.
// Every ReductionBlocks blocks the amount shrinks by ReductionPct percent.
func (c ValidatorConfig) Reward(height uint64) int64 {
	if c.TokensPerBlock <= 0 || height < c.RewardStartBlock {
		return 0
	}
	reward := c.TokensPerBlock
	if c.ReductionBlocks == 0 || c.ReductionPct <= 0 {
		return reward
	}
	periods := (height - c.RewardStartBlock) / c.ReductionBlocks
	for i := uint64(0); i < periods && reward > 0; i++ {
		reward = reward * (100 - c.ReductionPct) / 100
	}
	return reward
}

// Settings is the persisted, governable protocol configuration.
type Settings struct {
	Validator ValidatorConfig `json:"validator"`
	// Heights are the activation heights named by route bounds.
	Heights router.Heights `json:"heights"`
	Admins  []string       `json:"admins"`
}

func (s Settings) clone() Settings {
	s.Heights = maps.Clone(s.Heights)
	if s.Heights == nil {
		s.Heights = router.Heights{}
	}
	s.Admins = slices.Clone(s.Admins)
	return s
}

// SettingsPatch is a partial settings change. Validator fields present in
// the raw object overwrite the current ones; heights are merged key by key.
type SettingsPatch struct {
	Validator json.RawMessage   `json:"validator,omitempty"`
	Heights   map[string]uint64 `json:"heights,omitempty"`
	Admins    []string          `json:"admins,omitempty"`
}

// ConfigStore persists Settings and caches the committed value.
type ConfigStore struct {
	cell *cell.Cell[Settings]
}

// NewConfigStore creates a store whose value is defaults until Load finds
// persisted settings.
func NewConfigStore(defaults Settings) *ConfigStore {
	return &ConfigStore{cell: cell.New(defaults.clone(), nil)}
}

// Load replaces the cached settings with the persisted ones, if any.
func (s *ConfigStore) Load(r storage.Reader) error {
	var st Settings
	found, err := storage.ReadTable(r, prefixConfig).GetJSON(settingsKey, &st)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if found {
		s.cell.Set(st.clone())
	}
	return nil
}

// Seed persists the cached settings when nothing is stored yet.
func (s *ConfigStore) Seed(tx storage.Txn) error {
	tbl := storage.NewTable(tx, prefixConfig)
	ok, err := tbl.Has([]byte(settingsKey))
	if err != nil || ok {
		return err
	}
	return tbl.PutJSON(settingsKey, s.cell.Get())
}

// Settings returns a copy of the committed settings.
func (s *ConfigStore) Settings() Settings { return s.cell.Get().clone() }

// Validator returns the committed validator config.
func (s *ConfigStore) Validator() ValidatorConfig { return s.cell.Get().Validator }

// Heights returns a copy of the committed activation heights.
func (s *ConfigStore) Heights() router.Heights { return maps.Clone(s.cell.Get().Heights) }

// IsAdmin reports whether account may change settings.
func (s *ConfigStore) IsAdmin(account string) bool {
	return slices.Contains(s.cell.Get().Admins, account)
}

// Subscribe calls fn with the new settings after every committed change.
func (s *ConfigStore) Subscribe(fn func(Settings)) (cancel func()) {
	return s.cell.Subscribe(fn)
}

// Apply writes a settings change in tx. The cache follows once tx commits.
func (s *ConfigStore) Apply(tx storage.Txn, patch SettingsPatch) ([]action.EventLog, error) {
	next := s.cell.Get().clone()
	tbl := storage.NewTable(tx, prefixConfig)
	if _, err := tbl.GetJSON(settingsKey, &next); err != nil {
		return nil, err
	}
	next = next.clone()

	if len(patch.Validator) > 0 && !bytes.Equal(bytes.TrimSpace(patch.Validator), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(patch.Validator))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&next.Validator); err != nil {
			return nil, action.Invalid(action.CodeInvalidParams, "validator config: %v", err)
		}
	}
	for k, h := range patch.Heights {
		next.Heights[k] = h
	}
	if len(patch.Admins) > 0 {
		next.Admins = slices.Clone(patch.Admins)
	}
	if err := next.Validator.check(); err != nil {
		return nil, err
	}

	if err := tbl.PutJSON(settingsKey, next); err != nil {
		return nil, err
	}
	committed := next.clone()
	tx.OnCommit(func() { s.cell.Set(committed) })
	return []action.EventLog{action.Event(action.EventUpdate, TableConfig, next)}, nil
}

func (c ValidatorConfig) check() error {
	switch {
	case c.TokensPerBlock < 0:
		return action.Invalid(action.CodeInvalidParams, "tokens_per_block must not be negative")
	case c.ReductionPct < 0 || c.ReductionPct > 100:
		return action.Invalid(action.CodeInvalidParams, "reduction_pct must be between 0 and 100")
	case c.MinValidators < 0 || c.MaxVotes < 0 || c.UnstakingPeriods < 0:
		return action.Invalid(action.CodeInvalidParams, "counts must not be negative")
	}
	return nil
}
