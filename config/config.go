// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: ledger semantics that must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without changing ledger results.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`
	// ProtocolFile replaces the built-in protocol rules with a JSON file.
	ProtocolFile string `conf:"protocol.file"`

	// Upstream chain access
	Hive HiveConfig

	// Block stream
	Stream StreamConfig

	// Validator identity (operational, not the reward rules)
	Validator ValidatorConfig

	// Diagnostics server
	RPC RPCConfig

	// Hash gossip
	P2P P2PConfig

	// Redis block publisher
	Redis RedisConfig

	// Logging
	Log LogConfig

	// Periodic status report
	Report ReportConfig
}

// HiveConfig holds upstream node settings.
type HiveConfig struct {
	Nodes   []string      `conf:"hive.nodes"`
	Timeout time.Duration `conf:"hive.timeout"`
	// SafeMode fetches each block from several nodes and requires a two
	// thirds agreement.
	SafeMode       bool     `conf:"hive.safemode"`
	SafeModeNodes  []string `conf:"hive.safemode.nodes"` // empty = hive.nodes
	SafeModeSample int      `conf:"hive.safemode.sample"`
}

// StreamConfig holds block fetching settings.
type StreamConfig struct {
	LagBlocks        uint64        `conf:"stream.lag"`
	QueueSize        int           `conf:"stream.queue"`
	Concurrency      int           `conf:"stream.concurrency"`
	HeadPollInterval time.Duration `conf:"stream.headpoll"`
	Irreversible     bool          `conf:"stream.irreversible"`
	// StartBlock overrides the protocol start block on an empty database.
	StartBlock uint64 `conf:"stream.start"`
}

// ValidatorConfig holds the node's validator identity.
type ValidatorConfig struct {
	Account        string        `conf:"validator.account"`
	Key            string        `conf:"validator.key"` // WIF active key
	SubmitAttempts int           `conf:"validator.submit.attempts"`
	SubmitDelay    time.Duration `conf:"validator.submit.delay"`
}

// Enabled reports whether the node submits validations.
func (v ValidatorConfig) Enabled() bool {
	return v.Account != "" && v.Key != ""
}

// RPCConfig holds diagnostics server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// P2PConfig holds hash gossip settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"`
}

// RedisConfig holds the redis publisher settings.
type RedisConfig struct {
	Enabled  bool   `conf:"redis.enabled"`
	Addr     string `conf:"redis.addr"`
	Password string `conf:"redis.password"`
	DB       int    `conf:"redis.db"`
	Channel  string `conf:"redis.channel"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// ReportConfig schedules the periodic status log line.
type ReportConfig struct {
	// Schedule is a cron spec with a seconds field. Empty disables it.
	Schedule string `conf:"report.schedule"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.hive-ledger
//	macOS:   ~/Library/Application Support/HiveLedger
//	Windows: %APPDATA%\HiveLedger
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hive-ledger"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "HiveLedger")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "HiveLedger")
		}
		return filepath.Join(home, "AppData", "Roaming", "HiveLedger")
	default:
		return filepath.Join(home, ".hive-ledger")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// LedgerDir returns the ledger database directory.
func (c *Config) LedgerDir() string {
	return filepath.Join(c.NetworkDataDir(), "ledger")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "ledgerd.conf")
}
