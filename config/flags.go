package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version is the ledgerd release.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network  string
	Testnet  bool
	DataDir  string
	Config   string
	Protocol string

	// Hive
	HiveNodes string
	SafeMode  bool

	// Stream
	StartBlock uint64
	Lag        uint64

	// Validator
	Account string
	Key     string

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed string

	// P2P
	P2P        bool
	P2PPort    int
	Seeds      string
	NoDiscover bool
	DHTServer  bool

	// Redis
	Redis     bool
	RedisAddr string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetSafeMode   bool
	SetRPC        bool
	SetP2P        bool
	SetNoDiscover bool
	SetRedis      bool
	SetLogJSON    bool
}

// ParseFlags parses command-line arguments (without the program name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("ledgerd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	fs.BoolVar(&f.Testnet, "testnet", false, "Shorthand for --network=testnet")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.StringVar(&f.Protocol, "protocol", "", "Protocol rules JSON file")

	// Hive
	fs.StringVar(&f.HiveNodes, "hive-nodes", "", "Hive API nodes (comma-separated)")
	fs.BoolVar(&f.SafeMode, "safemode", false, "Require agreement between several Hive nodes per block")

	// Stream
	fs.Uint64Var(&f.StartBlock, "start-block", 0, "First block to process on an empty database")
	fs.Uint64Var(&f.Lag, "lag", 0, "Stay this many blocks behind the head")

	// Validator
	fs.StringVar(&f.Account, "validator-account", "", "Hive account of this validator")
	fs.StringVar(&f.Key, "validator-key", "", "WIF active key of the validator account")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Enable diagnostics server")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "Diagnostics listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "Diagnostics listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for diagnostics")

	// P2P
	fs.BoolVar(&f.P2P, "p2p", false, "Enable hash gossip")
	fs.IntVar(&f.P2PPort, "p2p-port", 0, "P2P listen port")
	fs.StringVar(&f.Seeds, "seeds", "", "Seed nodes as comma-separated libp2p multiaddrs")
	fs.BoolVar(&f.NoDiscover, "nodiscover", false, "Disable peer discovery")
	fs.BoolVar(&f.DHTServer, "dht-server", false, "Run DHT in server mode")

	// Redis
	fs.BoolVar(&f.Redis, "redis", false, "Publish block summaries to redis")
	fs.StringVar(&f.RedisAddr, "redis-addr", "", "Redis address")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if f.Testnet {
		f.Network = string(Testnet)
	}
	f.SetSafeMode = isFlagSet(fs, "safemode")
	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetP2P = isFlagSet(fs, "p2p")
	f.SetNoDiscover = isFlagSet(fs, "nodiscover")
	f.SetRedis = isFlagSet(fs, "redis")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Protocol != "" {
		cfg.ProtocolFile = f.Protocol
	}

	// Hive
	if f.HiveNodes != "" {
		cfg.Hive.Nodes = parseStringList(f.HiveNodes)
	}
	if f.SetSafeMode {
		cfg.Hive.SafeMode = f.SafeMode
	}

	// Stream
	if f.StartBlock != 0 {
		cfg.Stream.StartBlock = f.StartBlock
	}
	if f.Lag != 0 {
		cfg.Stream.LagBlocks = f.Lag
	}

	// Validator
	if f.Account != "" {
		cfg.Validator.Account = f.Account
	}
	if f.Key != "" {
		cfg.Validator.Key = f.Key
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}

	// P2P
	if f.SetP2P {
		cfg.P2P.Enabled = f.P2P
	}
	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.Seeds != "" {
		cfg.P2P.Seeds = parseStringList(f.Seeds)
	}
	if f.SetNoDiscover {
		cfg.P2P.NoDiscover = f.NoDiscover
	}
	if f.DHTServer {
		cfg.P2P.DHTServer = true
	}

	// Redis
	if f.SetRedis {
		cfg.Redis.Enabled = f.Redis
	}
	if f.RedisAddr != "" {
		cfg.Redis.Addr = f.RedisAddr
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the help text to w.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, `ledgerd - Hive game token ledger validator

Usage:
  ledgerd [options]

Commands:
  --help, -h            Show this help message
  --version, -v         Show version information

Core Options:
  --network             Network type: mainnet (default) or testnet
  --testnet             Shorthand for --network=testnet
  --datadir             Data directory (default: ~/.hive-ledger)
  --config, -c          Config file path (default: <datadir>/ledgerd.conf)
  --protocol            Protocol rules JSON file (default: built in)

Hive Options:
  --hive-nodes          Hive API nodes (comma-separated URLs)
  --safemode            Require two thirds agreement between Hive nodes

Stream Options:
  --start-block         First block to process on an empty database
  --lag                 Stay this many blocks behind the head

Validator Options:
  --validator-account   Hive account of this validator
  --validator-key       WIF active key used to sign validations

Diagnostics Options:
  --rpc                 Enable diagnostics server (default: true)
  --rpc-addr            Listen address (default: 127.0.0.1)
  --rpc-port            Listen port (mainnet: 8555, testnet: 8655)
  --rpc-allowed         Allowed IPs (comma-separated)

P2P Options:
  --p2p                 Enable hash gossip
  --p2p-port            P2P listen port (mainnet: 30313, testnet: 30314)
  --seeds               Seed nodes as comma-separated libp2p multiaddrs
  --nodiscover          Disable peer discovery
  --dht-server          Run DHT in server mode

Redis Options:
  --redis               Publish block summaries to redis
  --redis-addr          Redis address (default: 127.0.0.1:6379)

Logging Options:
  --log-level           debug, info, warn, error (default: info)
  --log-file            Log file path (rotated)
  --log-json            Output logs as JSON

Exit status:
  0 on clean shutdown, 1 on configuration errors, 2 when block
  processing fails.
`)
}

// Load builds the node configuration with the following precedence:
// 1. Default values for the network
// 2. Config file (created with defaults on first start)
// 3. Command-line flags
//
// It also resolves the protocol rules for the network.
func Load(f *Flags) (*Config, *Protocol, error) {
	network := Mainnet
	if strings.ToLower(f.Network) == string(Testnet) {
		network = Testnet
	}

	cfg := Default(network)
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := f.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, f)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	proto := ProtocolFor(cfg.Network)
	if cfg.ProtocolFile != "" {
		if proto, err = LoadProtocol(cfg.ProtocolFile); err != nil {
			return nil, nil, err
		}
	}
	return cfg, proto, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist.
func EnsureDataDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.NetworkDataDir(), cfg.LedgerDir(), cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
