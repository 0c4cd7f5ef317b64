package config

import "time"

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Hive: HiveConfig{
			Nodes: []string{
				"https://api.hive.blog",
				"https://api.deathwing.me",
				"https://anyx.io",
			},
			Timeout:        10 * time.Second,
			SafeModeSample: 3,
		},
		Stream: StreamConfig{
			LagBlocks:        0,
			QueueSize:        100,
			Concurrency:      8,
			HeadPollInterval: 3 * time.Second,
			Irreversible:     true,
		},
		Validator: ValidatorConfig{
			SubmitAttempts: 5,
			SubmitDelay:    3 * time.Second,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8555,
			AllowedIPs: []string{"127.0.0.1"},
		},
		P2P: P2PConfig{
			Enabled:    false,
			ListenAddr: "0.0.0.0",
			Port:       30313,
			MaxPeers:   50,
			// Format: multiaddr strings, e.g.
			//   "/ip4/203.0.113.1/tcp/30313/p2p/12D3KooW..."
			Seeds: []string{},
		},
		Redis: RedisConfig{
			Addr:    "127.0.0.1:6379",
			Channel: "hive-ledger:blocks",
		},
		Log: LogConfig{
			Level: "info",
		},
		Report: ReportConfig{
			Schedule: "0 * * * * *",
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Hive.Nodes = []string{"https://testnet.openhive.network"}
	cfg.RPC.Port = 8655
	cfg.P2P.Port = 30314
	cfg.Redis.Channel = "hive-ledger:testnet:blocks"
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
