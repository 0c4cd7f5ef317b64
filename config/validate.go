package config

import (
	"fmt"
	"net/url"

	"github.com/robfig/cron/v3"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}

	if len(cfg.Hive.Nodes) == 0 {
		return fmt.Errorf("hive.nodes must list at least one node")
	}
	for _, n := range append(append([]string(nil), cfg.Hive.Nodes...), cfg.Hive.SafeModeNodes...) {
		u, err := url.Parse(n)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("hive node %q must be an http(s) URL", n)
		}
	}
	if cfg.Hive.SafeMode {
		nodes := cfg.Hive.SafeModeNodes
		if len(nodes) == 0 {
			nodes = cfg.Hive.Nodes
		}
		if len(nodes) < 3 {
			return fmt.Errorf("hive.safemode needs at least 3 nodes, have %d", len(nodes))
		}
	}

	if cfg.Stream.QueueSize <= 0 {
		return fmt.Errorf("stream.queue must be positive")
	}
	if cfg.Stream.Concurrency <= 0 {
		return fmt.Errorf("stream.concurrency must be positive")
	}
	if cfg.Stream.HeadPollInterval <= 0 {
		return fmt.Errorf("stream.headpoll must be positive")
	}

	if (cfg.Validator.Account == "") != (cfg.Validator.Key == "") {
		return fmt.Errorf("validator.account and validator.key must be set together")
	}
	if cfg.Validator.SubmitAttempts < 1 {
		return fmt.Errorf("validator.submit.attempts must be at least 1")
	}

	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.Redis.Enabled && (cfg.Redis.Addr == "" || cfg.Redis.Channel == "") {
		return fmt.Errorf("redis.addr and redis.channel are required when redis is enabled")
	}

	if cfg.Report.Schedule != "" {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.Report.Schedule); err != nil {
			return fmt.Errorf("report.schedule: %w", err)
		}
	}
	return nil
}
