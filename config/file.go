package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a node config value by key.
// Only node-operational settings, NOT protocol rules.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value
	case "protocol.file":
		cfg.ProtocolFile = value

	// Hive
	case "hive.nodes":
		cfg.Hive.Nodes = parseStringList(value)
	case "hive.timeout":
		cfg.Hive.Timeout, err = time.ParseDuration(value)
	case "hive.safemode":
		cfg.Hive.SafeMode = parseBool(value)
	case "hive.safemode.nodes":
		cfg.Hive.SafeModeNodes = parseStringList(value)
	case "hive.safemode.sample":
		cfg.Hive.SafeModeSample, err = strconv.Atoi(value)

	// Stream
	case "stream.lag":
		cfg.Stream.LagBlocks, err = strconv.ParseUint(value, 10, 64)
	case "stream.queue":
		cfg.Stream.QueueSize, err = strconv.Atoi(value)
	case "stream.concurrency":
		cfg.Stream.Concurrency, err = strconv.Atoi(value)
	case "stream.headpoll":
		cfg.Stream.HeadPollInterval, err = time.ParseDuration(value)
	case "stream.irreversible":
		cfg.Stream.Irreversible = parseBool(value)
	case "stream.start":
		cfg.Stream.StartBlock, err = strconv.ParseUint(value, 10, 64)

	// Validator
	case "validator.account":
		cfg.Validator.Account = value
	case "validator.key":
		cfg.Validator.Key = value
	case "validator.submit.attempts":
		cfg.Validator.SubmitAttempts, err = strconv.Atoi(value)
	case "validator.submit.delay":
		cfg.Validator.SubmitDelay, err = time.ParseDuration(value)

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		cfg.RPC.Port, err = strconv.Atoi(value)
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)

	// P2P
	case "p2p.enabled", "p2p":
		cfg.P2P.Enabled = parseBool(value)
	case "p2p.listen":
		cfg.P2P.ListenAddr = value
	case "p2p.port":
		cfg.P2P.Port, err = strconv.Atoi(value)
	case "p2p.seeds":
		cfg.P2P.Seeds = parseStringList(value)
	case "p2p.maxpeers":
		cfg.P2P.MaxPeers, err = strconv.Atoi(value)
	case "p2p.nodiscover":
		cfg.P2P.NoDiscover = parseBool(value)
	case "p2p.dhtserver":
		cfg.P2P.DHTServer = parseBool(value)

	// Redis
	case "redis.enabled", "redis":
		cfg.Redis.Enabled = parseBool(value)
	case "redis.addr":
		cfg.Redis.Addr = value
	case "redis.password":
		cfg.Redis.Password = value
	case "redis.db":
		cfg.Redis.DB, err = strconv.Atoi(value)
	case "redis.channel":
		cfg.Redis.Channel = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	// Report
	case "report.schedule":
		cfg.Report.Schedule = value

	default:
		// Unknown keys are ignored
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	d := Default(network)
	content := `# Hive Ledger Validator Node Configuration
#
# This file contains NODE settings only. Ledger protocol rules are built in
# per network (or loaded from protocol.file) and must match every other
# validator.

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.hive-ledger)
# datadir = ~/.hive-ledger

# protocol.file = /path/to/protocol.json

# ============================================================================
# Hive upstream
# ============================================================================

hive.nodes = ` + strings.Join(d.Hive.Nodes, ",") + `
hive.timeout = 10s

# Ask several nodes per block and require two thirds agreement
hive.safemode = false
# hive.safemode.nodes =
# hive.safemode.sample = 3

# ============================================================================
# Block stream
# ============================================================================

stream.irreversible = true
stream.lag = 0
stream.queue = 100
stream.concurrency = 8
stream.headpoll = 3s
# stream.start =

# ============================================================================
# Validator
# ============================================================================

# validator.account =
# validator.key = <WIF active key>
validator.submit.attempts = 5
validator.submit.delay = 3s

# ============================================================================
# Diagnostics server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = ` + strconv.Itoa(d.RPC.Port) + `
rpc.allowed = 127.0.0.1
# rpc.cors = http://localhost:3000

# ============================================================================
# Hash gossip
# ============================================================================

p2p.enabled = false
p2p.listen = 0.0.0.0
p2p.port = ` + strconv.Itoa(d.P2P.Port) + `
p2p.maxpeers = 50
# p2p.seeds =
# p2p.nodiscover = false
# p2p.dhtserver = false

# ============================================================================
# Redis block publisher
# ============================================================================

redis.enabled = false
redis.addr = 127.0.0.1:6379
redis.channel = ` + d.Redis.Channel + `

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false

# Status report (cron with seconds, empty disables)
report.schedule = ` + d.Report.Schedule + `
`
	return os.WriteFile(path, []byte(content), 0644)
}
