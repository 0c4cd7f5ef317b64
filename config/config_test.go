package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults_Validate(t *testing.T) {
	for _, network := range []NetworkType{Mainnet, Testnet} {
		cfg := Default(network)
		if err := Validate(cfg); err != nil {
			t.Errorf("%s defaults invalid: %v", network, err)
		}
		if err := ProtocolFor(network).Validate(); err != nil {
			t.Errorf("%s protocol invalid: %v", network, err)
		}
	}
	if Default(Testnet).RPC.Port == Default(Mainnet).RPC.Port {
		t.Error("testnet and mainnet share the rpc port")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerd.conf")
	content := `# comment
hive.nodes = https://a.example, https://b.example
stream.headpoll = 500ms
validator.account = "alice"
validator.key = '5Kabc'
rpc.port = 9000

unknown.key = ignored
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg := DefaultMainnet()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if len(cfg.Hive.Nodes) != 2 || cfg.Hive.Nodes[1] != "https://b.example" {
		t.Errorf("hive.nodes = %v", cfg.Hive.Nodes)
	}
	if cfg.Stream.HeadPollInterval != 500*time.Millisecond {
		t.Errorf("stream.headpoll = %v", cfg.Stream.HeadPollInterval)
	}
	if cfg.Validator.Account != "alice" || cfg.Validator.Key != "5Kabc" {
		t.Errorf("validator = %+v", cfg.Validator)
	}
	if cfg.RPC.Port != 9000 {
		t.Errorf("rpc.port = %d", cfg.RPC.Port)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil || len(values) != 0 {
		t.Errorf("missing file: values=%v err=%v", values, err)
	}
}

func TestLoadFile_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.conf")
	os.WriteFile(path, []byte("just words\n"), 0644)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyFileConfig_BadValue(t *testing.T) {
	for _, kv := range [][2]string{
		{"rpc.port", "abc"},
		{"stream.lag", "-1"},
		{"hive.timeout", "soon"},
	} {
		err := ApplyFileConfig(DefaultMainnet(), map[string]string{kv[0]: kv[1]})
		if err == nil || !strings.Contains(err.Error(), kv[0]) {
			t.Errorf("%s=%s: err = %v", kv[0], kv[1], err)
		}
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{
		"--testnet",
		"--hive-nodes=https://x.example",
		"--start-block=42",
		"--rpc=false",
		"--p2p",
		"--log-json",
	})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	cfg := DefaultMainnet()
	ApplyFlags(cfg, f)

	if cfg.Network != Testnet {
		t.Errorf("network = %s", cfg.Network)
	}
	if len(cfg.Hive.Nodes) != 1 || cfg.Stream.StartBlock != 42 {
		t.Errorf("hive/stream = %+v %+v", cfg.Hive, cfg.Stream)
	}
	if cfg.RPC.Enabled || !cfg.P2P.Enabled || !cfg.Log.JSON {
		t.Errorf("bools: rpc=%v p2p=%v json=%v", cfg.RPC.Enabled, cfg.P2P.Enabled, cfg.Log.JSON)
	}
}

func TestParseFlags_UnsetBoolsKeepFile(t *testing.T) {
	f, err := ParseFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultMainnet()
	cfg.RPC.Enabled = false
	cfg.P2P.Enabled = true
	ApplyFlags(cfg, f)
	if cfg.RPC.Enabled || !cfg.P2P.Enabled {
		t.Error("unset flags overrode file values")
	}
}

func TestParseFlags_Errors(t *testing.T) {
	if _, err := ParseFlags([]string{"--no-such-flag"}); err == nil {
		t.Error("expected unknown flag error")
	}
	if _, err := ParseFlags([]string{"--p2p", "stray", "--rpc"}); err == nil {
		t.Error("expected stray positional error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"network", func(c *Config) { c.Network = "devnet" }},
		{"no nodes", func(c *Config) { c.Hive.Nodes = nil }},
		{"bad node url", func(c *Config) { c.Hive.Nodes = []string{"api.hive.blog"} }},
		{"safemode needs three", func(c *Config) {
			c.Hive.SafeMode = true
			c.Hive.Nodes = []string{"https://a.example", "https://b.example"}
		}},
		{"queue", func(c *Config) { c.Stream.QueueSize = 0 }},
		{"account without key", func(c *Config) { c.Validator.Account = "alice" }},
		{"attempts", func(c *Config) { c.Validator.SubmitAttempts = 0 }},
		{"rpc port", func(c *Config) { c.RPC.Port = 70000 }},
		{"redis channel", func(c *Config) { c.Redis.Enabled = true; c.Redis.Channel = "" }},
		{"cron", func(c *Config) { c.Report.Schedule = "every minute" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMainnet()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_PrecedenceAndProtocol(t *testing.T) {
	dir := t.TempDir()
	f, err := ParseFlags([]string{"--datadir=" + dir, "--network=testnet", "--rpc-port=9100"})
	if err != nil {
		t.Fatal(err)
	}

	// First start writes the default config file.
	cfg, proto, err := Load(f)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.RPC.Port != 9100 {
		t.Errorf("flag did not win: rpc.port = %d", cfg.RPC.Port)
	}
	if proto.ChainID != HiveTestnetChainID {
		t.Errorf("protocol chain id = %s", proto.ChainID)
	}

	// File values override defaults, flags override the file.
	conf := "network = testnet\nrpc.port = 9200\nstream.lag = 7\n"
	if err := os.WriteFile(cfg.ConfigFile(), []byte(conf), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, _, err = Load(f)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.LagBlocks != 7 || cfg.RPC.Port != 9100 {
		t.Errorf("lag=%d rpc.port=%d", cfg.Stream.LagBlocks, cfg.RPC.Port)
	}
}

func TestLoadProtocol(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "protocol.json")
	data := `{
  "chain_id": "` + HiveMainnetChainID + `",
  "custom_json_id": "game",
  "legacy_prefix": "g_",
  "start_block": 5,
  "tokens": {"liquid": "GOLD", "staked": "SGOLD"},
  "admins": ["root"],
  "validator": {"max_votes": 3, "unstaking_periods": 2, "tokens_per_block": 7},
  "heights": {"transfer_memo": 10}
}`
	os.WriteFile(path, []byte(data), 0644)

	p, err := LoadProtocol(path)
	if err != nil {
		t.Fatalf("LoadProtocol: %v", err)
	}
	if p.Envelope().ID != "game" || p.Envelope().LegacyPrefix != "g_" {
		t.Errorf("envelope = %+v", p.Envelope())
	}
	s := p.Settings()
	if s.Validator.TokensPerBlock != 7 || s.Heights["transfer_memo"] != 10 || s.Admins[0] != "root" {
		t.Errorf("settings = %+v", s)
	}

	// Settings must not alias the protocol.
	s.Heights["transfer_memo"] = 99
	if p.Heights["transfer_memo"] != 10 {
		t.Error("settings alias protocol heights")
	}

	os.WriteFile(path, []byte(`{"chain_id":"00","custom_json_id":"x"}`), 0644)
	if _, err := LoadProtocol(path); err == nil {
		t.Error("expected validation error")
	}
}
