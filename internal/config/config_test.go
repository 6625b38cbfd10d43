package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	testFeedBTC = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
	testFeedETH = "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
	testKey     = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

const validYAML = `
price_source:
  url: https://hermes.example.org
poll_interval: 15s
networks:
  - name: base
    chain_id: 8453
    rpc_url: ${TEST_BASE_RPC}
    oracle_address: "0x8250f4aF4B972684F7b336503E2D6dFeDeB1487a"
    max_feeds_per_batch: 10
    native_feed_id: ` + testFeedETH + `
    block_explorer: https://basescan.org
    multicall_address: "0xcA11bde05977b3631167028862bE2a173976CA11"
  - name: gnosis
    chain_id: 100
    rpc_url: https://rpc.gnosis.example
    oracle_address: "0x2880aB155794e7179c9eE2e38200202908C17B43"
feeds:
  - price_feed_id: ` + testFeedBTC + `
    symbol: BTC/USD
    deviation_threshold: 0.005
    heartbeat: 1h
    networks: [base, gnosis]
  - price_feed_id: ` + testFeedETH + `
    symbol: ETH/USD
    deviation_threshold: 0.01
    heartbeat: 10m
    networks: [base]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	t.Setenv("TEST_BASE_RPC", "https://base.example")

	cfg, err := LoadAndValidate(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}

	if cfg.PriceSource.URL != "https://hermes.example.org" {
		t.Errorf("price source url = %q", cfg.PriceSource.URL)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Errorf("poll interval = %s, want 15s", cfg.PollInterval)
	}
	if cfg.Networks[0].RPCURL != "https://base.example" {
		t.Errorf("rpc url not expanded: %q", cfg.Networks[0].RPCURL)
	}
	if cfg.Networks[1].OracleAddress != "0x2880aB155794e7179c9eE2e38200202908C17B43" {
		t.Errorf("oracle address = %q", cfg.Networks[1].OracleAddress)
	}
	if cfg.Feeds[1].Heartbeat != 10*time.Minute {
		t.Errorf("heartbeat = %s, want 10m", cfg.Feeds[1].Heartbeat)
	}

	// defaults
	if cfg.CycleTimeout != 2*time.Minute {
		t.Errorf("cycle timeout = %s", cfg.CycleTimeout)
	}
	if cfg.ShutdownGrace != 30*time.Second {
		t.Errorf("shutdown grace = %s", cfg.ShutdownGrace)
	}
	if cfg.State.Backend != BackendNone {
		t.Errorf("state backend = %q", cfg.State.Backend)
	}
	if cfg.Health.Addr != ":8080" {
		t.Errorf("health addr = %q", cfg.Health.Addr)
	}
	if cfg.Events.RecentOutcomes != 100 {
		t.Errorf("recent outcomes = %d", cfg.Events.RecentOutcomes)
	}
	if cfg.PriceSource.Timeout != 10*time.Second || cfg.PriceSource.MaxRetries != 2 {
		t.Errorf("price source defaults = %+v", cfg.PriceSource)
	}
}

func TestApplyDefaults_LegacyAliases(t *testing.T) {
	cfg, err := Parse([]byte("pyth_hermes_url: https://legacy.example\npoll_interval_seconds: 45\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.applyDefaults()

	if cfg.PriceSource.URL != "https://legacy.example" {
		t.Errorf("url = %q, want legacy alias", cfg.PriceSource.URL)
	}
	if cfg.PollInterval != 45*time.Second {
		t.Errorf("poll interval = %s, want 45s", cfg.PollInterval)
	}
}

// legacyJSON is a config written with the legacy field names, where
// deviation thresholds are percentages.
const legacyJSON = `{
  "pyth_hermes_url": "https://hermes.pyth.network",
  "poll_interval_seconds": 60,
  "networks": [
    {"name": "gnosis", "chain_id": 100, "rpc_url": "https://rpc.gnosis.example",
     "pyth_contract": "0x2880aB155794e7179c9eE2e38200202908C17B43"}
  ],
  "feeds": [
    {"price_feed_id": "` + testFeedBTC + `", "symbol": "BTC/USD",
     "deviation_threshold": 0.5, "heartbeat_seconds": 14400, "networks": ["gnosis"]}
  ]
}`

func TestParse_LegacyFile(t *testing.T) {
	cfg, err := Parse([]byte(legacyJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Networks[0].OracleAddress != "0x2880aB155794e7179c9eE2e38200202908C17B43" {
		t.Errorf("pyth_contract alias not applied: %q", cfg.Networks[0].OracleAddress)
	}
	if cfg.Feeds[0].Heartbeat != 4*time.Hour {
		t.Errorf("heartbeat_seconds alias = %s, want 4h", cfg.Feeds[0].Heartbeat)
	}

	rt, err := NewRuntime(cfg, func(string) (string, bool) { return testKey, true })
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	want := decimal.RequireFromString("0.005")
	if !rt.Feeds[0].DeviationThreshold.Equal(want) {
		t.Errorf("threshold = %s, want %s (0.5%%)", rt.Feeds[0].DeviationThreshold, want)
	}
}

func TestParse_ThresholdUnits(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{
			name: "fraction in current shape",
			body: "feeds:\n  - deviation_threshold: 0.005\n    heartbeat: 1h\n",
			want: 0.005,
		},
		{
			name: "percent with heartbeat_seconds",
			body: "feeds:\n  - deviation_threshold: 1\n    heartbeat_seconds: 60\n",
			want: 0.01,
		},
		{
			name: "percent with pyth_contract",
			body: "networks:\n  - pyth_contract: \"0x01\"\nfeeds:\n  - deviation_threshold: 2\n",
			want: 0.02,
		},
		{
			name: "percent with poll_interval_seconds",
			body: "poll_interval_seconds: 10\nfeeds:\n  - deviation_threshold: 0.25\n",
			want: 0.0025,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.body))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := cfg.Feeds[0].DeviationThreshold; math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("threshold = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "networks: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "no networks",
			mutate:  func(c *Config) { c.Networks = nil },
			wantErr: "at least one network",
		},
		{
			name:    "no feeds",
			mutate:  func(c *Config) { c.Feeds = nil },
			wantErr: "at least one feed",
		},
		{
			name:    "duplicate network",
			mutate:  func(c *Config) { c.Networks = append(c.Networks, c.Networks[0]) },
			wantErr: "duplicate name",
		},
		{
			name:    "bad oracle address",
			mutate:  func(c *Config) { c.Networks[0].OracleAddress = "0x1234" },
			wantErr: "invalid oracle_address",
		},
		{
			name:    "bad multicall address",
			mutate:  func(c *Config) { c.Networks[0].MulticallAddress = "nope" },
			wantErr: "invalid multicall_address",
		},
		{
			name:    "zero chain id",
			mutate:  func(c *Config) { c.Networks[0].ChainID = 0 },
			wantErr: "chain_id must be positive",
		},
		{
			name:    "bad feed id",
			mutate:  func(c *Config) { c.Feeds[0].ID = "0xabc" },
			wantErr: "feed BTC/USD",
		},
		{
			name:    "duplicate feed id",
			mutate:  func(c *Config) { c.Feeds[1].ID = strings.ToUpper(c.Feeds[0].ID[2:]) },
			wantErr: "duplicate price_feed_id",
		},
		{
			name:    "negative threshold",
			mutate:  func(c *Config) { c.Feeds[0].DeviationThreshold = -0.1 },
			wantErr: "deviation_threshold",
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Feeds[0].DeviationThreshold = 5 },
			wantErr: "must not exceed 1",
		},
		{
			name:    "missing heartbeat",
			mutate:  func(c *Config) { c.Feeds[0].Heartbeat = 0 },
			wantErr: "heartbeat must be positive",
		},
		{
			name:    "unknown network",
			mutate:  func(c *Config) { c.Feeds[0].Networks = []string{"mainnet"} },
			wantErr: `unknown network "mainnet"`,
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.State.Backend = BackendPostgres },
			wantErr: "database_url",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.State.Backend = BackendRedis },
			wantErr: "redis.addr",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.State.Backend = "sqlite" },
			wantErr: "state.backend",
		},
		{
			name:    "sample rate out of range",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BASE_RPC", "https://base.example")
			cfg, err := Parse([]byte(validYAML))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.State.Backend = "sqlite"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"network", "feed", "state.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestNewRuntime(t *testing.T) {
	t.Setenv("TEST_BASE_RPC", "https://base.example")
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.applyDefaults()

	lookup := func(key string) (string, bool) {
		if key == PrivateKeyEnv {
			return "0x" + testKey, true
		}
		return "", false
	}

	rt, err := NewRuntime(cfg, lookup)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	if len(rt.Networks) != 2 || len(rt.Feeds) != 2 {
		t.Fatalf("got %d networks, %d feeds", len(rt.Networks), len(rt.Feeds))
	}

	base := rt.Networks[0]
	if !base.HasMulticall() {
		t.Error("base should have multicall")
	}
	if base.MaxFeedsPerBatch != 10 {
		t.Errorf("max feeds = %d", base.MaxFeedsPerBatch)
	}
	if base.NativeFeedID != testFeedETH[2:] {
		t.Errorf("native feed id = %q", base.NativeFeedID)
	}
	if rt.Networks[1].HasMulticall() {
		t.Error("gnosis should not have multicall")
	}

	btc := rt.Feeds[0]
	if btc.ID != testFeedBTC[2:] {
		t.Errorf("feed id = %q, want normalized", btc.ID)
	}
	if !btc.DeviationThreshold.Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("threshold = %s", btc.DeviationThreshold)
	}
	if btc.HeartbeatInterval != time.Hour {
		t.Errorf("heartbeat = %s", btc.HeartbeatInterval)
	}

	if rt.Signer.Key() == nil {
		t.Fatal("signer key not parsed")
	}
	if got := rt.Signer.Address().Hex(); got != "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23" {
		t.Errorf("signer address = %s", got)
	}
}

func TestNewRuntime_MissingKey(t *testing.T) {
	t.Setenv("TEST_BASE_RPC", "https://base.example")
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.applyDefaults()

	_, err = NewRuntime(cfg, func(string) (string, bool) { return "", false })
	if err == nil || !strings.Contains(err.Error(), PrivateKeyEnv) {
		t.Fatalf("expected missing key error, got %v", err)
	}

	if _, err := NewRuntime(nil, nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestParseSigner_InvalidKeyNotEchoed(t *testing.T) {
	_, err := ParseSigner("zz" + testKey[2:])
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), testKey[2:]) {
		t.Errorf("error leaks key material: %v", err)
	}
}

func TestSigner_Redacted(t *testing.T) {
	s, err := ParseSigner(testKey)
	if err != nil {
		t.Fatalf("ParseSigner: %v", err)
	}

	for _, out := range []string{
		fmt.Sprintf("%v", s),
		fmt.Sprintf("%+v", s),
		fmt.Sprintf("%#v", s),
		fmt.Sprintf("%s", s),
		s.LogValue().String(),
	} {
		if strings.Contains(out, testKey) || out != redacted {
			t.Errorf("formatted signer = %q, want %q", out, redacted)
		}
	}

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("signer", "signer", s)
	if strings.Contains(buf.String(), testKey) {
		t.Errorf("log output leaks key: %s", buf.String())
	}
}
