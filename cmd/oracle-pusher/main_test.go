package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/oracle-pusher/internal/adapters/outbound/evm"
	"github.com/archon-research/oracle-pusher/internal/config"
	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain"
	"github.com/archon-research/oracle-pusher/internal/testutil"
)

const (
	testKey    = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testOracle = "0x8250f4aF4B972684F7b336503E2D6dFeDeB1487a"
)

func writeRunConfig(t *testing.T, baseRPC, gnosisRPC string) string {
	t.Helper()
	body := `
price_source:
  url: http://127.0.0.1:1
  max_retries: 1
poll_interval: 1h
shutdown_grace: 2s
health:
  addr: 127.0.0.1:0
networks:
  - name: base
    chain_id: 8453
    rpc_url: ` + baseRPC + `
    oracle_address: "` + testOracle + `"
  - name: gnosis
    chain_id: 100
    rpc_url: ` + gnosisRPC + `
    oracle_address: "` + testOracle + `"
feeds:
  - price_feed_id: ` + testutil.FeedID(1) + `
    symbol: BTC/USD
    deviation_threshold: 0.005
    heartbeat: 1h
    networks: [base, gnosis]
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		envVars   map[string]string
		wantPath  string
		wantError string
	}{
		{
			name:     "flag",
			args:     []string{"-config", "/etc/pusher.yaml"},
			wantPath: "/etc/pusher.yaml",
		},
		{
			name:     "env var",
			envVars:  map[string]string{"CONFIG_PATH": "/env/pusher.yaml"},
			wantPath: "/env/pusher.yaml",
		},
		{
			name:     "flag takes precedence over env var",
			args:     []string{"-config", "/cli.yaml"},
			envVars:  map[string]string{"CONFIG_PATH": "/env.yaml"},
			wantPath: "/cli.yaml",
		},
		{
			name:     "default",
			wantPath: "config.yaml",
		},
		{
			name:      "invalid flag",
			args:      []string{"--nonexistent"},
			wantError: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", "")
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := parseConfig(tt.args)
			if tt.wantError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantError) {
					t.Fatalf("error = %v, want it to contain %q", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.configPath != tt.wantPath {
				t.Errorf("configPath = %q, want %q", cfg.configPath, tt.wantPath)
			}
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	err := run(context.Background(), []string{"-config", t.TempDir() + "/missing.yaml"})
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestOpenStateRepository_None(t *testing.T) {
	repo, pool, closeFn, err := openStateRepository(context.Background(), config.StateConfig{Backend: config.BackendNone}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo != nil || pool != nil {
		t.Errorf("expected no repository, got %v / %v", repo, pool)
	}
	closeFn()
}

func TestBuildSinks_Empty(t *testing.T) {
	sinks, err := buildSinks(context.Background(), config.EventsConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sinks) != 0 {
		t.Errorf("expected no sinks, got %d", len(sinks))
	}
}

func TestRun_UnavailableNetworkDoesNotStopStartup(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv(config.PrivateKeyEnv, testKey)
	node := testutil.StartMockPythNode(t, 8453, common.HexToAddress(testOracle), blockchain.Multicall3)

	tests := []struct {
		name      string
		gnosisRPC string
	}{
		{name: "unreachable node", gnosisRPC: "http://127.0.0.1:1"},
		{name: "unsupported url", gnosisRPC: "ftp://127.0.0.1:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRunConfig(t, node.URL, tt.gnosisRPC)

			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()

			if err := run(ctx, []string{"-config", path}); err != nil {
				t.Fatalf("run: %v", err)
			}
		})
	}
}

func TestRun_NoUsableNetwork(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv(config.PrivateKeyEnv, testKey)
	path := writeRunConfig(t, "ftp://127.0.0.1:1", "ftp://127.0.0.1:2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, []string{"-config", path})
	if err == nil || !strings.Contains(err.Error(), "no network could be set up") {
		t.Fatalf("expected no-network error, got %v", err)
	}
}

func TestConnectedScope(t *testing.T) {
	base, err := entity.NewNetworkTarget("base", 8453, "http://base", testOracle, 0)
	if err != nil {
		t.Fatalf("NewNetworkTarget: %v", err)
	}
	gnosis, err := entity.NewNetworkTarget("gnosis", 100, "http://gnosis", testOracle, 0)
	if err != nil {
		t.Fatalf("NewNetworkTarget: %v", err)
	}
	both := entity.PriceFeed{ID: testutil.FeedID(1), Networks: []string{"base", "gnosis"}}
	gnosisOnly := entity.PriceFeed{ID: testutil.FeedID(2), Networks: []string{"gnosis"}}

	feeds, targets := connectedScope(
		[]entity.PriceFeed{both, gnosisOnly},
		[]*entity.NetworkTarget{base, gnosis},
		map[string]*evm.Network{"base": {}},
	)

	if len(targets) != 1 || targets[0].Name != "base" {
		t.Fatalf("targets = %v, want [base]", targets)
	}
	if len(feeds) != 1 || feeds[0].ID != both.ID {
		t.Fatalf("feeds = %+v, want only the feed published to base", feeds)
	}
	if got := feeds[0].Networks; len(got) != 1 || got[0] != "base" {
		t.Errorf("feed networks = %v, want [base]", got)
	}
	if len(both.Networks) != 2 {
		t.Errorf("input feed was modified: %v", both.Networks)
	}
}
