// Package config loads the pusher's YAML configuration file and the signing
// secret from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

// State backends.
const (
	BackendNone     = "none"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the root configuration file.
type Config struct {
	PriceSource PriceSourceConfig `yaml:"price_source"`
	// PythHermesURL is accepted as an alias of price_source.url.
	PythHermesURL string `yaml:"pyth_hermes_url"`

	PollInterval time.Duration `yaml:"poll_interval"`
	// PollIntervalSeconds is accepted as an alias of poll_interval.
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	CycleTimeout        time.Duration `yaml:"cycle_timeout"`
	ShutdownGrace       time.Duration `yaml:"shutdown_grace"`

	Submitter SubmitterConfig `yaml:"submitter"`
	Networks  []NetworkConfig `yaml:"networks"`
	Feeds     []FeedConfig    `yaml:"feeds"`

	State     StateConfig     `yaml:"state"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Health    HealthConfig    `yaml:"health"`
}

// PriceSourceConfig holds the Hermes client settings.
type PriceSourceConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
}

// SubmitterConfig holds the per-network submission state machine settings.
// Zero values fall back to the submitter's defaults.
type SubmitterConfig struct {
	MaxAttempts         int           `yaml:"max_attempts"`
	InitialBackoff      time.Duration `yaml:"initial_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
	BackoffFactor       float64       `yaml:"backoff_factor"`
	ReceiptTimeout      time.Duration `yaml:"receipt_timeout"`
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval"`
	RPCTimeout          time.Duration `yaml:"rpc_timeout"`
	GasLimitMultiplier  float64       `yaml:"gas_limit_multiplier"`
	FeeBumpPercent      int64         `yaml:"fee_bump_percent"`
}

// NetworkConfig describes one chain the oracle is published on.
type NetworkConfig struct {
	Name          string `yaml:"name"`
	ChainID       int64  `yaml:"chain_id"`
	RPCURL        string `yaml:"rpc_url"`
	OracleAddress string `yaml:"oracle_address"`
	// PythContract is accepted as an alias of oracle_address.
	PythContract     string `yaml:"pyth_contract"`
	MaxFeedsPerBatch int    `yaml:"max_feeds_per_batch"`
	NativeFeedID     string `yaml:"native_feed_id"`
	BlockExplorer    string `yaml:"block_explorer"`
	MulticallAddress string `yaml:"multicall_address"`
}

// FeedConfig describes one price feed.
type FeedConfig struct {
	ID                 string        `yaml:"price_feed_id"`
	Symbol             string        `yaml:"symbol"`
	// DeviationThreshold is a fraction (0.005 is 0.5%), or a percent in
	// legacy-shaped files.
	DeviationThreshold float64       `yaml:"deviation_threshold"`
	Heartbeat          time.Duration `yaml:"heartbeat"`
	// HeartbeatSeconds is accepted as an alias of heartbeat.
	HeartbeatSeconds int      `yaml:"heartbeat_seconds"`
	Networks         []string `yaml:"networks"`
}

// StateConfig selects where confirmed feed state is persisted.
type StateConfig struct {
	Backend     string      `yaml:"backend"`
	DatabaseURL string      `yaml:"database_url"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis state backend settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// EventsConfig configures the outcome sinks.
type EventsConfig struct {
	SNSTopicARN string `yaml:"sns_topic_arn"`
	AWSRegion   string `yaml:"aws_region"`
	// SNSEndpoint overrides the SNS endpoint (e.g., LocalStack).
	SNSEndpoint    string `yaml:"sns_endpoint"`
	RecentOutcomes int    `yaml:"recent_outcomes"`
}

// TelemetryConfig configures metrics and tracing export.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	Environment    string  `yaml:"environment"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	JaegerEndpoint string  `yaml:"jaeger_endpoint"`
	TraceStdout    bool    `yaml:"trace_stdout"`
	SampleRate     float64 `yaml:"sample_rate"`
}

// HealthConfig configures the health and status server.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// legacyShape reports whether the file uses any of the legacy field names
// (pyth_hermes_url, poll_interval_seconds, pyth_contract, heartbeat_seconds).
func (c *Config) legacyShape() bool {
	if c.PythHermesURL != "" || c.PollIntervalSeconds > 0 {
		return true
	}
	for _, n := range c.Networks {
		if n.PythContract != "" {
			return true
		}
	}
	for _, f := range c.Feeds {
		if f.HeartbeatSeconds > 0 {
			return true
		}
	}
	return false
}

// percentThresholdsToFractions rewrites deviation thresholds given in
// percent (0.5 meaning 0.5%) as fractions.
func (c *Config) percentThresholdsToFractions() {
	for i := range c.Feeds {
		c.Feeds[i].DeviationThreshold /= 100
	}
}

func (c *Config) applyDefaults() {
	if c.PriceSource.URL == "" {
		c.PriceSource.URL = c.PythHermesURL
	}
	if c.PriceSource.URL == "" {
		c.PriceSource.URL = "https://hermes.pyth.network"
	}
	if c.PriceSource.Timeout == 0 {
		c.PriceSource.Timeout = 10 * time.Second
	}
	if c.PriceSource.MaxRetries == 0 {
		c.PriceSource.MaxRetries = 2
	}
	if c.PriceSource.RateLimitPerSec == 0 {
		c.PriceSource.RateLimitPerSec = 5
	}

	if c.PollInterval == 0 && c.PollIntervalSeconds > 0 {
		c.PollInterval = time.Duration(c.PollIntervalSeconds) * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.CycleTimeout == 0 {
		c.CycleTimeout = 2 * time.Minute
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 30 * time.Second
	}

	for i := range c.Networks {
		if c.Networks[i].OracleAddress == "" {
			c.Networks[i].OracleAddress = c.Networks[i].PythContract
		}
	}
	for i := range c.Feeds {
		if c.Feeds[i].Heartbeat == 0 && c.Feeds[i].HeartbeatSeconds > 0 {
			c.Feeds[i].Heartbeat = time.Duration(c.Feeds[i].HeartbeatSeconds) * time.Second
		}
	}

	if c.State.Backend == "" {
		c.State.Backend = BackendNone
	}
	if c.State.Redis.KeyPrefix == "" {
		c.State.Redis.KeyPrefix = "oracle-pusher"
	}
	if c.Events.RecentOutcomes == 0 {
		c.Events.RecentOutcomes = 100
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "oracle-pusher"
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = "development"
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.CycleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("cycle_timeout must be positive, got %s", c.CycleTimeout))
	}
	if len(c.Networks) == 0 {
		errs = append(errs, errors.New("at least one network is required"))
	}
	if len(c.Feeds) == 0 {
		errs = append(errs, errors.New("at least one feed is required"))
	}

	names := make(map[string]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("networks[%d]: name is required", i))
			continue
		}
		if names[n.Name] {
			errs = append(errs, fmt.Errorf("network %s: duplicate name", n.Name))
		}
		names[n.Name] = true

		if n.ChainID <= 0 {
			errs = append(errs, fmt.Errorf("network %s: chain_id must be positive", n.Name))
		}
		if n.RPCURL == "" {
			errs = append(errs, fmt.Errorf("network %s: rpc_url is required", n.Name))
		}
		if !common.IsHexAddress(n.OracleAddress) {
			errs = append(errs, fmt.Errorf("network %s: invalid oracle_address %q", n.Name, n.OracleAddress))
		}
		if n.MulticallAddress != "" && !common.IsHexAddress(n.MulticallAddress) {
			errs = append(errs, fmt.Errorf("network %s: invalid multicall_address %q", n.Name, n.MulticallAddress))
		}
		if n.NativeFeedID != "" {
			if _, err := entity.NormalizeFeedID(n.NativeFeedID); err != nil {
				errs = append(errs, fmt.Errorf("network %s: native_feed_id: %w", n.Name, err))
			}
		}
	}

	feedKeys := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		label := f.Symbol
		if label == "" {
			label = fmt.Sprintf("feeds[%d]", i)
		}
		id, err := entity.NormalizeFeedID(f.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", label, err))
		} else if feedKeys[id] {
			errs = append(errs, fmt.Errorf("feed %s: duplicate price_feed_id", label))
		}
		feedKeys[id] = true

		if f.DeviationThreshold < 0 {
			errs = append(errs, fmt.Errorf("feed %s: deviation_threshold must be non-negative", label))
		} else if f.DeviationThreshold > 1 {
			errs = append(errs, fmt.Errorf("feed %s: deviation_threshold %g is a fraction and must not exceed 1", label, f.DeviationThreshold))
		}
		if f.Heartbeat <= 0 {
			errs = append(errs, fmt.Errorf("feed %s: heartbeat must be positive", label))
		}
		if len(f.Networks) == 0 {
			errs = append(errs, fmt.Errorf("feed %s: at least one network is required", label))
		}
		for _, n := range f.Networks {
			if !names[n] {
				errs = append(errs, fmt.Errorf("feed %s: unknown network %q", label, n))
			}
		}
	}

	switch c.State.Backend {
	case BackendNone:
	case BackendPostgres:
		if c.State.DatabaseURL == "" {
			errs = append(errs, errors.New("state.database_url is required for the postgres backend"))
		}
	case BackendRedis:
		if c.State.Redis.Addr == "" {
			errs = append(errs, errors.New("state.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.backend must be none, postgres or redis, got %q", c.State.Backend))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be within [0, 1], got %v", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}
