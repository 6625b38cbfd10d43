// Package redis provides a Redis implementation of the FeedStateRepository
// port.
//
// All confirmed states live in one hash at <prefix>:feed_state, keyed by
// feedID:network. Each value is a small JSON document holding the price as
// a decimal string and its publish time.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// Compile-time check that FeedStateRepository implements outbound.FeedStateRepository
var _ outbound.FeedStateRepository = (*FeedStateRepository)(nil)

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to all keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		DB:        0,
		KeyPrefix: "oracle-pusher",
	}
}

// hashClient is the subset of redis.Cmdable the repository uses.
type hashClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// FeedStateRepository is a Redis implementation of the outbound.FeedStateRepository port.
// It assumes a single writer per key prefix.
type FeedStateRepository struct {
	client hashClient
	closer func() error
	key    string
	logger *slog.Logger
}

type storedState struct {
	Price       string    `json:"price"`
	PublishTime time.Time `json:"publish_time"`
}

// NewFeedStateRepository creates a repository backed by a new Redis client.
func NewFeedStateRepository(cfg Config, logger *slog.Logger) (*FeedStateRepository, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRepository(client, client.Close, cfg.KeyPrefix, logger), nil
}

func newRepository(client hashClient, closer func() error, prefix string, logger *slog.Logger) *FeedStateRepository {
	if prefix == "" {
		prefix = ConfigDefaults().KeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedStateRepository{
		client: client,
		closer: closer,
		key:    prefix + ":feed_state",
		logger: logger.With("component", "redis-feed-state"),
	}
}

// Ping checks the Redis connection.
func (r *FeedStateRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *FeedStateRepository) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

func field(feedID, network string) string {
	return feedID + ":" + network
}

// LoadConfirmed returns every persisted state. Undecodable entries are
// skipped with a warning.
func (r *FeedStateRepository) LoadConfirmed(ctx context.Context) ([]entity.FeedNetworkState, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load feed state: %w", err)
	}

	states := make([]entity.FeedNetworkState, 0, len(all))
	for f, raw := range all {
		s, err := decode(f, raw)
		if err != nil {
			r.logger.Warn("skipping invalid feed state entry", "field", f, "error", err)
			continue
		}
		states = append(states, s)
	}
	return states, nil
}

// SaveConfirmed writes states that are at least as recent as what is stored.
func (r *FeedStateRepository) SaveConfirmed(ctx context.Context, states []entity.FeedNetworkState) error {
	if len(states) == 0 {
		return nil
	}

	existing, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return fmt.Errorf("failed to read feed state: %w", err)
	}

	values := make([]interface{}, 0, 2*len(states))
	for _, s := range states {
		f := field(s.FeedID, s.Network)
		if raw, ok := existing[f]; ok {
			if prev, err := decode(f, raw); err == nil && prev.LastConfirmedTime.After(s.LastConfirmedTime) {
				continue
			}
		}
		data, err := json.Marshal(storedState{
			Price:       s.LastConfirmedPrice.String(),
			PublishTime: s.LastConfirmedTime.UTC(),
		})
		if err != nil {
			return fmt.Errorf("encoding feed state %s: %w", f, err)
		}
		values = append(values, f, string(data))
	}
	if len(values) == 0 {
		return nil
	}

	if err := r.client.HSet(ctx, r.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to save feed state: %w", err)
	}
	return nil
}

func decode(f, raw string) (entity.FeedNetworkState, error) {
	feedID, network, ok := strings.Cut(f, ":")
	if !ok || feedID == "" || network == "" {
		return entity.FeedNetworkState{}, fmt.Errorf("malformed field %q", f)
	}
	var st storedState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return entity.FeedNetworkState{}, fmt.Errorf("decoding %q: %w", f, err)
	}
	price, err := decimal.NewFromString(st.Price)
	if err != nil {
		return entity.FeedNetworkState{}, fmt.Errorf("decoding price of %q: %w", f, err)
	}
	return entity.FeedNetworkState{
		FeedID:             feedID,
		Network:            network,
		LastConfirmedPrice: price,
		LastConfirmedTime:  st.PublishTime.UTC(),
	}, nil
}
