package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// Compile-time check that FeedStateRepository implements outbound.FeedStateRepository.
var _ outbound.FeedStateRepository = (*FeedStateRepository)(nil)

// FeedStateRepository is a PostgreSQL implementation of the outbound.FeedStateRepository port.
type FeedStateRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewFeedStateRepository creates a new PostgreSQL feed state repository.
func NewFeedStateRepository(pool *pgxpool.Pool, logger *slog.Logger) (*FeedStateRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedStateRepository{
		pool:   pool,
		logger: logger.With("component", "feed-state-repository"),
	}, nil
}

// LoadConfirmed returns every persisted confirmed state.
func (r *FeedStateRepository) LoadConfirmed(ctx context.Context) ([]entity.FeedNetworkState, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT feed_id, network, price::text, publish_time
		FROM feed_network_state
		ORDER BY feed_id, network
	`)
	if err != nil {
		return nil, fmt.Errorf("querying feed state: %w", err)
	}
	defer rows.Close()

	var states []entity.FeedNetworkState
	for rows.Next() {
		var s entity.FeedNetworkState
		var price string
		if err := rows.Scan(&s.FeedID, &s.Network, &price, &s.LastConfirmedTime); err != nil {
			return nil, fmt.Errorf("scanning feed state: %w", err)
		}
		s.LastConfirmedPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("feed %s on %s: invalid price %q: %w", s.FeedID, s.Network, price, err)
		}
		s.LastConfirmedTime = s.LastConfirmedTime.UTC()
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feed state: %w", err)
	}
	return states, nil
}

// SaveConfirmed upserts states in one transaction. A row is only replaced by
// a state with an equal or later publish time.
func (r *FeedStateRepository) SaveConfirmed(ctx context.Context, states []entity.FeedNetworkState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(ctx, tx, r.logger)

	batch := &pgx.Batch{}
	for _, s := range states {
		batch.Queue(`
			INSERT INTO feed_network_state (feed_id, network, price, publish_time, updated_at)
			VALUES ($1, $2, $3::numeric, $4, now())
			ON CONFLICT (feed_id, network) DO UPDATE
			SET price = EXCLUDED.price,
			    publish_time = EXCLUDED.publish_time,
			    updated_at = now()
			WHERE feed_network_state.publish_time <= EXCLUDED.publish_time
		`, s.FeedID, s.Network, s.LastConfirmedPrice.String(), s.LastConfirmedTime)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d feed states: %w", len(states), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing feed state: %w", err)
	}
	return nil
}
