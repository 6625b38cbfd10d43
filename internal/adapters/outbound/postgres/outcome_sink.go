package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// Compile-time check that OutcomeSink implements outbound.OutcomeSink.
var _ outbound.OutcomeSink = (*OutcomeSink)(nil)

// OutcomeSink records every submission outcome in oracle_submission.
// Republishing the same (cycle, network, sequence) is a no-op.
type OutcomeSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewOutcomeSink creates a new PostgreSQL outcome sink. The pool is owned
// by the caller.
func NewOutcomeSink(pool *pgxpool.Pool, logger *slog.Logger) (*OutcomeSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeSink{
		pool:   pool,
		logger: logger.With("component", "outcome-sink-postgres"),
	}, nil
}

// Publish inserts the outcome.
func (s *OutcomeSink) Publish(ctx context.Context, o entity.SubmissionOutcome) error {
	var txHash *string
	var blockNumber, gasUsed *int64
	if o.Success {
		h := o.TxHash.Hex()
		txHash = &h
		bn, gu := int64(o.BlockNumber), int64(o.GasUsed)
		blockNumber, gasUsed = &bn, &gu
	}
	var feeNative *string
	if o.FeeWei != nil {
		fn := o.FeeNative.String()
		feeNative = &fn
	}

	feedIDs, confirmed := o.FeedIDs, o.ConfirmedFeedIDs
	if feedIDs == nil {
		feedIDs = []string{}
	}
	if confirmed == nil {
		confirmed = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO oracle_submission (
			cycle_id, network, chain_id, sequence, success,
			feed_ids, confirmed_feed_ids, error_class, error,
			tx_hash, block_number, gas_used,
			update_fee_wei, fee_wei, fee_native, fee_usd,
			attempts, started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13::numeric, $14::numeric, $15::numeric, $16::numeric,
			$17, $18, $19
		)
		ON CONFLICT (cycle_id, network, sequence) DO NOTHING
	`,
		o.CycleID, o.Network, o.ChainID, o.Sequence, o.Success,
		feedIDs, confirmed, nullableString(string(o.ErrorClass)), nullableString(o.ErrorMessage()),
		txHash, blockNumber, gasUsed,
		bigIntToNumeric(o.UpdateFee), bigIntToNumeric(o.FeeWei), feeNative, decimalToNumeric(o.FeeUSD),
		o.Attempts, o.StartedAt, o.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting submission %s/%s/%d: %w", o.CycleID, o.Network, o.Sequence, err)
	}
	return nil
}

// Close is a no-op; the pool is closed by its owner.
func (s *OutcomeSink) Close() error {
	return nil
}
