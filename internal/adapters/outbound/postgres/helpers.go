package postgres

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// rollback rolls back the transaction and logs the error if it is not pgx.ErrTxClosed.
func rollback(ctx context.Context, tx pgx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Error("failed to rollback transaction", "error", err)
	}
}

// bigIntToNumeric converts a *big.Int to a string for NUMERIC column storage.
// A nil input maps to SQL NULL.
func bigIntToNumeric(b *big.Int) *string {
	if b == nil {
		return nil
	}
	s := b.String()
	return &s
}

func decimalToNumeric(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
