package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

// DiscardLogger returns an slog.Logger that writes to io.Discard.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FeedID returns a deterministic normalized 32-byte feed id whose last byte is n.
func FeedID(n byte) string {
	return fmt.Sprintf("%062x%02x", 0, n)
}

// Quote builds a quote from a decimal string.
func Quote(feedID, price string, publish time.Time) entity.PriceQuote {
	return entity.PriceQuote{
		FeedID:      feedID,
		Price:       decimal.RequireFromString(price),
		Confidence:  decimal.Zero,
		PublishTime: publish,
	}
}

// Feed builds a PriceFeed targeting the given networks.
func Feed(feedID, symbol, threshold string, heartbeat time.Duration, networks ...string) entity.PriceFeed {
	return entity.PriceFeed{
		ID:                 feedID,
		Symbol:             symbol,
		DeviationThreshold: decimal.RequireFromString(threshold),
		HeartbeatInterval:  heartbeat,
		Networks:           networks,
	}
}

// Eventually polls cond until it returns true, failing the test if it does
// not within five seconds. what names the awaited condition in the failure.
func Eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	if cond() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", what)
		case <-ticker.C:
			if cond() {
				return
			}
		}
	}
}
