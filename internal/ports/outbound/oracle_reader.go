package outbound

import (
	"context"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

// OraclePriceReader reads the prices currently published by the oracle
// contract on one network. Feeds the contract has no price for are omitted.
type OraclePriceReader interface {
	LatestPrices(ctx context.Context, feedIDs []string) (map[string]entity.PriceQuote, error)
}
