package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

var _ outbound.OraclePriceReader = (*OracleReader)(nil)

// OracleReader reads published prices from a Pyth contract in one batch.
type OracleReader struct {
	mc     outbound.Multicaller
	pyth   *blockchain.PythContract
	oracle common.Address
}

// NewOracleReader creates a reader for the oracle at the given address.
func NewOracleReader(mc outbound.Multicaller, pyth *blockchain.PythContract, oracle common.Address) *OracleReader {
	return &OracleReader{mc: mc, pyth: pyth, oracle: oracle}
}

// LatestPrices returns the published price of every feed the contract knows.
// Feeds that revert or were never published are omitted.
func (r *OracleReader) LatestPrices(ctx context.Context, feedIDs []string) (map[string]entity.PriceQuote, error) {
	prices, err := blockchain.FetchOnchainPrices(ctx, r.mc, r.pyth, r.oracle, feedIDs)
	if err != nil {
		return nil, fmt.Errorf("reading oracle %s: %w", r.oracle.Hex(), err)
	}

	quotes := make(map[string]entity.PriceQuote, len(prices))
	for id, p := range prices {
		if p.PublishTime == nil || p.PublishTime.Sign() == 0 {
			continue
		}
		quotes[id] = p.Quote(id)
	}
	return quotes, nil
}
