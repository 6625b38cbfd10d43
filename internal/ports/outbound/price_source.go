package outbound

import (
	"context"
	"fmt"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

// PriceSource fetches current reference prices for a set of feeds in a
// single request. Every failure is returned as a *FetchError.
type PriceSource interface {
	FetchQuotes(ctx context.Context, feedIDs []string) (*entity.QuoteSet, error)
}

// UpdateDataSource returns the opaque on-chain proof blobs covering exactly
// the given feeds, ready to be passed to the oracle contract.
type UpdateDataSource interface {
	FetchUpdateData(ctx context.Context, feedIDs []string) ([][]byte, error)
}

// FetchError reports that the price source was unreachable or returned an
// unusable response. A FetchError aborts the whole cycle.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("price fetch %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("price fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
