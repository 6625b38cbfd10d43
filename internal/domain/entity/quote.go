package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is one fetched observation for a feed. Never mutated.
type PriceQuote struct {
	FeedID      string
	Price       decimal.Decimal
	Confidence  decimal.Decimal
	PublishTime time.Time
}

// NewPriceQuote builds a quote from the fixed-point representation used by
// the price source: value = mantissa * 10^expo.
func NewPriceQuote(feedID string, price int64, conf uint64, expo int32, publishTime time.Time) PriceQuote {
	return PriceQuote{
		FeedID:      feedID,
		Price:       decimal.New(price, expo),
		Confidence:  decimal.NewFromUint64(conf).Shift(expo),
		PublishTime: publishTime,
	}
}

// QuoteSet is the result of one price fetch, keyed by normalized feed id.
type QuoteSet struct {
	Quotes    map[string]PriceQuote
	FetchedAt time.Time
}

// Get returns the quote for a feed id.
func (q *QuoteSet) Get(feedID string) (PriceQuote, bool) {
	if q == nil {
		return PriceQuote{}, false
	}
	quote, ok := q.Quotes[feedID]
	return quote, ok
}

// Len returns the number of quotes in the set.
func (q *QuoteSet) Len() int {
	if q == nil {
		return 0
	}
	return len(q.Quotes)
}
