package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedNetworkKey identifies one feed on one network.
type FeedNetworkKey struct {
	FeedID  string
	Network string
}

// FeedNetworkState is the last price this service believes is published for
// a feed on a network. LastConfirmedTime never moves backwards.
type FeedNetworkState struct {
	FeedID             string
	Network            string
	LastConfirmedPrice decimal.Decimal
	LastConfirmedTime  time.Time
	InFlight           bool
}

// Key returns the state's map key.
func (s *FeedNetworkState) Key() FeedNetworkKey {
	return FeedNetworkKey{FeedID: s.FeedID, Network: s.Network}
}
