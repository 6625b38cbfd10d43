// Package update_evaluator decides whether a fresh quote must be published
// for a feed on a network.
package update_evaluator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

// Reason explains why an update was or was not required.
type Reason string

const (
	ReasonBootstrap Reason = "bootstrap"
	ReasonDeviation Reason = "deviation"
	ReasonHeartbeat Reason = "heartbeat"
	ReasonNone      Reason = "none"
)

// Decision is the result of evaluating one (feed, network) pair.
type Decision struct {
	Update bool
	Reason Reason

	// Deviation is the relative change against the confirmed price. It is
	// nil when there is no confirmed state or the confirmed price is zero.
	Deviation *decimal.Decimal

	// Elapsed is the time since the last confirmation, zero on bootstrap.
	Elapsed time.Duration
}

// Evaluate applies the bootstrap, heartbeat and deviation rules. It is pure:
// the same inputs always produce the same decision.
//
// Heartbeat takes precedence in the reported reason when both triggers fire.
// A zero confirmed price disables the deviation rule.
func Evaluate(state *entity.FeedNetworkState, quote entity.PriceQuote, feed entity.PriceFeed, now time.Time) Decision {
	if state == nil || state.LastConfirmedTime.IsZero() {
		return Decision{Update: true, Reason: ReasonBootstrap}
	}

	elapsed := now.Sub(state.LastConfirmedTime)
	if elapsed < 0 {
		elapsed = 0
	}

	d := Decision{Reason: ReasonNone, Elapsed: elapsed}

	if !state.LastConfirmedPrice.IsZero() {
		dev := RelativeDeviation(state.LastConfirmedPrice, quote.Price)
		d.Deviation = &dev
	}

	switch {
	case elapsed >= feed.HeartbeatInterval:
		d.Update = true
		d.Reason = ReasonHeartbeat
	case d.Deviation != nil && d.Deviation.GreaterThanOrEqual(feed.DeviationThreshold):
		d.Update = true
		d.Reason = ReasonDeviation
	}
	return d
}

// NeedsUpdate reports whether an on-chain write is required.
func NeedsUpdate(state *entity.FeedNetworkState, quote entity.PriceQuote, feed entity.PriceFeed, now time.Time) bool {
	return Evaluate(state, quote, feed, now).Update
}

// RelativeDeviation returns |current - baseline| / |baseline|. The baseline
// must be non-zero.
func RelativeDeviation(baseline, current decimal.Decimal) decimal.Decimal {
	return current.Sub(baseline).Abs().Div(baseline.Abs())
}
