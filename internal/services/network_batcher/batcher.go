// Package network_batcher groups feeds that need an update into ordered,
// size-bounded plans, one or more per network.
package network_batcher

import (
	"sort"
	"strings"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/partition"
)

// Candidate is a (feed, network) pair that needs an update this cycle.
type Candidate struct {
	Network string
	FeedID  string
	Symbol  string
	Quote   entity.PriceQuote
}

// BuildPlans groups candidates by network, orders each group by ascending
// feed id and splits it by the network's MaxFeedsPerBatch. Plans are returned
// ordered by network name, then by sequence. Candidates for networks missing
// from networks are dropped. Duplicate (feed, network) candidates collapse to
// the first occurrence.
func BuildPlans(candidates []Candidate, networks map[string]*entity.NetworkTarget) []entity.UpdatePlan {
	groups := make(map[string][]entity.PlanEntry)
	seen := make(map[entity.FeedNetworkKey]struct{}, len(candidates))

	for _, c := range candidates {
		if _, ok := networks[c.Network]; !ok {
			continue
		}
		key := entity.FeedNetworkKey{FeedID: strings.ToLower(c.FeedID), Network: c.Network}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		groups[c.Network] = append(groups[c.Network], entity.PlanEntry{
			FeedID: c.FeedID,
			Symbol: c.Symbol,
			Quote:  c.Quote,
		})
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var plans []entity.UpdatePlan
	for _, name := range names {
		entries := groups[name]
		sort.Slice(entries, func(i, j int) bool {
			return strings.ToLower(entries[i].FeedID) < strings.ToLower(entries[j].FeedID)
		})

		for seq, chunk := range partition.Chunk(entries, networks[name].MaxFeedsPerBatch) {
			plans = append(plans, entity.UpdatePlan{
				Network:  name,
				Sequence: seq,
				Entries:  chunk,
			})
		}
	}
	return plans
}

// GroupByNetwork indexes plans by network, preserving sequence order.
func GroupByNetwork(plans []entity.UpdatePlan) map[string][]entity.UpdatePlan {
	out := make(map[string][]entity.UpdatePlan)
	for _, p := range plans {
		out[p.Network] = append(out[p.Network], p)
	}
	return out
}
