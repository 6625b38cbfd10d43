package feed_state

import (
	"context"
	"fmt"
	"sort"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// BootstrapReport summarizes what Bootstrap loaded.
type BootstrapReport struct {
	FromRepository int
	FromChain      int
	Missing        int
	Errors         []error
}

// Bootstrap seeds the store before the first cycle: first from the
// repository, then from each network's oracle contract. Failures are
// collected in the report and never abort startup; pairs that remain
// unknown will be published on the first cycle.
func (s *Store) Bootstrap(
	ctx context.Context,
	feeds []entity.PriceFeed,
	readers map[string]outbound.OraclePriceReader,
) BootstrapReport {
	var report BootstrapReport

	if s.repo != nil {
		states, err := s.repo.LoadConfirmed(ctx)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("loading persisted state: %w", err))
		} else {
			report.FromRepository = s.Seed(filterConfigured(states, feeds))
		}
	}

	byNetwork := make(map[string][]string)
	for _, f := range feeds {
		for _, n := range f.Networks {
			byNetwork[n] = append(byNetwork[n], f.ID)
		}
	}

	names := make([]string, 0, len(byNetwork))
	for n := range byNetwork {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, network := range names {
		ids := byNetwork[network]
		reader, ok := readers[network]
		if !ok {
			continue
		}

		quotes, err := reader.LatestPrices(ctx, ids)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("reading on-chain prices on %s: %w", network, err))
			continue
		}

		states := make([]entity.FeedNetworkState, 0, len(quotes))
		for _, id := range ids {
			q, ok := quotes[id]
			if !ok {
				continue
			}
			states = append(states, entity.FeedNetworkState{
				FeedID:             id,
				Network:            network,
				LastConfirmedPrice: q.Price,
				LastConfirmedTime:  q.PublishTime,
			})
		}
		report.FromChain += s.Seed(states)
	}

	for network, ids := range byNetwork {
		for _, id := range ids {
			if _, ok := s.Get(id, network); !ok {
				report.Missing++
			}
		}
	}

	for _, err := range report.Errors {
		s.logger.Warn("bootstrap step failed", "error", err)
	}
	s.logger.Info("bootstrapped confirmed state",
		"fromRepository", report.FromRepository,
		"fromChain", report.FromChain,
		"missing", report.Missing)

	return report
}

func filterConfigured(states []entity.FeedNetworkState, feeds []entity.PriceFeed) []entity.FeedNetworkState {
	wanted := make(map[entity.FeedNetworkKey]struct{})
	for _, f := range feeds {
		for _, n := range f.Networks {
			wanted[entity.FeedNetworkKey{FeedID: f.ID, Network: n}] = struct{}{}
		}
	}
	out := states[:0:0]
	for _, st := range states {
		if _, ok := wanted[st.Key()]; ok {
			out = append(out, st)
		}
	}
	return out
}
