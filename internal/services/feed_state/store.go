// Package feed_state holds what the pusher believes is currently published
// for every (feed, network) pair, plus the per-network in-flight markers that
// serialize submissions.
package feed_state

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// Config holds configuration for the store.
type Config struct {
	// PersistTimeout bounds each write-through to the repository.
	PersistTimeout time.Duration
	Logger         *slog.Logger
}

func configDefaults() Config {
	return Config{
		PersistTimeout: 5 * time.Second,
		Logger:         slog.Default(),
	}
}

// Store is safe for concurrent use. Confirmed state is only ever moved
// forward in time.
type Store struct {
	mu       sync.RWMutex
	states   map[entity.FeedNetworkKey]entity.FeedNetworkState
	inFlight map[string]bool

	repo           outbound.FeedStateRepository
	persistTimeout time.Duration
	logger         *slog.Logger
}

// NewStore creates an empty store. repo may be nil, in which case confirmed
// state lives only in memory.
func NewStore(config Config, repo outbound.FeedStateRepository) *Store {
	defaults := configDefaults()
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = defaults.PersistTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Store{
		states:         make(map[entity.FeedNetworkKey]entity.FeedNetworkState),
		inFlight:       make(map[string]bool),
		repo:           repo,
		persistTimeout: config.PersistTimeout,
		logger:         config.Logger.With("component", "feed-state"),
	}
}

// Get returns the confirmed state for a feed on a network, with InFlight
// reflecting the network's current marker.
func (s *Store) Get(feedID, network string) (entity.FeedNetworkState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[entity.FeedNetworkKey{FeedID: feedID, Network: network}]
	if !ok {
		return entity.FeedNetworkState{}, false
	}
	st.InFlight = s.inFlight[network]
	return st, true
}

// Snapshot returns a copy of every confirmed state, ordered by network then feed id.
func (s *Store) Snapshot() []entity.FeedNetworkState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.FeedNetworkState, 0, len(s.states))
	for _, st := range s.states {
		st.InFlight = s.inFlight[st.Network]
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].FeedID < out[j].FeedID
	})
	return out
}

// TryBeginSubmission marks the network as in flight. It returns false if a
// submission for the network is already outstanding.
func (s *Store) TryBeginSubmission(network string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[network] {
		return false
	}
	s.inFlight[network] = true
	return true
}

// EndSubmission clears the network's in-flight marker.
func (s *Store) EndSubmission(network string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, network)
}

// InFlight reports whether a submission for the network is outstanding.
func (s *Store) InFlight(network string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight[network]
}

// InFlightNetworks returns the sorted names of networks with an outstanding submission.
func (s *Store) InFlightNetworks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.inFlight))
	for name := range s.inFlight {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Confirm records a confirmed plan: every entry's quote becomes the
// confirmed price for its feed on the network. Entries older than the
// current confirmation are ignored. It returns the number of entries applied.
// Persistence failures are logged and never undo the in-memory update.
func (s *Store) Confirm(ctx context.Context, network string, entries []entity.PlanEntry) int {
	states := make([]entity.FeedNetworkState, 0, len(entries))
	for _, e := range entries {
		states = append(states, entity.FeedNetworkState{
			FeedID:             e.FeedID,
			Network:            network,
			LastConfirmedPrice: e.Quote.Price,
			LastConfirmedTime:  e.Quote.PublishTime,
		})
	}

	applied := s.apply(states)
	if len(applied) > 0 {
		s.persist(ctx, applied)
	}
	return len(applied)
}

// Seed loads previously confirmed state, for example at startup. Like
// Confirm it never moves a pair backwards in time. Seeded state is not
// written back to the repository.
func (s *Store) Seed(states []entity.FeedNetworkState) int {
	return len(s.apply(states))
}

func (s *Store) apply(states []entity.FeedNetworkState) []entity.FeedNetworkState {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := make([]entity.FeedNetworkState, 0, len(states))
	for _, st := range states {
		if st.LastConfirmedTime.IsZero() {
			continue
		}
		st.InFlight = false
		key := st.Key()
		if cur, ok := s.states[key]; ok && st.LastConfirmedTime.Before(cur.LastConfirmedTime) {
			continue
		}
		s.states[key] = st
		applied = append(applied, st)
	}
	return applied
}

func (s *Store) persist(ctx context.Context, states []entity.FeedNetworkState) {
	if s.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if err := s.repo.SaveConfirmed(ctx, states); err != nil {
		s.logger.Warn("failed to persist confirmed state",
			"network", states[0].Network,
			"feeds", len(states),
			"error", err)
	}
}
