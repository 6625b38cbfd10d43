// Package poll_orchestrator drives the pusher: on a fixed interval it fetches
// every configured quote once, evaluates each (feed, network) pair, batches
// the updates per network and runs one submission task per network
// concurrently.
package poll_orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/clock"
	"github.com/archon-research/oracle-pusher/internal/ports/inbound"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
	"github.com/archon-research/oracle-pusher/internal/services/network_batcher"
	"github.com/archon-research/oracle-pusher/internal/services/shared"
	"github.com/archon-research/oracle-pusher/internal/services/update_evaluator"
)

const tracerName = "github.com/archon-research/oracle-pusher/internal/services/poll_orchestrator"

// Cycle statuses.
const (
	StatusOK         = "ok"
	StatusFetchError = "fetch_error"
	StatusTimeout    = "timeout"
	StatusCancelled  = "cancelled"
)

var (
	_ inbound.HealthChecker  = (*Service)(nil)
	_ inbound.StatusReporter = (*Service)(nil)
)

// Submitter delivers one plan to one network. *chain_submitter.Submitter
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, plan entity.UpdatePlan) entity.SubmissionOutcome
}

// StateStore is the part of the feed state store the orchestrator reads and
// the in-flight markers it owns. *feed_state.Store satisfies it.
type StateStore interface {
	Get(feedID, network string) (entity.FeedNetworkState, bool)
	TryBeginSubmission(network string) bool
	EndSubmission(network string)
	InFlight(network string) bool
	InFlightNetworks() []string
	Snapshot() []entity.FeedNetworkState
}

// OutcomeHistory returns recently published outcomes, newest first.
type OutcomeHistory interface {
	RecentOutcomes(limit int) []entity.SubmissionOutcome
}

// Config holds configuration for the orchestrator.
type Config struct {
	Feeds    []entity.PriceFeed
	Networks []*entity.NetworkTarget

	// PollInterval is the fixed time between cycle starts.
	PollInterval time.Duration
	// CycleTimeout bounds how long a cycle waits for its network tasks.
	// Tasks still running afterwards keep their network in flight.
	CycleTimeout time.Duration
	// ShutdownGrace bounds how long Stop waits for running tasks.
	ShutdownGrace time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func configDefaults() Config {
	return Config{
		PollInterval:  30 * time.Second,
		CycleTimeout:  2 * time.Minute,
		ShutdownGrace: 30 * time.Second,
		Clock:         clock.Real{},
		Logger:        slog.Default(),
	}
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	CycleID    string
	Status     string
	Err        error
	Quotes     int
	Updates    int
	Plans      int
	Skipped    []string
	Dispatched []string
	// Pending lists dispatched networks that had not finished when the
	// cycle stopped waiting.
	Pending  []string
	Outcomes []entity.SubmissionOutcome
	Duration time.Duration
}

type networkResult struct {
	network  string
	outcomes []entity.SubmissionOutcome
	err      error
}

// Service runs poll cycles.
type Service struct {
	config   Config
	networks map[string]*entity.NetworkTarget
	feedIDs  []string

	source     outbound.PriceSource
	store      StateStore
	submitters map[string]Submitter
	sinks      []outbound.OutcomeSink
	metrics    outbound.MetricsRecorder
	history    OutcomeHistory

	sem *semaphore.Weighted

	// Network tasks run under taskCtx, which outlives any single cycle.
	taskCtx    context.Context
	taskCancel context.CancelFunc
	tasks      sync.WaitGroup

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	mu          sync.RWMutex
	startedAt   time.Time
	lastFetchOK time.Time
	ready       bool

	logger *slog.Logger
}

// NewService creates a new orchestrator. Every configured network needs a
// submitter. metrics and history may be nil.
func NewService(
	config Config,
	source outbound.PriceSource,
	store StateStore,
	submitters map[string]Submitter,
	sinks []outbound.OutcomeSink,
	metrics outbound.MetricsRecorder,
	history OutcomeHistory,
) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("price source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if len(config.Networks) == 0 {
		return nil, fmt.Errorf("at least one network is required")
	}

	defaults := configDefaults()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = defaults.CycleTimeout
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = defaults.ShutdownGrace
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	networks := make(map[string]*entity.NetworkTarget, len(config.Networks))
	for _, n := range config.Networks {
		if _, dup := networks[n.Name]; dup {
			return nil, fmt.Errorf("duplicate network %q", n.Name)
		}
		if submitters[n.Name] == nil {
			return nil, fmt.Errorf("no submitter for network %q", n.Name)
		}
		networks[n.Name] = n
	}
	for _, f := range config.Feeds {
		for _, name := range f.Networks {
			if _, ok := networks[name]; !ok {
				return nil, fmt.Errorf("feed %s targets unknown network %q", f.ID, name)
			}
		}
	}

	if metrics == nil {
		metrics = noopMetrics{}
	}

	taskCtx, taskCancel := context.WithCancel(context.Background())

	return &Service{
		config:     config,
		networks:   networks,
		feedIDs:    fetchIDs(config.Feeds, config.Networks),
		source:     source,
		store:      store,
		submitters: submitters,
		sinks:      sinks,
		metrics:    metrics,
		history:    history,
		sem:        semaphore.NewWeighted(int64(len(networks))),
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
		logger:     config.Logger.With("component", "poll-orchestrator"),
	}, nil
}

// fetchIDs returns the sorted union of configured feed ids and the networks'
// native feed ids.
func fetchIDs(feeds []entity.PriceFeed, networks []*entity.NetworkTarget) []string {
	seen := make(map[string]struct{})
	for _, f := range feeds {
		seen[f.ID] = struct{}{}
	}
	for _, n := range networks {
		if n.NativeFeedID != "" {
			seen[n.NativeFeedID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start runs the first cycle immediately and then one cycle per poll
// interval until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	if s.loopDone != nil {
		return fmt.Errorf("orchestrator already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})

	s.mu.Lock()
	s.startedAt = s.config.Clock.Now()
	s.mu.Unlock()

	go s.loop(loopCtx)

	s.logger.Info("orchestrator started",
		"feeds", len(s.config.Feeds),
		"networks", len(s.networks),
		"pollInterval", s.config.PollInterval,
		"cycleTimeout", s.config.CycleTimeout)
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.loopDone)

	for {
		start := s.config.Clock.Now()
		s.RunCycle(ctx)

		wait := s.config.PollInterval - s.config.Clock.Now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-s.config.Clock.After(wait):
		}
	}
}

// Stop stops scheduling cycles and waits up to the shutdown grace period
// for running network tasks. Tasks still running after that are cancelled
// and reported in the returned error.
func (s *Service) Stop(ctx context.Context) error {
	if s.loopCancel != nil {
		s.loopCancel()
		<-s.loopDone
	}

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	var abandoned []string
	select {
	case <-done:
	case <-ctx.Done():
		abandoned = s.store.InFlightNetworks()
	case <-s.config.Clock.After(s.config.ShutdownGrace):
		abandoned = s.store.InFlightNetworks()
	}

	for _, network := range abandoned {
		s.logger.Warn("abandoning in-flight submission at shutdown; the next run reconciles it",
			"network", network,
			"grace", s.config.ShutdownGrace)
	}
	s.taskCancel()

	if len(abandoned) > 0 {
		return fmt.Errorf("abandoned in-flight submissions on %d networks: %v", len(abandoned), abandoned)
	}
	s.logger.Info("orchestrator stopped")
	return nil
}

// RunCycle runs one complete cycle. It returns once every dispatched network
// task has finished or the cycle timeout has elapsed.
func (s *Service) RunCycle(ctx context.Context) CycleReport {
	start := s.config.Clock.Now()
	report := CycleReport{CycleID: uuid.NewString()}
	logger := s.logger.With("cycle", report.CycleID)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "poll_orchestrator.RunCycle",
		trace.WithAttributes(
			attribute.String("cycle.id", report.CycleID),
			attribute.Int("feeds", len(s.config.Feeds)),
		),
	)
	defer span.End()

	defer func() {
		report.Duration = s.config.Clock.Now().Sub(start)
		s.metrics.RecordCycle(ctx, report.Status, report.Duration)
		span.SetAttributes(attribute.String("cycle.status", report.Status))
		logger.Info("cycle finished",
			"status", report.Status,
			"quotes", report.Quotes,
			"updates", report.Updates,
			"plans", report.Plans,
			"dispatched", report.Dispatched,
			"skipped", report.Skipped,
			"pending", report.Pending,
			"duration", report.Duration)
	}()

	logger.Info("cycle started", "feeds", len(s.config.Feeds), "fetchIds", len(s.feedIDs))

	quotes, err := s.fetch(ctx, logger)
	if err != nil {
		report.Status = StatusFetchError
		report.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		logger.Error("price fetch failed, skipping cycle", "error", err)
		return report
	}
	report.Quotes = quotes.Len()

	now := s.config.Clock.Now()
	candidates, skipped := s.evaluate(ctx, logger, quotes, now)
	report.Updates = len(candidates)
	report.Skipped = skipped

	plans := network_batcher.BuildPlans(candidates, s.networks)
	report.Plans = len(plans)
	byNetwork := network_batcher.GroupByNetwork(plans)

	names := make([]string, 0, len(byNetwork))
	for name := range byNetwork {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(chan networkResult, len(names))
	for _, name := range names {
		if !s.store.TryBeginSubmission(name) {
			// A task from an earlier cycle started between evaluation and dispatch.
			report.Skipped = append(report.Skipped, name)
			s.metrics.RecordNetworkSkipped(ctx, name)
			continue
		}
		report.Dispatched = append(report.Dispatched, name)

		s.tasks.Add(1)
		go s.runNetwork(trace.ContextWithSpan(s.taskCtx, span), report.CycleID, name, byNetwork[name], quotes, results)
	}

	report.Status = StatusOK
	report.Outcomes, report.Pending = s.await(ctx, report.Dispatched, results, start)
	if len(report.Pending) > 0 {
		report.Status = StatusTimeout
		for _, name := range report.Pending {
			logger.Warn("network still submitting after cycle timeout; its next plan waits until it resolves",
				"network", name,
				"cycleTimeout", s.config.CycleTimeout)
		}
		if ctx.Err() != nil {
			report.Status = StatusCancelled
		}
	}
	return report
}

func (s *Service) fetch(ctx context.Context, logger *slog.Logger) (*entity.QuoteSet, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.CycleTimeout)
	defer cancel()

	start := s.config.Clock.Now()
	quotes, err := s.source.FetchQuotes(fetchCtx, s.feedIDs)
	s.metrics.RecordFetch(ctx, s.config.Clock.Now().Sub(start), err)
	if err != nil {
		var fetchErr *outbound.FetchError
		if !errors.As(err, &fetchErr) {
			err = &outbound.FetchError{Op: "fetch quotes", Err: err}
		}
		return nil, err
	}

	s.mu.Lock()
	s.lastFetchOK = s.config.Clock.Now()
	s.ready = true
	s.mu.Unlock()

	logger.Info("quotes fetched", "requested", len(s.feedIDs), "received", quotes.Len())
	for _, id := range s.feedIDs {
		q, ok := quotes.Get(id)
		if !ok {
			logger.Warn("no quote returned for feed", "feedId", id)
			continue
		}
		logger.Debug("quote", "feedId", id, "price", q.Price, "conf", q.Confidence, "publishTime", q.PublishTime)
	}
	return quotes, nil
}

// evaluate runs the update evaluator for every (feed, network) pair whose
// network is not in flight. It returns the pairs that need an update and
// the in-flight networks that were skipped.
func (s *Service) evaluate(ctx context.Context, logger *slog.Logger, quotes *entity.QuoteSet, now time.Time) ([]network_batcher.Candidate, []string) {
	skipped := make(map[string]bool)
	var candidates []network_batcher.Candidate

	for _, feed := range s.config.Feeds {
		quote, ok := quotes.Get(feed.ID)
		if !ok {
			continue
		}

		for _, network := range feed.Networks {
			if skipped[network] {
				continue
			}
			if s.store.InFlight(network) {
				skipped[network] = true
				s.metrics.RecordNetworkSkipped(ctx, network)
				logger.Info("network has a submission in flight, skipping", "network", network)
				continue
			}

			var state *entity.FeedNetworkState
			if st, found := s.store.Get(feed.ID, network); found {
				state = &st
			}

			decision := update_evaluator.Evaluate(state, quote, feed, now)
			s.metrics.RecordDecision(ctx, network, string(decision.Reason))
			s.logDecision(logger, feed, network, quote, state, decision, now)

			if decision.Update {
				candidates = append(candidates, network_batcher.Candidate{
					Network: network,
					FeedID:  feed.ID,
					Symbol:  feed.Symbol,
					Quote:   quote,
				})
			}
		}
	}

	names := make([]string, 0, len(skipped))
	for name := range skipped {
		names = append(names, name)
	}
	sort.Strings(names)
	return candidates, names
}

func (s *Service) logDecision(
	logger *slog.Logger,
	feed entity.PriceFeed,
	network string,
	quote entity.PriceQuote,
	state *entity.FeedNetworkState,
	decision update_evaluator.Decision,
	now time.Time,
) {
	attrs := []any{
		"symbol", feed.Symbol,
		"network", network,
		"price", quote.Price,
		"published", shared.FormatAge(now.Sub(quote.PublishTime)) + " ago",
		"reason", decision.Reason,
		"threshold", shared.PercentString(feed.DeviationThreshold.InexactFloat64()),
	}
	if state != nil {
		attrs = append(attrs, "lastPrice", state.LastConfirmedPrice, "lastConfirmed", shared.FormatAge(decision.Elapsed)+" ago")
	}
	if decision.Deviation != nil {
		attrs = append(attrs, "deviation", shared.PercentString(decision.Deviation.InexactFloat64()))
	}

	if decision.Update {
		logger.Info("feed needs update", attrs...)
		return
	}
	logger.Debug("feed up to date", attrs...)
}

// runNetwork submits a network's plans in order. A fatal outcome abandons
// the network's remaining plans for this cycle.
func (s *Service) runNetwork(
	ctx context.Context,
	cycleID string,
	network string,
	plans []entity.UpdatePlan,
	quotes *entity.QuoteSet,
	results chan<- networkResult,
) {
	defer s.tasks.Done()

	logger := s.logger.With("cycle", cycleID, "network", network)
	result := networkResult{network: network}
	defer func() { results <- result }()
	defer s.store.EndSubmission(network)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		result.err = fmt.Errorf("acquiring worker slot: %w", err)
		return
	}
	defer s.sem.Release(1)

	submitter := s.submitters[network]
	var errs []error
	for i, plan := range plans {
		outcome := submitter.Submit(ctx, plan)
		outcome.CycleID = cycleID
		s.priceFee(&outcome, quotes)

		s.metrics.RecordSubmission(ctx, network, outcome.Status(), string(outcome.ErrorClass), outcome.Attempts, outcome.Duration())
		s.logOutcome(logger, outcome)
		s.publish(ctx, logger, outcome)

		result.outcomes = append(result.outcomes, outcome)
		if !outcome.Success {
			errs = append(errs, fmt.Errorf("plan %d: %w", plan.Sequence, outcome.Err))
		}

		if outcome.ErrorClass == entity.ErrorClassFatal && i < len(plans)-1 {
			logger.Error("fatal submission error, abandoning network for this cycle",
				"remainingPlans", len(plans)-i-1)
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	result.err = errors.Join(errs...)
}

// priceFee fills in the USD cost when the network's native token quote was
// fetched this cycle.
func (s *Service) priceFee(outcome *entity.SubmissionOutcome, quotes *entity.QuoteSet) {
	if !outcome.Success || outcome.FeeWei == nil {
		return
	}
	network := s.networks[outcome.Network]
	if network == nil || network.NativeFeedID == "" {
		return
	}
	native, ok := quotes.Get(network.NativeFeedID)
	if !ok {
		return
	}
	usd := outcome.FeeNative.Mul(native.Price).Round(6)
	outcome.FeeUSD = &usd
}

func (s *Service) logOutcome(logger *slog.Logger, outcome entity.SubmissionOutcome) {
	if !outcome.Success {
		logger.Error("submission failed",
			"sequence", outcome.Sequence,
			"feeds", len(outcome.FeedIDs),
			"class", outcome.ErrorClass,
			"attempts", outcome.Attempts,
			"error", outcome.ErrorMessage())
		return
	}

	attrs := []any{
		"sequence", outcome.Sequence,
		"feeds", len(outcome.ConfirmedFeedIDs),
		"tx", outcome.TxHash.Hex(),
		"block", outcome.BlockNumber,
		"gasUsed", outcome.GasUsed,
		"fee", outcome.FeeNative.StringFixed(8),
		"attempts", outcome.Attempts,
		"duration", outcome.Duration(),
	}
	if outcome.FeeUSD != nil {
		attrs = append(attrs, "feeUsd", outcome.FeeUSD.StringFixed(4))
	}
	if outcome.ExplorerURL != "" {
		attrs = append(attrs, "explorer", outcome.ExplorerURL)
	}
	logger.Info("submission confirmed", attrs...)
}

func (s *Service) publish(ctx context.Context, logger *slog.Logger, outcome entity.SubmissionOutcome) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, outcome); err != nil {
			logger.Warn("failed to publish submission outcome", "sequence", outcome.Sequence, "error", err)
		}
	}
}

// await collects results until every dispatched network has reported, the
// cycle timeout elapses, or ctx is done. It returns the collected outcomes
// and the networks that had not reported.
func (s *Service) await(ctx context.Context, dispatched []string, results <-chan networkResult, start time.Time) ([]entity.SubmissionOutcome, []string) {
	if len(dispatched) == 0 {
		return nil, nil
	}

	pending := make(map[string]bool, len(dispatched))
	for _, name := range dispatched {
		pending[name] = true
	}

	remaining := s.config.CycleTimeout - s.config.Clock.Now().Sub(start)
	timeout := s.config.Clock.After(remaining)

	var outcomes []entity.SubmissionOutcome
	collect := func(r networkResult) {
		delete(pending, r.network)
		outcomes = append(outcomes, r.outcomes...)
		if r.err != nil {
			s.logger.Debug("network task finished with errors", "network", r.network, "error", r.err)
		}
	}

	for len(pending) > 0 {
		select {
		case r := <-results:
			collect(r)
		case <-timeout:
			return outcomes, s.drain(results, pending, collect)
		case <-ctx.Done():
			return outcomes, s.drain(results, pending, collect)
		}
	}
	return outcomes, nil
}

// drain collects results that are already available and returns the
// networks still pending.
func (s *Service) drain(results <-chan networkResult, pending map[string]bool, collect func(networkResult)) []string {
	for len(pending) > 0 {
		select {
		case r := <-results:
			collect(r)
		default:
			return sortedKeys(pending)
		}
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsReady reports whether a cycle has fetched quotes successfully.
func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// IsHealthy reports whether quotes were fetched recently. Before the first
// successful fetch the service counts as healthy for the same window after
// Start.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := 3*s.config.PollInterval + s.config.CycleTimeout
	last := s.lastFetchOK
	if last.IsZero() {
		last = s.startedAt
	}
	if last.IsZero() {
		return false
	}
	return s.config.Clock.Now().Sub(last) <= window
}

// InFlightNetworks returns the networks with a submission outstanding.
func (s *Service) InFlightNetworks() []string {
	return s.store.InFlightNetworks()
}

// ConfirmedStates returns a snapshot of the confirmed state store.
func (s *Service) ConfirmedStates() []entity.FeedNetworkState {
	return s.store.Snapshot()
}

// RecentOutcomes returns the most recent outcomes, newest first.
func (s *Service) RecentOutcomes(limit int) []entity.SubmissionOutcome {
	if s.history == nil {
		return nil
	}
	return s.history.RecentOutcomes(limit)
}

type noopMetrics struct{}

func (noopMetrics) RecordCycle(context.Context, string, time.Duration) {}
func (noopMetrics) RecordFetch(context.Context, time.Duration, error) {}
func (noopMetrics) RecordDecision(context.Context, string, string) {}
func (noopMetrics) RecordNetworkSkipped(context.Context, string) {}
func (noopMetrics) RecordSubmission(context.Context, string, string, string, int, time.Duration) {}
