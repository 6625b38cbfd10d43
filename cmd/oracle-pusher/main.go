// Package main runs the oracle pusher: it polls Hermes for Pyth prices and
// pushes updates to the Pyth contract on every configured network whenever a
// feed deviates or its heartbeat expires.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	httpadapter "github.com/archon-research/oracle-pusher/internal/adapters/inbound/http"
	"github.com/archon-research/oracle-pusher/internal/adapters/outbound/evm"
	"github.com/archon-research/oracle-pusher/internal/adapters/outbound/hermes"
	"github.com/archon-research/oracle-pusher/internal/adapters/outbound/memory"
	"github.com/archon-research/oracle-pusher/internal/adapters/outbound/postgres"
	redisadapter "github.com/archon-research/oracle-pusher/internal/adapters/outbound/redis"
	snsadapter "github.com/archon-research/oracle-pusher/internal/adapters/outbound/sns"
	"github.com/archon-research/oracle-pusher/internal/adapters/outbound/telemetry"
	"github.com/archon-research/oracle-pusher/internal/config"
	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/env"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
	"github.com/archon-research/oracle-pusher/internal/services/chain_submitter"
	"github.com/archon-research/oracle-pusher/internal/services/feed_state"
	"github.com/archon-research/oracle-pusher/internal/services/poll_orchestrator"
	"github.com/archon-research/oracle-pusher/internal/services/shared"
)

// Set at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	configPath string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("oracle-pusher", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{configPath: *configPath}
	if cfg.configPath == "" {
		cfg.configPath = env.Get("CONFIG_PATH", "config.yaml")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	cli, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(cli.configPath)
	if err != nil {
		return err
	}
	rt, err := config.NewRuntime(cfg, os.LookupEnv)
	if err != nil {
		return err
	}

	logger.Info("starting oracle pusher",
		"version", version,
		"signer", rt.Signer.Address().Hex(),
		"networks", len(rt.Networks),
		"feeds", len(rt.Feeds),
		"pollInterval", cfg.PollInterval)

	shutdownTelemetry, err := initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	ioMetrics, err := telemetry.NewMetrics("github.com/archon-research/oracle-pusher/internal/adapters/outbound")
	if err != nil {
		return fmt.Errorf("creating adapter metrics: %w", err)
	}
	appMetrics, err := shared.NewAppTelemetry()
	if err != nil {
		return fmt.Errorf("creating service metrics: %w", err)
	}

	prices, err := hermes.NewClient(hermes.ClientConfig{
		BaseURL:         cfg.PriceSource.URL,
		Timeout:         cfg.PriceSource.Timeout,
		MaxRetries:      cfg.PriceSource.MaxRetries,
		RateLimitPerSec: cfg.PriceSource.RateLimitPerSec,
		Metrics:         ioMetrics,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("creating hermes client: %w", err)
	}

	networks := make(map[string]*evm.Network, len(rt.Networks))
	defer func() {
		for _, n := range networks {
			n.Close()
		}
	}()
	for _, target := range rt.Networks {
		n, err := evm.Dial(ctx, target, evm.Config{Metrics: ioMetrics, Logger: logger})
		if err != nil {
			logger.Warn("network unavailable, not publishing to it", "network", target.Name, "error", err)
			continue
		}
		networks[target.Name] = n
		logSignerBalance(ctx, logger, n, rt)
	}
	feeds, targets := connectedScope(rt.Feeds, rt.Networks, networks)
	if len(targets) == 0 {
		return fmt.Errorf("no network could be set up")
	}

	repo, pool, closeRepo, err := openStateRepository(ctx, cfg.State, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	store := feed_state.NewStore(feed_state.Config{Logger: logger}, repo)
	readers := make(map[string]outbound.OraclePriceReader, len(networks))
	for name, n := range networks {
		readers[name] = n.Reader()
	}
	store.Bootstrap(ctx, feeds, readers)

	submitterConfig := chain_submitter.Config{
		MaxAttempts:         cfg.Submitter.MaxAttempts,
		InitialBackoff:      cfg.Submitter.InitialBackoff,
		MaxBackoff:          cfg.Submitter.MaxBackoff,
		BackoffFactor:       cfg.Submitter.BackoffFactor,
		ReceiptTimeout:      cfg.Submitter.ReceiptTimeout,
		ReceiptPollInterval: cfg.Submitter.ReceiptPollInterval,
		RPCTimeout:          cfg.Submitter.RPCTimeout,
		GasLimitMultiplier:  cfg.Submitter.GasLimitMultiplier,
		FeeBumpPercent:      cfg.Submitter.FeeBumpPercent,
		Logger:              logger,
	}
	submitters := make(map[string]poll_orchestrator.Submitter, len(networks))
	for name, n := range networks {
		s, err := chain_submitter.NewSubmitter(submitterConfig, n.Target(), n.Client(), prices, store, rt.Signer.Key())
		if err != nil {
			return fmt.Errorf("creating submitter for %s: %w", name, err)
		}
		submitters[name] = s
	}

	history := memory.NewOutcomeSink(cfg.Events.RecentOutcomes)
	sinks, err := buildSinks(ctx, cfg.Events, pool, logger)
	if err != nil {
		return err
	}
	sinks = append([]outbound.OutcomeSink{history}, sinks...)
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("closing outcome sink", "error", err)
			}
		}
	}()

	service, err := poll_orchestrator.NewService(
		poll_orchestrator.Config{
			Feeds:         feeds,
			Networks:      targets,
			PollInterval:  cfg.PollInterval,
			CycleTimeout:  cfg.CycleTimeout,
			ShutdownGrace: cfg.ShutdownGrace,
			Logger:        logger,
		},
		prices,
		store,
		submitters,
		sinks,
		appMetrics,
		history,
	)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	var shuttingDown atomic.Bool
	health := httpadapter.NewHealthServer(httpadapter.HealthServerConfig{
		Addr:   cfg.Health.Addr,
		Logger: logger,
	}, service, service, &shuttingDown)
	health.Start()

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}
	logger.Info("oracle pusher started", "healthAddr", cfg.Health.Addr)

	<-ctx.Done()
	shuttingDown.Store(true)
	logger.Info("shutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	var errs []error
	if err := service.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("stopping orchestrator: %w", err))
	}
	if err := health.Shutdown(cfg.ShutdownGrace); err != nil {
		errs = append(errs, fmt.Errorf("stopping health server: %w", err))
	}
	if len(errs) == 0 {
		logger.Info("shutdown complete")
	}
	return errors.Join(errs...)
}

func initTelemetry(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.JaegerEndpoint,
		Stdout:         cfg.TraceStdout,
		SampleRate:     cfg.SampleRate,
	})
	if err != nil {
		_ = shutdownMetrics(ctx)
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}

	return func(ctx context.Context) error {
		return errors.Join(shutdownTracer(ctx), shutdownMetrics(ctx))
	}, nil
}

// openStateRepository returns the configured persistence backend. The pool is
// non-nil only for the postgres backend.
func openStateRepository(ctx context.Context, cfg config.StateConfig, logger *slog.Logger) (outbound.FeedStateRepository, *pgxpool.Pool, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		repo, err := postgres.NewFeedStateRepository(pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		logger.Info("PostgreSQL connected, confirmed state is persisted")
		return repo, pool, pool.Close, nil

	case config.BackendRedis:
		repo, err := redisadapter.NewFeedStateRepository(redisadapter.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating redis repository: %w", err)
		}
		if err := repo.Ping(ctx); err != nil {
			_ = repo.Close()
			return nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("Redis connected, confirmed state is persisted")
		closer := func() {
			if err := repo.Close(); err != nil {
				logger.Warn("closing redis", "error", err)
			}
		}
		return repo, nil, closer, nil

	default:
		logger.Info("no state backend configured, bootstrapping from chain only")
		return nil, nil, func() {}, nil
	}
}

func buildSinks(ctx context.Context, cfg config.EventsConfig, pool *pgxpool.Pool, logger *slog.Logger) ([]outbound.OutcomeSink, error) {
	var sinks []outbound.OutcomeSink

	if pool != nil {
		sink, err := postgres.NewOutcomeSink(pool, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if cfg.SNSTopicARN != "" {
		region := cfg.AWSRegion
		if region == "" {
			region = env.Get("AWS_REGION", "eu-west-1")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}

		var optFns []func(*awssns.Options)
		if cfg.SNSEndpoint != "" {
			optFns = append(optFns, func(o *awssns.Options) {
				o.BaseEndpoint = aws.String(cfg.SNSEndpoint)
			})
		}

		sink, err := snsadapter.NewOutcomeSink(awssns.NewFromConfig(awsCfg, optFns...), snsadapter.Config{
			TopicARN: cfg.SNSTopicARN,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating SNS sink: %w", err)
		}
		sinks = append(sinks, sink)
		logger.Info("publishing outcomes to SNS", "topic", cfg.SNSTopicARN)
	}

	return sinks, nil
}

// connectedScope narrows feeds and networks to the networks that have a
// client. Feeds left without any network are dropped.
func connectedScope(feeds []entity.PriceFeed, targets []*entity.NetworkTarget, connected map[string]*evm.Network) ([]entity.PriceFeed, []*entity.NetworkTarget) {
	var keptTargets []*entity.NetworkTarget
	for _, t := range targets {
		if connected[t.Name] != nil {
			keptTargets = append(keptTargets, t)
		}
	}

	var keptFeeds []entity.PriceFeed
	for _, f := range feeds {
		var names []string
		for _, t := range keptTargets {
			if f.TargetsNetwork(t.Name) {
				names = append(names, t.Name)
			}
		}
		if len(names) == 0 {
			continue
		}
		f.Networks = names
		keptFeeds = append(keptFeeds, f)
	}
	return keptFeeds, keptTargets
}

// logSignerBalance is informational; an unreachable node only logs a warning.
func logSignerBalance(ctx context.Context, logger *slog.Logger, n *evm.Network, rt *config.Runtime) {
	balance, err := n.Client().BalanceAt(ctx, rt.Signer.Address(), nil)
	if err != nil {
		logger.Warn("could not read signer balance", "network", n.Target().Name, "error", err)
		return
	}
	logger.Info("signer balance", "network", n.Target().Name, "wei", balance.String())
}
