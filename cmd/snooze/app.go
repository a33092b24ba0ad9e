package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/slackersnooze/config"
	"github.com/mohammad-safakhou/slackersnooze/internal/history"
	"github.com/mohammad-safakhou/slackersnooze/internal/logging"
	"github.com/mohammad-safakhou/slackersnooze/internal/poller"
	"github.com/mohammad-safakhou/slackersnooze/internal/runtime"
	"github.com/mohammad-safakhou/slackersnooze/internal/server"
	"github.com/mohammad-safakhou/slackersnooze/internal/snapshot"
	"github.com/mohammad-safakhou/slackersnooze/internal/store"
	"github.com/mohammad-safakhou/slackersnooze/internal/title"
	"github.com/mohammad-safakhou/slackersnooze/news"
	"github.com/mohammad-safakhou/slackersnooze/news/hackernews"
	"github.com/mohammad-safakhou/slackersnooze/repository"
	"github.com/mohammad-safakhou/slackersnooze/session/inmemory"
)

// backend is satisfied by both the Postgres store and the in-memory store.
type backend interface {
	history.Store
	server.Store
	poller.Store
	title.WordLookup
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*inmemory.Store)(nil)
)

func loadConfig(path string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logging.Init(logging.Config{Level: cfg.General.LogLevel, Format: cfg.General.LogFormat})
	return cfg, logging.Component("snooze"), nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn, cfg.Storage.Postgres.Timeout)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// openRepositories connects to Redis when it is enabled; otherwise it returns nil.
func openRepositories(ctx context.Context, cfg *config.Config) (*repository.Repositories, error) {
	if !cfg.Storage.Redis.Enabled {
		return nil, nil
	}
	return repository.New(ctx, repository.RepoTypeRedis, *cfg, logging.Component("relay"))
}

func newSource(cfg config.SourceConfig) news.Source {
	hc := news.NewHTTPClient("hackernews", news.ClientOptions{
		Timeout:         cfg.Timeout,
		Retries:         cfg.Retries,
		Backoff:         cfg.Backoff,
		RatePerSecond:   cfg.RatePerSecond,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	})
	return hackernews.NewClient(cfg.BaseURL, hc)
}

// newRefresher publishes to the relay (when present) before the local holder, so a
// relay failure leaves every process on the same snapshot.
func newRefresher(cfg *config.Config, st backend, repos *repository.Repositories, holder *snapshot.Holder, metrics *runtime.Metrics) (*poller.Refresher, error) {
	var (
		sinks []snapshot.Sink
		lock  poller.Lock
	)
	if repos != nil {
		sinks = append(sinks, repos.Relay)
		lock = repos.Lock
	}
	if holder != nil {
		sinks = append(sinks, holder)
	}
	return poller.NewRefresher(
		newSource(cfg.Source),
		st,
		title.NewVectorizer(st, cfg.Ranking.Dimensions),
		sinks,
		lock,
		metrics,
		logging.Component("poller"),
		poller.Options{
			Interval:      cfg.Refresh.Interval,
			Cron:          cfg.Refresh.Cron,
			MaxCandidates: cfg.Ranking.MaxCandidates,
			Concurrency:   cfg.Source.Concurrency,
		},
	)
}

func setupTelemetry(ctx context.Context, cfg *config.Config, holder *snapshot.Holder) (*runtime.Telemetry, *runtime.Metrics, error) {
	tel, meter, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceVersion: version})
	if err != nil {
		return nil, nil, err
	}
	metrics, err := runtime.NewMetrics(meter)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	if holder != nil {
		if err := runtime.ObserveSnapshotSize(meter, func() int { return holder.Load().Len() }); err != nil {
			return nil, nil, fmt.Errorf("metrics: %w", err)
		}
	}
	return tel, metrics, nil
}

var version = "dev"
