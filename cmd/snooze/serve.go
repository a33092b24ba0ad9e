package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/slackersnooze/internal/glove"
	"github.com/mohammad-safakhou/slackersnooze/internal/history"
	"github.com/mohammad-safakhou/slackersnooze/internal/logging"
	"github.com/mohammad-safakhou/slackersnooze/internal/ranking"
	"github.com/mohammad-safakhou/slackersnooze/internal/server"
	"github.com/mohammad-safakhou/slackersnooze/internal/snapshot"
	"github.com/mohammad-safakhou/slackersnooze/internal/title"
	"github.com/mohammad-safakhou/slackersnooze/repository"
	"github.com/mohammad-safakhou/slackersnooze/session/inmemory"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var (
		addr      string
		poll      bool
		memory    bool
		gloveFile string
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the feed; optionally refresh snapshots in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Address
			}

			var (
				st     backend
				health func(context.Context) error
			)
			if memory {
				mem := inmemory.NewStore()
				if gloveFile != "" {
					if err := loadGloveFile(ctx, gloveFile, mem, cfg.Ranking.Dimensions); err != nil {
						return err
					}
				}
				st = mem
				poll = true
				log.Warn().Msg("serving from memory; sessions and clicks are lost on exit")
			} else {
				pg, err := openStore(ctx, cfg)
				if err != nil {
					return err
				}
				defer pg.Close()
				st = pg
				health = pg.Ping
			}

			// in-memory mode is single-process
			var repos *repository.Repositories
			if !memory {
				if repos, err = openRepositories(ctx, cfg); err != nil {
					return err
				}
				if repos != nil {
					defer repos.Close()
				}
			}

			holder := snapshot.NewHolder()
			tel, metrics, err := setupTelemetry(ctx, cfg, holder)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			g, gctx := errgroup.WithContext(ctx)
			switch {
			case poll:
				refresher, err := newRefresher(cfg, st, repos, holder, metrics)
				if err != nil {
					return err
				}
				if cfg.Refresh.Bootstrap {
					if err := refresher.Bootstrap(ctx); err != nil {
						log.Error().Err(err).Msg("bootstrap failed; serving empty feed until the first refresh")
					}
				}
				g.Go(func() error { return refresher.Run(gctx) })
			case repos != nil:
				if latest, err := repos.Relay.Latest(ctx); err != nil {
					log.Error().Err(err).Msg("load latest snapshot")
				} else if latest != nil {
					holder.Swap(latest)
				}
				g.Go(func() error { return repos.Relay.Follow(gctx, holder) })
			default:
				return fmt.Errorf("serve without --poll needs storage.redis.enabled to receive snapshots")
			}

			vec := title.NewVectorizer(st, cfg.Ranking.Dimensions)
			e := server.New(cfg.Server, cfg.Ranking.PageSize, server.Deps{
				Store:          st,
				Aggregator:     history.NewAggregator(st, vec),
				Engine:         ranking.NewEngine(cfg.Ranking.MaxCandidates, cfg.Ranking.Dimensions),
				Snapshots:      holder,
				Metrics:        metrics,
				MetricsHandler: tel.Handler(),
				Health:         health,
				Log:            logging.Component("http"),
			})
			g.Go(func() error { return server.Run(gctx, e, addr, log) })
			return g.Wait()
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	serve.Flags().BoolVar(&poll, "poll", true, "run the snapshot refresher in this process")
	serve.Flags().BoolVar(&memory, "memory", false, "keep everything in memory instead of Postgres")
	serve.Flags().StringVar(&gloveFile, "glove", "", "embedding file to preload in --memory mode")
	return serve
}

func loadGloveFile(ctx context.Context, path string, sink glove.Sink, dim int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open embeddings: %w", err)
	}
	defer f.Close()
	log := logging.Component("glove")
	stats, err := glove.Load(ctx, f, sink, glove.Options{Dimensions: dim, Log: log})
	if err != nil {
		return err
	}
	log.Info().
		Int("lines", stats.Lines).
		Int("loaded", stats.Loaded).
		Int("skipped", stats.Skipped).
		Int("batches", stats.Batches).
		Msg("embeddings loaded")
	return nil
}
