package main

import (
	"context"

	"github.com/spf13/cobra"
)

func pollCMD(cfgPath *string) *cobra.Command {
	var once bool
	poll := &cobra.Command{
		Use:   "poll",
		Short: "Refresh snapshots from the content source without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			repos, err := openRepositories(ctx, cfg)
			if err != nil {
				return err
			}
			if repos != nil {
				defer repos.Close()
			} else {
				log.Warn().Msg("storage.redis disabled; snapshots are only persisted as documents")
			}

			tel, metrics, err := setupTelemetry(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			refresher, err := newRefresher(cfg, st, repos, nil, metrics)
			if err != nil {
				return err
			}
			if once {
				snap, err := refresher.RunOnce(ctx)
				if err != nil {
					return err
				}
				log.Info().Str("snapshot", snap.ID()).Int("docs", snap.Len()).Msg("refreshed once")
				return nil
			}
			return refresher.Run(ctx)
		},
	}
	poll.Flags().BoolVar(&once, "once", false, "run a single refresh and exit")
	return poll
}
