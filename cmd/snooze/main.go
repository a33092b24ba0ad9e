package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/slackersnooze/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfgPath string
	root := &cobra.Command{
		Use:           "snooze",
		Short:         "Personalized news feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(
		serveCMD(&cfgPath),
		pollCMD(&cfgPath),
		migrateCMD(&cfgPath),
		gloveCMD(&cfgPath),
	)
	if err := root.ExecuteContext(ctx); err != nil {
		l := logging.Logger()
		l.Error().Err(err).Msg("snooze failed")
		stop()
		os.Exit(1)
	}
}
