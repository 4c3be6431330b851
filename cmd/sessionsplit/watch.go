package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"sessionsplit/internal/config"
	"sessionsplit/internal/schedule"
)

func newWatchCmd(g *globalFlags) *cobra.Command {
	f := &detectFlags{}
	var expr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run detect on a cron schedule",
		Long:  "Runs detect on the input every time the 5-field cron expression (watch_schedule or --schedule) fires, until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(func(c *config.Config) {
				f.apply(c)
				if expr != "" {
					c.WatchSchedule = expr
				}
			})
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.WatchSchedule == "" {
				return errors.New("watch: no schedule (set watch_schedule or --schedule)")
			}

			a := newApp(cfg, logger)
			out := cmd.OutOrStdout()
			runner, err := schedule.NewRunner(cfg.WatchSchedule, func(ctx context.Context) error {
				return runDetect(ctx, out, a)
			}, logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Watching %s on %q... (Ctrl+C to stop)\n", cfg.InputPath, cfg.WatchSchedule)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&expr, "schedule", "", "cron expression (overrides watch_schedule)")
	return cmd
}
