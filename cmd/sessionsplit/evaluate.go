package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sessionsplit/internal/config"
	"sessionsplit/internal/evaluate"
)

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	var (
		metricsPath string
		name        string
		details     bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate <segmented.csv>",
		Short: "Score a segmented CSV against its ground-truth column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(func(c *config.Config) {
				if metricsPath != "" {
					c.MetricsPath = metricsPath
				}
				if details {
					c.EvaluationDetails = true
				}
			})
			if err != nil {
				return err
			}
			defer logger.Sync()

			m, err := newApp(cfg, logger).EvaluateFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), evaluate.FormatReport(m, name))
			if cfg.MetricsPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nMetrics written to %s\n", cfg.MetricsPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsPath, "metrics", "", "write metrics JSON here (overrides metrics_path)")
	cmd.Flags().StringVar(&name, "name", "", "model name shown in the report header")
	cmd.Flags().BoolVar(&details, "details", false, "include prediction vectors and boundary positions in the metrics JSON")
	return cmd
}
