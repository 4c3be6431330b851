package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sessionsplit/internal/app"
	"sessionsplit/internal/config"
	"sessionsplit/internal/evaluate"
)

type detectFlags struct {
	input    string
	output   string
	metrics  string
	mode     string
	provider string
	model    string
	noDB     bool
}

func (f *detectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "input CSV export (overrides input_path)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "segmented output CSV (default <input>_segmented.csv)")
	cmd.Flags().StringVar(&f.metrics, "metrics", "", "write evaluation metrics JSON here (overrides metrics_path)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "oracle mode: batch or single (overrides oracle_mode)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "LLM provider: anthropic, openai or gemini")
	cmd.Flags().StringVar(&f.model, "model", "", "LLM model name")
	cmd.Flags().BoolVar(&f.noDB, "no-db", false, "do not store the run")
}

func (f *detectFlags) apply(cfg *config.Config) {
	if f.input != "" {
		cfg.InputPath = f.input
	}
	if f.output != "" {
		cfg.OutputPath = f.output
	}
	if cfg.OutputPath == "" && cfg.InputPath != "" {
		cfg.OutputPath = defaultOutputPath(cfg.InputPath)
	}
	if f.metrics != "" {
		cfg.MetricsPath = f.metrics
	}
	if f.mode != "" {
		cfg.OracleMode = strings.ToLower(f.mode)
	}
	if f.provider != "" {
		cfg.LLMProvider = strings.ToLower(f.provider)
	}
	if f.model != "" {
		cfg.LLMModel = f.model
	}
	if f.noDB {
		cfg.DBPath = ""
	}
}

func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_segmented.csv"
}

func newDetectCmd(g *globalFlags) *cobra.Command {
	f := &detectFlags{}
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect session boundaries in a message export",
		Long:  "Reads a CSV export, classifies session starts, writes the segmented CSV and, when the input is labelled, prints the evaluation report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(f.apply)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runDetect(ctx, cmd.OutOrStdout(), newApp(cfg, logger))
		},
	}
	f.register(cmd)
	return cmd
}

func runDetect(ctx context.Context, out io.Writer, a *app.App) error {
	report, err := a.Detect(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run %s\n", report.ID)
	fmt.Fprintln(out, app.FormatRunSummary(report))
	if report.OutputPath != "" {
		fmt.Fprintf(out, "Output: %s\n", report.OutputPath)
	}
	if report.Metrics != nil {
		fmt.Fprintln(out)
		fmt.Fprint(out, evaluate.FormatReport(*report.Metrics, reportName(report.Provider, report.Model)))
	}
	return nil
}

func reportName(provider, model string) string {
	if model != "" {
		return model
	}
	return provider
}
