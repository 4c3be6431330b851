package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sessionsplit/internal/app"
	"sessionsplit/internal/config"
	"sessionsplit/internal/logging"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// extraAppOptions are appended to every app built by a command.
var extraAppOptions []app.Option

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "sessionsplit",
		Short:         "Split customer-support message streams into sessions",
		Long:          "sessionsplit detects where new conversational sessions start in support message exports using an LLM boundary oracle, and scores predictions against labelled data.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to config file (default $CONFIG_PATH or sessionsplit.yaml)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format override (json, console)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDetectCmd(g))
	cmd.AddCommand(newEvaluateCmd(g))
	cmd.AddCommand(newRunsCmd(g))
	cmd.AddCommand(newWatchCmd(g))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sessionsplit %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// load reads the config, applies command-line overrides, validates the
// result and builds the logger.
func (g *globalFlags) load(override func(*config.Config)) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	if override != nil {
		override(&cfg)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, nil, err
		}
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newApp(cfg config.Config, logger *zap.Logger) *app.App {
	return app.New(cfg, logger, extraAppOptions...)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
