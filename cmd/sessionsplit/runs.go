package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sessionsplit/internal/domain"
	"sessionsplit/internal/evaluate"
	"sessionsplit/internal/storage/sqlite"
)

func newRunsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored detect runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(nil)
			if err != nil {
				return err
			}
			defer logger.Sync()

			runs, err := newApp(cfg, logger).Runs(limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show (0 for all)")
	cmd.AddCommand(newRunsShowCmd(g))
	return cmd
}

func newRunsShowCmd(g *globalFlags) *cobra.Command {
	var messages bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the stored evaluation report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(nil)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a := newApp(cfg, logger)
			out := cmd.OutOrStdout()
			if messages {
				rows, err := a.RunMessages(args[0])
				if err != nil {
					return err
				}
				printMessages(out, rows)
				return nil
			}

			m, ok, err := a.RunMetrics(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(out, "Run %s has no evaluation (input was unlabelled).\n", args[0])
				return nil
			}
			fmt.Fprint(out, evaluate.FormatReport(m, args[0]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&messages, "messages", false, "print the stored segmented messages instead of the report")
	return cmd
}

func printMessages(out io.Writer, rows []domain.SegmentedMessage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE\tCHANNEL\tTIMESTAMP\tROLE\tPREDICTED\tSTART\tSESSION")
	for _, m := range rows {
		start := ""
		if m.SessionStart {
			start = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.ChannelID, m.Timestamp.UTC().Format("2006-01-02 15:04:05"), m.Role,
			m.PredictedBoundary, start, m.SessionID)
	}
	w.Flush()
}

func printRuns(out io.Writer, runs []sqlite.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs stored.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tMODE\tMODEL\tMESSAGES\tSESSIONS\tCALLS\tFAILED")
	for _, r := range runs {
		model := r.Model
		if model == "" {
			model = r.Provider
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Mode, model,
			r.Messages, r.Sessions, r.OracleCalls, r.OracleFailures)
	}
	w.Flush()
}
