package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aponysus/flakey/integrations/sqlite"
)

func newReportsCmd() *cobra.Command {
	var dbPath string
	var counts bool

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List flakey reports recorded in a SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				return &exitError{code: exitUsage, err: fmt.Errorf("--sqlite is required")}
			}
			store, err := sqlite.NewStore(dbPath)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			defer store.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if counts {
				rows, err := store.CountByTest(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "TEST\tREPORTS\tLAST SEEN")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Identity, r.Reports, r.LastSeen.Format(time.RFC3339))
				}
				return tw.Flush()
			}

			reports, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "DETECTED\tTEST\tRERUNS\tFAILED\tORIGINAL")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
					r.DetectedAt.Format(time.RFC3339), r.Identity, r.RerunCount, len(r.RerunFailures), firstLine(r.Original.Message))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "sqlite", "", "SQLite database written by 'flakey run --sqlite'")
	cmd.Flags().BoolVar(&counts, "counts", false, "summarize reports per test")
	return cmd
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
