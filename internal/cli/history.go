package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var showFailures bool

	cmd := &cobra.Command{
		Use:   "history <task-id>",
		Short: "List a task's coding attempts",
		Long: `List every recorded coding attempt for a task with its outcome. With
--failures, print the verification output captured for each failed attempt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), tc, engineOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := cmd.OutOrStdout()
			if showFailures {
				failures, err := a.store.ListFailures(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(failures) == 0 {
					_, _ = fmt.Fprintln(out, "No failures recorded.")
				}
				for _, f := range failures {
					_, _ = fmt.Fprintf(out, "── %s attempt %d (%s)\n%s\n\n",
						f.StoryID, f.Attempt, f.CreatedAt.Format(time.RFC3339), strings.TrimSpace(f.Output))
				}
				return nil
			}

			recs, err := a.store.ListIterations(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				_, _ = fmt.Fprintln(out, "No attempts recorded.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "STORY\tATTEMPT\tOUTCOME\tSTARTED\tDURATION")
			for _, r := range recs {
				dur := "-"
				if !r.EndedAt.IsZero() {
					dur = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
					r.StoryID, r.Attempt, r.Outcome, r.StartedAt.Format(time.DateTime), dur)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&showFailures, "failures", false, "print captured verification failures")
	return cmd
}
