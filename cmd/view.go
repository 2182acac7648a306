package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/proctor/internal/incident"
	"github.com/fakeyudi/proctor/internal/summary"
	"github.com/fakeyudi/proctor/internal/tui"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "View a session summary file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return err
		}

		s, err := summary.ParserFor(path).Parse(data)
		if err != nil {
			return err
		}

		if plainOutput {
			printSummary(cmd.OutOrStdout(), s)
			return nil
		}
		return tui.Run(s, path)
	},
}

// printSummary writes a plain-text rendition of s to w.
func printSummary(w io.Writer, s *summary.Summary) {
	fmt.Fprintln(w, "## Summary")
	fmt.Fprintf(w, "  Student:   %s\n", s.Session.StudentID)
	fmt.Fprintf(w, "  Exam:      %s\n", s.Session.ExamID)
	fmt.Fprintf(w, "  Started:   %s\n", s.Session.StartTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "  Stopped:   %s\n", s.Session.StopTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "  Duration:  %s\n", s.Session.Duration)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Incidents")
	if len(s.Counts) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		for _, t := range incident.Types() {
			if c, ok := s.Counts[t]; ok {
				fmt.Fprintf(w, "  %-22s %d sent, %d failed\n", t, c.Sent, c.Failed)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Failures")
	failures := s.Failures()
	if len(failures) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		for _, e := range failures {
			fmt.Fprintf(w, "  [%s] %s: %s\n", e.OccurredAt.Format("15:04:05"), e.Type, e.Error)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Timeline")
	if len(s.Entries) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		for i, e := range s.Entries {
			fmt.Fprintf(w, "  %d. [%s] %s %s\n", i+1, e.OccurredAt.Format("15:04:05"), e.Type, e.Details)
		}
	}
	fmt.Fprintln(w)
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
