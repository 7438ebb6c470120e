package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/config"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View stage history",
	Long: `View the history of stage runs in the work directory.

Every stage run, skipped, completed or failed, is journaled under
history/ next to the artifacts it produced.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific stage run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove history entries older than the retention period.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func journal() (*history.Journal, error) {
	j, err := history.New(workspace().History())
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return j, nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	j, err := journal()
	if err != nil {
		return err
	}
	entries, err := j.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history entries found.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-19s  %-9s  %-9s  %s\n", "ID", "TIME", "STAGE", "STATUS", "DURATION")
	fmt.Fprintln(out, strings.Repeat("-", 90))
	for _, e := range entries {
		fmt.Fprintf(out, "%-36s  %-19s  %-9s  %-9s  %s\n",
			truncateString(e.ID, 36),
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Stage,
			e.Status,
			e.Duration.Round(time.Millisecond),
		)
	}
	fmt.Fprintln(out, strings.Repeat("-", 90))
	fmt.Fprintf(out, "Showing %d entries. Use --limit to see more.\n", len(entries))
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	j, err := journal()
	if err != nil {
		return err
	}
	e, err := j.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Stage Run")
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "ID:        %s\n", e.ID)
	fmt.Fprintf(out, "Timestamp: %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Stage:     %s\n", e.Stage)
	fmt.Fprintf(out, "Status:    %s\n", e.Status)
	if e.Reason != "" {
		fmt.Fprintf(out, "Reason:    %s\n", e.Reason)
	}
	fmt.Fprintf(out, "Duration:  %s\n", e.Duration.Round(time.Millisecond))
	if e.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", e.Error)
	}
	printList(out, "Inputs", e.Inputs)
	printList(out, "Outputs", e.Outputs)

	if len(e.Summary) > 0 {
		fmt.Fprintln(out, "\nSummary:")
		for _, k := range sortedKeys(e.Summary) {
			fmt.Fprintf(out, "  %-16s %d\n", k, e.Summary[k])
		}
	}
	return nil
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(out, "  %s\n", it)
	}
}

func runHistoryClean(cmd *cobra.Command, _ []string) error {
	j, err := journal()
	if err != nil {
		return err
	}

	days := cfg.History.RetentionDays
	if days <= 0 {
		days = config.DefaultRetentionDays
	}
	printInfo("Cleaning history entries older than %d days...", days)

	removed, err := j.Cleanup(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo("Removed %d entries.", removed)
	return nil
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
