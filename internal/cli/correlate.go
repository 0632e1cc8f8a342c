package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/logwarden/internal/correlate"
)

var (
	correlateBefore time.Duration
	correlateAfter  time.Duration
	correlateSource string
	correlateJSON   bool
)

var correlateCmd = &cobra.Command{
	Use:   "correlate <time>",
	Short: "Search the infrastructure log around a point in time",
	Long: `Print the infrastructure log lines recorded around a time. The time is
HH:MM:SS[.mmm] (the date is taken from the log itself) or a full
"YYYY-MM-DD HH:MM:SS,mmm" timestamp.

Examples:
  logwarden correlate 10:50:44
  logwarden correlate "2024-05-01 10:50:44,120" --before 5s --after 2s
  logwarden correlate 10:50:44 --source /opt/nifi/logs/nifi-app.log`,
	Args: cobra.ExactArgs(1),
	RunE: correlateCommand,
}

func init() {
	correlateCmd.Flags().DurationVar(&correlateBefore, "before", 0, "Window before the time (default: correlation.before)")
	correlateCmd.Flags().DurationVar(&correlateAfter, "after", 0, "Window after the time (default: correlation.after)")
	correlateCmd.Flags().StringVar(&correlateSource, "source", "", "Infrastructure log file or glob (overrides correlation.source)")
	correlateCmd.Flags().BoolVar(&correlateJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(correlateCmd)
}

func correlateCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	source := firstNonEmpty(correlateSource, cfg.Correlation.Source)
	if source == "" {
		return fmt.Errorf("no infrastructure log configured; pass --source or set correlation.source")
	}

	index := correlate.New(correlate.Options{
		Source:   source,
		Capacity: cfg.Correlation.Capacity,
		Before:   cfg.Correlation.Before,
		After:    cfg.Correlation.After,
	}, newLogger(cfg))
	if err := index.Load(cmd.Context()); err != nil {
		return err
	}

	res, err := index.Search(cmd.Context(), args[0], correlateBefore, correlateAfter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if correlateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if res.Fallback {
		fmt.Fprintf(out, "Could not resolve %q to a time; showing lines containing it.\n", res.Query)
	} else {
		fmt.Fprintf(out, "Lines between %s and %s:\n", res.From.Format("2006-01-02 15:04:05.000"), res.To.Format("15:04:05.000"))
	}
	if len(res.Matches) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}
	for _, line := range res.Matches {
		fmt.Fprintf(out, "  %s\n", line)
	}
	return nil
}
