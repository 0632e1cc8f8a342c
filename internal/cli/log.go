package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/logwarden/internal/audit"
	"github.com/gzhole/logwarden/internal/models"
)

var (
	logFilterOutcome string
	logLast          int
	logSummary       bool
	logFromDB        bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the audit log",
	Long: `View the logwarden audit log with filtering and summary options.

Examples:
  logwarden log                          # Show all entries
  logwarden log --last 20                # Show last 20 entries
  logwarden log --outcome error          # Show only entries that failed
  logwarden log --outcome approval_timeout
  logwarden log --summary                # Show summary stats
  logwarden log --db --last 50           # Read from the SQLite store`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterOutcome, "outcome", "", "Filter by outcome (normal, resolved, gave_up, approval_timeout, cancelled, max_rounds, error)")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	logCmd.Flags().BoolVar(&logFromDB, "db", false, "Read from the SQLite audit store instead of the JSONL log")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var records []audit.Record
	if logFromDB {
		records, err = readAuditDB(cmd, cfg.Audit.SQLitePath)
	} else {
		records, err = audit.ReadJSONL(cfg.Audit.JSONLPath)
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No audit log entries found.")
		return nil
	}

	filtered := filterRecords(records, logFilterOutcome)
	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(out, records)
		return nil
	}
	printRecords(out, filtered)
	return nil
}

// readAuditDB returns records oldest first, to match the JSONL order.
func readAuditDB(cmd *cobra.Command, path string) ([]audit.Record, error) {
	if path == "" {
		return nil, errors.New("audit.sqlite_path is not configured")
	}
	store, err := audit.OpenSQLite(path, nil)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	limit := logLast
	if limit <= 0 {
		limit = 1000
	}
	var records []audit.Record
	if logFilterOutcome != "" {
		records, err = store.ByOutcome(cmd.Context(), audit.Outcome(strings.ToLower(logFilterOutcome)), limit)
	} else {
		records, err = store.Recent(cmd.Context(), limit)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].StartedAt.Before(records[j].StartedAt) })
	return records, nil
}

func filterRecords(records []audit.Record, outcome string) []audit.Record {
	if outcome == "" {
		return records
	}
	var filtered []audit.Record
	for _, r := range records {
		if strings.EqualFold(string(r.Outcome), outcome) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func printRecords(out io.Writer, records []audit.Record) {
	for _, r := range records {
		fmt.Fprintf(out, "%s %s %s\n", outcomeIcon(r.Outcome), r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Entry.FirstLine())

		if r.Classification != nil && r.Classification.IsAnomaly() {
			fmt.Fprintf(out, "     Classified: %s\n", r.Classification.String())
			if r.Classification.Cause != "" {
				fmt.Fprintf(out, "     Cause: %s\n", r.Classification.Cause)
			}
		}
		if len(r.Correlated) > 0 {
			fmt.Fprintf(out, "     Correlated: %d infrastructure line(s)\n", len(r.Correlated))
		}
		for _, a := range r.Approvals {
			line := fmt.Sprintf("     Proposal: %s on %s -> %s", a.Proposal.Command, a.Proposal.Target, a.Status)
			if a.Feedback != "" {
				line += fmt.Sprintf(" (%q)", a.Feedback)
			}
			fmt.Fprintln(out, line)
		}
		for _, e := range r.Executions {
			fmt.Fprintf(out, "     Ran: %s on %s -> %s", e.Command, e.Target, e.Status)
			if e.Status == models.ExecFailed {
				fmt.Fprintf(out, " (exit %d)", e.ExitCode)
			}
			fmt.Fprintln(out)
		}
		if r.Error != "" {
			fmt.Fprintf(out, "     Error: %s\n", r.Error)
		}
		fmt.Fprintf(out, "     Outcome: %s (%s)\n\n", r.Outcome, r.Duration.Round(time.Millisecond))
	}
}

func printSummary(out io.Writer, all []audit.Record) {
	counts := map[audit.Outcome]int{}
	executions := map[models.ExecStatus]int{}
	var approved, rejected int
	for _, r := range all {
		counts[r.Outcome]++
		for _, e := range r.Executions {
			executions[e.Status]++
		}
		for _, a := range r.Approvals {
			switch a.Status {
			case "APPROVED":
				approved++
			case "REJECTED":
				rejected++
			}
		}
	}

	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintln(out, "  logwarden Audit Summary")
	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintf(out, "  Total entries:     %d\n", len(all))
	fmt.Fprintf(out, "  Normal:            %d\n", counts[audit.OutcomeNormal])
	fmt.Fprintf(out, "  Resolved:          %d\n", counts[audit.OutcomeResolved])
	fmt.Fprintf(out, "  Gave up:           %d\n", counts[audit.OutcomeGaveUp])
	fmt.Fprintf(out, "  Approval timeouts: %d\n", counts[audit.OutcomeApprovalTimeout])
	fmt.Fprintf(out, "  Round limit:       %d\n", counts[audit.OutcomeMaxRounds])
	fmt.Fprintf(out, "  Cancelled:         %d\n", counts[audit.OutcomeCancelled])
	fmt.Fprintf(out, "  Errors:            %d\n", counts[audit.OutcomeError])
	fmt.Fprintln(out, "───────────────────────────────────────────")
	fmt.Fprintf(out, "  Proposals approved: %d, rejected: %d\n", approved, rejected)
	fmt.Fprintf(out, "  Commands: %d ok, %d failed, %d blocked, %d timed out\n",
		executions[models.ExecSuccess], executions[models.ExecFailed], executions[models.ExecBlocked], executions[models.ExecTimeout])
	fmt.Fprintln(out, "═══════════════════════════════════════════")

	if len(all) > 0 {
		fmt.Fprintf(out, "  First entry:       %s\n", all[0].StartedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "  Last entry:        %s\n", all[len(all)-1].StartedAt.Local().Format("2006-01-02 15:04:05"))
	}

	var failed []audit.Record
	for _, r := range all {
		if r.Outcome == audit.OutcomeError || r.Outcome == audit.OutcomeApprovalTimeout {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  Needs attention:")
		limit := len(failed)
		if limit > 10 {
			limit = 10
		}
		for _, r := range failed[len(failed)-limit:] {
			fmt.Fprintf(out, "    %s [%s] %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Outcome, r.Entry.FirstLine())
		}
	}
	fmt.Fprintln(out)
}

func outcomeIcon(o audit.Outcome) string {
	switch o {
	case audit.OutcomeNormal:
		return "\xe2\x9c\x85" // check mark
	case audit.OutcomeResolved:
		return "\xf0\x9f\x94\xa7" // wrench
	case audit.OutcomeError, audit.OutcomeApprovalTimeout:
		return "\xf0\x9f\x9b\x91" // stop sign
	default:
		return "\xe2\x9d\x93" // question mark
	}
}
