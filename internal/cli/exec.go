package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gzhole/logwarden/internal/audit"
	"github.com/gzhole/logwarden/internal/gateway"
	"github.com/gzhole/logwarden/internal/models"
)

var (
	execTimeout time.Duration
	execProbe   bool
)

var execCmd = &cobra.Command{
	Use:   "exec <target> [--] <command> [args...]",
	Short: "Run one command on a target through the execution gateway",
	Long: `Run a single command on a configured target. The command passes the same
safety filter, rate limit and single-flight lock as commands approved during
"logwarden run". Nothing is prompted: invoking exec is the approval.

Examples:
  logwarden exec local -- df -h
  logwarden exec nifi-1 -- "ps aux | grep nifi"
  logwarden exec --probe nifi-1`,
	Args: cobra.MinimumNArgs(1),
	RunE: execCommand,
}

func init() {
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "Hard timeout (default: execution.timeout)")
	execCmd.Flags().BoolVar(&execProbe, "probe", false, "Only check that the target is reachable")
	rootCmd.AddCommand(execCmd)
}

func execCommand(cmd *cobra.Command, args []string) error {
	if !execProbe && len(args) < 2 {
		return fmt.Errorf("no command provided. Usage: logwarden exec <target> -- <command> [args...]")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDir(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	engine, _, err := loadEngine(cfg)
	if err != nil {
		return err
	}
	gw, err := newGateway(cfg, engine, gateway.ObserverFunc(func(e gateway.Event) {
		if e.Kind == gateway.EventStarted {
			fmt.Fprintf(os.Stderr, "→ %s: %s\n", e.Target, e.Command)
		}
	}), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target := args[0]
	var rec models.ExecutionRecord
	if execProbe {
		rec = gw.Probe(ctx, target)
	} else {
		rec = gw.Execute(ctx, target, strings.Join(args[1:], " "), execTimeout)
	}

	sink, closeAudit, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer closeAudit()
	entry := models.LogEntry{Lines: []string{"logwarden exec " + target + " " + rec.Command}}
	if err := sink.Write(ctx, audit.Record{
		ID:         uuid.NewString(),
		StartedAt:  rec.StartedAt,
		Duration:   rec.Duration,
		Entry:      entry,
		Executions: []models.ExecutionRecord{rec},
		Outcome:    execOutcome(rec),
		Error:      rec.Reason,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write audit log: %v\n", err)
	}

	printExecution(rec)
	if rec.Status != models.ExecSuccess {
		closeAudit()
		os.Exit(exitCodeFor(rec))
	}
	return nil
}

func execOutcome(rec models.ExecutionRecord) audit.Outcome {
	if rec.Status == models.ExecSuccess {
		return audit.OutcomeResolved
	}
	return audit.OutcomeError
}

func printExecution(rec models.ExecutionRecord) {
	switch rec.Status {
	case models.ExecBlocked:
		fmt.Fprintln(os.Stderr, "\n❌ BLOCKED by safety filter")
		fmt.Fprintln(os.Stderr, rec.Reason)
		return
	case models.ExecBusy:
		fmt.Fprintf(os.Stderr, "\n⏳ %s is busy with another command; retry shortly\n", rec.Target)
		return
	}
	if rec.Stdout != "" {
		fmt.Fprint(os.Stdout, rec.Stdout)
		if !strings.HasSuffix(rec.Stdout, "\n") {
			fmt.Fprintln(os.Stdout)
		}
	}
	if rec.Stderr != "" {
		fmt.Fprint(os.Stderr, rec.Stderr)
		if !strings.HasSuffix(rec.Stderr, "\n") {
			fmt.Fprintln(os.Stderr)
		}
	}
	fmt.Fprintf(os.Stderr, "[%s exit=%d %s]\n", rec.Status, rec.ExitCode, rec.Duration.Round(time.Millisecond))
	if rec.Reason != "" {
		fmt.Fprintf(os.Stderr, "reason: %s\n", rec.Reason)
	}
}

func exitCodeFor(rec models.ExecutionRecord) int {
	if rec.Status == models.ExecFailed && rec.ExitCode > 0 {
		return rec.ExitCode
	}
	return 1
}
