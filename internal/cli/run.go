package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gzhole/logwarden/internal/approval"
	"github.com/gzhole/logwarden/internal/audit"
	"github.com/gzhole/logwarden/internal/correlate"
	"github.com/gzhole/logwarden/internal/metrics"
	"github.com/gzhole/logwarden/internal/pipeline"
	"github.com/gzhole/logwarden/internal/segment"
)

var (
	runLineMode    bool
	runNoCorrelate bool
	runSource      string
	runConsole     bool
	runFollow      bool
)

var runCmd = &cobra.Command{
	Use:   "run <logfile>",
	Short: "Process an application log through classification and approved remediation",
	Long: `Read an application log entry by entry. Error entries are correlated with
the infrastructure log, classified, and, when a remediation is proposed, held
for operator approval before anything runs.

Approvals are served over HTTP on server.address (plus /metrics), and can be
answered with "logwarden approvals" or interactively with --console.

Examples:
  logwarden run /var/log/app/app.log
  logwarden run --source '/opt/nifi/logs/nifi-app*.log' --console app.log
  logwarden run --line-mode --no-correlate service.log`,
	Args: cobra.ExactArgs(1),
	RunE: runCommand,
}

func init() {
	runCmd.Flags().BoolVar(&runLineMode, "line-mode", false, "Treat every line as its own entry (no timestamp grouping)")
	runCmd.Flags().BoolVar(&runNoCorrelate, "no-correlate", false, "Disable correlation with the infrastructure log")
	runCmd.Flags().StringVar(&runSource, "source", "", "Infrastructure log file or glob (overrides correlation.source)")
	runCmd.Flags().BoolVar(&runConsole, "console", false, "Prompt for approvals on this terminal")
	runCmd.Flags().BoolVar(&runFollow, "follow", true, "Keep ingesting lines appended to the infrastructure log")
	rootCmd.AddCommand(runCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDir(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	mode, err := segment.ParseMode(cfg.Segment.Mode)
	if err != nil {
		return err
	}
	if runLineMode {
		mode = segment.ModeLine
	}
	src, err := segment.Open(args[0], mode, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	engine, _, err := loadEngine(cfg)
	if err != nil {
		return err
	}
	mirror, closeMirror := openMirror(cfg, logger)
	defer closeMirror()
	gw, err := newGateway(cfg, engine, mirror, logger)
	if err != nil {
		return err
	}

	sink, closeAudit, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer closeAudit()

	approvals := approval.NewGateway(approval.Options{
		PollInterval: cfg.Approval.PollInterval,
		Timeout:      cfg.Approval.Timeout,
		Retain:       cfg.Approval.Retain,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := startServer(cfg.Server.Address, approval.NewHandler(approvals, cfg.Server.APIKey, logger), logger)

	var correlator *correlate.Index
	if source := firstNonEmpty(runSource, cfg.Correlation.Source); source != "" && cfg.Correlation.Enabled && !runNoCorrelate {
		// The index is shared with the pipeline below.
		index := correlate.New(correlate.Options{
			Source:   source,
			Capacity: cfg.Correlation.Capacity,
			Before:   cfg.Correlation.Before,
			After:    cfg.Correlation.After,
		}, logger)
		if err := index.Load(ctx); err != nil {
			logger.Warn("correlation source unavailable; continuing without correlation", slog.Any("error", err))
		} else if runFollow {
			go func() {
				if err := index.Follow(ctx, cfg.Correlation.FollowInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("following correlation source stopped", slog.Any("error", err))
				}
			}()
		}
		correlator = index
	}

	if runConsole {
		if !approval.IsInteractive() {
			logger.Warn("--console ignored: stdin is not a terminal")
		} else {
			console := approval.NewConsole(approval.Local{Gateway: approvals}, os.Stdin, os.Stderr, time.Second, logger)
			go func() {
				if err := console.Run(ctx); err != nil {
					logger.Warn("approval console stopped", slog.Any("error", err))
				}
			}()
		}
	}

	classifier, remediator := collaborators(cfg, logger)
	deps := pipeline.Deps{
		Classifier: classifier,
		Remediator: remediator,
		Approver:   approvals,
		Executor:   gw,
		Sink:       sink,
	}
	if correlator != nil {
		deps.Correlator = correlator
	}
	orch, err := pipeline.New(deps, pipeline.Options{
		Correlate:       correlator != nil,
		Before:          cfg.Correlation.Before,
		After:           cfg.Correlation.After,
		MaxCorrelated:   cfg.Pipeline.MaxCorrelated,
		MaxRounds:       cfg.Pipeline.MaxRounds,
		ApprovalTimeout: cfg.Approval.Timeout,
		ExecTimeout:     cfg.Execution.Timeout,
		HistorySize:     cfg.Pipeline.HistorySize,
		HistoryContext:  cfg.Pipeline.HistoryContext,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("processing log", slog.String("path", args[0]), slog.String("mode", mode.String()), slog.Bool("correlation", correlator != nil))
	summary, runErr := orch.Run(ctx, src)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("approval server shutdown", slog.Any("error", err))
	}

	printRunSummary(cmd, summary, src.Orphans())
	return runErr
}

func startServer(addr string, approvals http.Handler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", approvals)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		logger.Info("approval server listening", slog.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("approval server exited", slog.Any("error", err))
		}
	}()
	return server
}

func printRunSummary(cmd *cobra.Command, s pipeline.Summary, orphans int) {
	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintf(out, "  Entries processed: %d\n", s.Entries)
	fmt.Fprintf(out, "  Commands executed: %d\n", s.Executions)
	for _, o := range []audit.Outcome{
		audit.OutcomeNormal, audit.OutcomeResolved, audit.OutcomeGaveUp, audit.OutcomeApprovalTimeout,
		audit.OutcomeCancelled, audit.OutcomeMaxRounds, audit.OutcomeError,
	} {
		if n := s.Outcomes[o]; n > 0 {
			fmt.Fprintf(out, "  %-18s %d\n", string(o)+":", n)
		}
	}
	if orphans > 0 {
		fmt.Fprintf(out, "  Skipped lines before first entry: %d\n", orphans)
	}
	fmt.Fprintln(out, "═══════════════════════════════════════════")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
