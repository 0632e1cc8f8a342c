package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/logwarden/internal/approval"
	"github.com/gzhole/logwarden/internal/audit"
	"github.com/gzhole/logwarden/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show logwarden status: policy, targets, correlation source, audit trail",
	Long: `Check how logwarden is configured: which policy and packs apply, which
targets commands can run on, whether the infrastructure log is readable,
what the audit trail holds, and whether an approval server is answering.

  logwarden status`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out, "  logwarden Status")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out)

	binPath, err := os.Executable()
	if err != nil {
		binPath = "unknown"
	}
	fmt.Fprintf(out, "  Binary:    %s (%s)\n", binPath, Version)
	fmt.Fprintf(out, "  Config:    %s\n", cfg.Dir)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Policy ────────────────────────────────────────────")
	checkFile(out, "Policy", cfg.Execution.PolicyPath, "using built-in defaults (no custom file)")
	if _, packs, err := loadEngine(cfg); err != nil {
		fmt.Fprintf(out, "  ⚠  %v\n", err)
	} else if len(packs) > 0 {
		enabled := 0
		for _, info := range packs {
			if info.Enabled {
				enabled++
			}
		}
		fmt.Fprintf(out, "  ✅ Policy packs: %d installed, %d enabled\n", len(packs), enabled)
	} else {
		fmt.Fprintln(out, "  ⬚  No policy packs installed")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Targets ───────────────────────────────────────────")
	printTargets(out, cfg)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Correlation ───────────────────────────────────────")
	checkCorrelationSource(out, cfg)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Audit ─────────────────────────────────────────────")
	checkFile(out, "Audit log", cfg.Audit.JSONLPath, "not yet created (starts on first entry)")
	checkAuditDB(cmd.Context(), out, cfg.Audit.SQLitePath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Approval server ───────────────────────────────────")
	checkApprovalServer(cmd.Context(), out, cfg)
	fmt.Fprintln(out)
	return nil
}

func checkFile(out io.Writer, name, path, missing string) {
	if path == "" {
		fmt.Fprintf(out, "  ⬚  %s: not configured\n", name)
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(out, "  ⬚  %s: %s\n", name, missing)
		return
	}
	sizeKB := info.Size() / 1024
	if sizeKB == 0 {
		fmt.Fprintf(out, "  ✅ %s: %s (<1 KB)\n", name, path)
	} else {
		fmt.Fprintf(out, "  ✅ %s: %s (%d KB)\n", name, path, sizeKB)
	}
}

func printTargets(out io.Writer, cfg *config.Config) {
	targets, err := cfg.Targets()
	if err != nil {
		fmt.Fprintf(out, "  ⚠  %v\n", err)
		return
	}
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := targets[name]
		if t.Host != "" {
			fmt.Fprintf(out, "  ✅ %-12s %s %s@%s\n", name, t.Kind, t.User, t.Host)
		} else {
			fmt.Fprintf(out, "  ✅ %-12s %s\n", name, t.Kind)
		}
	}
}

func checkCorrelationSource(out io.Writer, cfg *config.Config) {
	if !cfg.Correlation.Enabled {
		fmt.Fprintln(out, "  ⬚  Correlation disabled")
		return
	}
	if cfg.Correlation.Source == "" {
		fmt.Fprintln(out, "  ⬚  No infrastructure log configured (correlation.source)")
		return
	}
	matches, _ := filepath.Glob(cfg.Correlation.Source)
	if len(matches) == 0 {
		fmt.Fprintf(out, "  ⚠  %s: no readable file\n", cfg.Correlation.Source)
		return
	}
	fmt.Fprintf(out, "  ✅ %s (%d file(s), window %d lines, -%s/+%s)\n",
		cfg.Correlation.Source, len(matches), cfg.Correlation.Capacity, cfg.Correlation.Before, cfg.Correlation.After)
}

func checkAuditDB(ctx context.Context, out io.Writer, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(out, "  ⬚  Audit database: not yet created")
		return
	}
	store, err := audit.OpenSQLite(path, nil)
	if err != nil {
		fmt.Fprintf(out, "  ⚠  Audit database: %v\n", err)
		return
	}
	defer store.Close()

	counts, err := store.OutcomeCounts(ctx)
	if err != nil {
		fmt.Fprintf(out, "  ⚠  Audit database: %v\n", err)
		return
	}
	total := 0
	parts := make([]string, 0, len(counts))
	for outcome, n := range counts {
		total += n
		parts = append(parts, fmt.Sprintf("%s=%d", outcome, n))
	}
	sort.Strings(parts)
	fmt.Fprintf(out, "  ✅ Audit database: %s (%d records: %s)\n", path, total, strings.Join(parts, " "))
}

func checkApprovalServer(ctx context.Context, out io.Writer, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	client := approval.NewClient("http://"+cfg.Server.Address, cfg.Server.APIKey)
	pending, err := client.ListPending(ctx)
	if err != nil {
		fmt.Fprintf(out, "  ⬚  Not running on %s\n", cfg.Server.Address)
		return
	}
	fmt.Fprintf(out, "  ✅ %s (%d pending)\n", cfg.Server.Address, len(pending))
}
