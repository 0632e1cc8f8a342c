package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gzhole/logwarden/internal/audit"
	"github.com/gzhole/logwarden/internal/models"
)

// runCLI executes the root command against an isolated home directory.
func runCLI(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOGWARDEN_HOME", home)
	t.Setenv("LOGWARDEN_CONFIG", "")

	configPath, logLevel = "", ""
	logFilterOutcome, logLast, logSummary, logFromDB = "", 0, false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "logwarden "+Version) {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestPolicyCheckCommand(t *testing.T) {
	home := t.TempDir()

	out, err := runCLI(t, home, "policy", "check", "--", "df", "-h")
	if err != nil {
		t.Fatalf("policy check: %v", err)
	}
	if !strings.Contains(out, "ALLOW  df -h") {
		t.Errorf("expected df -h to be allowed, got %q", out)
	}

	out, err = runCLI(t, home, "policy", "check", "--", "sudo", "reboot")
	if err != nil {
		t.Fatalf("policy check: %v", err)
	}
	if !strings.Contains(out, "BLOCK  sudo reboot") || !strings.Contains(out, "block-sudo") {
		t.Errorf("expected sudo to be blocked, got %q", out)
	}
}

func TestLogCommand_ReadsJSONL(t *testing.T) {
	home := t.TempDir()

	w, err := audit.NewJSONL(filepath.Join(home, "audit.jsonl"), nil)
	if err != nil {
		t.Fatalf("NewJSONL: %v", err)
	}
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	records := []audit.Record{
		{ID: "a", StartedAt: start, Entry: models.LogEntry{Lines: []string{"INFO started"}}, Outcome: audit.OutcomeNormal},
		{
			ID:        "b",
			StartedAt: start.Add(time.Second),
			Entry:     models.LogEntry{Lines: []string{"ERROR disk full"}},
			Executions: []models.ExecutionRecord{
				{Command: "df -h", Target: "local", Status: models.ExecSuccess},
			},
			Outcome: audit.OutcomeResolved,
		},
	}
	for _, rec := range records {
		if err := w.Write(context.Background(), rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := runCLI(t, home, "log", "--outcome", "resolved")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(out, "ERROR disk full") || !strings.Contains(out, "Ran: df -h on local -> SUCCESS") {
		t.Errorf("resolved entry missing from output:\n%s", out)
	}
	if strings.Contains(out, "INFO started") {
		t.Errorf("normal entry should be filtered out:\n%s", out)
	}

	out, err = runCLI(t, home, "log", "--summary")
	if err != nil {
		t.Fatalf("log --summary: %v", err)
	}
	if !strings.Contains(out, "Total entries:     2") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestLogCommand_Empty(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "log")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(out, "No audit log entries found.") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestPackCommands(t *testing.T) {
	home := t.TempDir()
	packs := filepath.Join(home, "packs")
	if err := os.MkdirAll(packs, 0o700); err != nil {
		t.Fatal(err)
	}
	pack := "name: nifi\ndescription: NiFi diagnostics\nallow_verbs: [\"nifi.sh status\"]\n"
	if err := os.WriteFile(filepath.Join(packs, "nifi.yaml"), []byte(pack), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, home, "pack", "list")
	if err != nil {
		t.Fatalf("pack list: %v", err)
	}
	if !strings.Contains(out, "NiFi diagnostics") || !strings.Contains(out, "1 verbs") {
		t.Errorf("unexpected list output:\n%s", out)
	}

	if _, err := runCLI(t, home, "pack", "disable", "nifi"); err != nil {
		t.Fatalf("pack disable: %v", err)
	}
	if _, err := os.Stat(filepath.Join(packs, "_nifi.yaml")); err != nil {
		t.Errorf("expected disabled pack file: %v", err)
	}

	out, err = runCLI(t, home, "pack", "show", "nifi")
	if err != nil {
		t.Fatalf("pack show: %v", err)
	}
	if !strings.Contains(out, "nifi (disabled)") || !strings.Contains(out, "Allowed verbs: nifi.sh status") {
		t.Errorf("unexpected show output:\n%s", out)
	}

	if _, err := runCLI(t, home, "pack", "enable", "missing"); err == nil {
		t.Error("expected error enabling a missing pack")
	}
}
