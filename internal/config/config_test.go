package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gzhole/logwarden/internal/gateway"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOGWARDEN_HOME", dir)
	t.Setenv("LOGWARDEN_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dir != dir {
		t.Errorf("Dir = %q, want %q", cfg.Dir, dir)
	}
	if cfg.Approval.Timeout != 300*time.Second || cfg.Approval.PollInterval != 5*time.Second {
		t.Errorf("unexpected approval defaults: %+v", cfg.Approval)
	}
	if cfg.Correlation.Capacity != 200 || cfg.Correlation.Before != 2*time.Second || cfg.Correlation.After != time.Second {
		t.Errorf("unexpected correlation defaults: %+v", cfg.Correlation)
	}
	if cfg.Execution.PolicyPath != filepath.Join(dir, DefaultPolicyFile) {
		t.Errorf("PolicyPath = %q, want it under the config dir", cfg.Execution.PolicyPath)
	}
	if cfg.Audit.JSONLPath != filepath.Join(dir, DefaultLogFile) {
		t.Errorf("JSONLPath = %q", cfg.Audit.JSONLPath)
	}
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	t.Setenv("LOGWARDEN_HOME", t.TempDir())
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOGWARDEN_HOME", dir)
	path := filepath.Join(dir, "custom.yaml")
	content := `
logging:
  level: debug
segment:
  mode: line
correlation:
  source: /var/log/nifi/nifi-app*.log
  before: 3s
approval:
  timeout: 2m
execution:
  min_interval: 500ms
  targets:
    nifi-1:
      kind: ssh
      host: 10.0.0.5
      user: nifi
      key_path: /keys/nifi.pem
      connect_timeout: 4s
llm:
  endpoints:
    - url: http://localhost:11434/v1
      model: qwen
      api_key_env: TEST_LLM_KEY
pipeline:
  max_rounds: 3
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_LLM_KEY", "sk-test")
	t.Setenv("LOGWARDEN_API_KEY", "approver-secret")
	t.Setenv("LOGWARDEN_MAX_ROUNDS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Segment.Mode != "line" {
		t.Errorf("file values not applied: %+v %+v", cfg.Logging, cfg.Segment)
	}
	if cfg.Correlation.Before != 3*time.Second || cfg.Correlation.After != time.Second {
		t.Errorf("durations: before=%v after=%v", cfg.Correlation.Before, cfg.Correlation.After)
	}
	if cfg.Approval.Timeout != 2*time.Minute {
		t.Errorf("approval timeout = %v", cfg.Approval.Timeout)
	}
	if cfg.Pipeline.MaxRounds != 7 {
		t.Errorf("env override not applied: max_rounds = %d", cfg.Pipeline.MaxRounds)
	}
	if cfg.Server.APIKey != "approver-secret" || cfg.LLM.Endpoints[0].APIKey != "sk-test" {
		t.Errorf("secrets not resolved from env")
	}

	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	nifi, ok := targets.Lookup("nifi-1")
	if !ok || nifi.Kind != gateway.KindSSH || nifi.ConnectTimeout != 4*time.Second {
		t.Errorf("unexpected ssh target: %+v", nifi)
	}
	if _, ok := targets.Lookup("local"); !ok {
		t.Error("default local target should survive a file overlay")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"capacity", func(c *Config) { c.Correlation.Capacity = 0 }, "capacity"},
		{"negative window", func(c *Config) { c.Correlation.Before = -time.Second }, "negative"},
		{"segment mode", func(c *Config) { c.Segment.Mode = "json" }, "segment mode"},
		{"target kind", func(c *Config) { c.Execution.Targets["x"] = TargetConfig{Kind: "telnet"} }, "unknown kind"},
		{"ssh host", func(c *Config) { c.Execution.Targets["x"] = TargetConfig{Kind: "ssh", User: "u"} }, "needs a host"},
		{"llm endpoint", func(c *Config) { c.LLM.Endpoints = []LLMEndpoint{{URL: "http://x"}} }, "url and model"},
		{"rounds", func(c *Config) { c.Pipeline.MaxRounds = 0 }, "max_rounds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	cfg := Default(t.TempDir())
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}
