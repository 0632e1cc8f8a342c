package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPacks_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	base := DefaultPolicy()

	result, infos, err := LoadPacks(dir, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected 0 pack infos, got %d", len(infos))
	}
	if len(result.Rules) != len(base.Rules) {
		t.Errorf("expected %d rules, got %d", len(base.Rules), len(result.Rules))
	}
}

func TestLoadPacks_NonExistentDir(t *testing.T) {
	base := DefaultPolicy()
	result, _, err := LoadPacks("/nonexistent/path/packs", base)
	if err != nil {
		t.Fatalf("unexpected error for non-existent dir: %v", err)
	}
	if result != base {
		t.Errorf("expected base policy returned unchanged")
	}
}

func TestLoadPacks_MergesVerbsAndRules(t *testing.T) {
	dir := t.TempDir()
	base := DefaultPolicy()
	baseRuleCount := len(base.Rules)

	packYAML := `
name: "NiFi Pack"
description: "NiFi cluster diagnostics"
version: "1.0.0"
author: "ops"
allow_verbs: ["nifi-toolkit-cli status", "df -h"]
deny_commands: ["truncate"]
rules:
  - id: "block-nifi-stop"
    match:
      command_regex: "nifi\\.sh\\s+stop"
    decision: "BLOCK"
    reason: "Stopping NiFi is a remediation, not a diagnostic."
`
	if err := os.WriteFile(filepath.Join(dir, "nifi.yaml"), []byte(packYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	result, infos, err := LoadPacks(dir, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "NiFi Pack" || infos[0].RuleCount != 1 {
		t.Fatalf("unexpected pack infos: %+v", infos)
	}
	if len(result.Rules) != baseRuleCount+1 {
		t.Errorf("expected %d rules, got %d", baseRuleCount+1, len(result.Rules))
	}
	if len(base.Rules) != baseRuleCount {
		t.Errorf("base policy was mutated")
	}

	count := 0
	for _, v := range result.AllowVerbs {
		if v == "df -h" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected df -h once after union, got %d", count)
	}

	engine, err := NewEngine(result)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if got := engine.Evaluate("nifi-toolkit-cli status").Decision; got != DecisionAllow {
		t.Errorf("expected pack verb to be allowed, got %s", got)
	}
	if got := engine.Evaluate("truncate -s 0 x").Decision; got != DecisionBlock {
		t.Errorf("expected pack deny command to block, got %s", got)
	}
}

func TestLoadPacks_DisabledPack(t *testing.T) {
	dir := t.TempDir()
	base := DefaultPolicy()

	packYAML := `
name: "Disabled"
allow_verbs: ["python3"]
`
	if err := os.WriteFile(filepath.Join(dir, "_disabled.yaml"), []byte(packYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	result, infos, err := LoadPacks(dir, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 1 || infos[0].Enabled {
		t.Fatalf("expected one disabled pack, got %+v", infos)
	}
	if len(result.AllowVerbs) != len(base.AllowVerbs) {
		t.Errorf("disabled pack should not add verbs")
	}
}

func TestLoadPacks_SkipsNonYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# packs"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, infos, err := LoadPacks(dir, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected non-YAML files to be skipped, got %d infos", len(infos))
	}
}

func TestLoadPacks_MalformedPackListedNotMerged(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("allow_verbs: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	base := DefaultPolicy()
	result, infos, err := LoadPacks(dir, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "broken" || infos[0].Err == nil {
		t.Fatalf("expected broken pack with parse error, got %+v", infos)
	}
	if len(result.AllowVerbs) != len(base.AllowVerbs) {
		t.Errorf("malformed pack should not be merged")
	}
}

func TestSetPackEnabled(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "nifi.yml"), []byte("name: nifi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed, err := SetPackEnabled(dir, "nifi", false)
	if err != nil || !changed {
		t.Fatalf("disable: changed=%v err=%v", changed, err)
	}
	path, enabled, err := FindPack(dir, "nifi")
	if err != nil {
		t.Fatalf("FindPack: %v", err)
	}
	if enabled || filepath.Base(path) != "_nifi.yml" {
		t.Errorf("expected _nifi.yml disabled, got %s enabled=%v", path, enabled)
	}

	changed, err = SetPackEnabled(dir, "nifi", false)
	if err != nil || changed {
		t.Errorf("second disable should be a no-op: changed=%v err=%v", changed, err)
	}

	if _, err := SetPackEnabled(dir, "nifi", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, enabled, _ := FindPack(dir, "nifi"); !enabled {
		t.Error("expected pack to be enabled again")
	}

	if _, err := SetPackEnabled(dir, "postgres", true); !errors.Is(err, ErrPackNotFound) {
		t.Errorf("expected ErrPackNotFound, got %v", err)
	}
}
