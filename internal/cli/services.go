package cli

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/gzhole/logwarden/internal/audit"
	"github.com/gzhole/logwarden/internal/config"
	"github.com/gzhole/logwarden/internal/gateway"
	"github.com/gzhole/logwarden/internal/llm"
	"github.com/gzhole/logwarden/internal/logging"
	"github.com/gzhole/logwarden/internal/pipeline"
	"github.com/gzhole/logwarden/internal/policy"
	"github.com/gzhole/logwarden/internal/redact"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.Logging.Level, cfg.Logging.JSON, os.Stderr)
}

// loadEngine builds the safety filter from the policy file plus any
// enabled packs.
func loadEngine(cfg *config.Config) (*policy.Engine, []policy.PackInfo, error) {
	pol, err := policy.Load(cfg.Execution.PolicyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load policy: %w", err)
	}
	merged, packs, err := policy.LoadPacks(cfg.Execution.PacksDir, pol)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load policy packs: %w", err)
	}
	engine, err := policy.NewEngine(merged)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	return engine, packs, nil
}

func newGateway(cfg *config.Config, engine *policy.Engine, observer gateway.Observer, logger *slog.Logger) (*gateway.Gateway, error) {
	targets, err := cfg.Targets()
	if err != nil {
		return nil, err
	}
	return gateway.New(engine, gateway.Options{
		Targets:     targets,
		MinInterval: cfg.Execution.MinInterval,
		Timeout:     cfg.Execution.Timeout,
		Observer:    observer,
	}, logger), nil
}

// openMirror opens the configured execution mirror. The returned close
// function is never nil.
func openMirror(cfg *config.Config, logger *slog.Logger) (gateway.Observer, func()) {
	if cfg.Execution.Mirror.Path == "" {
		return nil, func() {}
	}
	f, err := os.OpenFile(cfg.Execution.Mirror.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		logger.Warn("execution mirror unavailable", slog.String("path", cfg.Execution.Mirror.Path), slog.Any("error", err))
		return nil, func() {}
	}
	obs := gateway.NewWriterObserver(f, 64)
	return obs, func() {
		obs.Close()
		_ = f.Close()
	}
}

// openAudit opens every configured audit sink. The returned close function
// is never nil.
func openAudit(cfg *config.Config) (audit.Sink, func(), error) {
	redactor, err := redact.New(cfg.Audit.Redact...)
	if err != nil {
		return nil, nil, err
	}

	var sinks audit.MultiSink
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if cfg.Audit.JSONLPath != "" {
		w, err := audit.NewJSONL(cfg.Audit.JSONLPath, redactor)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit log: %w", err)
		}
		sinks = append(sinks, w)
		closers = append(closers, w.Close)
	}
	if cfg.Audit.SQLitePath != "" {
		store, err := audit.OpenSQLite(cfg.Audit.SQLitePath, redactor)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		sinks = append(sinks, store)
		closers = append(closers, store.Close)
	}
	if len(sinks) == 0 {
		return audit.Discard{}, closeAll, nil
	}
	return sinks, closeAll, nil
}

// collaborators returns the model-backed classifier and remediator, or the
// offline fallbacks when no endpoint is configured.
func collaborators(cfg *config.Config, logger *slog.Logger) (pipeline.Classifier, pipeline.Remediator) {
	if len(cfg.LLM.Endpoints) == 0 {
		logger.Warn("no LLM endpoints configured; classifying by severity only and proposing nothing")
		return pipeline.SeverityClassifier{}, pipeline.NoopRemediator{}
	}

	eps := make([]llm.Endpoint, len(cfg.LLM.Endpoints))
	for i, ep := range cfg.LLM.Endpoints {
		eps[i] = llm.Endpoint{URL: ep.URL, Model: ep.Model, APIKey: ep.APIKey}
	}
	targets := make([]string, 0, len(cfg.Execution.Targets))
	for name := range cfg.Execution.Targets {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	client := llm.New(llm.Options{
		Endpoints: eps,
		Targets:   targets,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
	}, logger)
	return client, client
}
