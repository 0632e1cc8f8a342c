// Package config loads logwarden settings: built-in defaults, overlaid by a
// YAML file, overlaid by LOGWARDEN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gzhole/logwarden/internal/gateway"
	"github.com/gzhole/logwarden/internal/segment"
)

const (
	DefaultConfigDir  = ".logwarden"
	DefaultConfigFile = "config.yaml"
	DefaultPolicyFile = "policy.yaml"
	DefaultPacksDir   = "packs"
	DefaultLogFile    = "audit.jsonl"
	DefaultDBFile     = "audit.db"
)

type Config struct {
	// Dir is the directory relative paths and defaults resolve against.
	Dir string `yaml:"-"`

	Logging     LoggingConfig     `yaml:"logging"`
	Segment     SegmentConfig     `yaml:"segment"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Approval    ApprovalConfig    `yaml:"approval"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Audit       AuditConfig       `yaml:"audit"`
	LLM         LLMConfig         `yaml:"llm"`
	Server      ServerConfig      `yaml:"server"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type SegmentConfig struct {
	// Mode is "timestamp" or "line".
	Mode string `yaml:"mode"`
}

// CorrelationConfig describes the secondary (infrastructure) log.
type CorrelationConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Source         string        `yaml:"source"`
	Capacity       int           `yaml:"capacity"`
	Before         time.Duration `yaml:"before"`
	After          time.Duration `yaml:"after"`
	FollowInterval time.Duration `yaml:"follow_interval"`
}

type ApprovalConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	Retain       time.Duration `yaml:"retain"`
}

type ExecutionConfig struct {
	PolicyPath  string                  `yaml:"policy_path"`
	PacksDir    string                  `yaml:"packs_dir"`
	MinInterval time.Duration           `yaml:"min_interval"`
	Timeout     time.Duration           `yaml:"timeout"`
	Targets     map[string]TargetConfig `yaml:"targets"`
	Mirror      MirrorConfig            `yaml:"mirror"`
}

type TargetConfig struct {
	Kind           string        `yaml:"kind"`
	Host           string        `yaml:"host"`
	User           string        `yaml:"user"`
	KeyPath        string        `yaml:"key_path"`
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MirrorConfig points the execution mirror at a file or tty. Empty disables it.
type MirrorConfig struct {
	Path string `yaml:"path"`
}

type PipelineConfig struct {
	MaxRounds      int `yaml:"max_rounds"`
	MaxCorrelated  int `yaml:"max_correlated"`
	HistorySize    int `yaml:"history_size"`
	HistoryContext int `yaml:"history_context"`
}

type AuditConfig struct {
	JSONLPath  string   `yaml:"jsonl_path"`
	SQLitePath string   `yaml:"sqlite_path"`
	Redact     []string `yaml:"redact"`
}

// LLMEndpoint represents one LLM provider in the fallback chain
type LLMEndpoint struct {
	URL       string `yaml:"url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"` // env var name for API key
	APIKey    string `yaml:"-"`           // resolved at load time
}

type LLMConfig struct {
	Endpoints []LLMEndpoint `yaml:"endpoints"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ServerConfig controls the approval API listener.
type ServerConfig struct {
	Address string `yaml:"address"`
	APIKey  string `yaml:"-"` // from env only
}

// Load builds the configuration. An empty path means <dir>/config.yaml,
// which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("LOGWARDEN_CONFIG")
		explicit = path != ""
	}

	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	if !explicit {
		path = filepath.Join(dir, DefaultConfigFile)
	}

	cfg := Default(dir)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("config file %s not found: %w", path, err)
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configDir() (string, error) {
	if v := os.Getenv("LOGWARDEN_HOME"); v != "" {
		return v, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, DefaultConfigDir), nil
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) Config {
	return Config{
		Dir:     dir,
		Logging: LoggingConfig{Level: "info"},
		Segment: SegmentConfig{Mode: "timestamp"},
		Correlation: CorrelationConfig{
			Enabled:        true,
			Capacity:       200,
			Before:         2 * time.Second,
			After:          time.Second,
			FollowInterval: time.Second,
		},
		Approval: ApprovalConfig{
			PollInterval: 5 * time.Second,
			Timeout:      300 * time.Second,
			Retain:       10 * time.Minute,
		},
		Execution: ExecutionConfig{
			PolicyPath:  DefaultPolicyFile,
			PacksDir:    DefaultPacksDir,
			MinInterval: time.Second,
			Timeout:     15 * time.Second,
			Targets: map[string]TargetConfig{
				"local": {Kind: string(gateway.KindLocal)},
			},
		},
		Pipeline: PipelineConfig{
			MaxRounds:      5,
			MaxCorrelated:  10,
			HistorySize:    50,
			HistoryContext: 10,
		},
		Audit: AuditConfig{
			JSONLPath:  DefaultLogFile,
			SQLitePath: DefaultDBFile,
		},
		LLM: LLMConfig{
			MaxTokens: 1024,
			Timeout:   60 * time.Second,
		},
		Server: ServerConfig{Address: "127.0.0.1:8089"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOGWARDEN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOGWARDEN_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	if v := os.Getenv("LOGWARDEN_SEGMENT_MODE"); v != "" {
		cfg.Segment.Mode = v
	}
	if v := os.Getenv("LOGWARDEN_CORRELATION_SOURCE"); v != "" {
		cfg.Correlation.Source = v
	}
	if v := os.Getenv("LOGWARDEN_CORRELATION_ENABLED"); v != "" {
		cfg.Correlation.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("LOGWARDEN_APPROVAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Approval.Timeout = d
		}
	}
	if v := os.Getenv("LOGWARDEN_EXEC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Execution.Timeout = d
		}
	}
	if v := os.Getenv("LOGWARDEN_POLICY"); v != "" {
		cfg.Execution.PolicyPath = v
	}
	if v := os.Getenv("LOGWARDEN_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxRounds = n
		}
	}
	if v := os.Getenv("LOGWARDEN_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if key := os.Getenv("LOGWARDEN_API_KEY"); key != "" {
		cfg.Server.APIKey = key
	}
	for i := range cfg.LLM.Endpoints {
		if env := cfg.LLM.Endpoints[i].APIKeyEnv; env != "" {
			cfg.LLM.Endpoints[i].APIKey = os.Getenv(env)
		}
	}
}

// resolve anchors relative file paths at Dir.
func (c *Config) resolve() {
	for _, p := range []*string{&c.Execution.PolicyPath, &c.Execution.PacksDir, &c.Audit.JSONLPath, &c.Audit.SQLitePath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Dir, *p)
		}
	}
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := segment.ParseMode(c.Segment.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Correlation.Capacity < 1 {
		errs = append(errs, fmt.Errorf("correlation.capacity must be at least 1, got %d", c.Correlation.Capacity))
	}
	if c.Correlation.Before < 0 || c.Correlation.After < 0 {
		errs = append(errs, errors.New("correlation.before and correlation.after must not be negative"))
	}
	if c.Approval.Timeout <= 0 || c.Approval.PollInterval <= 0 {
		errs = append(errs, errors.New("approval.timeout and approval.poll_interval must be positive"))
	}
	if c.Execution.MinInterval < 0 {
		errs = append(errs, errors.New("execution.min_interval must not be negative"))
	}
	if c.Pipeline.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_rounds must be at least 1, got %d", c.Pipeline.MaxRounds))
	}
	if _, err := c.Targets(); err != nil {
		errs = append(errs, err)
	}
	for i, ep := range c.LLM.Endpoints {
		if ep.URL == "" || ep.Model == "" {
			errs = append(errs, fmt.Errorf("llm.endpoints[%d]: url and model are required", i))
		}
	}
	return errors.Join(errs...)
}

// Targets converts the configured targets into the gateway's table.
func (c *Config) Targets() (gateway.Targets, error) {
	ts := make(gateway.Targets, len(c.Execution.Targets))
	for name, tc := range c.Execution.Targets {
		ts[name] = gateway.Target{
			Name:           name,
			Kind:           gateway.Kind(tc.Kind),
			Host:           tc.Host,
			User:           tc.User,
			KeyPath:        expandHome(tc.KeyPath),
			Port:           tc.Port,
			ConnectTimeout: tc.ConnectTimeout,
		}
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	return ts, nil
}

// EnsureDir creates the config directory with owner-only permissions.
func (c *Config) EnsureDir() error {
	if _, err := os.Stat(c.Dir); os.IsNotExist(err) {
		return os.MkdirAll(c.Dir, 0700)
	}
	return nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
