// Package config loads the agent configuration from YAML with BANTZ_*
// environment overrides, and hot-reloads the permission rules file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full agent configuration.
type Config struct {
	Session       SessionConfig `yaml:"session"`
	Router        LLMConfig     `yaml:"router"`
	Quality       LLMConfig     `yaml:"quality"`
	Persona       PersonaConfig `yaml:"persona"`
	Audit         AuditConfig   `yaml:"audit"`
	Metrics       MetricsConfig `yaml:"metrics"`
	Tracker       TrackerConfig `yaml:"tracker"`
	Permissions   PermConfig    `yaml:"permissions"`
	Tools         ToolsConfig   `yaml:"tools"`
	Observability ObsConfig     `yaml:"observability"`
	Serve         ServeConfig   `yaml:"serve"`
}

// SessionConfig tunes the orchestrator.
type SessionConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	ExecutingTimeout    time.Duration `yaml:"executing_timeout"`
	WakewordOverride    time.Duration `yaml:"wakeword_override"`
}

// LLMConfig configures one model backend.
type LLMConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// PersonaConfig shapes the voice reply.
type PersonaConfig struct {
	MaxSentences int  `yaml:"max_sentences"`
	StripEmoji   bool `yaml:"strip_emoji"`
}

// AuditConfig configures the JSONL audit log.
type AuditConfig struct {
	Path       string `yaml:"path"`
	MaxBytes   int64  `yaml:"max_bytes"`
	MaxBackups int    `yaml:"max_backups"`
	RedactOff  bool   `yaml:"redact_off"`
}

// MetricsConfig configures the in-process collector.
type MetricsConfig struct {
	MaxRecords int    `yaml:"max_records"`
	FlushPath  string `yaml:"flush_path"`
}

// TrackerConfig configures the run tracker database.
type TrackerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// PermConfig points at the permission rules file.
type PermConfig struct {
	RulesPath   string `yaml:"rules_path"`
	HotReload   bool   `yaml:"hot_reload"`
	TokenSecret string `yaml:"token_secret"`
}

// ToolsConfig tunes the executor.
type ToolsConfig struct {
	DefaultTimeout time.Duration            `yaml:"default_timeout"`
	Timeouts       map[string]time.Duration `yaml:"timeouts"`
}

// ObsConfig configures logging and tracing.
type ObsConfig struct {
	LogLevel     string  `yaml:"log_level"`
	LogFormat    string  `yaml:"log_format"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	OTLPInsecure bool    `yaml:"otlp_insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// ServeConfig configures the serve command.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Session: SessionConfig{
			ConfidenceThreshold: 0.7,
			ExecutingTimeout:    60 * time.Second,
			WakewordOverride:    10 * time.Second,
		},
		Router:  LLMConfig{Model: "qwen2.5-3b-instruct", BaseURL: "http://127.0.0.1:8080/v1"},
		Quality: LLMConfig{Model: "claude-sonnet-4-20250514"},
		Persona: PersonaConfig{MaxSentences: 4, StripEmoji: true},
		Audit: AuditConfig{
			Path:       defaultStatePath("audit.jsonl"),
			MaxBytes:   50 << 20,
			MaxBackups: 5,
		},
		Metrics: MetricsConfig{MaxRecords: 10000},
		Tracker: TrackerConfig{
			Path:      defaultStatePath("runs.db"),
			Retention: 30 * 24 * time.Hour,
		},
		Permissions: PermConfig{HotReload: true},
		Tools:       ToolsConfig{DefaultTimeout: 10 * time.Second},
		Observability: ObsConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			SamplingRate: 1,
		},
		Serve: ServeConfig{Addr: "127.0.0.1:9464"},
	}
}

func defaultStatePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return home + "/.bantz/" + name
}

// Load reads the YAML file (optional) over the defaults and applies
// environment overrides last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers BANTZ_* overrides over the file values.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("BANTZ_ROUTER_API_KEY", &cfg.Router.APIKey)
	setString("BANTZ_ROUTER_BASE_URL", &cfg.Router.BaseURL)
	setString("BANTZ_ROUTER_MODEL", &cfg.Router.Model)
	setString("BANTZ_QUALITY_API_KEY", &cfg.Quality.APIKey)
	setString("BANTZ_QUALITY_MODEL", &cfg.Quality.Model)
	setString("BANTZ_AUDIT_PATH", &cfg.Audit.Path)
	setString("BANTZ_RULES_PATH", &cfg.Permissions.RulesPath)
	setString("BANTZ_TOKEN_SECRET", &cfg.Permissions.TokenSecret)
	setString("BANTZ_LOG_LEVEL", &cfg.Observability.LogLevel)
	setString("BANTZ_OTLP_ENDPOINT", &cfg.Observability.OTLPEndpoint)
	setString("BANTZ_SERVE_ADDR", &cfg.Serve.Addr)

	if v, ok := os.LookupEnv("BANTZ_CONFIDENCE_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Session.ConfidenceThreshold = f
		}
	}
	if v, ok := os.LookupEnv("BANTZ_TRACKER_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracker.Enabled = b
		}
	}
}

// Validate rejects out-of-range settings early.
func (c *Config) Validate() error {
	if c.Session.ConfidenceThreshold < 0 || c.Session.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v outside [0,1]", c.Session.ConfidenceThreshold)
	}
	if c.Persona.MaxSentences < 0 {
		return fmt.Errorf("max_sentences must be non-negative")
	}
	if c.Tools.DefaultTimeout < 0 {
		return fmt.Errorf("default_timeout must be non-negative")
	}
	return nil
}
