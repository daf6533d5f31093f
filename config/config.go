package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/changegate/changegate/escalation"
	"github.com/changegate/changegate/policy"
	"github.com/changegate/changegate/telemetry"
)

// EnvJWTSecret fills server.jwt_secret when the file leaves it blank,
// so the token key stays out of checked-in config files.
const EnvJWTSecret = "CHANGEGATE_JWT_SECRET"

// Config represents the main configuration
type Config struct {
	Version    string           `yaml:"version"`
	Server     ServerConfig     `yaml:"server,omitempty"`
	Storage    StorageConfig    `yaml:"storage,omitempty"`
	Audit      AuditConfig      `yaml:"audit,omitempty"`
	Risk       RiskConfig       `yaml:"risk,omitempty"`
	Policy     PolicyConfig     `yaml:"policy,omitempty"`
	Escalation EscalationConfig `yaml:"escalation,omitempty"`
	Gate       GateConfig       `yaml:"gate,omitempty"`
	Telemetry  TelemetryConfig  `yaml:"telemetry,omitempty"`
	Janitor    JanitorConfig    `yaml:"janitor,omitempty"`
	Log        LogConfig        `yaml:"log,omitempty"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr               string `yaml:"addr"`
	JWTSecret          string `yaml:"jwt_secret"`
	ShutdownTimeoutStr string `yaml:"shutdown_timeout"`
	ShutdownTimeout    time.Duration
}

// StorageConfig locates the bbolt database
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// AuditConfig locates the trail and sizes its segments
type AuditConfig struct {
	Dir       string `yaml:"dir"`
	SegmentMB int64  `yaml:"segment_mb"`
}

// SegmentBytes converts the configured segment size
func (a AuditConfig) SegmentBytes() int64 {
	return a.SegmentMB << 20
}

// RiskConfig points at the field risk table. An empty table path means
// the built-in table; watch enables hot reload on file change.
type RiskConfig struct {
	TablePath string `yaml:"table"`
	Watch     bool   `yaml:"watch"`
}

// PolicyConfig selects rule sources and the failure posture
type PolicyConfig struct {
	RulesPath string `yaml:"rules"`
	RegoDir   string `yaml:"rego_dir"`
	FailMode  string `yaml:"fail_mode"`
}

// EscalationConfig tunes the approval window and batch folding
type EscalationConfig struct {
	ApprovalTTLStr string `yaml:"approval_ttl"`
	ApprovalTTL    time.Duration
	BatchMode      string `yaml:"batch_mode"`
}

// GateConfig bounds break-glass override lifetimes
type GateConfig struct {
	OverrideTTLStr    string `yaml:"default_override_ttl"`
	OverrideTTL       time.Duration
	MaxOverrideTTLStr string `yaml:"max_override_ttl"`
	MaxOverrideTTL    time.Duration
}

// TelemetryConfig holds OTLP export settings
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
}

// OTEL maps the section onto the telemetry initialization config
func (t TelemetryConfig) OTEL(version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		Environment:    t.Environment,
		OTELEndpoint:   t.Endpoint,
		Insecure:       t.Insecure,
	}
}

// JanitorConfig schedules background sweeps. Schedules are standard
// five-field cron expressions; an empty rotate_schedule or
// compact_schedule disables that job.
type JanitorConfig struct {
	SweepSchedule        string `yaml:"sweep_schedule"`
	RotateSchedule       string `yaml:"rotate_schedule"`
	CompactSchedule      string `yaml:"compact_schedule"`
	ApprovalRetentionStr string `yaml:"approval_retention"`
	ApprovalRetention    time.Duration
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present
func Default() (*Config, error) {
	cfg := &Config{Version: "v1"}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures config has required fields and known modes
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server: addr is required")
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage: dir is required")
	}
	if c.Audit.Dir == "" {
		return fmt.Errorf("audit: dir is required")
	}
	if c.Audit.SegmentMB <= 0 {
		return fmt.Errorf("audit: segment_mb must be positive (got %d)", c.Audit.SegmentMB)
	}
	if !policy.FailMode(c.Policy.FailMode).Valid() {
		return fmt.Errorf("policy: unknown fail_mode %q", c.Policy.FailMode)
	}
	if !escalation.BatchMode(c.Escalation.BatchMode).Valid() {
		return fmt.Errorf("escalation: unknown batch_mode %q", c.Escalation.BatchMode)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeoutStr == "" {
		cfg.Server.ShutdownTimeoutStr = "10s"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "data"
	}
	if cfg.Audit.Dir == "" {
		cfg.Audit.Dir = "audit"
	}
	if cfg.Audit.SegmentMB == 0 {
		cfg.Audit.SegmentMB = 64
	}
	if cfg.Policy.FailMode == "" {
		cfg.Policy.FailMode = string(policy.FailOpen)
	}
	if cfg.Escalation.ApprovalTTLStr == "" {
		cfg.Escalation.ApprovalTTLStr = "4h"
	}
	if cfg.Escalation.BatchMode == "" {
		cfg.Escalation.BatchMode = string(escalation.BatchMaxRisk)
	}
	if cfg.Gate.OverrideTTLStr == "" {
		cfg.Gate.OverrideTTLStr = "1h"
	}
	if cfg.Gate.MaxOverrideTTLStr == "" {
		cfg.Gate.MaxOverrideTTLStr = "24h"
	}
	if cfg.Janitor.SweepSchedule == "" {
		cfg.Janitor.SweepSchedule = "*/5 * * * *"
	}
	if cfg.Janitor.RotateSchedule == "" {
		cfg.Janitor.RotateSchedule = "0 3 * * *"
	}
	if cfg.Janitor.CompactSchedule == "" {
		cfg.Janitor.CompactSchedule = "0 4 * * 0"
	}
	if cfg.Janitor.ApprovalRetentionStr == "" {
		cfg.Janitor.ApprovalRetentionStr = "720h"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "changegate"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// applyEnvOverrides fills secrets from the environment when the file
// leaves them blank
func applyEnvOverrides(cfg *Config) {
	if cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = os.Getenv(EnvJWTSecret)
	}
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutStr, &cfg.Server.ShutdownTimeout},
		{"escalation.approval_ttl", cfg.Escalation.ApprovalTTLStr, &cfg.Escalation.ApprovalTTL},
		{"gate.default_override_ttl", cfg.Gate.OverrideTTLStr, &cfg.Gate.OverrideTTL},
		{"gate.max_override_ttl", cfg.Gate.MaxOverrideTTLStr, &cfg.Gate.MaxOverrideTTL},
		{"janitor.approval_retention", cfg.Janitor.ApprovalRetentionStr, &cfg.Janitor.ApprovalRetention},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("failed to parse %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
