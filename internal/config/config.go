// Package config loads and validates the gatekeeper's runtime configuration
// from a YAML file, with environment variable overrides and a watcher that
// hot-reloads the subset of fields safe to change without a restart.
package config

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	sharederrors "github.com/agentgate/gatekeeper/pkg/shared/errors"
)

// ServerConfig holds the listener ports for the two HTTP surfaces: the
// adapter/operator API and the metrics/health server.
type ServerConfig struct {
	APIPort     string `yaml:"api_port" validate:"required"`
	MetricsPort string `yaml:"metrics_port"`
}

// TokensConfig configures decision and adapter token signing.
type TokensConfig struct {
	AdapterTokenSecret  string        `yaml:"adapter_token_secret" validate:"required"`
	DecisionTokenSecret string        `yaml:"decision_token_secret" validate:"required"`
	TTLSeconds          int           `yaml:"ttl_seconds" validate:"gt=0"`
	TTL                 time.Duration `yaml:"-"`
}

// ApprovalConfig configures the approval lifecycle's timing and mode.
// ApprovalMode, ReuseWindowMs, WaitTimeoutMs, and PollIntervalMs are
// hot-reloadable, as is Policy.OperatorsEnabled; everything else in Config
// requires a restart.
type ApprovalConfig struct {
	ApprovalMode   string        `yaml:"approval_mode" validate:"oneof=simulate enforce"`
	ReuseWindowMs  int           `yaml:"reuse_window_ms" validate:"gt=0"`
	WaitTimeoutMs  int           `yaml:"approval_wait_timeout_ms" validate:"gt=0"`
	PollIntervalMs int           `yaml:"approval_poll_interval_ms" validate:"gte=250"`
	ReuseWindow    time.Duration `yaml:"-"`
	WaitTimeout    time.Duration `yaml:"-"`
	PollInterval   time.Duration `yaml:"-"`
}

// PolicyConfig gates the legacy vs. extended condition-matching code path.
type PolicyConfig struct {
	OperatorsEnabled bool `yaml:"policy_operators_enabled"`
}

// StoreConfig points at the backing stores.
type StoreConfig struct {
	DBPath   string `yaml:"db_path" validate:"required"`
	RedisURL string `yaml:"redis_url"`
}

// NotifyConfig configures the Slack operator-notification sink. Optional:
// an empty token or channel disables notifications.
type NotifyConfig struct {
	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
}

// OpsConfig configures the operator HTTP surface.
type OpsConfig struct {
	APIKey string `yaml:"api_key"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// Config is the gatekeeper's complete runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Approval ApprovalConfig `yaml:"approval"`
	Policy   PolicyConfig   `yaml:"policy"`
	Store    StoreConfig    `yaml:"store"`
	Notify   NotifyConfig   `yaml:"notify"`
	Ops      OpsConfig      `yaml:"ops"`
	Logging  LoggingConfig  `yaml:"logging"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			APIPort:     "8080",
			MetricsPort: "9090",
		},
		Approval: ApprovalConfig{
			ApprovalMode:   "simulate",
			ReuseWindowMs:  10 * 60 * 1000,
			WaitTimeoutMs:  5 * 60 * 1000,
			PollIntervalMs: 250,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var validate_ = validator.New()

// Load reads and parses the YAML file at path, applies environment overrides,
// derives duration fields, and validates the result. Missing optional fields
// fall back to defaults().
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sharederrors.FailedTo("read config file", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, sharederrors.FailedTo("parse config file", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, sharederrors.FailedTo("apply environment overrides", err)
	}

	deriveDurations(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func deriveDurations(cfg *Config) {
	cfg.Tokens.TTL = time.Duration(cfg.Tokens.TTLSeconds) * time.Second
	cfg.Approval.ReuseWindow = time.Duration(cfg.Approval.ReuseWindowMs) * time.Millisecond
	cfg.Approval.WaitTimeout = time.Duration(cfg.Approval.WaitTimeoutMs) * time.Millisecond
	cfg.Approval.PollInterval = time.Duration(cfg.Approval.PollIntervalMs) * time.Millisecond
}

// validateConfig runs struct-tag validation and the cross-field checks the
// tags can't express.
func validateConfig(cfg *Config) error {
	if err := validate_.Struct(cfg); err != nil {
		return sharederrors.ValidationError("config", err.Error())
	}
	if cfg.Approval.PollIntervalMs > cfg.Approval.WaitTimeoutMs {
		return sharederrors.ValidationError("approval.approval_poll_interval_ms",
			"poll interval must not exceed the wait timeout")
	}
	return nil
}

// loadFromEnv applies a small set of environment overrides, used by
// container deployments that inject secrets without templating the YAML.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("GATEKEEPER_API_PORT"); v != "" {
		cfg.Server.APIPort = v
	}
	if v := os.Getenv("GATEKEEPER_METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("GATEKEEPER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GATEKEEPER_ADAPTER_TOKEN_SECRET"); v != "" {
		cfg.Tokens.AdapterTokenSecret = v
	}
	if v := os.Getenv("GATEKEEPER_DECISION_TOKEN_SECRET"); v != "" {
		cfg.Tokens.DecisionTokenSecret = v
	}
	if v := os.Getenv("GATEKEEPER_APPROVAL_MODE"); v != "" {
		cfg.Approval.ApprovalMode = v
	}
	if v := os.Getenv("GATEKEEPER_OPS_API_KEY"); v != "" {
		cfg.Ops.APIKey = v
	}
	if v := os.Getenv("GATEKEEPER_SLACK_TOKEN"); v != "" {
		cfg.Notify.SlackToken = v
	}
	return nil
}

// hotReloadable fields: changing any of these in the watched file is applied
// live. Everything else (secrets, db_path) requires a process restart.
func hotReloadable(prev, next *Config) (changed bool, restartOnly bool) {
	if prev.Approval != next.Approval || prev.Policy != next.Policy {
		changed = true
	}
	if prev.Tokens != next.Tokens || prev.Store != next.Store {
		restartOnly = true
	}
	return changed, restartOnly
}

// Watcher watches a config file for changes and reloads the hot-reloadable
// fields into a live Config, logging a warning when a change also touches a
// restart-only field (the file is reparsed, but the restart-only fields are
// left at their process-start values).
type Watcher struct {
	path    string
	current *Config
	log     logr.Logger
	watcher *fsnotify.Watcher
	onApply func(*Config)
}

// NewWatcher starts watching path for writes, calling onApply with the
// updated Config whenever a hot-reloadable field changes.
func NewWatcher(path string, initial *Config, log logr.Logger, onApply func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, sharederrors.FailedTo("create config watcher", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, sharederrors.FailedTo("watch config file", err)
	}

	w := &Watcher{path: path, current: initial, log: log, watcher: fw, onApply: onApply}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		return
	}
	changed, restartOnly := hotReloadable(w.current, next)
	if restartOnly {
		w.log.Info("config file changed a restart-only field; ignoring until next restart",
			"path", w.path)
		next.Tokens = w.current.Tokens
		next.Store = w.current.Store
	}
	if changed {
		w.current = next
		if w.onApply != nil {
			w.onApply(next)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
