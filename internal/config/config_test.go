package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
server:
  api_port: "8080"
  metrics_port: "9090"

tokens:
  adapter_token_secret: "adapter-secret"
  decision_token_secret: "decision-secret"
  ttl_seconds: 900

approval:
  approval_mode: "enforce"
  reuse_window_ms: 600000
  approval_wait_timeout_ms: 300000
  approval_poll_interval_ms: 500

policy:
  policy_operators_enabled: true

store:
  db_path: "postgres://localhost/gatekeeper"
  redis_url: "redis://localhost:6379"

notify:
  slack_token: "xoxb-test"
  slack_channel: "C-OPS"

ops:
  api_key: "ops-key"

logging:
  level: "info"
  format: "json"
`

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != "8080" || cfg.Server.MetricsPort != "9090" {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Tokens.AdapterTokenSecret != "adapter-secret" || cfg.Tokens.DecisionTokenSecret != "decision-secret" {
		t.Errorf("unexpected tokens config: %+v", cfg.Tokens)
	}
	if cfg.Tokens.TTL != 15*time.Minute {
		t.Errorf("Tokens.TTL = %v, want 15m", cfg.Tokens.TTL)
	}
	if cfg.Approval.ApprovalMode != "enforce" {
		t.Errorf("ApprovalMode = %q, want enforce", cfg.Approval.ApprovalMode)
	}
	if cfg.Approval.ReuseWindow != 10*time.Minute {
		t.Errorf("ReuseWindow = %v, want 10m", cfg.Approval.ReuseWindow)
	}
	if cfg.Approval.WaitTimeout != 5*time.Minute {
		t.Errorf("WaitTimeout = %v, want 5m", cfg.Approval.WaitTimeout)
	}
	if cfg.Approval.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.Approval.PollInterval)
	}
	if !cfg.Policy.OperatorsEnabled {
		t.Error("expected policy_operators_enabled to be true")
	}
	if cfg.Store.DBPath != "postgres://localhost/gatekeeper" {
		t.Errorf("DBPath = %q", cfg.Store.DBPath)
	}
	if cfg.Notify.SlackChannel != "C-OPS" {
		t.Errorf("SlackChannel = %q", cfg.Notify.SlackChannel)
	}
}

func TestLoad_DefaultsFillMissingValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  api_port: "3000"

tokens:
  adapter_token_secret: "a"
  decision_token_secret: "d"
  ttl_seconds: 60

store:
  db_path: "postgres://localhost/gatekeeper"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Approval.ApprovalMode != "simulate" {
		t.Errorf("default ApprovalMode = %q, want simulate", cfg.Approval.ApprovalMode)
	}
	if cfg.Approval.PollIntervalMs != 250 {
		t.Errorf("default PollIntervalMs = %d, want 250", cfg.Approval.PollIntervalMs)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected default logging config: %+v", cfg.Logging)
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  api_port: "8080"
  invalid: [
tokens:
  adapter_token_secret: "x"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a parse error for invalid YAML")
	}
}

func TestLoad_MissingRequiredFieldFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  api_port: "8080"

tokens:
  adapter_token_secret: "a"
  decision_token_secret: "d"
  ttl_seconds: 60
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a validation error when store.db_path is missing")
	}
}

func TestLoad_InvalidApprovalModeFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  api_port: "8080"

tokens:
  adapter_token_secret: "a"
  decision_token_secret: "d"
  ttl_seconds: 60

approval:
  approval_mode: "bogus"

store:
  db_path: "postgres://localhost/gatekeeper"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a validation error for an invalid approval_mode")
	}
}

func TestLoad_PollIntervalExceedingTimeoutFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  api_port: "8080"

tokens:
  adapter_token_secret: "a"
  decision_token_secret: "d"
  ttl_seconds: 60

approval:
  approval_wait_timeout_ms: 1000
  approval_poll_interval_ms: 2000

store:
  db_path: "postgres://localhost/gatekeeper"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a validation error when poll interval exceeds wait timeout")
	}
}

func TestLoadFromEnv_OverridesFields(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("GATEKEEPER_API_PORT", "3000")
	os.Setenv("GATEKEEPER_METRICS_PORT", "9999")
	os.Setenv("GATEKEEPER_LOG_LEVEL", "debug")
	os.Setenv("GATEKEEPER_APPROVAL_MODE", "enforce")
	os.Setenv("GATEKEEPER_ADAPTER_TOKEN_SECRET", "env-adapter-secret")

	cfg := defaults()
	if err := loadFromEnv(cfg); err != nil {
		t.Fatalf("loadFromEnv() error = %v", err)
	}

	if cfg.Server.APIPort != "3000" {
		t.Errorf("APIPort = %q, want 3000", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort != "9999" {
		t.Errorf("MetricsPort = %q, want 9999", cfg.Server.MetricsPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Approval.ApprovalMode != "enforce" {
		t.Errorf("ApprovalMode = %q, want enforce", cfg.Approval.ApprovalMode)
	}
	if cfg.Tokens.AdapterTokenSecret != "env-adapter-secret" {
		t.Errorf("AdapterTokenSecret = %q, want env-adapter-secret", cfg.Tokens.AdapterTokenSecret)
	}
}

func TestLoadFromEnv_NoVarsSetLeavesConfigUnchanged(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	cfg := defaults()
	original := *cfg
	if err := loadFromEnv(cfg); err != nil {
		t.Fatalf("loadFromEnv() error = %v", err)
	}
	if *cfg != original {
		t.Errorf("config changed with no environment variables set: got %+v, want %+v", *cfg, original)
	}
}

func TestHotReloadable_ApprovalChangeIsHotReloadable(t *testing.T) {
	prev := defaults()
	next := defaults()
	next.Approval.ApprovalMode = "enforce"

	changed, restartOnly := hotReloadable(prev, next)
	if !changed {
		t.Error("expected an approval_mode change to be reported as hot-reloadable")
	}
	if restartOnly {
		t.Error("did not expect an approval_mode-only change to require a restart")
	}
}

func TestHotReloadable_SecretChangeRequiresRestart(t *testing.T) {
	prev := defaults()
	prev.Tokens.AdapterTokenSecret = "old"
	next := defaults()
	next.Tokens.AdapterTokenSecret = "new"

	_, restartOnly := hotReloadable(prev, next)
	if !restartOnly {
		t.Error("expected a token secret change to be flagged as restart-only")
	}
}

func TestHotReloadable_DBPathChangeRequiresRestart(t *testing.T) {
	prev := defaults()
	prev.Store.DBPath = "old"
	next := defaults()
	next.Store.DBPath = "new"

	_, restartOnly := hotReloadable(prev, next)
	if !restartOnly {
		t.Error("expected a db_path change to be flagged as restart-only")
	}
}
