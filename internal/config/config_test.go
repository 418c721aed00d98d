package config_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sitewatch/monitor/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
data_root: "/var/lib/sitewatch"
listen_addr: "0.0.0.0:9090"
log_level: debug
jwt_public_key_path: "/etc/sitewatch/jwt.pub"
public_base_url: "https://monitor.example.com"
alerting:
  down_after_seconds: 300
  recovered_after_seconds: 120
  repeat_every_seconds_under_24h: 900
  repeat_every_seconds_24h_to_72h: 1800
  daily_after_hours: 48
  daily_hour_local: 8
  daily_minute_local: 30
  scheduler_tick_seconds: 10
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataRoot != "/var/lib/sitewatch" {
		t.Errorf("DataRoot = %q", cfg.DataRoot)
	}
	if cfg.ListenAddr != "0.0.0.0:9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.JWTPublicKeyPath != "/etc/sitewatch/jwt.pub" {
		t.Errorf("JWTPublicKeyPath = %q", cfg.JWTPublicKeyPath)
	}
	if cfg.PublicBaseURL != "https://monitor.example.com" {
		t.Errorf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
	if cfg.Alerting.DownAfterSeconds != 300 || cfg.Alerting.DailyHourLocal != 8 ||
		cfg.Alerting.DailyMinuteLocal != 30 {
		t.Errorf("Alerting = %+v", cfg.Alerting)
	}
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeTemp(t, `data_root: "/var/lib/sitewatch"`)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:8080" {
		t.Errorf("default ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadConfig_MissingDataRoot(t *testing.T) {
	path := writeTemp(t, `log_level: info`)
	_, err := config.LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "data_root is required") {
		t.Errorf("LoadConfig = %v, want data_root error", err)
	}
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	path := writeTemp(t, "data_root: /tmp/x\nlog_level: verbose\n")
	_, err := config.LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Errorf("LoadConfig = %v, want log_level error", err)
	}
}

func TestLoadConfig_NegativeDurationRejected(t *testing.T) {
	path := writeTemp(t, "data_root: /tmp/x\nalerting:\n  down_after_seconds: -5\n")
	_, err := config.LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "must not be negative") {
		t.Errorf("LoadConfig = %v, want negative-duration error", err)
	}
}

func TestLoadConfig_DailySlotBounds(t *testing.T) {
	path := writeTemp(t, "data_root: /tmp/x\nalerting:\n  daily_hour_local: 24\n")
	_, err := config.LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "daily_hour_local") {
		t.Errorf("LoadConfig = %v, want daily_hour_local error", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := config.LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("LoadConfig accepted a missing file")
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeTemp(t, "data_root: [unclosed")
	if _, err := config.LoadConfig(path); err == nil {
		t.Error("LoadConfig accepted malformed YAML")
	}
}

func TestAlertConfig_ConvertsToDurations(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := cfg.AlertConfig()
	if a.DownAfter != 5*time.Minute {
		t.Errorf("DownAfter = %v, want 5m", a.DownAfter)
	}
	if a.DailyAfter != 48*time.Hour {
		t.Errorf("DailyAfter = %v, want 48h", a.DailyAfter)
	}
	if a.TickInterval != 10*time.Second {
		t.Errorf("TickInterval = %v, want 10s", a.TickInterval)
	}
}
