// Package config provides YAML configuration loading and validation for the
// sitewatch monitor.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sitewatch/monitor/internal/alert"
)

// Config is the top-level configuration structure for the monitor process.
type Config struct {
	// DataRoot is the directory holding the sqlite database and the
	// Protector key material. Required.
	DataRoot string `yaml:"data_root"`

	// ListenAddr is the listen address for the control HTTP API
	// (e.g. "127.0.0.1:8080"). Defaults to "127.0.0.1:8080" when omitted.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// JWTPublicKeyPath is the path to the PEM-encoded RSA public key used
	// to verify Bearer tokens on the control API. Leave empty to disable
	// authentication (dev only).
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`

	// PublicBaseURL is the externally reachable base URL linked from alert
	// mails. Optional.
	PublicBaseURL string `yaml:"public_base_url"`

	// Alerting holds the escalation ladder cadence. Omitted fields use the
	// global defaults.
	Alerting AlertingConfig `yaml:"alerting"`
}

// AlertingConfig mirrors the alert ladder knobs in seconds/hours, as they
// appear in the configuration file.
type AlertingConfig struct {
	DownAfterSeconds          int `yaml:"down_after_seconds"`
	RecoveredAfterSeconds     int `yaml:"recovered_after_seconds"`
	RepeatEverySecondsUnder24 int `yaml:"repeat_every_seconds_under_24h"`
	RepeatEverySeconds24to72  int `yaml:"repeat_every_seconds_24h_to_72h"`
	DailyAfterHours           int `yaml:"daily_after_hours"`
	DailyHourLocal            int `yaml:"daily_hour_local"`
	DailyMinuteLocal          int `yaml:"daily_minute_local"`
	SchedulerTickSeconds      int `yaml:"scheduler_tick_seconds"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns a typed error
// describing the first validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validate checks that all required fields are populated and that enumerated
// fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.DataRoot == "" {
		errs = append(errs, errors.New("data_root is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	a := cfg.Alerting
	if a.DownAfterSeconds < 0 || a.RecoveredAfterSeconds < 0 ||
		a.RepeatEverySecondsUnder24 < 0 || a.RepeatEverySeconds24to72 < 0 ||
		a.DailyAfterHours < 0 || a.SchedulerTickSeconds < 0 {
		errs = append(errs, errors.New("alerting durations must not be negative"))
	}
	if a.DailyHourLocal < 0 || a.DailyHourLocal > 23 {
		errs = append(errs, errors.New("alerting.daily_hour_local must be within 0..23"))
	}
	if a.DailyMinuteLocal < 0 || a.DailyMinuteLocal > 59 {
		errs = append(errs, errors.New("alerting.daily_minute_local must be within 0..59"))
	}

	return errors.Join(errs...)
}

// AlertConfig converts the file representation into the evaluator's Config,
// leaving omitted fields to be defaulted by alert.Config.Normalize.
func (c *Config) AlertConfig() alert.Config {
	a := c.Alerting
	return alert.Config{
		DownAfter:        time.Duration(a.DownAfterSeconds) * time.Second,
		RecoveredAfter:   time.Duration(a.RecoveredAfterSeconds) * time.Second,
		RepeatUnder24h:   time.Duration(a.RepeatEverySecondsUnder24) * time.Second,
		Repeat24hTo72h:   time.Duration(a.RepeatEverySeconds24to72) * time.Second,
		DailyAfter:       time.Duration(a.DailyAfterHours) * time.Hour,
		DailyHourLocal:   a.DailyHourLocal,
		DailyMinuteLocal: a.DailyMinuteLocal,
		TickInterval:     time.Duration(a.SchedulerTickSeconds) * time.Second,
	}
}
