package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultPollSchedule  = "1m"
	DefaultAuditSchedule = "@hourly"
	DefaultRatePerSec    = 5.0
)

// DefaultDryRunPlatforms are served by the log-only client unless configured.
var DefaultDryRunPlatforms = []string{"twitter", "x", "instagram", "facebook", "linkedin", "threads"}

// Default returns a config that runs locally with in-memory storage.
func Default() *Config {
	cfg := &Config{
		Logging:  LoggingConfig{Level: "info", Console: true},
		Storage:  StorageConfig{Driver: "memory"},
		Dispatch: DispatchConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills fields whose zero value would not mean "default" downstream.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "memory"
	}
	if strings.TrimSpace(c.Dispatch.PollSchedule) == "" {
		c.Dispatch.PollSchedule = DefaultPollSchedule
	}
	if c.Gateway.RatePerSec == nil {
		r := DefaultRatePerSec
		c.Gateway.RatePerSec = &r
	}
	if c.Gateway.DryRun == nil {
		c.Gateway.DryRun = append([]string(nil), DefaultDryRunPlatforms...)
	}
}

// Validate checks values that would otherwise fail late or silently.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	for path, raw := range map[string]string{
		"storage.busy_timeout":          c.Storage.BusyTimeout,
		"dispatch.poll_timeout":         c.Dispatch.PollTimeout,
		"retry.initial_delay":           c.Retry.InitialDelay,
		"retry.max_delay":               c.Retry.MaxDelay,
		"cache.accounts_ttl":            c.Cache.AccountsTTL,
		"cache.report_ttl":              c.Cache.ReportTTL,
		"gateway.publish_timeout":       c.Gateway.PublishTimeout,
		"gateway.circuit.base_delay":    c.Gateway.Circuit.BaseDelay,
		"gateway.circuit.max_delay":     c.Gateway.Circuit.MaxDelay,
		"gateway.circuit.reset_after":   c.Gateway.Circuit.ResetAfter,
		"gateway.telegram.http_timeout": c.Gateway.Telegram.HTTPTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "mem", "file", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(errors.New("storage.dsn: required for postgres"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(c.Dispatch.AlertLevel)) {
	case "", "low", "medium", "high":
	default:
		add(fmt.Errorf("dispatch.alert_level: want low|medium|high, got %q", c.Dispatch.AlertLevel))
	}

	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		add(errors.New("retry.max_retries: must be >= 0"))
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		add(errors.New("retry.multiplier: must be >= 1"))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		add(errors.New("retry.jitter: must be within [0,1]"))
	}
	if c.Batch.Concurrency < 0 {
		add(errors.New("batch.concurrency: must be >= 0"))
	}
	if c.Gateway.RatePerSec != nil && *c.Gateway.RatePerSec < 0 {
		add(errors.New("gateway.rate_per_sec: must be >= 0"))
	}
	if c.Alerts.Enabled && (strings.TrimSpace(c.Alerts.Token) == "" || strings.TrimSpace(c.Alerts.Chat) == "") {
		add(errors.New("alerts: token and chat are required when enabled"))
	}
	return errors.Join(errs...)
}
