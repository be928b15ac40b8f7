package config

import "crosspost/internal/domain"

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m"); empty
// means the component default. Secrets can come from the environment instead
// of the file, see ApplyEnv.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`
	Retry    RetryConfig    `json:"retry"`
	Batch    BatchConfig    `json:"batch"`
	Cache    CacheConfig    `json:"cache"`
	Gateway  GatewayConfig  `json:"gateway"`
	Alerts   AlertsConfig   `json:"alerts"`

	// Seed is loaded into storage at startup. Existing rows are left alone.
	Seed *SeedConfig `json:"seed,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./crosspost.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

// DispatchConfig controls the periodic poll and risk audit.
//
// Schedules accept cron ("*/1 * * * *", "@hourly"), Go durations ("30s") or HH:MM intervals.
type DispatchConfig struct {
	Enabled       bool   `json:"enabled"`
	PollSchedule  string `json:"poll_schedule"`
	PollTimeout   string `json:"poll_timeout,omitempty"`
	AuditSchedule string `json:"audit_schedule,omitempty"` // empty disables the audit
	Timezone      string `json:"timezone,omitempty"`
	AlertLevel    string `json:"alert_level,omitempty"` // low|medium|high
}

// RetryConfig wraps each task run. MaxRetries is a pointer so an explicit 0
// (single attempt) differs from omitted (default 3).
type RetryConfig struct {
	MaxRetries   *int    `json:"max_retries,omitempty"`
	InitialDelay string  `json:"initial_delay,omitempty"`
	MaxDelay     string  `json:"max_delay,omitempty"`
	Multiplier   float64 `json:"multiplier,omitempty"`
	Jitter       float64 `json:"jitter,omitempty"`
}

type BatchConfig struct {
	Concurrency int `json:"concurrency,omitempty"`
}

type CacheConfig struct {
	AccountsTTL string `json:"accounts_ttl,omitempty"`
	ReportTTL   string `json:"report_ttl,omitempty"`
}

type GatewayConfig struct {
	PublishTimeout string `json:"publish_timeout,omitempty"`
	// RatePerSec is the default per-platform publish rate; 0 disables limiting.
	RatePerSec    *float64           `json:"rate_per_sec,omitempty"`
	PlatformRates map[string]float64 `json:"platform_rates,omitempty"`
	Circuit       CircuitConfig      `json:"circuit"`
	Telegram      TelegramConfig     `json:"telegram"`
	// DryRun lists platforms served by the log-only client.
	DryRun []string `json:"dry_run,omitempty"`
}

type CircuitConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"` // <0 disables
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

type TelegramConfig struct {
	APIURL      string `json:"api_url,omitempty"`
	HTTPTimeout string `json:"http_timeout,omitempty"`
}

// AlertsConfig forwards warning and error log lines to a Telegram chat.
type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // do not log
	Chat       string `json:"chat,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SeedConfig struct {
	Accounts []domain.PlatformAccount `json:"accounts,omitempty"`
	Tasks    []domain.Task            `json:"tasks,omitempty"`
}
