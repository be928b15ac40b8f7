package app

import (
	"fmt"
	"strings"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/dispatch"
	"crosspost/internal/domain"
	"crosspost/internal/gateway"
	"crosspost/internal/gateway/telegram"
	"crosspost/internal/retry"
	"crosspost/internal/storage"
	"crosspost/internal/task/scheduler"
	"crosspost/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Alerts.Enabled,
			MinLevel:   cfg.Alerts.MinLevel,
			RatePerSec: cfg.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			path = "./data/crosspost"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pg":
		return storage.Config{Driver: "postgres", DSN: sc.DSN, MaxConns: sc.MaxConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapRetryConfig(cfg *config.Config) (retry.Config, error) {
	rc := retry.DefaultConfig()
	if cfg.Retry.MaxRetries != nil {
		rc.MaxRetries = *cfg.Retry.MaxRetries
	}
	var err error
	if rc.InitialDelay, err = config.ParseDurationOrDefault("retry.initial_delay", cfg.Retry.InitialDelay, rc.InitialDelay); err != nil {
		return retry.Config{}, err
	}
	if rc.MaxDelay, err = config.ParseDurationOrDefault("retry.max_delay", cfg.Retry.MaxDelay, rc.MaxDelay); err != nil {
		return retry.Config{}, err
	}
	if cfg.Retry.Multiplier > 0 {
		rc.Multiplier = cfg.Retry.Multiplier
	}
	rc.Jitter = cfg.Retry.Jitter
	return rc, nil
}

func mapHubConfig(cfg *config.Config) (gateway.Config, error) {
	g := cfg.Gateway
	hc := gateway.Config{
		Concurrency:         cfg.Batch.Concurrency,
		DefaultRatePerSec:   config.DefaultRatePerSec,
		PlatformRates:       map[string]float64{},
		CircuitTripFailures: g.Circuit.TripFailures,
	}
	if g.RatePerSec != nil {
		hc.DefaultRatePerSec = *g.RatePerSec
	}
	for p, r := range g.PlatformRates {
		hc.PlatformRates[domain.NormalizePlatform(p)] = r
	}
	var err error
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.publish_timeout", g.PublishTimeout, &hc.PublishTimeout},
		{"gateway.circuit.base_delay", g.Circuit.BaseDelay, &hc.CircuitBaseDelay},
		{"gateway.circuit.max_delay", g.Circuit.MaxDelay, &hc.CircuitMaxDelay},
		{"gateway.circuit.reset_after", g.Circuit.ResetAfter, &hc.CircuitResetAfter},
	} {
		if *f.dst, err = config.ParseDurationField(f.path, f.raw); err != nil {
			return gateway.Config{}, err
		}
	}
	return hc, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationField("gateway.telegram.http_timeout", cfg.Gateway.Telegram.HTTPTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{APIURL: strings.TrimSpace(cfg.Gateway.Telegram.APIURL), HTTPTimeout: timeout}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	dc := dispatch.Config{
		Concurrency: cfg.Batch.Concurrency,
		AlertLevel:  domain.Severity(strings.ToLower(strings.TrimSpace(cfg.Dispatch.AlertLevel))),
	}
	var err error
	if dc.AccountsTTL, err = config.ParseDurationField("cache.accounts_ttl", cfg.Cache.AccountsTTL); err != nil {
		return dispatch.Config{}, err
	}
	if dc.ReportTTL, err = config.ParseDurationField("cache.report_ttl", cfg.Cache.ReportTTL); err != nil {
		return dispatch.Config{}, err
	}
	return dc, nil
}

// schedulePlan is the set of trigger schedules derived from the dispatch section.
type schedulePlan struct {
	enabled     bool
	poll        string
	pollTimeout time.Duration
	audit       string
	sched       scheduler.Config
}

func mapSchedulePlan(cfg *config.Config) (schedulePlan, error) {
	d := cfg.Dispatch
	p := schedulePlan{
		enabled: d.Enabled,
		poll:    strings.TrimSpace(d.PollSchedule),
		audit:   strings.TrimSpace(d.AuditSchedule),
		sched:   scheduler.Config{Timezone: strings.TrimSpace(d.Timezone)},
	}
	if p.poll == "" {
		p.poll = config.DefaultPollSchedule
	}
	var err error
	if p.pollTimeout, err = config.ParseDurationField("dispatch.poll_timeout", d.PollTimeout); err != nil {
		return schedulePlan{}, err
	}
	if _, err := scheduler.ParseSchedule(p.poll); err != nil {
		return schedulePlan{}, fmt.Errorf("dispatch.poll_schedule: %w", err)
	}
	if p.audit != "" {
		if _, err := scheduler.ParseSchedule(p.audit); err != nil {
			return schedulePlan{}, fmt.Errorf("dispatch.audit_schedule: %w", err)
		}
	}
	if p.sched.Timezone != "" {
		if _, err := time.LoadLocation(p.sched.Timezone); err != nil {
			return schedulePlan{}, fmt.Errorf("dispatch.timezone: invalid %q: %w", p.sched.Timezone, err)
		}
	}
	return p, nil
}

// dryRunSet returns the normalized platforms served by the log-only client.
func dryRunSet(cfg *config.Config) map[string]bool {
	out := map[string]bool{}
	for _, p := range cfg.Gateway.DryRun {
		if p = domain.NormalizePlatform(p); p != "" {
			out[p] = true
		}
	}
	return out
}
