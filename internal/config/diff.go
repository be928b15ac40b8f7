package config

import (
	"reflect"
	"strings"

	"crosspost/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and log fields
// describing their new values. Secrets (DSN, alert token) are reported only as
// set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	o, n := oldCfg.Storage, newCfg.Storage
	if o.Driver != n.Driver || o.Path != n.Path || o.DSN != n.DSN || o.BusyTimeout != n.BusyTimeout || o.MaxConns != n.MaxConns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", n.Driver),
			logx.String("storage.path", n.Path),
			logx.Bool("storage.dsn_set", strings.TrimSpace(n.DSN) != ""),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		d := newCfg.Dispatch
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Bool("dispatch.enabled", d.Enabled),
			logx.String("dispatch.poll_schedule", d.PollSchedule),
			logx.String("dispatch.audit_schedule", d.AuditSchedule),
			logx.String("dispatch.timezone", d.Timezone),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retry, newCfg.Retry) {
		r := newCfg.Retry
		changed = append(changed, "retry")
		maxRetries := -1
		if r.MaxRetries != nil {
			maxRetries = *r.MaxRetries
		}
		attrs = append(attrs,
			logx.Int("retry.max_retries", maxRetries),
			logx.String("retry.initial_delay", r.InitialDelay),
			logx.String("retry.max_delay", r.MaxDelay),
		)
	}

	if oldCfg.Batch != newCfg.Batch {
		changed = append(changed, "batch")
		attrs = append(attrs, logx.Int("batch.concurrency", newCfg.Batch.Concurrency))
	}

	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.String("cache.accounts_ttl", newCfg.Cache.AccountsTTL),
			logx.String("cache.report_ttl", newCfg.Cache.ReportTTL),
		)
	}

	if !reflect.DeepEqual(oldCfg.Gateway, newCfg.Gateway) {
		g := newCfg.Gateway
		changed = append(changed, "gateway")
		rate := 0.0
		if g.RatePerSec != nil {
			rate = *g.RatePerSec
		}
		attrs = append(attrs,
			logx.String("gateway.publish_timeout", g.PublishTimeout),
			logx.Float64("gateway.rate_per_sec", rate),
			logx.Int("gateway.platform_rates", len(g.PlatformRates)),
			logx.Int("gateway.circuit_trip", g.Circuit.TripFailures),
			logx.Strings("gateway.dry_run", g.DryRun),
		)
	}

	oa, na := oldCfg.Alerts, newCfg.Alerts
	if oa.Enabled != na.Enabled || oa.Chat != na.Chat || oa.MinLevel != na.MinLevel || oa.RatePerSec != na.RatePerSec || oa.Token != na.Token {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", na.Enabled),
			logx.Bool("alerts.chat_set", strings.TrimSpace(na.Chat) != ""),
			logx.Bool("alerts.token_set", strings.TrimSpace(na.Token) != ""),
			logx.String("alerts.min_level", na.MinLevel),
		)
	}

	if !reflect.DeepEqual(oldCfg.Seed, newCfg.Seed) {
		changed = append(changed, "seed")
	}
	return changed, attrs
}
