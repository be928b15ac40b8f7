package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/dispatch"
	"crosspost/internal/eventbus"
	"crosspost/internal/executor"
	"crosspost/internal/gateway"
	"crosspost/internal/gateway/logsink"
	"crosspost/internal/gateway/telegram"
	"crosspost/internal/runtime/supervisor"
	"crosspost/internal/storage"
	"crosspost/internal/task/scheduler"
	"crosspost/pkg/logx"
)

const (
	pollScheduleName  = "dispatch.poll"
	auditScheduleName = "dispatch.audit"
	seedTimeout       = 30 * time.Second
)

// App wires storage, the platform gateway, the executor and the dispatch
// schedules together and keeps them in sync with the config file.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	hub   *gateway.Hub
	sink  *logsink.Client
	exec  *executor.Executor
	disp  *dispatch.Service
	sched *scheduler.Service

	// mu serializes schedule changes.
	mu sync.Mutex
}

// New loads the config at cfgPath (empty means defaults plus environment),
// opens storage and seeds it. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	hubCfg, err := mapHubConfig(cfg)
	if err != nil {
		return nil, err
	}
	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	retryCfg, err := mapRetryConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	plan, err := mapSchedulePlan(cfg)
	if err != nil {
		return nil, err
	}

	// The alerter is optional: a bad token must not keep the daemon down.
	sender, alertErr := newAlertSender(cfg, tgCfg)
	logSvc, log := logx.New(mapLogConfig(cfg), sender)
	log = log.With(logx.String("comp", "app"))
	if alertErr != nil {
		log.Warn("log alerts disabled", logx.Err(alertErr))
	}

	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", storeCfg.Driver))

	seedCtx, cancel := context.WithTimeout(ctx, seedTimeout)
	err = seed(seedCtx, store, cfg.Seed, log.With(logx.String("comp", "seed")))
	cancel()
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("seed storage: %w", err)
	}

	bus := eventbus.New()
	hub := gateway.NewHub(hubCfg, log.With(logx.String("comp", "gateway")))
	sink := logsink.New(log.With(logx.String("comp", "logsink")))
	dry := dryRunSet(cfg)
	for p := range dry {
		hub.Register(p, sink)
	}
	if !dry["telegram"] {
		hub.Register("telegram", telegram.New(tgCfg, log.With(logx.String("comp", "telegram"))))
	}

	exec := executor.New(store, hub, log.With(logx.String("comp", "executor")), executor.Options{Retry: retryCfg, Bus: bus})
	disp := dispatch.New(store, exec, log.With(logx.String("comp", "dispatch")), dispCfg, dispatch.Options{Bus: bus})
	sched := scheduler.New(plan.sched, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		hub:   hub,
		sink:  sink,
		exec:  exec,
		disp:  disp,
		sched: sched,
	}, nil
}

// newAlertSender returns nil (an untyped nil interface) when alerts are off.
func newAlertSender(cfg *config.Config, tg telegram.Config) (logx.AlertSender, error) {
	if !cfg.Alerts.Enabled {
		return nil, nil
	}
	a, err := telegram.NewAlerter(cfg.Alerts.Token, cfg.Alerts.Chat, tg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Dispatch exposes the dispatch service for on-demand operations.
func (a *App) Dispatch() *dispatch.Service { return a.disp }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	plan, err := mapSchedulePlan(a.cfgm.Get())
	if err != nil {
		return err
	}
	if err := a.applySchedules(plan); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.reload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Bool("dispatch", plan.enabled), logx.String("poll", plan.poll), logx.String("audit", plan.audit))
	return nil
}

// validate rejects configs the components could not apply.
func validate(cfg *config.Config) error {
	var errs []error
	for _, fn := range []func(*config.Config) error{
		func(c *config.Config) error { _, err := mapStorageConfig(c); return err },
		func(c *config.Config) error { _, err := mapHubConfig(c); return err },
		func(c *config.Config) error { _, err := mapTelegramConfig(c); return err },
		func(c *config.Config) error { _, err := mapRetryConfig(c); return err },
		func(c *config.Config) error { _, err := mapDispatchConfig(c); return err },
		func(c *config.Config) error { _, err := mapSchedulePlan(c); return err },
	} {
		if err := fn(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// applySchedules registers or removes the poll and audit triggers.
func (a *App) applySchedules(p schedulePlan) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sched.Apply(p.sched)
	if !p.enabled {
		a.sched.Remove(pollScheduleName)
		a.sched.Remove(auditScheduleName)
		return nil
	}
	if _, err := a.sched.AddSchedule(pollScheduleName, p.poll, p.pollTimeout, a.poll); err != nil {
		return fmt.Errorf("dispatch.poll_schedule: %w", err)
	}
	if p.audit == "" {
		a.sched.Remove(auditScheduleName)
	} else if _, err := a.sched.AddSchedule(auditScheduleName, p.audit, 0, a.audit); err != nil {
		return fmt.Errorf("dispatch.audit_schedule: %w", err)
	}
	return nil
}

func (a *App) poll(ctx context.Context) error {
	_, err := a.disp.Poll(ctx)
	return err
}

func (a *App) audit(ctx context.Context) error {
	_, err := a.disp.Audit(ctx)
	return err
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.ExecutionCompleted:
		fields := []logx.Field{logx.String("type", e.Type), logx.String("task_id", d.TaskID), logx.String("status", d.Status), logx.Duration("took", d.Duration)}
		if !d.NextRun.IsZero() {
			fields = append(fields, logx.Time("next_run", d.NextRun))
		}
		a.log.Debug("event", fields...)
	default:
		// Keep this debug-level to avoid noise for frequent schedules.
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// reload applies a validated config to the running components.
func (a *App) reload(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["storage"] || changed["seed"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if changed["logging"] || changed["alerts"] {
		if changed["alerts"] {
			tg, _ := mapTelegramConfig(newCfg)
			sender, err := newAlertSender(newCfg, tg)
			if err != nil {
				a.log.Warn("log alerts disabled", logx.Err(err))
			}
			a.logs.SetAlertSender(sender)
		}
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if changed["gateway"] || changed["batch"] {
		if hc, err := mapHubConfig(newCfg); err == nil {
			a.hub.Apply(hc)
		}
		if dryRunChanged(oldCfg, newCfg) {
			a.log.Warn("gateway.dry_run changed; restart required for changes to take effect")
		}
	}

	if changed["retry"] {
		if rc, err := mapRetryConfig(newCfg); err == nil {
			a.exec.SetRetry(rc)
		}
	}

	if changed["batch"] || changed["cache"] {
		if dc, err := mapDispatchConfig(newCfg); err == nil {
			a.disp.Apply(dc)
		}
	}

	if changed["dispatch"] {
		if p, err := mapSchedulePlan(newCfg); err != nil {
			a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		} else if err := a.applySchedules(p); err != nil {
			a.log.Warn("dispatch schedules not applied", logx.Err(err))
		}
		if oldCfg != nil && oldCfg.Dispatch.AlertLevel != newCfg.Dispatch.AlertLevel {
			a.log.Warn("dispatch.alert_level changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func dryRunChanged(oldCfg, newCfg *config.Config) bool {
	if oldCfg == nil {
		return false
	}
	o, n := dryRunSet(oldCfg), dryRunSet(newCfg)
	if len(o) != len(n) {
		return true
	}
	for p := range n {
		if !o[p] {
			return true
		}
	}
	return false
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Stop(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	snap := a.hub.Snapshot()
	a.log.Info("stopped",
		logx.Int("connections", snap.Connections),
		logx.Int("circuits_open", snap.CircuitsOpen),
		logx.Int("dry_run_posts", len(a.sink.Posts())),
		logx.Uint64("dropped_events", a.bus.Dropped()),
		logx.Uint64("dropped_alerts", a.logs.DroppedAlerts()),
	)
	return a.closeResources()
}

func (a *App) closeResources() error {
	err := a.store.Close()
	_ = a.logs.Close()
	return err
}
