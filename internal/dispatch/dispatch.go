// Package dispatch drives the engine: it polls for due tasks and runs them, and
// answers on-demand risk, report and scheduling questions about one task.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"crosspost/internal/batch"
	"crosspost/internal/cache"
	"crosspost/internal/domain"
	"crosspost/internal/eventbus"
	"crosspost/internal/report"
	"crosspost/internal/risk"
	"crosspost/internal/schedule"
	"crosspost/pkg/logx"
)

// Store is the read side plus the status update the dispatcher needs.
type Store interface {
	ActiveTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, p domain.TaskPatch) error
	TaskExecutions(ctx context.Context, taskID string) ([]domain.TaskExecution, error)
	UserAccounts(ctx context.Context, userID string) ([]domain.PlatformAccount, error)
}

// Runner executes one task with retries. *executor.Executor implements it.
type Runner interface {
	ExecuteWithRetry(ctx context.Context, task domain.Task, accounts map[string]domain.PlatformAccount) (domain.TaskExecution, error)
	// Fail records a failed execution for a task that could not be started.
	Fail(ctx context.Context, task domain.Task, cause error) domain.TaskExecution
}

type Config struct {
	// Concurrency is the group size for poll and audit sweeps.
	Concurrency int
	// AccountsTTL bounds how long a user's account map is reused.
	AccountsTTL time.Duration
	// ReportTTL bounds how long a performance report is reused.
	ReportTTL time.Duration
	// AlertLevel is the lowest risk level the audit publishes (default high).
	AlertLevel domain.Severity
}

type Options struct {
	Bus eventbus.Bus
	Now func() time.Time
}

type Service struct {
	store Store
	run   Runner
	risk  *risk.Analyzer
	batch *batch.Dispatcher
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	accounts *cache.Cache[map[string]domain.PlatformAccount]
	reports  *cache.Cache[domain.PerformanceReport]

	alertLevel domain.Severity
}

// PollResult summarizes one poll.
type PollResult struct {
	Active int
	Due    int
	batch.Result
}

// Assessment is the on-demand risk view of one task.
type Assessment struct {
	TaskID      string                `json:"task_id"`
	Risk        domain.RiskAssessment `json:"risk"`
	Level       domain.Severity       `json:"level"`
	Suggestions []domain.Suggestion   `json:"suggestions"`
}

// AuditResult summarizes one audit sweep.
type AuditResult struct {
	Assessed int
	Flagged  int
	Failed   int
}

// ErrNotActive is returned by RunNow for tasks that are not active.
var ErrNotActive = errors.New("dispatch: task is not active")

func New(store Store, run Runner, log logx.Logger, cfg Config, opt Options) *Service {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Bus == nil {
		opt.Bus = eventbus.Nop{}
	}
	s := &Service{
		store:    store,
		run:      run,
		risk:     risk.New(log.With(logx.String("comp", "risk"))),
		batch:    batch.NewDispatcher(log, cfg.Concurrency),
		bus:      opt.Bus,
		log:      log,
		now:      opt.Now,
		accounts: cache.New[map[string]domain.PlatformAccount](cfg.AccountsTTL, cache.WithClock[map[string]domain.PlatformAccount](opt.Now)),
		reports:  cache.New[domain.PerformanceReport](cfg.ReportTTL, cache.WithClock[domain.PerformanceReport](opt.Now)),
	}
	s.alertLevel = alertLevel(cfg.AlertLevel)
	return s
}

// Apply updates tuning for subsequent sweeps. Memoized accounts and reports are
// dropped so every entry is rebuilt under the new TTLs.
func (s *Service) Apply(cfg Config) {
	s.batch.SetConcurrency(cfg.Concurrency)
	s.log.Debug("dispatch caches purged", logx.Int("accounts", s.accounts.Len()), logx.Int("reports", s.reports.Len()))
	s.accounts.SetTTL(cfg.AccountsTTL)
	s.reports.SetTTL(cfg.ReportTTL)
	s.accounts.Purge()
	s.reports.Purge()
}

func alertLevel(l domain.Severity) domain.Severity {
	switch l {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
		return l
	default:
		return domain.SeverityHigh
	}
}

// Poll runs every active task that is due now. Tasks run in bounded groups and
// one task's failure never affects another.
func (s *Service) Poll(ctx context.Context) (PollResult, error) {
	start := s.now()
	tasks, err := s.store.ActiveTasks(ctx)
	if err != nil {
		return PollResult{}, fmt.Errorf("load active tasks: %w", err)
	}
	due := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if schedule.IsDue(t, start) {
			due = append(due, t)
		}
	}
	res := PollResult{Active: len(tasks), Due: len(due)}
	if len(due) > 0 {
		res.Result = batch.Run(ctx, s.batch, due, func(ctx context.Context, _ int, t domain.Task) error {
			_, err := s.execute(ctx, t)
			return err
		})
	}

	took := s.now().Sub(start)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchPoll, Time: start, Data: eventbus.DispatchPoll{
		Active: res.Active, Due: res.Due, Ok: res.Successful, Failed: res.Failed, Duration: took,
	}})
	if res.Due > 0 {
		s.log.Info("dispatch poll", logx.Int("active", res.Active), logx.Int("due", res.Due), logx.Int("ok", res.Successful), logx.Int("failed", res.Failed), logx.Duration("took", took))
	}
	return res, nil
}

// RunNow executes one task immediately regardless of its schedule.
// Paused, completed and errored tasks are refused.
func (s *Service) RunNow(ctx context.Context, taskID string) (domain.TaskExecution, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return domain.TaskExecution{}, err
	}
	if t.Status != domain.TaskActive {
		return domain.TaskExecution{}, fmt.Errorf("%w: %s is %s", ErrNotActive, t.ID, t.Status)
	}
	return s.execute(ctx, t)
}

func (s *Service) execute(ctx context.Context, t domain.Task) (domain.TaskExecution, error) {
	var (
		ex     domain.TaskExecution
		runErr error
	)
	accounts, err := s.accountsFor(ctx, t.UserID)
	if err != nil {
		ex, runErr = s.run.Fail(ctx, t, err), err
	} else {
		ex, runErr = s.run.ExecuteWithRetry(ctx, t, accounts)
	}
	s.reports.Delete(t.ID)

	if t.OneShot() {
		status := domain.TaskCompleted
		if ex.Status == domain.ExecFailed {
			status = domain.TaskError
		}
		if err := s.store.UpdateTask(ctx, t.ID, domain.TaskPatch{Status: &status}); err != nil {
			return ex, errors.Join(runErr, fmt.Errorf("mark task %s: %w", status, err))
		}
	}
	return ex, runErr
}

// accountsFor returns the user's accounts keyed by id, memoized per user.
func (s *Service) accountsFor(ctx context.Context, userID string) (map[string]domain.PlatformAccount, error) {
	return s.accounts.GetOrLoad(userID, func() (map[string]domain.PlatformAccount, error) {
		list, err := s.store.UserAccounts(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load accounts for %s: %w", userID, err)
		}
		m := make(map[string]domain.PlatformAccount, len(list))
		for _, a := range list {
			m[a.ID] = a
		}
		return m, nil
	})
}

// Assess scores the task's failure risk and classifies its past errors.
func (s *Service) Assess(ctx context.Context, taskID string) (Assessment, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return Assessment{}, err
	}
	return s.assess(ctx, t)
}

func (s *Service) assess(ctx context.Context, t domain.Task) (Assessment, error) {
	hist, err := s.store.TaskExecutions(ctx, t.ID)
	if err != nil {
		return Assessment{}, fmt.Errorf("load executions: %w", err)
	}
	accounts, err := s.accountsFor(ctx, t.UserID)
	if err != nil {
		return Assessment{}, err
	}
	ra := s.risk.PredictFailure(t, accounts, hist, s.now())
	return Assessment{
		TaskID:      t.ID,
		Risk:        ra,
		Level:       ra.Level(),
		Suggestions: s.risk.AnalyzeErrors(hist),
	}, nil
}

// Report returns the task's performance report, memoized until the next run.
func (s *Service) Report(ctx context.Context, taskID string) (domain.PerformanceReport, error) {
	return s.reports.GetOrLoad(taskID, func() (domain.PerformanceReport, error) {
		hist, err := s.store.TaskExecutions(ctx, taskID)
		if err != nil {
			return domain.PerformanceReport{}, fmt.Errorf("load executions: %w", err)
		}
		return report.Build(hist), nil
	})
}

// Suggest proposes the next run time from the hours of past successful runs.
func (s *Service) Suggest(ctx context.Context, taskID string) (time.Time, error) {
	hist, err := s.store.TaskExecutions(ctx, taskID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load executions: %w", err)
	}
	return schedule.OptimalTime(hist, s.now()), nil
}

// Audit assesses every active task and publishes a task.risk event for each one
// at or above the alert level.
func (s *Service) Audit(ctx context.Context) (AuditResult, error) {
	tasks, err := s.store.ActiveTasks(ctx)
	if err != nil {
		return AuditResult{}, fmt.Errorf("load active tasks: %w", err)
	}
	var flagged atomic.Int64
	res := batch.Run(ctx, s.batch, tasks, func(ctx context.Context, _ int, t domain.Task) error {
		a, err := s.assess(ctx, t)
		if err != nil {
			return fmt.Errorf("assess %s: %w", t.ID, err)
		}
		if !atLeast(a.Level, s.alertLevel) {
			return nil
		}
		rep, err := s.Report(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("report %s: %w", t.ID, err)
		}
		at, err := s.Suggest(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("suggest %s: %w", t.ID, err)
		}
		hints := make([]string, 0, len(a.Suggestions))
		for _, sg := range a.Suggestions {
			hints = append(hints, sg.Suggestion)
		}
		flagged.Add(1)
		s.log.Warn("task at risk",
			logx.String("task", t.ID),
			logx.String("name", t.Name),
			logx.Int("score", a.Risk.Score),
			logx.Strings("factors", a.Risk.Factors),
			logx.String("uptime", rep.Uptime),
			logx.Time("suggested_at", at),
		)
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskRisk, Time: s.now(), Data: eventbus.TaskRisk{
			TaskID:      t.ID,
			Name:        t.Name,
			Score:       a.Risk.Score,
			Level:       string(a.Level),
			Factors:     a.Risk.Factors,
			Suggestions: hints,
			Uptime:      rep.Uptime,
			SuggestedAt: at,
		}})
		return nil
	})
	out := AuditResult{Assessed: res.Successful, Flagged: int(flagged.Load()), Failed: res.Failed}
	s.log.Info("risk audit", logx.Int("assessed", out.Assessed), logx.Int("flagged", out.Flagged), logx.Int("failed", out.Failed))
	return out, nil
}

var severityRank = map[domain.Severity]int{
	domain.SeverityLow:    0,
	domain.SeverityMedium: 1,
	domain.SeverityHigh:   2,
}

func atLeast(l, floor domain.Severity) bool {
	return severityRank[l] >= severityRank[floor]
}
