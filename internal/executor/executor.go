// Package executor performs one task run: resolve accounts, connect, transform,
// distribute, and record exactly one TaskExecution for the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/domain"
	"crosspost/internal/eventbus"
	"crosspost/internal/gateway"
	"crosspost/internal/retry"
	"crosspost/internal/schedule"
	"crosspost/pkg/logx"
)

// Store is the persistence the executor writes to.
type Store interface {
	UpdateTask(ctx context.Context, id string, p domain.TaskPatch) error
	CreateExecution(ctx context.Context, e *domain.TaskExecution) error
}

type Options struct {
	Retry retry.Config
	Bus   eventbus.Bus
	Now   func() time.Time
}

type Executor struct {
	store Store
	gw    gateway.Gateway
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
	retry atomic.Pointer[retry.Config]
}

var (
	errNoSources = errors.New("no source accounts resolved")
	errNoTargets = errors.New("no target accounts resolved")
)

func New(store Store, gw gateway.Gateway, log logx.Logger, opt Options) *Executor {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Bus == nil {
		opt.Bus = eventbus.Nop{}
	}
	e := &Executor{store: store, gw: gw, bus: opt.Bus, log: log, now: opt.Now}
	e.SetRetry(opt.Retry)
	return e
}

// SetRetry swaps the retry policy for subsequent ExecuteWithRetry calls.
func (e *Executor) SetRetry(cfg retry.Config) { e.retry.Store(&cfg) }

// Execute runs task once against the given account map (id -> account).
//
// Per-account failures are recorded as execution errors; only an empty resolved
// source or target set aborts the run early. The result is persisted before return.
func (e *Executor) Execute(ctx context.Context, task domain.Task, accounts map[string]domain.PlatformAccount) domain.TaskExecution {
	ex, _ := e.execute(ctx, task, accounts)
	return ex
}

// execute is Execute that also reports the longest retry wait a platform asked for.
func (e *Executor) execute(ctx context.Context, task domain.Task, accounts map[string]domain.PlatformAccount) (domain.TaskExecution, time.Duration) {
	start := e.now()
	ex := domain.TaskExecution{TaskID: task.ID, Status: domain.ExecPending, StartedAt: start}
	log := e.log.With(logx.String("task", task.ID))

	var wait time.Duration
	if err := e.run(ctx, task, accounts, &ex, &wait); err != nil {
		ex.Errors = append(ex.Errors, domain.ExecutionError{
			Platform:  domain.UnknownPlatform,
			Code:      domain.ErrExecution,
			Message:   err.Error(),
			At:        e.now(),
			Retryable: true,
		})
		ex.ItemsFailed++
	}

	ex.CompletedAt = e.now()
	ex.Duration = ex.CompletedAt.Sub(start)
	ex.Status = domain.DeriveStatus(ex.ItemsProcessed, ex.ItemsFailed)
	e.record(ctx, task, &ex)

	log.Info("task executed",
		logx.String("status", string(ex.Status)),
		logx.Int("processed", ex.ItemsProcessed),
		logx.Int("failed", ex.ItemsFailed),
		logx.Duration("took", ex.Duration),
	)
	return ex, wait
}

func (e *Executor) run(ctx context.Context, task domain.Task, accounts map[string]domain.PlatformAccount, ex *domain.TaskExecution, wait *time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error("executor.panic", logx.String("task", task.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	sources := resolve(task.SourceAccounts, accounts)
	if len(sources) == 0 {
		return errNoSources
	}
	targets := resolve(task.TargetAccounts, accounts)
	if len(targets) == 0 {
		return errNoTargets
	}

	for _, acc := range union(sources, targets) {
		if err := e.gw.InitializeClient(ctx, acc); err != nil {
			ex.Errors = append(ex.Errors, domain.ExecutionError{
				Platform:  domain.NormalizePlatform(acc.PlatformID),
				AccountID: acc.ID,
				Code:      domain.ErrClientInit,
				Message:   err.Error(),
				At:        e.now(),
				Retryable: true,
			})
		}
	}

	item := domain.ContentItem{Type: task.ContentType, Text: task.Description, MediaURL: task.MediaURL}
	transform := func(text, platformID string) string {
		return content.Transform(text, platformID, task.Transformations)
	}
	ex.ItemsProcessed = len(targets)
	for _, r := range e.gw.DistributeContent(ctx, targets, item, transform) {
		if r.Success {
			continue
		}
		ex.ItemsFailed++
		*wait = max(*wait, r.RetryAfter)
		ex.Errors = append(ex.Errors, domain.ExecutionError{
			Platform:  r.Platform,
			AccountID: r.AccountID,
			Code:      domain.ErrPublish,
			Message:   r.Error,
			At:        e.now(),
			Retryable: true,
		})
	}

	now := e.now()
	if err := e.store.UpdateTask(ctx, task.ID, domain.TaskPatch{LastExecuted: &now}); err != nil {
		return fmt.Errorf("update last executed: %w", err)
	}
	return nil
}

// record persists and announces ex. A canceled run is still recorded.
func (e *Executor) record(ctx context.Context, task domain.Task, ex *domain.TaskExecution) {
	if err := e.store.CreateExecution(context.WithoutCancel(ctx), ex); err != nil {
		e.log.Error("execution not persisted", logx.String("task", ex.TaskID), logx.Err(err))
	}
	done := eventbus.ExecutionCompleted{
		ExecutionID: ex.ID,
		TaskID:      ex.TaskID,
		Status:      string(ex.Status),
		Processed:   ex.ItemsProcessed,
		Failed:      ex.ItemsFailed,
		Duration:    ex.Duration,
	}
	if !task.OneShot() {
		if next, ok := schedule.NextRunAfter(task, ex.CompletedAt); ok {
			done.NextRun = next
		}
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeExecutionCompleted, Time: ex.CompletedAt, Data: done})
}

// Fail records a failed run for a task that could not be started, such as when
// its accounts cannot be loaded.
func (e *Executor) Fail(ctx context.Context, task domain.Task, cause error) domain.TaskExecution {
	now := e.now()
	ex := domain.TaskExecution{
		TaskID:      task.ID,
		Status:      domain.ExecFailed,
		StartedAt:   now,
		CompletedAt: now,
		ItemsFailed: 1,
		Errors: []domain.ExecutionError{{
			Platform:  domain.UnknownPlatform,
			Code:      domain.ErrExecution,
			Message:   cause.Error(),
			At:        now,
			Retryable: true,
		}},
	}
	e.record(ctx, task, &ex)
	e.log.Warn("task not started", logx.String("task", task.ID), logx.Err(cause))
	return ex
}

// ExecuteWithRetry re-runs the task while the outcome is failed. Success and
// partial outcomes are accepted. Every attempt is persisted.
//
// The returned error is nil unless the final outcome is failed.
func (e *Executor) ExecuteWithRetry(ctx context.Context, task domain.Task, accounts map[string]domain.PlatformAccount) (domain.TaskExecution, error) {
	var last *domain.TaskExecution
	log := e.log.With(logx.String("task", task.ID))
	_, err := retry.Do(ctx, *e.retry.Load(), log, func(ctx context.Context, attempt int) (struct{}, error) {
		ex, wait := e.execute(ctx, task, accounts)
		last = &ex
		if ex.Status == domain.ExecFailed {
			err := fmt.Errorf("execution %s failed: %s", ex.ID, firstMessage(ex))
			if wait > 0 {
				return struct{}{}, retry.After(err, wait)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if last != nil {
		return *last, err
	}

	if err == nil {
		err = errors.New("no attempt completed")
	}
	now := e.now()
	ex := domain.TaskExecution{
		TaskID:      task.ID,
		Status:      domain.ExecFailed,
		StartedAt:   now,
		CompletedAt: now,
		ItemsFailed: 1,
		Errors: []domain.ExecutionError{{
			Platform:  domain.UnknownPlatform,
			Code:      domain.ErrUnknown,
			Message:   err.Error(),
			At:        now,
			Retryable: false,
		}},
	}
	e.record(ctx, task, &ex)
	return ex, err
}

func firstMessage(ex domain.TaskExecution) string {
	if len(ex.Errors) == 0 {
		return "unknown"
	}
	return ex.Errors[0].Message
}

// resolve maps ids to accounts, silently dropping unknown ids.
func resolve(ids []string, accounts map[string]domain.PlatformAccount) []domain.PlatformAccount {
	out := make([]domain.PlatformAccount, 0, len(ids))
	for _, id := range ids {
		if acc, ok := accounts[id]; ok {
			out = append(out, acc)
		}
	}
	return out
}

func union(a, b []domain.PlatformAccount) []domain.PlatformAccount {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]domain.PlatformAccount, 0, len(a)+len(b))
	for _, acc := range append(append([]domain.PlatformAccount(nil), a...), b...) {
		if _, dup := seen[acc.ID]; dup {
			continue
		}
		seen[acc.ID] = struct{}{}
		out = append(out, acc)
	}
	return out
}
