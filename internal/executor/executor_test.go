package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"crosspost/internal/domain"
	"crosspost/internal/eventbus"
	"crosspost/internal/gateway"
	"crosspost/internal/retry"
	"crosspost/internal/storage"
	"crosspost/pkg/logx"
)

type fakeGateway struct {
	mu          sync.Mutex
	initFail    map[string]bool
	publishFail map[string]bool
	inits       []string
	texts       map[string]string
	panicOnDist bool
	retryAfter  time.Duration
}

func (g *fakeGateway) InitializeClient(ctx context.Context, acc domain.PlatformAccount) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inits = append(g.inits, acc.ID)
	if g.initFail[acc.ID] {
		return errors.New("401 unauthorized")
	}
	return nil
}

func (g *fakeGateway) DistributeContent(ctx context.Context, targets []domain.PlatformAccount, item domain.ContentItem, transform gateway.TransformFunc) []gateway.DeliveryResult {
	if g.panicOnDist {
		panic("gateway exploded")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.texts == nil {
		g.texts = map[string]string{}
	}
	out := make([]gateway.DeliveryResult, 0, len(targets))
	for _, t := range targets {
		g.texts[t.ID] = transform(item.Text, t.PlatformID)
		r := gateway.DeliveryResult{Platform: t.PlatformID, AccountID: t.ID, Success: !g.publishFail[t.ID]}
		if !r.Success {
			r.Error = "request timeout"
			r.RetryAfter = g.retryAfter
		}
		out = append(out, r)
	}
	return out
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inits) + len(g.texts)
}

func accountsFor(ids ...string) map[string]domain.PlatformAccount {
	m := map[string]domain.PlatformAccount{}
	for _, id := range ids {
		m[id] = domain.PlatformAccount{ID: id, PlatformID: "twitter", Active: true}
	}
	return m
}

func seedTask(t *testing.T, st *storage.Memory, task domain.Task) domain.Task {
	t.Helper()
	if err := st.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestExecuteNoSourcesFailsWithoutGatewayCalls(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	gw := &fakeGateway{}
	task := seedTask(t, st, domain.Task{Name: "t", SourceAccounts: []string{"missing"}, TargetAccounts: []string{"t1"}, ExecutionMode: domain.ModeImmediate})
	ex := New(st, gw, logx.Nop(), Options{}).Execute(context.Background(), task, accountsFor("t1"))

	if ex.Status != domain.ExecFailed || ex.ItemsProcessed != 0 || ex.ItemsFailed != 1 {
		t.Fatalf("execution = %+v", ex)
	}
	if len(ex.Errors) != 1 || ex.Errors[0].Code != domain.ErrExecution || ex.Errors[0].Platform != domain.UnknownPlatform || ex.Errors[0].AccountID != "" {
		t.Fatalf("errors = %+v", ex.Errors)
	}
	if gw.calls() != 0 {
		t.Fatalf("gateway calls = %d, want 0", gw.calls())
	}
	hist, _ := st.TaskExecutions(context.Background(), task.ID)
	if len(hist) != 1 {
		t.Fatalf("persisted = %d, want 1", len(hist))
	}
	got, _ := st.GetTask(context.Background(), task.ID)
	if got.LastExecuted != nil {
		t.Fatal("LastExecuted set on a run that never reached distribution")
	}
}

func TestExecutePartialOnOneFailure(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	gw := &fakeGateway{publishFail: map[string]bool{"t2": true}}
	task := seedTask(t, st, domain.Task{
		Name: "t", Description: "hello",
		SourceAccounts: []string{"s1"}, TargetAccounts: []string{"t1", "t2", "t3"},
		ExecutionMode:   domain.ModeRecurring,
		Transformations: &domain.Transformations{AddHashtags: []string{"#go"}},
	})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(st, gw, logx.Nop(), Options{Now: func() time.Time { return fixed }})
	ex := e.Execute(context.Background(), task, accountsFor("s1", "t1", "t2", "t3"))

	if ex.Status != domain.ExecPartial || ex.ItemsProcessed != 3 || ex.ItemsFailed != 1 {
		t.Fatalf("execution = %+v", ex)
	}
	if len(ex.Errors) != 1 || ex.Errors[0].Code != domain.ErrPublish || ex.Errors[0].AccountID != "t2" || ex.Errors[0].Message != "request timeout" {
		t.Fatalf("errors = %+v", ex.Errors)
	}
	if gw.texts["t1"] != "hello\n\n#go" {
		t.Fatalf("transformed text = %q", gw.texts["t1"])
	}
	got, _ := st.GetTask(context.Background(), task.ID)
	if got.LastExecuted == nil || !got.LastExecuted.Equal(fixed) {
		t.Fatalf("LastExecuted = %v", got.LastExecuted)
	}
}

func TestExecuteInitFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	gw := &fakeGateway{initFail: map[string]bool{"s1": true}}
	task := seedTask(t, st, domain.Task{SourceAccounts: []string{"s1", "t1"}, TargetAccounts: []string{"t1"}})
	ex := New(st, gw, logx.Nop(), Options{}).Execute(context.Background(), task, accountsFor("s1", "t1"))

	if ex.Status != domain.ExecSuccess {
		t.Fatalf("status = %s", ex.Status)
	}
	if len(ex.Errors) != 1 || ex.Errors[0].Code != domain.ErrClientInit || !ex.Errors[0].Retryable {
		t.Fatalf("errors = %+v", ex.Errors)
	}
	if len(gw.inits) != 2 {
		t.Fatalf("inits = %v, want deduplicated union of 2", gw.inits)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	gw := &fakeGateway{panicOnDist: true}
	task := seedTask(t, st, domain.Task{SourceAccounts: []string{"s1"}, TargetAccounts: []string{"t1"}})
	ex := New(st, gw, logx.Nop(), Options{}).Execute(context.Background(), task, accountsFor("s1", "t1"))
	if ex.Status != domain.ExecFailed {
		t.Fatalf("status = %s", ex.Status)
	}
	last := ex.Errors[len(ex.Errors)-1]
	if last.Code != domain.ErrExecution || !strings.Contains(last.Message, "gateway exploded") {
		t.Fatalf("error = %+v", last)
	}
}

func TestExecutePublishesEvent(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	task := seedTask(t, st, domain.Task{SourceAccounts: []string{"s1"}, TargetAccounts: []string{"t1"}})
	ex := New(st, &fakeGateway{}, logx.Nop(), Options{Bus: bus}).Execute(context.Background(), task, accountsFor("s1", "t1"))

	select {
	case ev := <-ch:
		data, ok := ev.Data.(eventbus.ExecutionCompleted)
		if ev.Type != eventbus.TypeExecutionCompleted || !ok || data.ExecutionID != ex.ID || data.Status != "success" {
			t.Fatalf("event = %+v", ev)
		}
		if !data.NextRun.IsZero() {
			t.Fatalf("one-shot NextRun = %v", data.NextRun)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func fastRetry(n int) retry.Config {
	return retry.Config{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestExecuteWithRetryStopsOnPartial(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	gw := &fakeGateway{publishFail: map[string]bool{"t1": true}}
	task := seedTask(t, st, domain.Task{SourceAccounts: []string{"s1"}, TargetAccounts: []string{"t1", "t2"}})
	ex, err := New(st, gw, logx.Nop(), Options{Retry: fastRetry(3)}).ExecuteWithRetry(context.Background(), task, accountsFor("s1", "t1", "t2"))
	if err != nil || ex.Status != domain.ExecPartial {
		t.Fatalf("ex = %+v err = %v", ex, err)
	}
	hist, _ := st.TaskExecutions(context.Background(), task.ID)
	if len(hist) != 1 {
		t.Fatalf("attempts persisted = %d, want 1", len(hist))
	}
}

func TestExecuteWithRetryExhaustsOnFailed(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	gw := &fakeGateway{publishFail: map[string]bool{"t1": true}}
	task := seedTask(t, st, domain.Task{SourceAccounts: []string{"s1"}, TargetAccounts: []string{"t1"}})
	ex, err := New(st, gw, logx.Nop(), Options{Retry: fastRetry(2)}).ExecuteWithRetry(context.Background(), task, accountsFor("s1", "t1"))
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if ex.Status != domain.ExecFailed || ex.Errors[0].Code != domain.ErrPublish {
		t.Fatalf("last execution = %+v", ex)
	}
	hist, _ := st.TaskExecutions(context.Background(), task.ID)
	if len(hist) != 3 {
		t.Fatalf("attempts persisted = %d, want 3", len(hist))
	}
}

func TestExecuteWithRetryCanceledBeforeStart(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	task := seedTask(t, st, domain.Task{SourceAccounts: []string{"s1"}, TargetAccounts: []string{"t1"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex, err := New(st, &fakeGateway{}, logx.Nop(), Options{Retry: fastRetry(2)}).ExecuteWithRetry(ctx, task, accountsFor("s1", "t1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if ex.Status != domain.ExecFailed || len(ex.Errors) != 1 || ex.Errors[0].Code != domain.ErrUnknown || ex.Errors[0].Retryable {
		t.Fatalf("synthetic execution = %+v", ex)
	}
	hist, _ := st.TaskExecutions(context.Background(), task.ID)
	if len(hist) != 1 || hist[0].ID != ex.ID {
		t.Fatalf("persisted = %+v", hist)
	}
}

func TestExecuteWithRetryWaitsForPlatformHint(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	gw := &fakeGateway{publishFail: map[string]bool{"t1": true}, retryAfter: 150 * time.Millisecond}
	task := seedTask(t, st, domain.Task{SourceAccounts: []string{"s1"}, TargetAccounts: []string{"t1"}})
	cfg := retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Second}

	start := time.Now()
	_, err := New(st, gw, logx.Nop(), Options{Retry: cfg}).ExecuteWithRetry(context.Background(), task, accountsFor("s1", "t1"))
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if took := time.Since(start); took < 150*time.Millisecond {
		t.Fatalf("retried after %s, want at least the 150ms hint", took)
	}
	var ae retry.AfterError
	if !errors.As(err, &ae) || ae.RetryAfter() != 150*time.Millisecond {
		t.Fatalf("err = %v, want retry-after hint", err)
	}
}

func TestFailRecordsUnstartedRun(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	task := seedTask(t, st, domain.Task{ExecutionMode: domain.ModeRecurring, Recurring: &domain.RecurringPattern{Period: domain.PeriodDaily}})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ex := New(st, &fakeGateway{}, logx.Nop(), Options{Bus: bus, Now: func() time.Time { return fixed }}).Fail(context.Background(), task, errors.New("accounts unavailable"))
	if ex.Status != domain.ExecFailed || ex.ItemsProcessed != 0 || ex.ItemsFailed != 1 || ex.Errors[0].Code != domain.ErrExecution {
		t.Fatalf("execution = %+v", ex)
	}
	if hist, _ := st.TaskExecutions(context.Background(), task.ID); len(hist) != 1 {
		t.Fatalf("persisted = %d, want 1", len(hist))
	}
	select {
	case ev := <-ch:
		data := ev.Data.(eventbus.ExecutionCompleted)
		if want := fixed.AddDate(0, 0, 1); !data.NextRun.Equal(want) {
			t.Fatalf("NextRun = %v, want %v", data.NextRun, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}
