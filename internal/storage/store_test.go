package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crosspost/internal/domain"
	"crosspost/pkg/logx"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	cfg := Config{Driver: driver}
	switch driver {
	case "file":
		cfg.Path = filepath.Join(t.TempDir(), "store.json")
	case "sqlite":
		cfg.Path = filepath.Join(t.TempDir(), "crosspost.db")
	case "postgres":
		cfg.DSN = os.Getenv("CROSSPOSTER_TEST_PG_DSN")
		if cfg.DSN == "" {
			t.Skip("CROSSPOSTER_TEST_PG_DSN not set")
		}
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreDrivers(t *testing.T) {
	for _, driver := range []string{"memory", "file", "sqlite", "postgres"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openDriver(t, driver)
			testStoreContract(t, st)
		})
	}
}

func testStoreContract(t *testing.T, st Store) {
	ctx := context.Background()
	user := "user-" + NewID()

	src := domain.PlatformAccount{UserID: user, PlatformID: "Telegram", NativeID: "-100", Handle: "@src", Active: true,
		Credentials: domain.Credentials{AccessToken: "tok", Extra: map[string]string{"k": "v"}}}
	if err := st.CreateAccount(ctx, &src); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if src.ID == "" || src.PlatformID != "telegram" {
		t.Fatalf("account not prepared: %+v", src)
	}
	dup := domain.PlatformAccount{UserID: user, PlatformID: "telegram", NativeID: "-100"}
	if err := st.CreateAccount(ctx, &dup); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("duplicate CreateAccount err = %v, want ErrDuplicateAccount", err)
	}
	dst := domain.PlatformAccount{UserID: user, PlatformID: "twitter", NativeID: "42", Active: false}
	if err := st.CreateAccount(ctx, &dst); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	got, err := st.GetAccount(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Credentials.AccessToken != "tok" || got.Credentials.Extra["k"] != "v" || !got.Active {
		t.Fatalf("GetAccount = %+v", got)
	}
	accs, err := st.UserAccounts(ctx, user)
	if err != nil || len(accs) != 2 {
		t.Fatalf("UserAccounts = %d, %v", len(accs), err)
	}
	if _, err := st.GetAccount(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAccount(missing) err = %v", err)
	}

	sched := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	task := domain.Task{
		UserID:          user,
		Name:            "daily digest",
		Description:     "hello",
		SourceAccounts:  []string{src.ID},
		TargetAccounts:  []string{dst.ID},
		ContentType:     domain.ContentText,
		ExecutionMode:   domain.ModeScheduled,
		ScheduleTime:    &sched,
		Transformations: &domain.Transformations{AddHashtags: []string{"#a"}},
	}
	if err := st.CreateTask(ctx, &task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID == "" || task.Status != domain.TaskActive {
		t.Fatalf("task not prepared: %+v", task)
	}

	gt, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if gt.Name != task.Name || gt.ScheduleTime == nil || !gt.ScheduleTime.Equal(sched) || gt.LastExecuted != nil {
		t.Fatalf("GetTask = %+v", gt)
	}
	if gt.Transformations == nil || len(gt.Transformations.AddHashtags) != 1 || gt.Recurring != nil {
		t.Fatalf("json columns not round-tripped: %+v", gt)
	}

	active, err := st.ActiveTasks(ctx)
	if err != nil || !containsTask(active, task.ID) {
		t.Fatalf("ActiveTasks missing created task: %v", err)
	}

	ran := time.Date(2024, 5, 1, 9, 0, 1, 0, time.UTC)
	if err := st.UpdateTask(ctx, task.ID, domain.TaskPatch{LastExecuted: &ran}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	done := domain.TaskCompleted
	if err := st.UpdateTask(ctx, task.ID, domain.TaskPatch{Status: &done}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	gt, _ = st.GetTask(ctx, task.ID)
	if gt.Status != domain.TaskCompleted || gt.LastExecuted == nil || !gt.LastExecuted.Equal(ran) {
		t.Fatalf("patched task = %+v", gt)
	}
	active, _ = st.ActiveTasks(ctx)
	if containsTask(active, task.ID) {
		t.Fatal("completed task still listed as active")
	}
	if err := st.UpdateTask(ctx, "missing", domain.TaskPatch{Status: &done}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateTask(missing) err = %v", err)
	}

	for i, status := range []domain.ExecutionStatus{domain.ExecPartial, domain.ExecSuccess} {
		e := domain.TaskExecution{
			TaskID:         task.ID,
			Status:         status,
			StartedAt:      sched.Add(time.Duration(2-i) * time.Hour),
			CompletedAt:    sched.Add(time.Duration(2-i)*time.Hour + time.Second),
			Duration:       time.Second,
			ItemsProcessed: 2,
		}
		if status == domain.ExecPartial {
			e.ItemsFailed = 1
			e.Errors = []domain.ExecutionError{{Platform: "twitter", AccountID: dst.ID, Code: domain.ErrPublish, Message: "401", At: sched, Retryable: true}}
		}
		if err := st.CreateExecution(ctx, &e); err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}
		if e.ID == "" {
			t.Fatal("execution id not assigned")
		}
	}
	hist, err := st.TaskExecutions(ctx, task.ID)
	if err != nil || len(hist) != 2 {
		t.Fatalf("TaskExecutions = %d, %v", len(hist), err)
	}
	if hist[0].Status != domain.ExecSuccess || hist[1].Status != domain.ExecPartial {
		t.Fatalf("executions not ordered by StartedAt: %s, %s", hist[0].Status, hist[1].Status)
	}
	if len(hist[1].Errors) != 1 || hist[1].Errors[0].Code != domain.ErrPublish || hist[1].Duration != time.Second {
		t.Fatalf("execution not round-tripped: %+v", hist[1])
	}
	if empty, err := st.TaskExecutions(ctx, "none"); err != nil || len(empty) != 0 {
		t.Fatalf("TaskExecutions(none) = %v, %v", empty, err)
	}
}

func containsTask(ts []domain.Task, id string) bool {
	for _, t := range ts {
		if t.ID == id {
			return true
		}
	}
	return false
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	task := domain.Task{UserID: "u", ExecutionMode: domain.ModeImmediate}
	if err := st.CreateTask(ctx, &task); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateExecution(ctx, &domain.TaskExecution{TaskID: task.ID, Status: domain.ExecSuccess}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	if _, err := st2.GetTask(ctx, task.ID); err != nil {
		t.Fatalf("task lost after reopen: %v", err)
	}
	hist, err := st2.TaskExecutions(ctx, task.ID)
	if err != nil || len(hist) != 1 {
		t.Fatalf("executions after reopen = %d, %v", len(hist), err)
	}
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "m.db")
	for i := 0; i < 2; i++ {
		st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		_ = st.Close()
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	task := domain.Task{UserID: "u", SourceAccounts: []string{"a"}, ExecutionMode: domain.ModeImmediate}
	if err := m.CreateTask(ctx, &task); err != nil {
		t.Fatal(err)
	}
	task.SourceAccounts[0] = "mutated"
	got, _ := m.GetTask(ctx, task.ID)
	if got.SourceAccounts[0] != "a" {
		t.Fatal("store shares slices with caller")
	}
}
