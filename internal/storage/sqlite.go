package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"crosspost/internal/domain"
	"crosspost/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

const taskColumns = `id, user_id, name, description, source_accounts, target_accounts, content_type, media_url,
	status, execution_mode, schedule_time, recurring, filters, transformations, created_at, updated_at, last_executed`

const accountColumns = `id, user_id, platform_id, display_name, handle, native_id, credentials, active, created_at`

const executionColumns = `id, task_id, status, started_at, completed_at, duration_ns, items_processed, items_failed, errors`

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	migs, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}
	for _, m := range migs {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, m.Version).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Version, err)
		}
		if n > 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, formatTime(time.Now())); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		s.log.Info("migration applied", logx.String("version", m.Version))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ActiveTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, id`, string(domain.TaskActive))
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanSQLiteTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *sqliteStore) CreateTask(ctx context.Context, t *domain.Task) error {
	prepareTask(t, now())
	src, err := mustJSON(t.SourceAccounts)
	if err != nil {
		return err
	}
	dst, err := mustJSON(t.TargetAccounts)
	if err != nil {
		return err
	}
	rec, err := jsonValue(t.Recurring)
	if err != nil {
		return err
	}
	flt, err := jsonValue(t.Filters)
	if err != nil {
		return err
	}
	tr, err := jsonValue(t.Transformations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Name, t.Description, src, dst, string(t.ContentType), t.MediaURL,
		string(t.Status), string(t.ExecutionMode), formatTimePtr(t.ScheduleTime), rec, flt, tr,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), formatTimePtr(t.LastExecuted),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *sqliteStore) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(now())}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.LastExecuted != nil {
		sets = append(sets, "last_executed = ?")
		args = append(args, formatTime(*p.LastExecuted))
	}
	if p.ScheduleTime != nil {
		sets = append(sets, "schedule_time = ?")
		args = append(args, formatTime(*p.ScheduleTime))
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) TaskExecutions(ctx context.Context, taskID string) ([]domain.TaskExecution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE task_id = ? ORDER BY started_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	out := []domain.TaskExecution{}
	for rows.Next() {
		var (
			e                 domain.TaskExecution
			status            string
			started, finished string
			durNS             int64
			errs              string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &status, &started, &finished, &durNS, &e.ItemsProcessed, &e.ItemsFailed, &errs); err != nil {
			return nil, err
		}
		e.Status = domain.ExecutionStatus(status)
		e.Duration = time.Duration(durNS)
		if e.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if e.CompletedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(errs), &e.Errors); err != nil {
			return nil, fmt.Errorf("decode execution errors %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateExecution(ctx context.Context, e *domain.TaskExecution) error {
	prepareExecution(e)
	errs, err := mustJSON(nonNilErrors(e.Errors))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO executions(`+executionColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, string(e.Status), formatTime(e.StartedAt), formatTime(e.CompletedAt),
		int64(e.Duration), e.ItemsProcessed, e.ItemsFailed, errs,
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *sqliteStore) UserAccounts(ctx context.Context, userID string) ([]domain.PlatformAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []domain.PlatformAccount
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetAccount(ctx context.Context, id string) (domain.PlatformAccount, error) {
	a, err := scanSQLiteAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlatformAccount{}, ErrNotFound
	}
	if err != nil {
		return domain.PlatformAccount{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (s *sqliteStore) CreateAccount(ctx context.Context, a *domain.PlatformAccount) error {
	prepareAccount(a, now())
	creds, err := mustJSON(a.Credentials)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO accounts(`+accountColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, a.PlatformID, a.DisplayName, a.Handle, a.NativeID, creds, a.Active, formatTime(a.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateAccount
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTask(r rowScanner) (domain.Task, error) {
	var (
		t                              domain.Task
		src, dst                       string
		contentType, status, mode      string
		mediaURL                       sql.NullString
		schedule, lastExec             sql.NullString
		recurring, filters, transforms sql.NullString
		created, updated               string
	)
	if err := r.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &src, &dst, &contentType, &mediaURL,
		&status, &mode, &schedule, &recurring, &filters, &transforms, &created, &updated, &lastExec); err != nil {
		return domain.Task{}, err
	}
	t.ContentType = domain.ContentType(contentType)
	t.MediaURL = mediaURL.String
	t.Status = domain.TaskStatus(status)
	t.ExecutionMode = domain.ExecutionMode(mode)

	var err error
	if err = json.Unmarshal([]byte(src), &t.SourceAccounts); err != nil {
		return domain.Task{}, fmt.Errorf("decode source_accounts: %w", err)
	}
	if err = json.Unmarshal([]byte(dst), &t.TargetAccounts); err != nil {
		return domain.Task{}, fmt.Errorf("decode target_accounts: %w", err)
	}
	if t.ScheduleTime, err = parseTimePtr(nullPtr(schedule)); err != nil {
		return domain.Task{}, err
	}
	if t.LastExecuted, err = parseTimePtr(nullPtr(lastExec)); err != nil {
		return domain.Task{}, err
	}
	if t.Recurring, err = jsonPtr[domain.RecurringPattern]([]byte(recurring.String)); err != nil {
		return domain.Task{}, fmt.Errorf("decode recurring: %w", err)
	}
	if t.Filters, err = jsonPtr[domain.ContentFilters]([]byte(filters.String)); err != nil {
		return domain.Task{}, fmt.Errorf("decode filters: %w", err)
	}
	if t.Transformations, err = jsonPtr[domain.Transformations]([]byte(transforms.String)); err != nil {
		return domain.Task{}, fmt.Errorf("decode transformations: %w", err)
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func scanSQLiteAccount(r rowScanner) (domain.PlatformAccount, error) {
	var (
		a       domain.PlatformAccount
		creds   string
		created string
	)
	if err := r.Scan(&a.ID, &a.UserID, &a.PlatformID, &a.DisplayName, &a.Handle, &a.NativeID, &creds, &a.Active, &created); err != nil {
		return domain.PlatformAccount{}, err
	}
	if err := json.Unmarshal([]byte(creds), &a.Credentials); err != nil {
		return domain.PlatformAccount{}, fmt.Errorf("decode credentials: %w", err)
	}
	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return domain.PlatformAccount{}, err
	}
	return a, nil
}

func nullPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nonNilErrors(in []domain.ExecutionError) []domain.ExecutionError {
	if in == nil {
		return []domain.ExecutionError{}
	}
	return in
}
