package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"crosspost/internal/domain"
	"crosspost/pkg/logx"
)

// PgStore is a PostgreSQL-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	st := NewPgStore(pool, log)
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

// NewPgStore wraps an existing pool. Call EnsureSchema before first use.
func NewPgStore(pool *pgxpool.Pool, log logx.Logger) *PgStore {
	return &PgStore{pool: pool, log: log}
}

// EnsureSchema applies pending embedded migrations.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	migs, err := loadMigrations("postgres")
	if err != nil {
		return err
	}
	for _, m := range migs {
		var applied bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Version, err)
		}
		if applied {
			continue
		}
		if _, err := s.pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		if _, err := s.pool.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		s.log.Info("migration applied", logx.String("version", m.Version))
	}
	return nil
}

func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

const pgTaskSelect = `SELECT id, user_id, name, description, source_accounts, target_accounts, content_type, media_url,
	status, execution_mode, schedule_time, recurring, filters, transformations, created_at, updated_at, last_executed
	FROM tasks`

func (s *PgStore) ActiveTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, pgTaskSelect+` WHERE status = $1 ORDER BY created_at, id`, string(domain.TaskActive))
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PgStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanPgTask(s.pool.QueryRow(ctx, pgTaskSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *PgStore) CreateTask(ctx context.Context, t *domain.Task) error {
	prepareTask(t, now())
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, user_id, name, description, source_accounts, target_accounts, content_type, media_url,
			status, execution_mode, schedule_time, recurring, filters, transformations, created_at, updated_at, last_executed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb, $14::jsonb, $15, $16, $17)`,
		t.ID, t.UserID, t.Name, t.Description, t.SourceAccounts, t.TargetAccounts, string(t.ContentType), t.MediaURL,
		string(t.Status), string(t.ExecutionMode), t.ScheduleTime, rec, flt, tr, t.CreatedAt, t.UpdatedAt, t.LastExecuted)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) error {
	setClauses := "updated_at = $1"
	args := []any{now()}
	argIdx := 2
	if p.Status != nil {
		setClauses += fmt.Sprintf(", status = $%d", argIdx)
		args = append(args, string(*p.Status))
		argIdx++
	}
	if p.LastExecuted != nil {
		setClauses += fmt.Sprintf(", last_executed = $%d", argIdx)
		args = append(args, *p.LastExecuted)
		argIdx++
	}
	if p.ScheduleTime != nil {
		setClauses += fmt.Sprintf(", schedule_time = $%d", argIdx)
		args = append(args, *p.ScheduleTime)
		argIdx++
	}
	args = append(args, id)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d", setClauses, argIdx), args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) TaskExecutions(ctx context.Context, taskID string) ([]domain.TaskExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, status, started_at, completed_at, duration_ns, items_processed, items_failed, errors
		FROM executions WHERE task_id = $1 ORDER BY started_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	out := []domain.TaskExecution{}
	for rows.Next() {
		var (
			e      domain.TaskExecution
			status string
			durNS  int64
			errs   []byte
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &status, &e.StartedAt, &e.CompletedAt, &durNS, &e.ItemsProcessed, &e.ItemsFailed, &errs); err != nil {
			return nil, err
		}
		e.Status = domain.ExecutionStatus(status)
		e.Duration = time.Duration(durNS)
		if err := json.Unmarshal(errs, &e.Errors); err != nil {
			return nil, fmt.Errorf("decode execution errors %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) CreateExecution(ctx context.Context, e *domain.TaskExecution) error {
	prepareExecution(e)
	errs, err := mustJSON(nonNilErrors(e.Errors))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (id, task_id, status, started_at, completed_at, duration_ns, items_processed, items_failed, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)`,
		e.ID, e.TaskID, string(e.Status), e.StartedAt, e.CompletedAt, int64(e.Duration), e.ItemsProcessed, e.ItemsFailed, errs)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

const pgAccountSelect = `SELECT id, user_id, platform_id, display_name, handle, native_id, credentials, active, created_at FROM accounts`

func (s *PgStore) UserAccounts(ctx context.Context, userID string) ([]domain.PlatformAccount, error) {
	rows, err := s.pool.Query(ctx, pgAccountSelect+` WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []domain.PlatformAccount
	for rows.Next() {
		a, err := scanPgAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PgStore) GetAccount(ctx context.Context, id string) (domain.PlatformAccount, error) {
	a, err := scanPgAccount(s.pool.QueryRow(ctx, pgAccountSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlatformAccount{}, ErrNotFound
	}
	if err != nil {
		return domain.PlatformAccount{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (s *PgStore) CreateAccount(ctx context.Context, a *domain.PlatformAccount) error {
	prepareAccount(a, now())
	creds, err := mustJSON(a.Credentials)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (id, user_id, platform_id, display_name, handle, native_id, credentials, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)`,
		a.ID, a.UserID, a.PlatformID, a.DisplayName, a.Handle, a.NativeID, creds, a.Active, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAccount
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func scanPgTask(r pgx.Row) (domain.Task, error) {
	var (
		t                              domain.Task
		contentType, status, mode      string
		recurring, filters, transforms []byte
	)
	if err := r.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &t.SourceAccounts, &t.TargetAccounts, &contentType, &t.MediaURL,
		&status, &mode, &t.ScheduleTime, &recurring, &filters, &transforms, &t.CreatedAt, &t.UpdatedAt, &t.LastExecuted); err != nil {
		return domain.Task{}, err
	}
	t.ContentType = domain.ContentType(contentType)
	t.Status = domain.TaskStatus(status)
	t.ExecutionMode = domain.ExecutionMode(mode)

	var err error
	if t.Recurring, err = jsonPtr[domain.RecurringPattern](recurring); err != nil {
		return domain.Task{}, fmt.Errorf("decode recurring: %w", err)
	}
	if t.Filters, err = jsonPtr[domain.ContentFilters](filters); err != nil {
		return domain.Task{}, fmt.Errorf("decode filters: %w", err)
	}
	if t.Transformations, err = jsonPtr[domain.Transformations](transforms); err != nil {
		return domain.Task{}, fmt.Errorf("decode transformations: %w", err)
	}
	return t, nil
}

func scanPgAccount(r pgx.Row) (domain.PlatformAccount, error) {
	var (
		a     domain.PlatformAccount
		creds []byte
	)
	if err := r.Scan(&a.ID, &a.UserID, &a.PlatformID, &a.DisplayName, &a.Handle, &a.NativeID, &creds, &a.Active, &a.CreatedAt); err != nil {
		return domain.PlatformAccount{}, err
	}
	if err := json.Unmarshal(creds, &a.Credentials); err != nil {
		return domain.PlatformAccount{}, fmt.Errorf("decode credentials: %w", err)
	}
	return a, nil
}
