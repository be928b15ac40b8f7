package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/domain"
)

var (
	ErrNotFound         = errors.New("storage: not found")
	ErrDuplicateAccount = errors.New("storage: account already linked")
	ErrClosed           = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps (default)
//   - "file": memory plus a JSON snapshot and an executions journal under Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL via DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgxpool default
}

// Store is the persistence API consumed by the executor and dispatcher.
//
// Get* methods return ErrNotFound for unknown ids. Lists are ordered by
// creation (executions by StartedAt).
type Store interface {
	ActiveTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, p domain.TaskPatch) error
	TaskExecutions(ctx context.Context, taskID string) ([]domain.TaskExecution, error)
	CreateExecution(ctx context.Context, e *domain.TaskExecution) error
	UserAccounts(ctx context.Context, userID string) ([]domain.PlatformAccount, error)
	GetAccount(ctx context.Context, id string) (domain.PlatformAccount, error)

	// CreateTask and CreateAccount assign ID (when empty) and timestamps.
	CreateTask(ctx context.Context, t *domain.Task) error
	CreateAccount(ctx context.Context, a *domain.PlatformAccount) error

	Close() error
}

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func prepareTask(t *domain.Task, now time.Time) {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = domain.TaskActive
	}
	if t.SourceAccounts == nil {
		t.SourceAccounts = []string{}
	}
	if t.TargetAccounts == nil {
		t.TargetAccounts = []string{}
	}
}

func prepareAccount(a *domain.PlatformAccount, now time.Time) {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.PlatformID = domain.NormalizePlatform(a.PlatformID)
}

func prepareExecution(e *domain.TaskExecution) {
	if e.ID == "" {
		e.ID = NewID()
	}
}

func applyPatch(t *domain.Task, p domain.TaskPatch, now time.Time) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.LastExecuted != nil {
		v := *p.LastExecuted
		t.LastExecuted = &v
	}
	if p.ScheduleTime != nil {
		v := *p.ScheduleTime
		t.ScheduleTime = &v
	}
	t.UpdatedAt = now
}

// now truncates to microseconds so values survive a database round trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
