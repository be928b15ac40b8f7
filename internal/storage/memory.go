package storage

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"crosspost/internal/domain"
)

// Memory is an in-process Store. Values are copied on the way in and out.
type Memory struct {
	mu         sync.RWMutex
	tasks      map[string]domain.Task
	accounts   map[string]domain.PlatformAccount
	executions map[string][]domain.TaskExecution
	closed     bool
}

func NewMemory() *Memory {
	return &Memory{
		tasks:      map[string]domain.Task{},
		accounts:   map[string]domain.PlatformAccount{},
		executions: map[string][]domain.TaskExecution{},
	}
}

func (m *Memory) ActiveTasks(ctx context.Context) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.Status == domain.TaskActive {
			out = append(out, cloneTask(t))
		}
	}
	sortTasks(out)
	return out, nil
}

// Tasks returns every task regardless of status.
func (m *Memory) Tasks(ctx context.Context) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, cloneTask(t))
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return domain.Task{}, ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *Memory) CreateTask(ctx context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	prepareTask(t, now())
	m.tasks[t.ID] = cloneTask(*t)
	return nil
}

func (m *Memory) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	applyPatch(&t, p, now())
	m.tasks[id] = t
	return nil
}

func (m *Memory) TaskExecutions(ctx context.Context, taskID string) ([]domain.TaskExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	src := m.executions[taskID]
	out := make([]domain.TaskExecution, 0, len(src))
	for _, e := range src {
		out = append(out, cloneExecution(e))
	}
	return out, nil
}

func (m *Memory) CreateExecution(ctx context.Context, e *domain.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	prepareExecution(e)
	list := append(m.executions[e.TaskID], cloneExecution(*e))
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	m.executions[e.TaskID] = list
	return nil
}

func (m *Memory) UserAccounts(ctx context.Context, userID string) ([]domain.PlatformAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []domain.PlatformAccount
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetAccount(ctx context.Context, id string) (domain.PlatformAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return domain.PlatformAccount{}, ErrClosed
	}
	a, ok := m.accounts[id]
	if !ok {
		return domain.PlatformAccount{}, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (m *Memory) CreateAccount(ctx context.Context, a *domain.PlatformAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	prepareAccount(a, now())
	for _, ex := range m.accounts {
		if ex.ID != a.ID && ex.UserID == a.UserID && ex.PlatformID == a.PlatformID && ex.NativeID == a.NativeID {
			return ErrDuplicateAccount
		}
	}
	m.accounts[a.ID] = cloneAccount(*a)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func sortTasks(ts []domain.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneTask(t domain.Task) domain.Task {
	t.SourceAccounts = slices.Clone(t.SourceAccounts)
	t.TargetAccounts = slices.Clone(t.TargetAccounts)
	t.ScheduleTime = cloneTime(t.ScheduleTime)
	t.LastExecuted = cloneTime(t.LastExecuted)
	if t.Recurring != nil {
		r := *t.Recurring
		r.DaysOfWeek = slices.Clone(r.DaysOfWeek)
		t.Recurring = &r
	}
	if t.Filters != nil {
		f := *t.Filters
		f.Keywords = slices.Clone(f.Keywords)
		f.ExcludeKeywords = slices.Clone(f.ExcludeKeywords)
		t.Filters = &f
	}
	if t.Transformations != nil {
		tr := *t.Transformations
		tr.AddHashtags = slices.Clone(tr.AddHashtags)
		t.Transformations = &tr
	}
	return t
}

func cloneAccount(a domain.PlatformAccount) domain.PlatformAccount {
	a.Credentials.Extra = maps.Clone(a.Credentials.Extra)
	return a
}

func cloneExecution(e domain.TaskExecution) domain.TaskExecution {
	e.Errors = slices.Clone(e.Errors)
	return e
}
