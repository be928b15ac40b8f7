package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"crosspost/internal/domain"
	"crosspost/pkg/logx"
)

// fileStore is a dependency-free persistence backend built on Memory.
//
// Files:
//   - <prefix>.snapshot.json      (tasks + accounts, rewritten on change)
//   - <prefix>.executions.jsonl   (append-only JSON Lines)
type fileStore struct {
	*Memory
	log logx.Logger

	// wmu serializes file writes; Memory guards the data itself.
	wmu          sync.Mutex
	snapshotPath string
	execFile     *os.File
}

type fileSnapshot struct {
	Tasks    []domain.Task            `json:"tasks"`
	Accounts []domain.PlatformAccount `json:"accounts"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	mem := NewMemory()
	snapPath := prefix + ".snapshot.json"
	execPath := prefix + ".executions.jsonl"

	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	n, err := replayExecutions(execPath, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	ef, err := os.OpenFile(execPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("tasks", len(mem.tasks)), logx.Int("executions", n))

	return &fileStore{Memory: mem, log: log, snapshotPath: snapPath, execFile: ef}, nil
}

func (s *fileStore) CreateTask(ctx context.Context, t *domain.Task) error {
	if err := s.Memory.CreateTask(ctx, t); err != nil {
		return err
	}
	return s.writeSnapshot(ctx)
}

func (s *fileStore) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) error {
	if err := s.Memory.UpdateTask(ctx, id, p); err != nil {
		return err
	}
	return s.writeSnapshot(ctx)
}

func (s *fileStore) CreateAccount(ctx context.Context, a *domain.PlatformAccount) error {
	if err := s.Memory.CreateAccount(ctx, a); err != nil {
		return err
	}
	return s.writeSnapshot(ctx)
}

func (s *fileStore) CreateExecution(ctx context.Context, e *domain.TaskExecution) error {
	if err := s.Memory.CreateExecution(ctx, e); err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.execFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.execFile).Encode(e)
}

func (s *fileStore) Close() error {
	_ = s.Memory.Close()
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.execFile == nil {
		return nil
	}
	err := s.execFile.Close()
	s.execFile = nil
	return err
}

func (s *fileStore) writeSnapshot(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tasks, err := s.Memory.Tasks(ctx)
	if err != nil {
		return err
	}
	s.Memory.mu.RLock()
	accounts := make([]domain.PlatformAccount, 0, len(s.Memory.accounts))
	for _, a := range s.Memory.accounts {
		accounts = append(accounts, cloneAccount(a))
	}
	s.Memory.mu.RUnlock()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(fileSnapshot{Tasks: tasks, Accounts: accounts}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func loadSnapshot(path string, m *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, t := range snap.Tasks {
		m.tasks[t.ID] = t
	}
	for _, a := range snap.Accounts {
		m.accounts[a.ID] = a
	}
	return nil
}

func replayExecutions(path string, m *Memory) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e domain.TaskExecution
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.TaskID == "" {
			continue
		}
		m.executions[e.TaskID] = append(m.executions[e.TaskID], e)
		n++
	}
	return n, sc.Err()
}
