package app

import (
	"context"
	"errors"
	"strings"

	"crosspost/internal/config"
	"crosspost/internal/storage"
	"crosspost/pkg/logx"
)

// seed loads configured accounts and tasks. Rows that already exist are left alone,
// so the same config can be applied on every start.
func seed(ctx context.Context, st storage.Store, sc *config.SeedConfig, log logx.Logger) error {
	if sc == nil {
		return nil
	}
	var accounts, tasks int
	for i := range sc.Accounts {
		a := sc.Accounts[i]
		if id := strings.TrimSpace(a.ID); id != "" {
			if _, err := st.GetAccount(ctx, id); err == nil {
				continue
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		if err := st.CreateAccount(ctx, &a); err != nil {
			if errors.Is(err, storage.ErrDuplicateAccount) {
				log.Debug("seed account already linked", logx.String("platform", a.PlatformID), logx.String("native_id", a.NativeID))
				continue
			}
			return err
		}
		accounts++
	}
	for i := range sc.Tasks {
		t := sc.Tasks[i]
		if id := strings.TrimSpace(t.ID); id != "" {
			if _, err := st.GetTask(ctx, id); err == nil {
				continue
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		if err := st.CreateTask(ctx, &t); err != nil {
			return err
		}
		tasks++
	}
	if accounts+tasks > 0 {
		log.Info("storage seeded", logx.Int("accounts", accounts), logx.Int("tasks", tasks))
	}
	return nil
}
