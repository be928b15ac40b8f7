package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"crosspost/pkg/logx"
)

// fire starts one run of d unless the previous one is still in flight.
func (s *Service) fire(d scheduleDef) bool {
	if !d.state.tryAcquire() {
		s.log.Debug("schedule skipped; previous run in flight", logx.String("name", d.name))
		return false
	}
	parent := s.baseContext()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		err := s.run(parent, d)
		s.remember(HistoryItem{Name: d.name, Started: start, Duration: time.Since(start), Error: errText(err)})
		d.state.release(err)
		if err != nil {
			s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		s.log.Debug("scheduled job finished", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
	}()
	return true
}

func (s *Service) run(parent context.Context, d scheduleDef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("scheduler.panic", logx.String("name", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	ctx := parent
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.job(ctx)
}

func (s *Service) remember(h HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = defaultHistorySize
	}
	s.hmu.Lock()
	s.history = append(s.history, h)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
