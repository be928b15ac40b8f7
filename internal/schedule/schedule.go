// Package schedule decides when a task is due and when it should run next.
package schedule

import (
	"math"
	"time"

	"crosspost/internal/domain"
)

// DefaultDelay is the OptimalTime fallback when no successful run exists.
const DefaultDelay = 60 * time.Second

// Interval is the elapsed time a recurring period needs between runs.
// Monthly is a fixed 30 days. Custom and unknown periods report false.
func Interval(p domain.Period) (time.Duration, bool) {
	switch p {
	case domain.PeriodDaily:
		return 24 * time.Hour, true
	case domain.PeriodWeekly:
		return 7 * 24 * time.Hour, true
	case domain.PeriodMonthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// IsDue reports whether task should run at now. It does not look at task.Status.
func IsDue(task domain.Task, now time.Time) bool {
	switch task.ExecutionMode {
	case domain.ModeImmediate:
		return true
	case domain.ModeScheduled:
		return task.ScheduleTime != nil && !task.ScheduleTime.After(now)
	case domain.ModeRecurring:
		if task.Recurring == nil {
			return false
		}
		every, ok := Interval(task.Recurring.Period)
		if !ok {
			return false
		}
		if task.LastExecuted == nil {
			return true
		}
		return now.Sub(*task.LastExecuted) >= every
	default:
		return false
	}
}

// NextRunAfter returns the next planned run. Recurring tasks advance by one
// calendar unit from now. Immediate tasks and custom periods have none.
func NextRunAfter(task domain.Task, now time.Time) (time.Time, bool) {
	switch task.ExecutionMode {
	case domain.ModeScheduled:
		if task.ScheduleTime == nil {
			return time.Time{}, false
		}
		return *task.ScheduleTime, true
	case domain.ModeRecurring:
		if task.Recurring == nil {
			return time.Time{}, false
		}
		switch task.Recurring.Period {
		case domain.PeriodDaily:
			return now.AddDate(0, 0, 1), true
		case domain.PeriodWeekly:
			return now.AddDate(0, 0, 7), true
		case domain.PeriodMonthly:
			return now.AddDate(0, 1, 0), true
		}
	}
	return time.Time{}, false
}

// OptimalTime suggests a run time from the hours of past successful executions.
//
// It averages the hour-of-day (in now's location) of successful runs, rounds it,
// and returns today at HH:00:00, or tomorrow when that moment is already past.
// Without successful history it returns now + DefaultDelay.
func OptimalTime(history []domain.TaskExecution, now time.Time) time.Time {
	var sum, n int
	for _, e := range history {
		if e.Status != domain.ExecSuccess {
			continue
		}
		sum += e.StartedAt.In(now.Location()).Hour()
		n++
	}
	if n == 0 {
		return now.Add(DefaultDelay)
	}
	hour := int(math.Round(float64(sum) / float64(n)))
	if hour > 23 {
		hour = 23
	}
	y, m, d := now.Date()
	at := time.Date(y, m, d, hour, 0, 0, 0, now.Location())
	if at.Before(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
