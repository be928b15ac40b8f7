package schedule

import (
	"testing"
	"time"

	"crosspost/internal/domain"
)

var now = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func recurring(p domain.Period, last *time.Time) domain.Task {
	return domain.Task{ExecutionMode: domain.ModeRecurring, Recurring: &domain.RecurringPattern{Period: p}, LastExecuted: last}
}

func TestIsDue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		task domain.Task
		want bool
	}{
		{name: "immediate", task: domain.Task{ExecutionMode: domain.ModeImmediate}, want: true},
		{name: "scheduled past", task: domain.Task{ExecutionMode: domain.ModeScheduled, ScheduleTime: ptr(now.Add(-time.Minute))}, want: true},
		{name: "scheduled exactly now", task: domain.Task{ExecutionMode: domain.ModeScheduled, ScheduleTime: ptr(now)}, want: true},
		{name: "scheduled future", task: domain.Task{ExecutionMode: domain.ModeScheduled, ScheduleTime: ptr(now.Add(time.Minute))}, want: false},
		{name: "scheduled missing time", task: domain.Task{ExecutionMode: domain.ModeScheduled}, want: false},
		{name: "daily never run", task: recurring(domain.PeriodDaily, nil), want: true},
		{name: "daily 25h ago", task: recurring(domain.PeriodDaily, ptr(now.Add(-25*time.Hour))), want: true},
		{name: "daily 23h ago", task: recurring(domain.PeriodDaily, ptr(now.Add(-23*time.Hour))), want: false},
		{name: "weekly 7d ago", task: recurring(domain.PeriodWeekly, ptr(now.Add(-7*24*time.Hour))), want: true},
		{name: "weekly 6d ago", task: recurring(domain.PeriodWeekly, ptr(now.Add(-6*24*time.Hour))), want: false},
		{name: "monthly 30d ago", task: recurring(domain.PeriodMonthly, ptr(now.Add(-30*24*time.Hour))), want: true},
		{name: "monthly 29d ago", task: recurring(domain.PeriodMonthly, ptr(now.Add(-29*24*time.Hour))), want: false},
		{name: "custom never due", task: recurring(domain.PeriodCustom, nil), want: false},
		{name: "recurring without pattern", task: domain.Task{ExecutionMode: domain.ModeRecurring}, want: false},
		{name: "unknown mode", task: domain.Task{ExecutionMode: "bogus"}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsDue(tt.task, now); got != tt.want {
				t.Fatalf("IsDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRunAfter(t *testing.T) {
	t.Parallel()
	sched := now.Add(3 * time.Hour)
	tests := []struct {
		name   string
		task   domain.Task
		want   time.Time
		wantOK bool
	}{
		{name: "scheduled", task: domain.Task{ExecutionMode: domain.ModeScheduled, ScheduleTime: &sched}, want: sched, wantOK: true},
		{name: "daily", task: recurring(domain.PeriodDaily, nil), want: now.AddDate(0, 0, 1), wantOK: true},
		{name: "weekly", task: recurring(domain.PeriodWeekly, nil), want: now.AddDate(0, 0, 7), wantOK: true},
		{name: "monthly", task: recurring(domain.PeriodMonthly, nil), want: time.Date(2024, 4, 10, 15, 30, 0, 0, time.UTC), wantOK: true},
		{name: "custom", task: recurring(domain.PeriodCustom, nil)},
		{name: "immediate", task: domain.Task{ExecutionMode: domain.ModeImmediate}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextRunAfter(tt.task, now)
			if ok != tt.wantOK || !got.Equal(tt.want) {
				t.Fatalf("NextRunAfter = %v,%v want %v,%v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func at(hour int, status domain.ExecutionStatus) domain.TaskExecution {
	return domain.TaskExecution{Status: status, StartedAt: time.Date(2024, 3, 1, hour, 12, 0, 0, time.UTC)}
}

func TestOptimalTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		history []domain.TaskExecution
		want    time.Time
	}{
		{name: "no history", want: now.Add(DefaultDelay)},
		{name: "only failures", history: []domain.TaskExecution{at(9, domain.ExecFailed)}, want: now.Add(DefaultDelay)},
		{name: "later today", history: []domain.TaskExecution{at(17, domain.ExecSuccess), at(19, domain.ExecSuccess)}, want: time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)},
		{name: "already passed moves to tomorrow", history: []domain.TaskExecution{at(9, domain.ExecSuccess), at(10, domain.ExecSuccess), at(23, domain.ExecFailed)}, want: time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)},
		{
			name: "six of ten succeeded averages to ten",
			history: []domain.TaskExecution{
				at(9, domain.ExecSuccess), at(9, domain.ExecSuccess), at(10, domain.ExecSuccess),
				at(11, domain.ExecSuccess), at(9, domain.ExecSuccess), at(10, domain.ExecSuccess),
				at(2, domain.ExecFailed), at(3, domain.ExecFailed), at(22, domain.ExecPartial), at(23, domain.ExecPending),
			},
			want: time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC),
		},
		{name: "current hour already started", history: []domain.TaskExecution{at(15, domain.ExecSuccess)}, want: time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := OptimalTime(tt.history, now); !got.Equal(tt.want) {
				t.Fatalf("OptimalTime = %v, want %v", got, tt.want)
			}
		})
	}
}
