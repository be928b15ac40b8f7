package report

import (
	"slices"
	"testing"
	"time"

	"crosspost/internal/domain"
)

func run(status domain.ExecutionStatus, d time.Duration) domain.TaskExecution {
	return domain.TaskExecution{Status: status, Duration: d}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		history    []domain.TaskExecution
		wantRate   float64
		wantUptime string
		wantAvg    time.Duration
		wantRecs   []string
	}{
		{name: "empty", wantUptime: "0%", wantRecs: []string{RecRunTask}},
		{
			name:       "perfect",
			history:    []domain.TaskExecution{run(domain.ExecSuccess, time.Second), run(domain.ExecSuccess, 3*time.Second)},
			wantRate:   100,
			wantUptime: "100.00%",
			wantAvg:    2 * time.Second,
			wantRecs:   []string{RecPerfect},
		},
		{
			name: "above eighty",
			history: []domain.TaskExecution{
				run(domain.ExecSuccess, time.Second), run(domain.ExecSuccess, time.Second), run(domain.ExecSuccess, time.Second),
				run(domain.ExecSuccess, time.Second), run(domain.ExecSuccess, time.Second), run(domain.ExecPartial, time.Second),
			},
			wantRate:   83.33,
			wantUptime: "83.33%",
			wantAvg:    time.Second,
			wantRecs:   []string{RecInvestigate},
		},
		{
			name:       "exactly eighty is not above",
			history:    []domain.TaskExecution{run(domain.ExecSuccess, 0), run(domain.ExecSuccess, 0), run(domain.ExecSuccess, 0), run(domain.ExecSuccess, 0), run(domain.ExecFailed, 0)},
			wantRate:   80,
			wantUptime: "80.00%",
			wantRecs:   []string{RecImmediate},
		},
		{
			name:       "one failure rounds to a hundred",
			history:    append(slices.Repeat([]domain.TaskExecution{run(domain.ExecSuccess, 0)}, 39999), run(domain.ExecFailed, 0)),
			wantRate:   100,
			wantUptime: "100.00%",
			wantRecs:   []string{RecInvestigate},
		},
		{
			name:       "slow",
			history:    []domain.TaskExecution{run(domain.ExecFailed, time.Minute)},
			wantRate:   0,
			wantUptime: "0.00%",
			wantAvg:    time.Minute,
			wantRecs:   []string{RecImmediate, RecSlowExecution},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Build(tt.history)
			if got.SuccessRate != tt.wantRate {
				t.Fatalf("SuccessRate = %v, want %v", got.SuccessRate, tt.wantRate)
			}
			if got.Uptime != tt.wantUptime {
				t.Fatalf("Uptime = %q, want %q", got.Uptime, tt.wantUptime)
			}
			if got.AverageExecutionTime != tt.wantAvg {
				t.Fatalf("AverageExecutionTime = %s, want %s", got.AverageExecutionTime, tt.wantAvg)
			}
			if !slices.Equal(got.Recommendations, tt.wantRecs) {
				t.Fatalf("Recommendations = %v, want %v", got.Recommendations, tt.wantRecs)
			}
			if got.Summary == "" {
				t.Fatal("empty summary")
			}
		})
	}
}
