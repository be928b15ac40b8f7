// Package report aggregates execution history into a performance summary.
package report

import (
	"fmt"
	"math"
	"time"

	"crosspost/internal/domain"
)

const (
	RecRunTask       = "run the task to collect performance data"
	RecPerfect       = "performing perfectly"
	RecInvestigate   = "investigate recent failures"
	RecImmediate     = "immediate investigation recommended"
	RecSlowExecution = "average execution time is high; check platform latency or reduce targets per task"

	slowExecution = 30 * time.Second
)

// Build summarizes history. AverageExecutionTime is the mean of the durations
// the executor recorded on each execution.
func Build(history []domain.TaskExecution) domain.PerformanceReport {
	if len(history) == 0 {
		return domain.PerformanceReport{
			Summary:         "no data",
			Uptime:          "0%",
			Recommendations: []string{RecRunTask},
		}
	}

	var (
		ok    int
		total time.Duration
	)
	for _, e := range history {
		if e.Status == domain.ExecSuccess {
			ok++
		}
		total += e.Duration
	}
	rate := math.Round(float64(ok)/float64(len(history))*10000) / 100
	avg := total / time.Duration(len(history))

	r := domain.PerformanceReport{
		Summary:              fmt.Sprintf("%d of %d executions succeeded", ok, len(history)),
		SuccessRate:          rate,
		Uptime:               fmt.Sprintf("%.2f%%", rate),
		AverageExecutionTime: avg,
	}
	// Classify on exact counts; the rounded rate is for display only.
	switch {
	case ok == len(history):
		r.Recommendations = append(r.Recommendations, RecPerfect)
	case ok*5 > len(history)*4:
		r.Recommendations = append(r.Recommendations, RecInvestigate)
	default:
		r.Recommendations = append(r.Recommendations, RecImmediate)
	}
	if avg > slowExecution {
		r.Recommendations = append(r.Recommendations, RecSlowExecution)
	}
	return r
}
