// Package risk scores the likelihood of a task failing and classifies past failures.
package risk

import (
	"fmt"
	"strings"
	"time"

	"crosspost/internal/domain"
	"crosspost/pkg/logx"
)

const (
	// Score contributions. Each factor counts at most once.
	weightFailureRate    = 40
	weightInactiveSource = 30
	weightStaleTask      = 20

	failureRateThreshold   = 0.30
	errorRateHighThreshold = 0.50
	staleTaskAge           = 4 * 7 * 24 * time.Hour
	staleTaskMinExecutions = 5
	maxScore               = 100
)

const (
	FactorFailureRate = "high historical failure rate"
	FactorStaleTask   = "old task, low execution count"
)

// Suggestion patterns reported by AnalyzeErrors.
const (
	PatternHighFailureRate = "high_failure_rate"
	PatternTimeout         = "timeout"
	PatternAuth            = "authentication"
	PatternRateLimit       = "rate_limit"
)

type Analyzer struct {
	log logx.Logger
}

func New(log logx.Logger) *Analyzer {
	return &Analyzer{log: log}
}

// PredictFailure computes an additive risk score in [0,100].
//
// accounts maps account id to its current state; source ids missing from the map
// are not counted as inactive.
func (a *Analyzer) PredictFailure(task domain.Task, accounts map[string]domain.PlatformAccount, history []domain.TaskExecution, now time.Time) domain.RiskAssessment {
	out := domain.RiskAssessment{Factors: []string{}}

	if FailureRate(history) > failureRateThreshold {
		out.Score += weightFailureRate
		out.Factors = append(out.Factors, FactorFailureRate)
	}

	inactive := 0
	for _, id := range task.SourceAccounts {
		if acc, ok := accounts[id]; ok && !acc.Active {
			inactive++
		}
	}
	if inactive > 0 {
		out.Score += weightInactiveSource
		out.Factors = append(out.Factors, fmt.Sprintf("%d inactive source account(s)", inactive))
	}

	if !task.CreatedAt.IsZero() && now.Sub(task.CreatedAt) > staleTaskAge && len(history) < staleTaskMinExecutions {
		out.Score += weightStaleTask
		out.Factors = append(out.Factors, FactorStaleTask)
	}

	out.Score = min(max(out.Score, 0), maxScore)
	if a != nil {
		a.log.Debug("risk assessed", logx.String("task", task.ID), logx.Int("score", out.Score), logx.Strings("factors", out.Factors))
	}
	return out
}

// AnalyzeErrors classifies failure patterns. It returns nothing unless at least
// one execution failed. Patterns are checked independently and may co-occur.
func (a *Analyzer) AnalyzeErrors(history []domain.TaskExecution) []domain.Suggestion {
	failed := 0
	for _, e := range history {
		if e.Status == domain.ExecFailed {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}

	var out []domain.Suggestion
	if float64(failed)/float64(len(history)) > errorRateHighThreshold {
		out = append(out, domain.Suggestion{
			Pattern:    PatternHighFailureRate,
			Suggestion: "more than half of runs fail; review the task configuration and account connections",
			Severity:   domain.SeverityHigh,
		})
	}

	text := strings.ToLower(errorText(history))
	if strings.Contains(text, "timeout") {
		out = append(out, domain.Suggestion{
			Pattern:    PatternTimeout,
			Suggestion: "publishing times out; raise the publish timeout or lower batch concurrency",
			Severity:   domain.SeverityMedium,
		})
	}
	if strings.Contains(text, "unauthorized") || strings.Contains(text, "401") {
		out = append(out, domain.Suggestion{
			Pattern:    PatternAuth,
			Suggestion: "credentials were rejected; reconnect the affected accounts",
			Severity:   domain.SeverityHigh,
		})
	}
	if strings.Contains(text, "rate limit") {
		out = append(out, domain.Suggestion{
			Pattern:    PatternRateLimit,
			Suggestion: "platform rate limit hit; post less often or spread targets over time",
			Severity:   domain.SeverityMedium,
		})
	}
	if a != nil && len(out) > 0 {
		a.log.Debug("error patterns detected", logx.Int("failed", failed), logx.Int("patterns", len(out)))
	}
	return out
}

// FailureRate is the share of executions whose status is failed, in [0,1].
func FailureRate(history []domain.TaskExecution) float64 {
	if len(history) == 0 {
		return 0
	}
	failed := 0
	for _, e := range history {
		if e.Status == domain.ExecFailed {
			failed++
		}
	}
	return float64(failed) / float64(len(history))
}

func errorText(history []domain.TaskExecution) string {
	var b strings.Builder
	for _, e := range history {
		for _, ee := range e.Errors {
			b.WriteString(ee.Message)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
