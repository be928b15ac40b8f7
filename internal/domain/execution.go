package domain

import "time"

type ExecutionStatus string

const (
	ExecSuccess ExecutionStatus = "success"
	ExecFailed  ExecutionStatus = "failed"
	ExecPartial ExecutionStatus = "partial"
	ExecPending ExecutionStatus = "pending"
)

type ErrorCode string

const (
	ErrClientInit ErrorCode = "CLIENT_INIT_ERROR"
	ErrPublish    ErrorCode = "PUBLISH_ERROR"
	ErrExecution  ErrorCode = "EXECUTION_ERROR"
	ErrUnknown    ErrorCode = "UNKNOWN_ERROR"
)

// UnknownPlatform marks task-level errors that are not tied to an account.
const UnknownPlatform = "unknown"

type ExecutionError struct {
	Platform  string    `json:"platform"`
	AccountID string    `json:"account_id"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	Retryable bool      `json:"retryable"`
}

// TaskExecution is the append-only audit record of one run.
type TaskExecution struct {
	ID             string           `json:"id"`
	TaskID         string           `json:"task_id"`
	Status         ExecutionStatus  `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    time.Time        `json:"completed_at"`
	Duration       time.Duration    `json:"duration"`
	ItemsProcessed int              `json:"items_processed"`
	ItemsFailed    int              `json:"items_failed"`
	Errors         []ExecutionError `json:"errors,omitempty"`
}

// DeriveStatus maps processed/failed counters onto an execution status.
//
// A run that failed before processing anything (failed > 0, processed == 0)
// is failed, not partial.
func DeriveStatus(processed, failed int) ExecutionStatus {
	switch {
	case failed <= 0:
		return ExecSuccess
	case failed >= processed:
		return ExecFailed
	default:
		return ExecPartial
	}
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RiskAssessment is derived on demand and never persisted.
type RiskAssessment struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}

// Level buckets the score: low < 30 <= medium < 60 <= high.
func (r RiskAssessment) Level() Severity {
	switch {
	case r.Score >= 60:
		return SeverityHigh
	case r.Score >= 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Suggestion is one detected failure pattern with a remediation hint.
type Suggestion struct {
	Pattern    string   `json:"pattern"`
	Suggestion string   `json:"suggestion"`
	Severity   Severity `json:"severity"`
}

// PerformanceReport is derived on demand and never persisted.
type PerformanceReport struct {
	Summary              string        `json:"summary"`
	SuccessRate          float64       `json:"success_rate"`
	Uptime               string        `json:"uptime"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	Recommendations      []string      `json:"recommendations"`
}
