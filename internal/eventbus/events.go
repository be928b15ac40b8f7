package eventbus

import "time"

const (
	TypeExecutionCompleted = "execution.completed"
	TypeTaskRisk           = "task.risk"
	TypeDispatchPoll       = "dispatch.poll"
)

// ExecutionCompleted is published once per persisted task execution.
type ExecutionCompleted struct {
	ExecutionID string        `json:"execution_id"`
	TaskID      string        `json:"task_id"`
	Status      string        `json:"status"`
	Processed   int           `json:"processed"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
	// NextRun is the planned next run of a recurring task; zero otherwise.
	NextRun time.Time `json:"next_run,omitzero"`
}

// TaskRisk is published by the audit sweep for tasks at or above the alert level.
type TaskRisk struct {
	TaskID  string   `json:"task_id"`
	Name    string   `json:"name"`
	Score   int      `json:"score"`
	Level   string   `json:"level"`
	Factors []string `json:"factors"`
	// Suggestions are remediation hints derived from past errors.
	Suggestions []string  `json:"suggestions,omitempty"`
	Uptime      string    `json:"uptime,omitempty"`
	SuggestedAt time.Time `json:"suggested_at,omitzero"`
}

// DispatchPoll summarizes one poll tick.
type DispatchPoll struct {
	Active   int           `json:"active"`
	Due      int           `json:"due"`
	Ok       int           `json:"ok"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}
