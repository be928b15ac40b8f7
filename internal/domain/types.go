// Package domain holds the records shared by the execution engine:
// tasks, platform accounts, execution audit records and derived reports.
package domain

import (
	"strings"
	"time"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentLink  ContentType = "link"
)

type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

type ExecutionMode string

const (
	ModeImmediate ExecutionMode = "immediate"
	ModeScheduled ExecutionMode = "scheduled"
	ModeRecurring ExecutionMode = "recurring"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodCustom  Period = "custom"
)

// RecurringPattern is only meaningful for ModeRecurring tasks.
type RecurringPattern struct {
	Period     Period         `json:"period"`
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
}

type ContentFilters struct {
	Keywords        []string `json:"keywords,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	MinLength       int      `json:"min_length,omitempty"`
	MediaOnly       bool     `json:"media_only,omitempty"`
}

type Transformations struct {
	AddPrefix   string   `json:"add_prefix,omitempty"`
	AddSuffix   string   `json:"add_suffix,omitempty"`
	AddHashtags []string `json:"add_hashtags,omitempty"`
	ResizeMedia bool     `json:"resize_media,omitempty"`
}

// Task links source accounts to target accounts with a schedule and content rules.
//
// Exactly one of ScheduleTime / Recurring is meaningful, selected by ExecutionMode;
// immediate tasks ignore both.
type Task struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	SourceAccounts  []string          `json:"source_accounts"`
	TargetAccounts  []string          `json:"target_accounts"`
	ContentType     ContentType       `json:"content_type"`
	MediaURL        string            `json:"media_url,omitempty"`
	Status          TaskStatus        `json:"status"`
	ExecutionMode   ExecutionMode     `json:"execution_mode"`
	ScheduleTime    *time.Time        `json:"schedule_time,omitempty"`
	Recurring       *RecurringPattern `json:"recurring,omitempty"`
	Filters         *ContentFilters   `json:"filters,omitempty"`
	Transformations *Transformations  `json:"transformations,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	LastExecuted    *time.Time        `json:"last_executed,omitempty"`
}

// OneShot reports whether the task runs once and then completes.
func (t Task) OneShot() bool {
	return t.ExecutionMode == ModeImmediate || t.ExecutionMode == ModeScheduled
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Status       *TaskStatus
	LastExecuted *time.Time
	ScheduleTime *time.Time
}

type Credentials struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// PlatformAccount is unique per (UserID, PlatformID, NativeID).
type PlatformAccount struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	PlatformID  string      `json:"platform_id"`
	DisplayName string      `json:"display_name"`
	Handle      string      `json:"handle"`
	NativeID    string      `json:"native_id"`
	Credentials Credentials `json:"credentials"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ContentItem is the unit handed to the platform gateway.
type ContentItem struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text"`
	MediaURL string      `json:"media_url,omitempty"`
}

// NormalizePlatform lowercases and trims a platform identifier.
func NormalizePlatform(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
