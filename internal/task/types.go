// Package task implements the owner-scoped todo store backed by SQLite.
//
// Every task belongs to exactly one owner and is addressed by an integer
// id that is monotonic within that owner. No call in this package can read
// or write another owner's rows, even given a guessed id.
package task

import (
	"errors"
	"fmt"
	"time"
)

// Field bounds enforced by validation.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 2000
	MaxTagLen         = 50
)

// DateLayout is the calendar-date format for due dates.
const DateLayout = "2006-01-02"

// TimeLayout is the time-of-day format for due times.
const TimeLayout = "15:04"

// ErrNotFound is returned when a task does not exist for the requesting
// owner. A task that exists under a different owner is indistinguishable
// from one that does not exist at all.
var ErrNotFound = errors.New("task not found")

// ValidationError describes malformed task input. It is always recoverable
// by the caller and never represents an infrastructure failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// --- Priority enum ---

// Priority orders tasks by importance. The empty string means unset.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var validPriorities = map[Priority]bool{
	"":             true,
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
}

// --- Recurrence enum ---

// Recurrence describes how a task repeats. Weekly recurrence carries a
// weekday (0=Sunday..6=Saturday) and monthly a day-of-month (1..31) in the
// task's RecurDay field.
type Recurrence string

const (
	RecurNone    Recurrence = "none"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
)

var validRecurrences = map[Recurrence]bool{
	"":           true, // treated as none
	RecurNone:    true,
	RecurDaily:   true,
	RecurWeekly:  true,
	RecurMonthly: true,
}

// --- Core data structures ---

// Task is one todo item. Timestamps are RFC3339 UTC strings; DueDate and
// DueTime use DateLayout and TimeLayout, empty when unset.
type Task struct {
	ID          int64      `json:"id"`
	Owner       string     `json:"-"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Done        bool       `json:"done"`
	Priority    Priority   `json:"priority,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	DueDate     string     `json:"due_date,omitempty"`
	DueTime     string     `json:"due_time,omitempty"`
	Recurrence  Recurrence `json:"recurrence,omitempty"`
	RecurDay    int        `json:"recur_day,omitempty"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
	CompletedAt string     `json:"completed_at,omitempty"`
}

// Draft holds the input for creating a task.
type Draft struct {
	Title       string
	Description string
	Priority    Priority
	Tags        []string
	DueDate     string
	DueTime     string
	Recurrence  Recurrence
	RecurDay    int
}

// Patch holds a partial update. Nil pointers leave the field unchanged;
// a pointer to the zero value clears it. Tags nil means unchanged.
type Patch struct {
	Title       *string
	Description *string
	Priority    *Priority
	Tags        []string
	DueDate     *string
	DueTime     *string
	Recurrence  *Recurrence
	RecurDay    *int
}

// --- Validation ---

// validate checks the task-level invariants on a fully merged task.
func validate(t *Task) error {
	if t.Title == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	if len(t.Title) > MaxTitleLen {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("longer than %d characters", MaxTitleLen)}
	}
	if len(t.Description) > MaxDescriptionLen {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("longer than %d characters", MaxDescriptionLen)}
	}
	if !validPriorities[t.Priority] {
		return &ValidationError{Field: "priority", Reason: "must be low, medium or high"}
	}
	for _, tag := range t.Tags {
		if tag == "" {
			return &ValidationError{Field: "tags", Reason: "empty tag"}
		}
		if len(tag) > MaxTagLen {
			return &ValidationError{Field: "tags", Reason: fmt.Sprintf("tag longer than %d characters", MaxTagLen)}
		}
	}
	if t.DueDate != "" {
		if _, err := time.Parse(DateLayout, t.DueDate); err != nil {
			return &ValidationError{Field: "due_date", Reason: "must be YYYY-MM-DD"}
		}
	}
	if t.DueTime != "" {
		if t.DueDate == "" {
			return &ValidationError{Field: "due_time", Reason: "requires a due date"}
		}
		if _, err := time.Parse(TimeLayout, t.DueTime); err != nil {
			return &ValidationError{Field: "due_time", Reason: "must be HH:MM"}
		}
	}
	if !validRecurrences[t.Recurrence] {
		return &ValidationError{Field: "recurrence", Reason: "must be none, daily, weekly or monthly"}
	}
	switch t.Recurrence {
	case RecurWeekly:
		if t.RecurDay < 0 || t.RecurDay > 6 {
			return &ValidationError{Field: "recur_day", Reason: "weekly recurrence needs a weekday 0-6 (Sunday=0)"}
		}
	case RecurMonthly:
		if t.RecurDay < 1 || t.RecurDay > 31 {
			return &ValidationError{Field: "recur_day", Reason: "monthly recurrence needs a day-of-month 1-31"}
		}
	default:
		if t.RecurDay != 0 {
			return &ValidationError{Field: "recur_day", Reason: "only valid with weekly or monthly recurrence"}
		}
	}
	return nil
}
