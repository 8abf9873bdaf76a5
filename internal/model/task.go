// Package model defines the task/thought data model the runtime persists and
// the action/DMA result types the pipeline exchanges.
package model

import (
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskPaused    TaskStatus = "paused"
	TaskFailed    TaskStatus = "failed"
	TaskDeferred  TaskStatus = "deferred"
	TaskRejected  TaskStatus = "rejected"
)

// IsTerminal reports whether the status is a final state. A deferred task is
// not terminal: the scheduler or a WA correction may reactivate it.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskRejected:
		return true
	default:
		return false
	}
}

// TaskContext carries channel/author/origin facts a task was created with.
// Extras keeps forward-compatible fields without reaching for raw maps
// elsewhere in the runtime.
type TaskContext struct {
	ChannelID     string         `json:"channel_id,omitempty"`
	AuthorID      string         `json:"author_id,omitempty"`
	AuthorName    string         `json:"author_name,omitempty"`
	OriginService string         `json:"origin_service,omitempty"`
	Extras        map[string]any `json:"extras,omitempty"`
}

// Task is a unit of intent with a lifecycle.
type Task struct {
	TaskID       string      `json:"task_id"`
	Description  string      `json:"description"`
	Priority     int         `json:"priority"`
	ParentTaskID string      `json:"parent_task_id,omitempty"`
	Status       TaskStatus  `json:"status"`
	Context      TaskContext `json:"context"`
	Outcome      string      `json:"outcome,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// CanTransitionTo reports whether a status change is legal. Transitions are
// monotonic within a run, except PAUSED which may return to ACTIVE and
// DEFERRED which the scheduler may reactivate.
func (t *Task) CanTransitionTo(next TaskStatus) bool {
	if t.Status == next {
		return true
	}
	switch t.Status {
	case TaskPending:
		return next == TaskActive || next == TaskRejected || next == TaskFailed
	case TaskActive:
		return next != TaskPending
	case TaskPaused:
		return next == TaskActive
	case TaskDeferred:
		return next == TaskActive
	default:
		return false
	}
}
