package model

import (
	"fmt"
	"time"
)

// ScheduledTaskStatus tracks the lifecycle of a future-dated trigger.
type ScheduledTaskStatus string

const (
	ScheduledPending   ScheduledTaskStatus = "pending"
	ScheduledActive    ScheduledTaskStatus = "active"
	ScheduledComplete  ScheduledTaskStatus = "complete"
	ScheduledCancelled ScheduledTaskStatus = "cancelled"
)

// DeferralRecord captures one deferral of a scheduled task.
type DeferralRecord struct {
	DeferredAt time.Time `json:"deferred_at"`
	DeferUntil time.Time `json:"defer_until"`
	Reason     string    `json:"reason,omitempty"`
}

// ScheduledTask is a persisted intent to trigger a thought in the future.
// Exactly one of DeferUntil or ScheduleCron is set at creation: DeferUntil
// alone makes a one-shot; ScheduleCron makes a recurring task that stays
// ACTIVE after each fire.
type ScheduledTask struct {
	TaskID          string              `json:"task_id"`
	Name            string              `json:"name"`
	GoalDescription string              `json:"goal_description,omitempty"`
	Status          ScheduledTaskStatus `json:"status"`
	TriggerPrompt   string              `json:"trigger_prompt"`
	OriginThoughtID string              `json:"origin_thought_id,omitempty"`
	DeferUntil      *time.Time          `json:"defer_until,omitempty"`
	ScheduleCron    string              `json:"schedule_cron,omitempty"`
	LastTriggeredAt *time.Time          `json:"last_triggered_at,omitempty"`
	DeferralCount   int                 `json:"deferral_count"`
	DeferralHistory []DeferralRecord    `json:"deferral_history,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// IsRecurring reports whether the task fires on a cron cadence.
func (s *ScheduledTask) IsRecurring() bool {
	return s.ScheduleCron != ""
}

// Validate enforces the one-shot xor recurring invariant.
func (s *ScheduledTask) Validate() error {
	if s.TaskID == "" {
		return fmt.Errorf("scheduled task: task_id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("scheduled task: name is required")
	}
	hasDefer := s.DeferUntil != nil
	hasCron := s.ScheduleCron != ""
	if hasDefer == hasCron {
		return fmt.Errorf("scheduled task %s: exactly one of defer_until or schedule_cron must be set", s.TaskID)
	}
	return nil
}
