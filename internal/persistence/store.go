// Package persistence defines the durable storage port for tasks, thoughts,
// correlations, scheduled tasks, and deferral reports, together with the
// SQLite and in-memory implementations.
package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/emooreatx/cirisagent/internal/model"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("not found")

// ErrThoughtTerminal is returned when a status update targets a thought that
// already reached a terminal status. Terminal thoughts never change again;
// callers treat this as a no-op signal.
var ErrThoughtTerminal = errors.New("thought already terminal")

// ThoughtUpdate holds optional fields for an UpdateThoughtStatus call.
type ThoughtUpdate struct {
	FinalAction    *model.ActionSelectionResult
	RoundProcessed *int
	PonderCount    *int
	PonderNotes    []string
}

// ThoughtUpdateOption customises an UpdateThoughtStatus call.
type ThoughtUpdateOption func(*ThoughtUpdate)

// WithFinalAction records the action that caused the status transition.
func WithFinalAction(result *model.ActionSelectionResult) ThoughtUpdateOption {
	return func(u *ThoughtUpdate) { u.FinalAction = result }
}

// WithRoundProcessed records the round a thought was picked up in.
func WithRoundProcessed(round int) ThoughtUpdateOption {
	return func(u *ThoughtUpdate) { u.RoundProcessed = &round }
}

// WithPonderCount overwrites the thought's ponder count.
func WithPonderCount(count int) ThoughtUpdateOption {
	return func(u *ThoughtUpdate) { u.PonderCount = &count }
}

// WithPonderNotes appends notes accumulated by a PONDER pass.
func WithPonderNotes(notes []string) ThoughtUpdateOption {
	return func(u *ThoughtUpdate) { u.PonderNotes = notes }
}

// ApplyThoughtUpdateOptions collects all options into a ThoughtUpdate.
func ApplyThoughtUpdateOptions(opts []ThoughtUpdateOption) ThoughtUpdate {
	var u ThoughtUpdate
	for _, fn := range opts {
		fn(&u)
	}
	return u
}

// DeferralReportContext resolves an outbound deferral-report message back to
// the work it reported on.
type DeferralReportContext struct {
	MessageID string          `json:"message_id"`
	TaskID    string          `json:"task_id"`
	ThoughtID string          `json:"thought_id"`
	Package   json.RawMessage `json:"package,omitempty"`
}

// Store is the persistence port every other component reads and writes
// through. Implementations must preserve the ordering rules documented on
// each operation. Any operation may fail transiently; callers treat failures
// as retryable.
type Store interface {
	// Tasks.

	AddTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	TaskExists(ctx context.Context, taskID string) (bool, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error
	// UpdateTaskOutcome records the task outcome alongside completion.
	UpdateTaskOutcome(ctx context.Context, taskID string, outcome string) error
	GetTasksByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error)
	// GetPendingTasksForActivation returns PENDING tasks ordered by priority
	// desc, then created_at asc.
	GetPendingTasksForActivation(ctx context.Context, limit int) ([]*model.Task, error)
	GetRecentCompletedTasks(ctx context.Context, limit int) ([]*model.Task, error)
	// GetTopTasks returns the highest-priority non-terminal tasks.
	GetTopTasks(ctx context.Context, limit int) ([]*model.Task, error)
	// GetTasksNeedingSeedThought returns ACTIVE tasks with zero non-terminal
	// thoughts.
	GetTasksNeedingSeedThought(ctx context.Context, limit int) ([]*model.Task, error)
	// CountTasks counts tasks with the given status; an empty status counts
	// all tasks.
	CountTasks(ctx context.Context, status model.TaskStatus) (int, error)
	// DeleteTasksByIDs cascades to thoughts and per-thought side tables.
	DeleteTasksByIDs(ctx context.Context, ids []string) error

	// Thoughts.

	AddThought(ctx context.Context, th *model.Thought) error
	GetThought(ctx context.Context, thoughtID string) (*model.Thought, error)
	GetThoughtsByTaskID(ctx context.Context, taskID string) ([]*model.Thought, error)
	GetThoughtsByStatus(ctx context.Context, status model.ThoughtStatus) ([]*model.Thought, error)
	// GetPendingThoughtsForActiveTasks returns PENDING thoughts whose source
	// task is ACTIVE, ordered by task priority desc, thought priority desc,
	// created_at asc. Thoughts of non-ACTIVE tasks are never returned.
	GetPendingThoughtsForActiveTasks(ctx context.Context, limit int) ([]*model.Thought, error)
	// UpdateThoughtStatus transitions a thought; terminal thoughts return
	// ErrThoughtTerminal and are left untouched.
	UpdateThoughtStatus(ctx context.Context, thoughtID string, status model.ThoughtStatus, opts ...ThoughtUpdateOption) error
	// CountActiveThoughts counts PENDING plus PROCESSING thoughts.
	CountActiveThoughts(ctx context.Context) (int, error)
	DeleteThoughtsByIDs(ctx context.Context, ids []string) error

	// Correlations.

	AddCorrelation(ctx context.Context, c *model.Correlation) error
	UpdateCorrelation(ctx context.Context, correlationID string, response json.RawMessage, status model.CorrelationStatus) error
	GetCorrelation(ctx context.Context, correlationID string) (*model.Correlation, error)

	// Deferral reports.

	SaveDeferralReport(ctx context.Context, report DeferralReportContext) error
	GetDeferralReportContext(ctx context.Context, messageID string) (*DeferralReportContext, error)

	// Scheduled tasks.

	AddScheduledTask(ctx context.Context, s *model.ScheduledTask) error
	GetScheduledTask(ctx context.Context, taskID string) (*model.ScheduledTask, error)
	GetScheduledTasksByStatus(ctx context.Context, status model.ScheduledTaskStatus) ([]*model.ScheduledTask, error)
	UpdateScheduledTask(ctx context.Context, s *model.ScheduledTask) error

	// Adaptive filter triggers.

	AddFilterTrigger(ctx context.Context, trigger string, disposition string) error
	ListFilterTriggers(ctx context.Context) (map[string]string, error)

	// MarkStaleProcessing fails thoughts left in PROCESSING by a previous
	// run. Returns the number of thoughts touched.
	MarkStaleProcessing(ctx context.Context, reason string) (int, error)
}
