// Package scheduler fires deferred and recurring triggers back into the
// thought queue. It is a single cooperative loop; dueness is idempotent via
// last_triggered_at, so a missed tick never double-fires a task.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

// ErrInvalidCron is returned when a schedule expression does not parse as a
// standard 5-field cron line.
var ErrInvalidCron = errors.New("invalid cron expression")

// triggerThoughtPriority ranks scheduled triggers above ordinary thoughts.
const triggerThoughtPriority = 10

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler owns the tick loop and the scheduled-task API.
type Scheduler struct {
	store    persistence.Store
	interval time.Duration
	metrics  *telemetry.Collector
	logger   logging.Logger
	now      func() time.Time
}

// New builds a scheduler.
func New(store persistence.Store, cfg config.SchedulerConfig, metrics *telemetry.Collector, logger logging.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		interval: cfg.CheckInterval(),
		metrics:  metrics,
		logger:   logging.OrNop(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler: loop started (interval %s)", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler: loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("Scheduler: tick failed: %v", err)
			}
		}
	}
}

// Tick scans every live scheduled task and fires the due ones.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	var live []*model.ScheduledTask
	for _, status := range []model.ScheduledTaskStatus{model.ScheduledPending, model.ScheduledActive} {
		batch, err := s.store.GetScheduledTasksByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("scan scheduled tasks (%s): %w", status, err)
		}
		live = append(live, batch...)
	}
	for _, st := range live {
		due, err := s.isDue(st, now)
		if err != nil {
			s.logger.Warn("Scheduler: task %s has an unusable schedule, cancelling: %v", st.TaskID, err)
			st.Status = model.ScheduledCancelled
			st.UpdatedAt = now
			if uerr := s.store.UpdateScheduledTask(ctx, st); uerr != nil {
				s.logger.Warn("Scheduler: cancel unusable task %s: %v", st.TaskID, uerr)
			}
			continue
		}
		if !due {
			continue
		}
		if err := s.fire(ctx, st, now); err != nil {
			s.logger.Error("Scheduler: firing task %s failed: %v", st.TaskID, err)
		}
	}
	return nil
}

// isDue applies the one-shot and cron dueness rules.
func (s *Scheduler) isDue(st *model.ScheduledTask, now time.Time) (bool, error) {
	if !st.IsRecurring() {
		return st.DeferUntil != nil && !st.DeferUntil.After(now), nil
	}
	schedule, err := cronParser.Parse(st.ScheduleCron)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrInvalidCron, st.ScheduleCron, err)
	}
	anchor := st.CreatedAt
	if st.LastTriggeredAt != nil {
		anchor = *st.LastTriggeredAt
	}
	return !schedule.Next(anchor).After(now), nil
}

// fire reactivates a deferred parent task if needed, injects exactly one
// trigger thought, and advances the scheduled task's bookkeeping.
func (s *Scheduler) fire(ctx context.Context, st *model.ScheduledTask, now time.Time) error {
	taskID, err := s.parentTaskID(ctx, st)
	if err != nil {
		return err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load parent task %s: %w", taskID, err)
	}
	if task.Status == model.TaskDeferred || task.Status == model.TaskPending {
		if err := s.store.UpdateTaskStatus(ctx, taskID, model.TaskActive); err != nil {
			return fmt.Errorf("reactivate parent task %s: %w", taskID, err)
		}
		s.logger.Info("Scheduler: reactivated task %s for scheduled trigger %s", taskID, st.TaskID)
	}

	th := &model.Thought{
		ThoughtID:    ids.NewThoughtID(),
		SourceTaskID: taskID,
		ThoughtType:  model.ThoughtTypeScheduledTrigger,
		Content:      st.TriggerPrompt,
		Status:       model.ThoughtPending,
		Priority:     triggerThoughtPriority,
		Context: model.ThoughtContext{
			ChannelID:     task.Context.ChannelID,
			OriginService: "scheduler",
			Extras: map[string]any{
				"scheduled_task_id":   st.TaskID,
				"scheduled_task_name": st.Name,
				"goal_description":    st.GoalDescription,
				"trigger_type":        "scheduled",
			},
		},
	}
	if err := s.store.AddThought(ctx, th); err != nil {
		return fmt.Errorf("create trigger thought: %w", err)
	}

	st.LastTriggeredAt = &now
	st.UpdatedAt = now
	if st.IsRecurring() {
		st.Status = model.ScheduledActive
	} else {
		st.Status = model.ScheduledComplete
	}
	if err := s.store.UpdateScheduledTask(ctx, st); err != nil {
		return fmt.Errorf("advance scheduled task %s: %w", st.TaskID, err)
	}
	s.metrics.RecordSchedulerFire(ctx, st.TaskID)
	s.logger.Info("Scheduler: fired %s (%s) into task %s", st.TaskID, st.Name, taskID)
	return nil
}

// parentTaskID resolves the task a trigger thought should attach to via the
// scheduled task's origin thought.
func (s *Scheduler) parentTaskID(ctx context.Context, st *model.ScheduledTask) (string, error) {
	if st.OriginThoughtID == "" {
		return "", fmt.Errorf("scheduled task %s has no origin thought", st.TaskID)
	}
	origin, err := s.store.GetThought(ctx, st.OriginThoughtID)
	if err != nil {
		return "", fmt.Errorf("load origin thought %s: %w", st.OriginThoughtID, err)
	}
	return origin.SourceTaskID, nil
}

// ScheduleTask validates and persists a new scheduled task. Exactly one of
// deferUntil and scheduleCron must be set.
func (s *Scheduler) ScheduleTask(ctx context.Context, name, goal, prompt, originThoughtID string,
	deferUntil *time.Time, scheduleCron string) (*model.ScheduledTask, error) {
	if scheduleCron != "" {
		if _, err := cronParser.Parse(scheduleCron); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, scheduleCron, err)
		}
	}
	now := s.now()
	st := &model.ScheduledTask{
		TaskID:          ids.NewScheduledTaskID(),
		Name:            name,
		GoalDescription: goal,
		Status:          model.ScheduledActive,
		TriggerPrompt:   prompt,
		OriginThoughtID: originThoughtID,
		DeferUntil:      deferUntil,
		ScheduleCron:    scheduleCron,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.AddScheduledTask(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("Scheduler: scheduled %s (%s)", st.TaskID, name)
	return st, nil
}

// CancelTask marks a scheduled task CANCELLED; it will never fire again.
func (s *Scheduler) CancelTask(ctx context.Context, taskID string) error {
	st, err := s.store.GetScheduledTask(ctx, taskID)
	if err != nil {
		return err
	}
	st.Status = model.ScheduledCancelled
	st.UpdatedAt = s.now()
	return s.store.UpdateScheduledTask(ctx, st)
}

// DeferTask pushes a one-shot task's fire time back and records the deferral.
func (s *Scheduler) DeferTask(ctx context.Context, taskID string, newDeferUntil time.Time, reason string) error {
	st, err := s.store.GetScheduledTask(ctx, taskID)
	if err != nil {
		return err
	}
	if st.IsRecurring() {
		return fmt.Errorf("scheduled task %s is recurring and cannot be deferred", taskID)
	}
	now := s.now()
	st.DeferUntil = &newDeferUntil
	st.DeferralCount++
	st.DeferralHistory = append(st.DeferralHistory, model.DeferralRecord{
		DeferredAt: now,
		DeferUntil: newDeferUntil,
		Reason:     reason,
	})
	st.UpdatedAt = now
	return s.store.UpdateScheduledTask(ctx, st)
}

// HandleShutdown logs the live schedule so an operator knows what the agent
// still expects to do after reactivation. State is already durable.
func (s *Scheduler) HandleShutdown(ctx context.Context) {
	for _, status := range []model.ScheduledTaskStatus{model.ScheduledPending, model.ScheduledActive} {
		tasks, err := s.store.GetScheduledTasksByStatus(ctx, status)
		if err != nil {
			s.logger.Warn("Scheduler: shutdown scan (%s): %v", status, err)
			continue
		}
		for _, st := range tasks {
			if st.DeferUntil != nil {
				s.logger.Info("Scheduler: task %s (%s) expects reactivation at %s", st.TaskID, st.Name, st.DeferUntil.Format(time.RFC3339))
			} else {
				s.logger.Info("Scheduler: recurring task %s (%s) remains scheduled (%s)", st.TaskID, st.Name, st.ScheduleCron)
			}
		}
	}
}
