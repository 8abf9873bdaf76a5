package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
)

func newScheduler(t *testing.T) (*Scheduler, *persistence.MemStore) {
	t.Helper()
	store := persistence.NewMemStore()
	s := New(store, config.SchedulerConfig{CheckIntervalSeconds: 1}, nil, nil)
	return s, store
}

// seedDeferred creates a DEFERRED task with one deferred thought, the state
// the defer handler leaves behind.
func seedDeferred(t *testing.T, store *persistence.MemStore) (taskID, thoughtID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.AddTask(ctx, &model.Task{
		TaskID: "task_1", Description: "write the report", Status: model.TaskDeferred,
		Context: model.TaskContext{ChannelID: "chan-1"}}))
	require.NoError(t, store.AddThought(ctx, &model.Thought{
		ThoughtID: "th_1", SourceTaskID: "task_1", ThoughtType: model.ThoughtTypeSeed,
		Content: "draft it", Status: model.ThoughtDeferred}))
	return "task_1", "th_1"
}

func TestOneShotFiresAndReactivatesParent(t *testing.T) {
	s, store := newScheduler(t)
	ctx := context.Background()
	taskID, thoughtID := seedDeferred(t, store)

	past := time.Now().Add(-time.Minute).UTC()
	st, err := s.ScheduleTask(ctx, "reactivate report", "finish the report",
		"The deferral period has elapsed. Resume the task.", thoughtID, &past, "")
	require.NoError(t, err)

	require.NoError(t, s.Tick(ctx))

	task, _ := store.GetTask(ctx, taskID)
	assert.Equal(t, model.TaskActive, task.Status, "deferred parent reactivated")

	thoughts, _ := store.GetThoughtsByTaskID(ctx, taskID)
	var trigger *model.Thought
	for _, th := range thoughts {
		if th.ThoughtType == model.ThoughtTypeScheduledTrigger {
			trigger = th
		}
	}
	require.NotNil(t, trigger)
	assert.Equal(t, "The deferral period has elapsed. Resume the task.", trigger.Content)
	assert.Equal(t, triggerThoughtPriority, trigger.Priority)
	assert.Equal(t, st.TaskID, trigger.Context.Extras["scheduled_task_id"])
	assert.Equal(t, "scheduled", trigger.Context.Extras["trigger_type"])

	got, _ := store.GetScheduledTask(ctx, st.TaskID)
	assert.Equal(t, model.ScheduledComplete, got.Status)

	// A completed one-shot never fires again.
	require.NoError(t, s.Tick(ctx))
	thoughts, _ = store.GetThoughtsByTaskID(ctx, taskID)
	count := 0
	for _, th := range thoughts {
		if th.ThoughtType == model.ThoughtTypeScheduledTrigger {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestOneShotNotDueYet(t *testing.T) {
	s, store := newScheduler(t)
	ctx := context.Background()
	_, thoughtID := seedDeferred(t, store)

	future := time.Now().Add(time.Hour).UTC()
	st, err := s.ScheduleTask(ctx, "later", "", "wait for it", thoughtID, &future, "")
	require.NoError(t, err)

	require.NoError(t, s.Tick(ctx))
	got, _ := store.GetScheduledTask(ctx, st.TaskID)
	assert.Equal(t, model.ScheduledActive, got.Status)

	thoughts, _ := store.GetThoughtsByTaskID(ctx, "task_1")
	assert.Len(t, thoughts, 1, "no trigger thought before the defer time")
}

func TestCronFiresOncePerDuenessWindow(t *testing.T) {
	s, store := newScheduler(t)
	ctx := context.Background()
	taskID, thoughtID := seedDeferred(t, store)
	require.NoError(t, store.UpdateTaskStatus(ctx, taskID, model.TaskActive))

	base := time.Date(2026, 8, 24, 12, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return base }

	st, err := s.ScheduleTask(ctx, "standup", "daily check-in", "Post the standup summary.", thoughtID, nil, "*/5 * * * *")
	require.NoError(t, err)

	// First dueness window after creation.
	s.now = func() time.Time { return base.Add(5 * time.Minute) }
	require.NoError(t, s.Tick(ctx))
	got, _ := store.GetScheduledTask(ctx, st.TaskID)
	require.NotNil(t, got.LastTriggeredAt)
	assert.Equal(t, model.ScheduledActive, got.Status, "cron tasks stay active")

	// Same window: idempotent.
	require.NoError(t, s.Tick(ctx))
	triggers := countTriggers(t, store, taskID)
	assert.Equal(t, 1, triggers)

	// Next window fires again.
	s.now = func() time.Time { return base.Add(11 * time.Minute) }
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 2, countTriggers(t, store, taskID))
}

func countTriggers(t *testing.T, store *persistence.MemStore, taskID string) int {
	t.Helper()
	thoughts, err := store.GetThoughtsByTaskID(context.Background(), taskID)
	require.NoError(t, err)
	n := 0
	for _, th := range thoughts {
		if th.ThoughtType == model.ThoughtTypeScheduledTrigger {
			n++
		}
	}
	return n
}

func TestScheduleTaskRejectsInvalidCron(t *testing.T) {
	s, _ := newScheduler(t)
	_, err := s.ScheduleTask(context.Background(), "bad", "", "x", "th_1", nil, "not a cron line")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCron))
}

func TestScheduleTaskRequiresExactlyOneTimeField(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	_, err := s.ScheduleTask(ctx, "neither", "", "x", "th_1", nil, "")
	require.Error(t, err)

	now := time.Now().UTC()
	_, err = s.ScheduleTask(ctx, "both", "", "x", "th_1", &now, "*/5 * * * *")
	require.Error(t, err)
}

func TestDeferTaskRecordsHistory(t *testing.T) {
	s, store := newScheduler(t)
	ctx := context.Background()
	_, thoughtID := seedDeferred(t, store)

	future := time.Now().Add(time.Hour).UTC()
	st, err := s.ScheduleTask(ctx, "later", "", "wait", thoughtID, &future, "")
	require.NoError(t, err)

	later := future.Add(2 * time.Hour)
	require.NoError(t, s.DeferTask(ctx, st.TaskID, later, "still blocked"))

	got, _ := store.GetScheduledTask(ctx, st.TaskID)
	assert.Equal(t, 1, got.DeferralCount)
	require.Len(t, got.DeferralHistory, 1)
	assert.Equal(t, "still blocked", got.DeferralHistory[0].Reason)
	assert.WithinDuration(t, later, *got.DeferUntil, time.Second)
}

func TestCancelTaskNeverFires(t *testing.T) {
	s, store := newScheduler(t)
	ctx := context.Background()
	taskID, thoughtID := seedDeferred(t, store)

	past := time.Now().Add(-time.Minute).UTC()
	st, err := s.ScheduleTask(ctx, "doomed", "", "x", thoughtID, &past, "")
	require.NoError(t, err)
	require.NoError(t, s.CancelTask(ctx, st.TaskID))

	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 0, countTriggers(t, store, taskID))
}

func TestTickCancelsUnusableSchedule(t *testing.T) {
	s, store := newScheduler(t)
	ctx := context.Background()
	_, thoughtID := seedDeferred(t, store)

	// Bypass ScheduleTask validation to simulate a corrupted row.
	st := &model.ScheduledTask{
		TaskID: "sched_bad", Name: "bad", Status: model.ScheduledActive,
		TriggerPrompt: "x", OriginThoughtID: thoughtID, ScheduleCron: "61 * * * *",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.AddScheduledTask(ctx, st))

	require.NoError(t, s.Tick(ctx))
	got, _ := store.GetScheduledTask(ctx, "sched_bad")
	assert.Equal(t, model.ScheduledCancelled, got.Status)
}
