package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emooreatx/cirisagent/internal/model"
)

func mustAddTask(t *testing.T, s Store, task *model.Task) {
	t.Helper()
	if err := s.AddTask(context.Background(), task); err != nil {
		t.Fatalf("AddTask(%s): %v", task.TaskID, err)
	}
}

func mustAddThought(t *testing.T, s Store, th *model.Thought) {
	t.Helper()
	if err := s.AddThought(context.Background(), th); err != nil {
		t.Fatalf("AddThought(%s): %v", th.ThoughtID, err)
	}
}

func TestPendingThoughtsOrderingAndActiveFilter(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mustAddTask(t, s, &model.Task{TaskID: "t-high", Priority: 10, Status: model.TaskActive, CreatedAt: base})
	mustAddTask(t, s, &model.Task{TaskID: "t-low", Priority: 1, Status: model.TaskActive, CreatedAt: base})
	mustAddTask(t, s, &model.Task{TaskID: "t-paused", Priority: 99, Status: model.TaskPaused, CreatedAt: base})

	mustAddThought(t, s, &model.Thought{ThoughtID: "th-low-old", SourceTaskID: "t-low", Status: model.ThoughtPending, CreatedAt: base})
	mustAddThought(t, s, &model.Thought{ThoughtID: "th-low-new", SourceTaskID: "t-low", Status: model.ThoughtPending, CreatedAt: base.Add(time.Minute)})
	mustAddThought(t, s, &model.Thought{ThoughtID: "th-high", SourceTaskID: "t-high", Status: model.ThoughtPending, CreatedAt: base.Add(2 * time.Minute)})
	// Belongs to a non-ACTIVE task and must never surface.
	mustAddThought(t, s, &model.Thought{ThoughtID: "th-paused", SourceTaskID: "t-paused", Status: model.ThoughtPending, CreatedAt: base})
	// Same task, higher thought priority wins over age.
	mustAddThought(t, s, &model.Thought{ThoughtID: "th-low-priority", SourceTaskID: "t-low", Priority: 5, Status: model.ThoughtPending, CreatedAt: base.Add(3 * time.Minute)})

	got, err := s.GetPendingThoughtsForActiveTasks(ctx, 0)
	if err != nil {
		t.Fatalf("GetPendingThoughtsForActiveTasks: %v", err)
	}
	want := []string{"th-high", "th-low-priority", "th-low-old", "th-low-new"}
	if len(got) != len(want) {
		t.Fatalf("got %d thoughts, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ThoughtID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ThoughtID, id)
		}
	}

	limited, err := s.GetPendingThoughtsForActiveTasks(ctx, 2)
	if err != nil {
		t.Fatalf("limited query: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit ignored: got %d thoughts", len(limited))
	}
}

func TestPendingTaskActivationOrdering(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mustAddTask(t, s, &model.Task{TaskID: "old-low", Priority: 1, Status: model.TaskPending, CreatedAt: base})
	mustAddTask(t, s, &model.Task{TaskID: "new-high", Priority: 9, Status: model.TaskPending, CreatedAt: base.Add(time.Hour)})
	mustAddTask(t, s, &model.Task{TaskID: "old-high", Priority: 9, Status: model.TaskPending, CreatedAt: base})

	got, err := s.GetPendingTasksForActivation(ctx, 2)
	if err != nil {
		t.Fatalf("GetPendingTasksForActivation: %v", err)
	}
	if len(got) != 2 || got[0].TaskID != "old-high" || got[1].TaskID != "new-high" {
		ids := make([]string, len(got))
		for i, task := range got {
			ids[i] = task.TaskID
		}
		t.Fatalf("ordering wrong: got %v, want [old-high new-high]", ids)
	}
}

func TestTasksNeedingSeedThought(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	mustAddTask(t, s, &model.Task{TaskID: "bare", Status: model.TaskActive})
	mustAddTask(t, s, &model.Task{TaskID: "seeded", Status: model.TaskActive})
	mustAddTask(t, s, &model.Task{TaskID: "done-thoughts", Status: model.TaskActive})
	mustAddThought(t, s, &model.Thought{ThoughtID: "live", SourceTaskID: "seeded", Status: model.ThoughtPending})
	mustAddThought(t, s, &model.Thought{ThoughtID: "finished", SourceTaskID: "done-thoughts", Status: model.ThoughtCompleted})

	got, err := s.GetTasksNeedingSeedThought(ctx, 10)
	if err != nil {
		t.Fatalf("GetTasksNeedingSeedThought: %v", err)
	}
	found := map[string]bool{}
	for _, task := range got {
		found[task.TaskID] = true
	}
	if !found["bare"] || !found["done-thoughts"] || found["seeded"] {
		t.Fatalf("wrong seed set: %v", found)
	}
}

func TestUpdateThoughtStatusTerminalGuard(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	mustAddTask(t, s, &model.Task{TaskID: "t1", Status: model.TaskActive})
	mustAddThought(t, s, &model.Thought{ThoughtID: "th1", SourceTaskID: "t1", Status: model.ThoughtPending})

	final := model.MustActionResult(model.ActionSpeak, model.SpeakParams{Content: "hi"}, "done")
	if err := s.UpdateThoughtStatus(ctx, "th1", model.ThoughtCompleted, WithFinalAction(final)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err := s.UpdateThoughtStatus(ctx, "th1", model.ThoughtFailed)
	if !errors.Is(err, ErrThoughtTerminal) {
		t.Fatalf("expected ErrThoughtTerminal, got %v", err)
	}

	got, err := s.GetThought(ctx, "th1")
	if err != nil {
		t.Fatalf("GetThought: %v", err)
	}
	if got.Status != model.ThoughtCompleted {
		t.Errorf("terminal status changed to %s", got.Status)
	}
	decoded, err := got.DecodeFinalAction()
	if err != nil || decoded == nil || decoded.SelectedAction != model.ActionSpeak {
		t.Errorf("final action not preserved: %v, %v", decoded, err)
	}
}

func TestDeleteTasksCascades(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	mustAddTask(t, s, &model.Task{TaskID: "t1", Status: model.TaskActive})
	mustAddThought(t, s, &model.Thought{ThoughtID: "th1", SourceTaskID: "t1", Status: model.ThoughtPending})
	if err := s.SaveDeferralReport(ctx, DeferralReportContext{MessageID: "m1", TaskID: "t1", ThoughtID: "th1"}); err != nil {
		t.Fatalf("SaveDeferralReport: %v", err)
	}

	if err := s.DeleteTasksByIDs(ctx, []string{"t1"}); err != nil {
		t.Fatalf("DeleteTasksByIDs: %v", err)
	}
	if _, err := s.GetThought(ctx, "th1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("thought survived cascade: %v", err)
	}
	if _, err := s.GetDeferralReportContext(ctx, "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deferral report survived cascade: %v", err)
	}
}

func TestScheduledTaskValidation(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	when := time.Now().UTC().Add(time.Hour)

	cases := []struct {
		name    string
		task    model.ScheduledTask
		wantErr bool
	}{
		{"one-shot", model.ScheduledTask{TaskID: "s1", Name: "a", DeferUntil: &when}, false},
		{"recurring", model.ScheduledTask{TaskID: "s2", Name: "b", ScheduleCron: "0 9 * * *"}, false},
		{"both set", model.ScheduledTask{TaskID: "s3", Name: "c", DeferUntil: &when, ScheduleCron: "* * * * *"}, true},
		{"neither set", model.ScheduledTask{TaskID: "s4", Name: "d"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := tc.task
			err := s.AddScheduledTask(ctx, &st)
			if (err != nil) != tc.wantErr {
				t.Fatalf("AddScheduledTask: err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestMarkStaleProcessing(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	mustAddTask(t, s, &model.Task{TaskID: "t1", Status: model.TaskActive})
	mustAddThought(t, s, &model.Thought{ThoughtID: "stuck", SourceTaskID: "t1", Status: model.ThoughtProcessing})
	mustAddThought(t, s, &model.Thought{ThoughtID: "fine", SourceTaskID: "t1", Status: model.ThoughtPending})

	n, err := s.MarkStaleProcessing(ctx, "orphaned by restart")
	if err != nil {
		t.Fatalf("MarkStaleProcessing: %v", err)
	}
	if n != 1 {
		t.Fatalf("touched %d thoughts, want 1", n)
	}
	stuck, _ := s.GetThought(ctx, "stuck")
	if stuck.Status != model.ThoughtFailed {
		t.Errorf("stuck thought status = %s, want failed", stuck.Status)
	}
	fine, _ := s.GetThought(ctx, "fine")
	if fine.Status != model.ThoughtPending {
		t.Errorf("pending thought was touched: %s", fine.Status)
	}
}

func TestCountActiveThoughts(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	mustAddTask(t, s, &model.Task{TaskID: "t1", Status: model.TaskActive})
	statuses := []model.ThoughtStatus{
		model.ThoughtPending, model.ThoughtProcessing, model.ThoughtCompleted, model.ThoughtDeferred,
	}
	for i, status := range statuses {
		mustAddThought(t, s, &model.Thought{
			ThoughtID:    string(rune('a' + i)),
			SourceTaskID: "t1",
			Status:       status,
		})
	}
	n, err := s.CountActiveThoughts(ctx)
	if err != nil {
		t.Fatalf("CountActiveThoughts: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2 (pending+processing)", n)
	}
}
