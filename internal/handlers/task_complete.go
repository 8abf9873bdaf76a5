package handlers

import (
	"context"
	"fmt"

	"github.com/emooreatx/cirisagent/internal/model"
)

// TaskCompleteHandler closes out the task. Sibling thoughts still pending
// are cancelled so the queue does not keep reasoning about finished work.
type TaskCompleteHandler struct {
	base *Base
}

// Handle implements Handler.
func (h *TaskCompleteHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.TaskCompleteParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}

	if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtCompleted, result); err != nil {
		return err
	}

	if err := h.base.store.UpdateTaskStatus(ctx, thought.SourceTaskID, model.TaskCompleted); err != nil {
		return fmt.Errorf("task_complete: mark task %s completed: %w", thought.SourceTaskID, err)
	}
	if params.Outcome != "" {
		if err := h.base.store.UpdateTaskOutcome(ctx, thought.SourceTaskID, params.Outcome); err != nil {
			h.base.logger.Warn("TaskComplete: outcome write failed for task %s: %v", thought.SourceTaskID, err)
		}
	}

	// Cancel sibling thoughts; terminal ones are untouched.
	siblings, err := h.base.store.GetThoughtsByTaskID(ctx, thought.SourceTaskID)
	if err != nil {
		h.base.logger.Warn("TaskComplete: sibling listing failed for task %s: %v", thought.SourceTaskID, err)
	} else {
		for _, sib := range siblings {
			if sib.ThoughtID == thought.ThoughtID || sib.Status.IsTerminal() {
				continue
			}
			if err := h.base.completeThought(ctx, sib.ThoughtID, model.ThoughtCompleted, nil); err != nil {
				h.base.logger.Warn("TaskComplete: could not close sibling %s: %v", sib.ThoughtID, err)
			}
		}
	}

	h.base.logger.Info("TaskComplete: task %s completed", thought.SourceTaskID)
	h.base.audit(ctx, dctx, "ok")
	return nil
}
