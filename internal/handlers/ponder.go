package handlers

import (
	"context"
	"fmt"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
)

// PonderHandler re-queues the thought with its open questions. Once the
// ponder budget is spent it synthesizes a DEFER and delegates to the defer
// path, so the deferral report and scheduling semantics stay in one place.
type PonderHandler struct {
	base            *Base
	deferHandler    *DeferHandler
	maxPonderRounds int
}

// Handle implements Handler.
func (h *PonderHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.PonderParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}

	newCount := thought.PonderCount + 1
	if newCount >= h.maxPonderRounds {
		h.base.logger.Warn("Ponder: thought %s reached maximum ponder rounds (%d), deferring", thought.ThoughtID, h.maxPonderRounds)
		deferResult := model.MustActionResult(model.ActionDefer, model.DeferParams{
			Reason: fmt.Sprintf("maximum ponder rounds (%d) reached; open questions: %v", h.maxPonderRounds, params.Questions),
		}, "ponder escalation")
		if err := h.deferHandler.Handle(ctx, thought, deferResult, dctx); err != nil {
			return err
		}
		h.base.audit(ctx, dctx, "escalated_to_defer")
		return nil
	}

	// Same thought goes back to the queue carrying the questions; the next
	// round's selection prompt includes them.
	err = h.base.store.UpdateThoughtStatus(ctx, thought.ThoughtID, model.ThoughtPending,
		persistence.WithPonderCount(newCount),
		persistence.WithPonderNotes(params.Questions))
	if err != nil {
		return fmt.Errorf("ponder: requeue thought %s: %w", thought.ThoughtID, err)
	}
	h.base.logger.Info("Ponder: thought %s requeued (round %d of %d)", thought.ThoughtID, newCount, h.maxPonderRounds)
	h.base.audit(ctx, dctx, "requeued")
	return nil
}
