package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// waAuthorized reports whether the dispatch carries wise-authority weight.
// Identity-scope writes and deletes require it.
func waAuthorized(thought model.Thought, dctx model.DispatchContext) bool {
	return dctx.WAID != "" || thought.Context.IsWACorrection
}

// MemorizeHandler stores a fact through the memory service.
type MemorizeHandler struct {
	base *Base
}

// Handle implements Handler.
func (h *MemorizeHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.MemorizeParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}

	if params.Scope == model.ScopeIdentity && !waAuthorized(thought, dctx) {
		// The action fails but the thought resolves: a follow-up explains
		// the denial instead of stalling the task.
		h.base.logger.Warn("Memorize: identity-scope write to %q denied for thought %s", params.Key, thought.ThoughtID)
		if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtFailed, result); err != nil {
			return err
		}
		content := fmt.Sprintf("Memorize of %q was denied: identity-scope memory requires wise authority approval. Defer if the change matters.", params.Key)
		if _, err := h.base.followUp(ctx, thought, model.ThoughtTypeFollowUp, content, 0); err != nil {
			return err
		}
		h.base.audit(ctx, dctx, "denied_identity_scope")
		return nil
	}

	memory, err := service[ports.MemoryService](ctx, h.base, ports.CapabilityMemory)
	if err != nil {
		h.base.audit(ctx, dctx, "no_service")
		return fmt.Errorf("memorize: %w", err)
	}

	metadata := map[string]any{"value": params.Value, "scope": string(params.Scope)}
	corrID := h.base.correlate(ctx, dctx.HandlerName, model.ActionMemorize, params)
	if err := memory.Memorize(ctx, params.Key, dctx.ChannelID, metadata, thought.Context.IsWACorrection); err != nil {
		h.base.resolveCorrelation(ctx, corrID, map[string]any{"error": err.Error()}, model.CorrelationFailed)
		h.base.audit(ctx, dctx, "memorize_failed")
		return fmt.Errorf("memorize %q: %w", params.Key, err)
	}
	h.base.resolveCorrelation(ctx, corrID, map[string]any{"key": params.Key}, model.CorrelationCompleted)

	if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtCompleted, result); err != nil {
		return err
	}
	content := fmt.Sprintf("Memorized %q in %s scope.", params.Key, params.Scope)
	if _, err := h.base.followUp(ctx, thought, model.ThoughtTypeFollowUp, content, 0); err != nil {
		return err
	}
	h.base.audit(ctx, dctx, "ok")
	return nil
}

// RecallHandler queries the memory service and surfaces the hits to the
// next round.
type RecallHandler struct {
	base *Base
}

// Handle implements Handler.
func (h *RecallHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.RecallParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}

	memory, err := service[ports.MemoryService](ctx, h.base, ports.CapabilityMemory)
	if err != nil {
		h.base.audit(ctx, dctx, "no_service")
		return fmt.Errorf("recall: %w", err)
	}

	nodes, err := memory.Recall(ctx, ports.MemoryNode{Type: ports.NodeConcept, Key: params.Query, Scope: params.Scope})
	if err != nil {
		h.base.audit(ctx, dctx, "recall_failed")
		return fmt.Errorf("recall %q: %w", params.Query, err)
	}

	if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtCompleted, result); err != nil {
		return err
	}

	content := renderRecall(params.Query, nodes)
	if _, err := h.base.followUp(ctx, thought, model.ThoughtTypeMemoryMeta, content, 0); err != nil {
		return err
	}
	h.base.audit(ctx, dctx, "ok")
	return nil
}

func renderRecall(query string, nodes []ports.MemoryNode) string {
	if len(nodes) == 0 {
		return fmt.Sprintf("Recall of %q returned nothing.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recall of %q returned %d node(s):\n", query, len(nodes))
	for _, n := range nodes {
		fmt.Fprintf(&b, "- %s (%s): %v\n", n.Key, n.Type, n.Metadata)
	}
	return b.String()
}

// ForgetHandler removes a fact from the memory service.
type ForgetHandler struct {
	base *Base
}

// Handle implements Handler.
func (h *ForgetHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.ForgetParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}

	if params.Scope == model.ScopeIdentity && !waAuthorized(thought, dctx) {
		h.base.logger.Warn("Forget: identity-scope delete of %q denied for thought %s", params.Key, thought.ThoughtID)
		if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtFailed, result); err != nil {
			return err
		}
		content := fmt.Sprintf("Forget of %q was denied: identity-scope memory requires wise authority approval.", params.Key)
		if _, err := h.base.followUp(ctx, thought, model.ThoughtTypeFollowUp, content, 0); err != nil {
			return err
		}
		h.base.audit(ctx, dctx, "denied_identity_scope")
		return nil
	}

	memory, err := service[ports.MemoryService](ctx, h.base, ports.CapabilityMemory)
	if err != nil {
		h.base.audit(ctx, dctx, "no_service")
		return fmt.Errorf("forget: %w", err)
	}

	corrID := h.base.correlate(ctx, dctx.HandlerName, model.ActionForget, params)
	if err := memory.Forget(ctx, params.Key, params.Scope, params.Reason); err != nil {
		h.base.resolveCorrelation(ctx, corrID, map[string]any{"error": err.Error()}, model.CorrelationFailed)
		h.base.audit(ctx, dctx, "forget_failed")
		return fmt.Errorf("forget %q: %w", params.Key, err)
	}
	h.base.resolveCorrelation(ctx, corrID, map[string]any{"key": params.Key}, model.CorrelationCompleted)

	if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtCompleted, result); err != nil {
		return err
	}
	content := fmt.Sprintf("Forgot %q from %s scope.", params.Key, params.Scope)
	if _, err := h.base.followUp(ctx, thought, model.ThoughtTypeFollowUp, content, 0); err != nil {
		return err
	}
	h.base.audit(ctx, dctx, "ok")
	return nil
}
