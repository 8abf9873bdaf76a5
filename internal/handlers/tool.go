package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// ToolHandler runs a named tool and feeds its output back as a follow-up.
type ToolHandler struct {
	base *Base
}

// Handle implements Handler.
func (h *ToolHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.ToolParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}
	if params.ToolName == "" {
		h.base.audit(ctx, dctx, "invalid_params")
		return fmt.Errorf("tool: empty tool_name for thought %s", thought.ThoughtID)
	}

	tools, err := service[ports.ToolSink](ctx, h.base, ports.CapabilityTool)
	if err != nil {
		h.base.audit(ctx, dctx, "no_service")
		return fmt.Errorf("tool: %w", err)
	}

	corrID := h.base.correlate(ctx, dctx.HandlerName, model.ActionTool, params)
	output, err := tools.RunTool(ctx, params.ToolName, params.Arguments)
	if err != nil {
		h.base.resolveCorrelation(ctx, corrID, map[string]any{"error": err.Error()}, model.CorrelationFailed)
		// Tool failure is informative, not fatal: the next round sees the
		// error and can try another approach.
		if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtCompleted, result); err != nil {
			return err
		}
		content := fmt.Sprintf("Tool %s failed: %v. Consider a different approach or defer.", params.ToolName, err)
		if _, fuErr := h.base.followUp(ctx, thought, model.ThoughtTypeFollowUp, content, 0); fuErr != nil {
			return fuErr
		}
		h.base.audit(ctx, dctx, "tool_failed")
		return nil
	}
	h.base.resolveCorrelation(ctx, corrID, output, model.CorrelationCompleted)

	if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtCompleted, result); err != nil {
		return err
	}

	rendered, jsonErr := json.Marshal(output)
	if jsonErr != nil {
		rendered = []byte(fmt.Sprintf("%v", output))
	}
	content := fmt.Sprintf("Tool %s returned: %s", params.ToolName, rendered)
	if _, err := h.base.followUp(ctx, thought, model.ThoughtTypeFollowUp, content, 0); err != nil {
		return err
	}
	h.base.audit(ctx, dctx, "ok")
	return nil
}
