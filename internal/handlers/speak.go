package handlers

import (
	"context"
	"fmt"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// SpeakHandler delivers content to a channel and spawns a follow-up thought
// so the task can decide whether speaking finished the job.
type SpeakHandler struct {
	base *Base
}

// Handle implements Handler.
func (h *SpeakHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.SpeakParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}
	if params.Content == "" {
		h.base.audit(ctx, dctx, "empty_content")
		return fmt.Errorf("speak: empty content for thought %s", thought.ThoughtID)
	}
	channelID := params.ChannelID
	if channelID == "" {
		channelID = dctx.ChannelID
	}
	if channelID == "" {
		h.base.audit(ctx, dctx, "no_channel")
		return fmt.Errorf("speak: no channel resolved for thought %s", thought.ThoughtID)
	}

	comm, err := service[ports.CommunicationSink](ctx, h.base, ports.CapabilityCommunication)
	if err != nil {
		h.base.audit(ctx, dctx, "no_service")
		return fmt.Errorf("speak: %w", err)
	}

	corrID := h.base.correlate(ctx, dctx.HandlerName, model.ActionSpeak, params)
	msgID, err := comm.SendMessage(ctx, channelID, params.Content, map[string]any{
		"thought_id": thought.ThoughtID,
		"task_id":    thought.SourceTaskID,
	})
	if err != nil {
		h.base.resolveCorrelation(ctx, corrID, map[string]any{"error": err.Error()}, model.CorrelationFailed)
		h.base.audit(ctx, dctx, "send_failed")
		return fmt.Errorf("speak: send to %s: %w", channelID, err)
	}
	h.base.resolveCorrelation(ctx, corrID, map[string]any{"message_id": msgID}, model.CorrelationCompleted)

	if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtCompleted, result); err != nil {
		return err
	}

	content := fmt.Sprintf(
		"Spoke in channel %s: %q. If this completed the task, select task_complete; otherwise continue working.",
		channelID, params.Content)
	if _, err := h.base.followUp(ctx, thought, model.ThoughtTypeFollowUp, content, 0); err != nil {
		h.base.audit(ctx, dctx, "followup_failed")
		return err
	}

	h.base.audit(ctx, dctx, "ok")
	return nil
}
