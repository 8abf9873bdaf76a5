package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/ports"
	"github.com/emooreatx/cirisagent/internal/registry"
)

// DeferHandler hands the thought to the wise authority: the thought and its
// task go DEFERRED, a deferral report goes to the deferral channel, and a
// defer_until timestamp becomes a scheduled reactivation.
type DeferHandler struct {
	base              *Base
	deferralChannelID string
}

// deferralPackage is what a wise authority sees when reviewing a deferral.
type deferralPackage struct {
	TaskID          string         `json:"task_id"`
	ThoughtID       string         `json:"thought_id"`
	TaskDescription string         `json:"task_description,omitempty"`
	ThoughtContent  string         `json:"thought_content"`
	Reason          string         `json:"reason"`
	Context         map[string]any `json:"context,omitempty"`
	DeferUntil      *time.Time     `json:"defer_until,omitempty"`
}

// Handle implements Handler.
func (h *DeferHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.DeferParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}

	if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtDeferred, result); err != nil {
		return err
	}
	if err := h.base.store.UpdateTaskStatus(ctx, thought.SourceTaskID, model.TaskDeferred); err != nil {
		return fmt.Errorf("defer: mark task %s deferred: %w", thought.SourceTaskID, err)
	}

	pkg := deferralPackage{
		TaskID:         thought.SourceTaskID,
		ThoughtID:      thought.ThoughtID,
		ThoughtContent: thought.Content,
		Reason:         params.Reason,
		Context:        params.Context,
		DeferUntil:     params.DeferUntil,
	}
	if task, err := h.base.store.GetTask(ctx, thought.SourceTaskID); err == nil {
		pkg.TaskDescription = task.Description
	}
	h.sendReport(ctx, pkg)
	h.notifyOrigin(ctx, dctx, params.Reason)

	if params.DeferUntil != nil {
		if err := h.scheduleReactivation(ctx, thought, params); err != nil {
			h.base.logger.Error("Defer: could not schedule reactivation for task %s: %v", thought.SourceTaskID, err)
		}
	}

	h.base.audit(ctx, dctx, "ok")
	return nil
}

// notifyOrigin tells the requesting channel the matter was handed off.
// Best-effort, like the report itself.
func (h *DeferHandler) notifyOrigin(ctx context.Context, dctx model.DispatchContext, reason string) {
	if dctx.ChannelID == "" || dctx.ChannelID == h.deferralChannelID {
		return
	}
	comm, ok := registry.Get[ports.CommunicationSink](h.base.registry, ports.CapabilityCommunication)
	if !ok {
		return
	}
	if _, err := comm.SendMessage(ctx, dctx.ChannelID, fmt.Sprintf("Action Deferred: %s", reason), nil); err != nil {
		h.base.logger.Warn("Defer: origin notice send failed: %v", err)
	}
}

// sendReport is best-effort: a deferral stands even when no wise authority
// channel is reachable.
func (h *DeferHandler) sendReport(ctx context.Context, pkg deferralPackage) {
	if h.deferralChannelID == "" {
		h.base.logger.Debug("Defer: no deferral channel configured, skipping report")
		return
	}
	comm, ok := registry.Get[ports.CommunicationSink](h.base.registry, ports.CapabilityCommunication)
	if !ok {
		h.base.logger.Warn("Defer: no communication sink for deferral report")
		return
	}

	raw, _ := json.Marshal(pkg)
	content := fmt.Sprintf("[DEFERRAL] task %s / thought %s\nReason: %s\nThought: %s\nPackage: %s\nReply to this message to correct the agent.",
		pkg.TaskID, pkg.ThoughtID, pkg.Reason, excerpt(pkg.ThoughtContent, 200), raw)
	msgID, err := comm.SendMessage(ctx, h.deferralChannelID, content, map[string]any{"kind": "deferral_report"})
	if err != nil {
		h.base.logger.Warn("Defer: deferral report send failed: %v", err)
		return
	}
	report := persistence.DeferralReportContext{
		MessageID: msgID,
		TaskID:    pkg.TaskID,
		ThoughtID: pkg.ThoughtID,
		Package:   raw,
	}
	if err := h.base.store.SaveDeferralReport(ctx, report); err != nil {
		h.base.logger.Warn("Defer: could not persist deferral report mapping: %v", err)
	}
}

// excerpt trims s for inclusion in a report message.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// scheduleReactivation creates a one-shot scheduled task that reactivates
// the deferred task at defer_until.
func (h *DeferHandler) scheduleReactivation(ctx context.Context, thought model.Thought, params *model.DeferParams) error {
	now := time.Now().UTC()
	st := &model.ScheduledTask{
		TaskID:          ids.NewScheduledTaskID(),
		Name:            fmt.Sprintf("reactivate %s", thought.SourceTaskID),
		GoalDescription: fmt.Sprintf("Reactivate deferred task %s", thought.SourceTaskID),
		Status:          model.ScheduledPending,
		TriggerPrompt:   fmt.Sprintf("The deferral period for task %s has elapsed. Reason for deferral: %s. Resume the task.", thought.SourceTaskID, params.Reason),
		OriginThoughtID: thought.ThoughtID,
		DeferUntil:      params.DeferUntil,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.Validate(); err != nil {
		return err
	}
	return h.base.store.AddScheduledTask(ctx, st)
}
