package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// ObserveHandler reads recent channel history. Passive observation folds the
// history into a normal follow-up; active observation produces a dedicated
// result thought at elevated priority.
type ObserveHandler struct {
	base         *Base
	contextLimit int
}

// Handle implements Handler.
func (h *ObserveHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.ObserveParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}
	channelID := params.ChannelID
	if channelID == "" {
		channelID = dctx.ChannelID
	}
	if channelID == "" {
		h.base.audit(ctx, dctx, "no_channel")
		return fmt.Errorf("observe: no channel resolved for thought %s", thought.ThoughtID)
	}

	comm, err := service[ports.CommunicationSink](ctx, h.base, ports.CapabilityCommunication)
	if err != nil {
		h.base.audit(ctx, dctx, "no_service")
		return fmt.Errorf("observe: %w", err)
	}

	limit := h.contextLimit
	if limit <= 0 {
		limit = 10
	}
	messages, err := comm.FetchMessages(ctx, channelID, limit)
	if err != nil {
		h.base.audit(ctx, dctx, "fetch_failed")
		return fmt.Errorf("observe: fetch from %s: %w", channelID, err)
	}

	if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtCompleted, result); err != nil {
		return err
	}

	thoughtType := model.ThoughtTypeObservation
	priorityDelta := 0
	if params.Active {
		thoughtType = model.ThoughtTypeActiveObservationResult
		priorityDelta = 1
	}
	if _, err := h.base.followUp(ctx, thought, thoughtType, renderObservation(channelID, messages), priorityDelta); err != nil {
		h.base.audit(ctx, dctx, "followup_failed")
		return err
	}

	h.base.audit(ctx, dctx, "ok")
	return nil
}

func renderObservation(channelID string, messages []ports.InboundMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Observed channel %s (%d messages):\n", channelID, len(messages))
	if len(messages) == 0 {
		b.WriteString("(no recent activity)\n")
		return b.String()
	}
	for _, m := range messages {
		author := m.AuthorName
		if author == "" {
			author = m.AuthorID
		}
		fmt.Fprintf(&b, "- %s: %s\n", author, m.Content)
	}
	return b.String()
}
