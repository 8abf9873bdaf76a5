package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
	"github.com/emooreatx/cirisagent/internal/registry"
)

// RejectHandler terminates the task with a refusal and optionally installs
// an adaptive content-filter trigger derived from the offending input.
type RejectHandler struct {
	base *Base
}

// Handle implements Handler.
func (h *RejectHandler) Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	params, err := result.RejectParams()
	if err != nil {
		h.base.audit(ctx, dctx, "invalid_params")
		return err
	}

	if err := h.base.completeThought(ctx, thought.ThoughtID, model.ThoughtFailed, result); err != nil {
		return err
	}
	if err := h.base.store.UpdateTaskStatus(ctx, thought.SourceTaskID, model.TaskRejected); err != nil {
		return fmt.Errorf("reject: mark task %s rejected: %w", thought.SourceTaskID, err)
	}
	if err := h.base.store.UpdateTaskOutcome(ctx, thought.SourceTaskID, "rejected: "+params.Reason); err != nil {
		h.base.logger.Warn("Reject: outcome write failed for task %s: %v", thought.SourceTaskID, err)
	}

	if params.CreateFilter {
		pattern := params.FilterPattern
		if pattern == "" {
			pattern = deriveFilterPattern(thought.Content)
		}
		if pattern == "" {
			h.base.logger.Warn("Reject: create_filter requested but no pattern could be derived for thought %s", thought.ThoughtID)
		} else {
			h.installFilter(ctx, pattern, params.FilterPriority)
		}
	}

	// Courtesy notice to the requesting channel; the rejection stands
	// whether or not this lands.
	if dctx.ChannelID != "" {
		if comm, ok := registry.Get[ports.CommunicationSink](h.base.registry, ports.CapabilityCommunication); ok {
			content := fmt.Sprintf("Unable to proceed: %s", params.Reason)
			if _, err := comm.SendMessage(ctx, dctx.ChannelID, content, nil); err != nil {
				h.base.logger.Warn("Reject: notice send failed: %v", err)
			}
		}
	}

	h.base.audit(ctx, dctx, "ok")
	return nil
}

func (h *RejectHandler) installFilter(ctx context.Context, pattern string, disposition string) {
	filter, ok := registry.Get[ports.FilterService](h.base.registry, ports.CapabilityFilter)
	if !ok {
		h.base.logger.Warn("Reject: create_filter requested but no filter service registered")
		return
	}
	if disposition == "" {
		disposition = "review"
	}
	added, err := filter.AddFilterTrigger(ctx, pattern, disposition)
	if err != nil {
		h.base.logger.Warn("Reject: filter trigger install failed: %v", err)
		return
	}
	if added {
		h.base.logger.Info("Reject: installed filter trigger %q (%s)", pattern, disposition)
	}
}

// filterStopwords are too common to make useful triggers on their own.
var filterStopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "your": true, "please": true, "about": true, "would": true,
	"could": true, "should": true, "message": true, "observed": true,
}

// deriveFilterPattern extracts a trigger from the offending content when the
// selector asked for a filter without naming one: the distinctive keywords
// of the content, or its trimmed prefix when none qualify.
func deriveFilterPattern(content string) string {
	lowered := strings.ToLower(strings.TrimSpace(content))
	if lowered == "" {
		return ""
	}
	var keywords []string
	seen := map[string]bool{}
	for _, word := range strings.Fields(lowered) {
		word = strings.Trim(word, ".,:;!?\"'()[]{}")
		if len(word) < 4 || filterStopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == 4 {
			break
		}
	}
	if len(keywords) > 0 {
		return strings.Join(keywords, " ")
	}
	if len(lowered) > 64 {
		lowered = lowered[:64]
	}
	return lowered
}
