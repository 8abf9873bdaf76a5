// Package guardrails applies the post-selection safety checks: an epistemic
// faculty scoring entropy and coherence, and the profile's permitted-action
// filter. A failed check overrides the selected action rather than
// erroring the pipeline.
package guardrails

import (
	"context"
	"fmt"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

// EpistemicFaculty scores a proposed action's output. Entropy measures how
// scattered or surprising the content is; coherence measures how well it
// holds together as a response to the thought.
type EpistemicFaculty interface {
	Evaluate(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult) (model.EpistemicData, error)
}

// Guardrails vets a selected action before dispatch.
type Guardrails struct {
	cfg     config.GuardrailsConfig
	faculty EpistemicFaculty
	metrics *telemetry.Collector
	logger  logging.Logger
}

// New builds the guardrail stage. faculty may be nil, in which case only
// the permitted-action filter applies.
func New(cfg config.GuardrailsConfig, faculty EpistemicFaculty, metrics *telemetry.Collector, logger logging.Logger) *Guardrails {
	return &Guardrails{cfg: cfg, faculty: faculty, metrics: metrics, logger: logging.OrNop(logger)}
}

// Check vets result for the given thought. When a check fails the returned
// result is an override (PONDER with the failure as its question, or DEFER
// when pondering is exhausted) and GuardrailResult records the original
// action. Check never fails the thought; an errored faculty counts as a
// pass with empty epistemic data.
func (g *Guardrails) Check(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult,
	permitted []model.HandlerAction, maxPonderRounds int) (*model.ActionSelectionResult, model.GuardrailResult) {

	if reason, ok := g.actionAllowed(result.SelectedAction, permitted); !ok {
		return g.override(ctx, thought, result, reason, model.EpistemicData{}, maxPonderRounds)
	}

	// Only content-producing actions get the epistemic check.
	if g.faculty == nil || result.SelectedAction != model.ActionSpeak {
		g.metrics.RecordGuardrailCheck(ctx, "pass", thought.ThoughtID)
		return result, model.GuardrailResult{}
	}

	epistemic, err := g.faculty.Evaluate(ctx, thought, result)
	if err != nil {
		g.logger.Warn("Guardrails: epistemic faculty failed for thought %s, passing action through: %v", thought.ThoughtID, err)
		g.metrics.RecordGuardrailCheck(ctx, "faculty_error", thought.ThoughtID)
		return result, model.GuardrailResult{}
	}

	if epistemic.Entropy > g.cfg.EntropyThreshold {
		reason := fmt.Sprintf("entropy %.2f exceeds threshold %.2f", epistemic.Entropy, g.cfg.EntropyThreshold)
		return g.override(ctx, thought, result, reason, epistemic, maxPonderRounds)
	}
	if epistemic.Coherence < g.cfg.CoherenceThreshold {
		reason := fmt.Sprintf("coherence %.2f below threshold %.2f", epistemic.Coherence, g.cfg.CoherenceThreshold)
		return g.override(ctx, thought, result, reason, epistemic, maxPonderRounds)
	}

	g.metrics.RecordGuardrailCheck(ctx, "pass", thought.ThoughtID)
	return result, model.GuardrailResult{Epistemic: epistemic}
}

func (g *Guardrails) actionAllowed(a model.HandlerAction, permitted []model.HandlerAction) (string, bool) {
	if !a.IsValid() {
		return fmt.Sprintf("action %q is not in the action set", a), false
	}
	if len(permitted) == 0 {
		return "", true
	}
	for _, p := range permitted {
		if p == a {
			return "", true
		}
	}
	return fmt.Sprintf("action %q is not permitted by the active profile", a), false
}

// override replaces the selected action with PONDER carrying the failure
// reason, or DEFER when the thought has exhausted its ponder budget.
func (g *Guardrails) override(ctx context.Context, thought model.Thought, original *model.ActionSelectionResult,
	reason string, epistemic model.EpistemicData, maxPonderRounds int) (*model.ActionSelectionResult, model.GuardrailResult) {

	g.logger.Warn("Guardrails: overriding %s for thought %s: %s", original.SelectedAction, thought.ThoughtID, reason)
	g.metrics.RecordGuardrailCheck(ctx, "override", thought.ThoughtID)

	info := model.GuardrailResult{
		Overridden:     true,
		OriginalAction: original,
		OverrideReason: reason,
		Epistemic:      epistemic,
	}

	if thought.PonderCount >= maxPonderRounds {
		replacement := model.MustActionResult(model.ActionDefer, model.DeferParams{
			Reason: fmt.Sprintf("guardrail override after ponder budget exhausted: %s", reason),
		}, "guardrail override")
		return replacement, info
	}

	replacement := model.MustActionResult(model.ActionPonder, model.PonderParams{
		Questions: []string{fmt.Sprintf("Guardrail rejected %s: %s. What would a better response look like?", original.SelectedAction, reason)},
	}, "guardrail override")
	return replacement, info
}
