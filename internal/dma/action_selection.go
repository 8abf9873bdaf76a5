package dma

import (
	"context"
	"fmt"
	"strings"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// SelectionInput is the action-selection request: the thought, the initial
// DMA verdicts, and the profile's permitted action set.
type SelectionInput struct {
	Input
	InitialResults   *model.InitialDMAResults
	PermittedActions []model.HandlerAction
	// RetryGuidance is set on the single re-selection pass after a
	// guardrail PONDER override.
	RetryGuidance string
}

// ActionSelectionDMA chooses the final action for a thought.
type ActionSelectionDMA struct {
	llm  ports.LLMClient
	opts ports.StructuredOptions
}

// NewActionSelectionDMA builds the action selector.
func NewActionSelectionDMA(llm ports.LLMClient, opts ports.StructuredOptions) *ActionSelectionDMA {
	return &ActionSelectionDMA{llm: llm, opts: opts}
}

// Name identifies this DMA in failure maps and metrics.
func (d *ActionSelectionDMA) Name() string { return NameActionSelection }

// Run selects one action for the thought. The returned result always names
// a member of the closed action set; responses outside it are rejected so
// the retry layer gets another attempt.
func (d *ActionSelectionDMA) Run(ctx context.Context, in SelectionInput) (*model.ActionSelectionResult, error) {
	messages := []ports.Message{
		{Role: "system", Content: d.systemPrompt(in)},
		{Role: "user", Content: d.userPrompt(in)},
	}
	var result model.ActionSelectionResult
	if _, err := d.llm.CallStructured(ctx, messages, &result, d.opts); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name(), err)
	}
	if !result.SelectedAction.IsValid() {
		return nil, fmt.Errorf("%s: model selected unknown action %q", d.Name(), result.SelectedAction)
	}
	if !actionPermitted(result.SelectedAction, in.PermittedActions) {
		return nil, fmt.Errorf("%s: model selected non-permitted action %q", d.Name(), result.SelectedAction)
	}
	return &result, nil
}

func (d *ActionSelectionDMA) systemPrompt(in SelectionInput) string {
	var b strings.Builder
	if in.Profile.SystemPrompt != "" {
		b.WriteString(in.Profile.SystemPrompt)
		b.WriteString("\n\n")
	}
	b.WriteString(actionSelectionSystemPrompt)
	b.WriteString("\n\nPermitted actions: ")
	b.WriteString(joinActions(permittedOrAll(in.PermittedActions)))
	return b.String()
}

func (d *ActionSelectionDMA) userPrompt(in SelectionInput) string {
	var b strings.Builder
	b.WriteString(in.describeThought())

	if r := in.InitialResults; r != nil {
		b.WriteString("\nInitial evaluations:\n")
		if r.Ethical != nil {
			fmt.Fprintf(&b, "- ethical: decision=%s, %s\n", r.Ethical.Decision, r.Ethical.Rationale)
		}
		if r.CSDMA != nil {
			fmt.Fprintf(&b, "- common sense: plausibility=%.2f", r.CSDMA.PlausibilityScore)
			if len(r.CSDMA.Flags) > 0 {
				fmt.Fprintf(&b, ", flags: %s", strings.Join(r.CSDMA.Flags, ", "))
			}
			b.WriteString("\n")
		}
		if r.DSDMA != nil {
			fmt.Fprintf(&b, "- domain (%s): score=%.2f", r.DSDMA.Domain, r.DSDMA.Score)
			if r.DSDMA.RecommendedAction != "" {
				fmt.Fprintf(&b, ", recommends %s", r.DSDMA.RecommendedAction)
			}
			b.WriteString("\n")
		}
		for name, msg := range r.Errors {
			fmt.Fprintf(&b, "- %s FAILED: %s\n", name, msg)
		}
	}

	if in.Thought.PonderCount > 0 {
		fmt.Fprintf(&b, "\nThis thought has been pondered %d time(s). Avoid selecting ponder again unless new questions truly remain.\n", in.Thought.PonderCount)
	}
	if in.RetryGuidance != "" {
		fmt.Fprintf(&b, "\nGuidance for this re-selection: %s\n", in.RetryGuidance)
	}
	return b.String()
}

func actionPermitted(a model.HandlerAction, permitted []model.HandlerAction) bool {
	if len(permitted) == 0 {
		return true
	}
	for _, p := range permitted {
		if p == a {
			return true
		}
	}
	return false
}

func permittedOrAll(permitted []model.HandlerAction) []model.HandlerAction {
	if len(permitted) == 0 {
		return model.AllActions()
	}
	return permitted
}

func joinActions(actions []model.HandlerAction) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}
