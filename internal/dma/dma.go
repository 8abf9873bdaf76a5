// Package dma implements the decision-making algorithms: the three initial
// evaluators (ethical, common-sense, domain-specific) and the action
// selector. Each one is a structured LLM call; retry and timeout policy
// lives in the Executor.
package dma

import (
	"context"
	"fmt"
	"strings"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// DMA names used in failure maps, metrics, and logs.
const (
	NameEthical         = "ethical_pdma"
	NameCommonSense     = "csdma"
	NameDomainSpecific  = "dsdma"
	NameActionSelection = "action_selection_pdma"
)

// Input is the evaluation request shared by the initial DMAs.
type Input struct {
	Thought           model.Thought
	Task              *model.Task
	ProcessingContext string
	Profile           config.AgentProfile
}

func (in Input) describeThought() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thought (%s): %s\n", in.Thought.ThoughtType, in.Thought.Content)
	if in.Task != nil {
		fmt.Fprintf(&b, "Task: %s\n", in.Task.Description)
	}
	if len(in.Thought.PonderNotes) > 0 {
		fmt.Fprintf(&b, "Open questions from prior rounds:\n")
		for _, q := range in.Thought.PonderNotes {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if in.ProcessingContext != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", in.ProcessingContext)
	}
	return b.String()
}

// EthicalDMA evaluates a thought against the agent's ethical principles.
type EthicalDMA struct {
	llm  ports.LLMClient
	opts ports.StructuredOptions
}

// NewEthicalDMA builds the ethical evaluator.
func NewEthicalDMA(llm ports.LLMClient, opts ports.StructuredOptions) *EthicalDMA {
	return &EthicalDMA{llm: llm, opts: opts}
}

// Name identifies this DMA in failure maps and metrics.
func (d *EthicalDMA) Name() string { return NameEthical }

// Run evaluates the thought and returns the structured verdict.
func (d *EthicalDMA) Run(ctx context.Context, in Input) (*model.EthicalDMAResult, error) {
	messages := []ports.Message{
		{Role: "system", Content: ethicalSystemPrompt},
		{Role: "user", Content: in.describeThought()},
	}
	var result model.EthicalDMAResult
	if _, err := d.llm.CallStructured(ctx, messages, &result, d.opts); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name(), err)
	}
	if result.Decision == "" {
		return nil, fmt.Errorf("%s: empty decision in response", d.Name())
	}
	return &result, nil
}

// CSDMA scores a thought's real-world plausibility.
type CSDMA struct {
	llm  ports.LLMClient
	opts ports.StructuredOptions
}

// NewCSDMA builds the common-sense evaluator.
func NewCSDMA(llm ports.LLMClient, opts ports.StructuredOptions) *CSDMA {
	return &CSDMA{llm: llm, opts: opts}
}

// Name identifies this DMA in failure maps and metrics.
func (d *CSDMA) Name() string { return NameCommonSense }

// Run evaluates the thought and returns the plausibility verdict.
func (d *CSDMA) Run(ctx context.Context, in Input) (*model.CSDMAResult, error) {
	messages := []ports.Message{
		{Role: "system", Content: csSystemPrompt},
		{Role: "user", Content: in.describeThought()},
	}
	var result model.CSDMAResult
	if _, err := d.llm.CallStructured(ctx, messages, &result, d.opts); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name(), err)
	}
	if result.PlausibilityScore < 0 || result.PlausibilityScore > 1 {
		return nil, fmt.Errorf("%s: plausibility_score %v out of [0,1]", d.Name(), result.PlausibilityScore)
	}
	return &result, nil
}

// DSDMA evaluates a thought against a domain lens from the agent profile.
// It only runs when the profile names a domain.
type DSDMA struct {
	llm    ports.LLMClient
	opts   ports.StructuredOptions
	domain string
}

// NewDSDMA builds the domain evaluator for the given domain; empty domain
// returns nil, meaning the DMA is not configured.
func NewDSDMA(llm ports.LLMClient, opts ports.StructuredOptions, domain string) *DSDMA {
	if domain == "" {
		return nil
	}
	return &DSDMA{llm: llm, opts: opts, domain: domain}
}

// Name identifies this DMA in failure maps and metrics.
func (d *DSDMA) Name() string { return NameDomainSpecific }

// Run evaluates the thought through the domain lens.
func (d *DSDMA) Run(ctx context.Context, in Input) (*model.DSDMAResult, error) {
	messages := []ports.Message{
		{Role: "system", Content: fmt.Sprintf(dsSystemPrompt, d.domain)},
		{Role: "user", Content: in.describeThought()},
	}
	var result model.DSDMAResult
	if _, err := d.llm.CallStructured(ctx, messages, &result, d.opts); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name(), err)
	}
	if result.Domain == "" {
		result.Domain = d.domain
	}
	return &result, nil
}
