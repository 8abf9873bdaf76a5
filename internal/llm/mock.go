package llm

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// MockClient is a deterministic offline LLM. It fills each structured
// response model with plausible values derived from the prompt, so the full
// pipeline runs end to end without a provider. Seed and observation thoughts
// resolve to SPEAK; follow-up thoughts resolve to TASK_COMPLETE so tasks
// finish instead of looping.
type MockClient struct {
	calls atomic.Int64
}

// NewMockClient builds the offline client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Calls reports how many structured completions were served.
func (c *MockClient) Calls() int64 { return c.calls.Load() }

// CallStructured implements ports.LLMClient.
func (c *MockClient) CallStructured(_ context.Context, messages []ports.Message, responseModel any, _ ports.StructuredOptions) (ports.ResourceUsage, error) {
	c.calls.Add(1)
	prompt := lastUserContent(messages)

	switch out := responseModel.(type) {
	case *model.EthicalDMAResult:
		out.AlignmentCheck = "no conflicts with core principles detected"
		out.Decision = "approve"
		out.Rationale = "mock evaluation: content is benign"
	case *model.CSDMAResult:
		out.PlausibilityScore = 0.9
		out.Reasoning = "mock evaluation: request is physically and socially plausible"
	case *model.DSDMAResult:
		out.Domain = "general"
		out.Score = 0.85
		out.Reasoning = "mock evaluation: within domain expectations"
	case *model.EpistemicData:
		out.Entropy = 0.1
		out.Coherence = 0.95
	case *model.ActionSelectionResult:
		*out = *c.selectAction(prompt)
	}

	return ports.ResourceUsage{PromptTokens: len(prompt) / 4}, nil
}

// selectAction applies the mock policy: finish follow-ups, speak otherwise.
func (c *MockClient) selectAction(prompt string) *model.ActionSelectionResult {
	if strings.Contains(prompt, "Thought ("+model.ThoughtTypeFollowUp+")") {
		return model.MustActionResult(model.ActionTaskComplete, model.TaskCompleteParams{
			Outcome: "completed by mock policy after the side effect landed",
		}, "mock: follow-up confirms the work is done")
	}
	content := "Acknowledged. I am a mock-driven agent run; no model is attached."
	if echo := promptThoughtContent(prompt); echo != "" {
		content = "Acknowledged: " + echo
	}
	return model.MustActionResult(model.ActionSpeak, model.SpeakParams{Content: content},
		"mock: respond directly to the thought")
}

func lastUserContent(messages []ports.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// promptThoughtContent pulls the thought content out of the standard
// "Thought (<type>): <content>" first line of a DMA prompt.
func promptThoughtContent(prompt string) string {
	line, _, _ := strings.Cut(prompt, "\n")
	if _, rest, ok := strings.Cut(line, "): "); ok {
		return rest
	}
	return ""
}

var _ ports.LLMClient = (*MockClient)(nil)
