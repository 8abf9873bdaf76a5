package guardrails

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// LLMFaculty asks the model to score its own proposed output.
type LLMFaculty struct {
	llm  ports.LLMClient
	opts ports.StructuredOptions
}

// NewLLMFaculty builds an LLM-backed epistemic faculty.
func NewLLMFaculty(llm ports.LLMClient, opts ports.StructuredOptions) *LLMFaculty {
	return &LLMFaculty{llm: llm, opts: opts}
}

const facultyPrompt = `You are an epistemic evaluator. Score the proposed agent
response below.

entropy: 0.0 means focused and orderly, 1.0 means chaotic or random.
coherence: 1.0 means the response follows sensibly from the thought, 0.0
means it does not.

Respond with JSON only: {"entropy": <0-1>, "coherence": <0-1>}`

// Evaluate implements EpistemicFaculty.
func (f *LLMFaculty) Evaluate(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult) (model.EpistemicData, error) {
	content := proposedContent(result)
	messages := []ports.Message{
		{Role: "system", Content: facultyPrompt},
		{Role: "user", Content: fmt.Sprintf("Thought: %s\n\nProposed response: %s", thought.Content, content)},
	}
	var data model.EpistemicData
	if _, err := f.llm.CallStructured(ctx, messages, &data, f.opts); err != nil {
		return model.EpistemicData{}, fmt.Errorf("epistemic faculty: %w", err)
	}
	data.Entropy = clamp01(data.Entropy)
	data.Coherence = clamp01(data.Coherence)
	return data, nil
}

// HeuristicFaculty scores output without an LLM: character-level Shannon
// entropy for disorder, vocabulary overlap with the thought for coherence.
// Used when the runtime has no model budget for self-evaluation.
type HeuristicFaculty struct{}

// Evaluate implements EpistemicFaculty.
func (HeuristicFaculty) Evaluate(_ context.Context, thought model.Thought, result *model.ActionSelectionResult) (model.EpistemicData, error) {
	content := proposedContent(result)
	return model.EpistemicData{
		Entropy:   textEntropy(content),
		Coherence: textCoherence(thought.Content, content),
	}, nil
}

func proposedContent(result *model.ActionSelectionResult) string {
	if result.SelectedAction == model.ActionSpeak {
		if params, err := result.SpeakParams(); err == nil {
			return params.Content
		}
	}
	return result.Rationale
}

// textEntropy normalizes character-level Shannon entropy to [0,1]. English
// prose sits near 4.1 bits per character; 6 bits is effectively noise.
func textEntropy(s string) float64 {
	if s == "" {
		return 1.0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	var bits float64
	for _, n := range counts {
		p := float64(n) / float64(total)
		bits -= p * math.Log2(p)
	}
	return clamp01(bits / 6.0)
}

// textCoherence measures word overlap between the thought and the response.
// Stop-short responses and responses sharing no vocabulary score low.
func textCoherence(thoughtContent, response string) float64 {
	respWords := wordSet(response)
	if len(respWords) == 0 {
		return 0
	}
	thoughtWords := wordSet(thoughtContent)
	if len(thoughtWords) == 0 {
		return 1
	}
	shared := 0
	for w := range thoughtWords {
		if _, ok := respWords[w]; ok {
			shared++
		}
	}
	// Any real overlap reads as coherent; scale generously.
	score := 0.5 + float64(shared)/float64(len(thoughtWords))
	return clamp01(score)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if len(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var (
	_ EpistemicFaculty = (*LLMFaculty)(nil)
	_ EpistemicFaculty = HeuristicFaculty{}
)
