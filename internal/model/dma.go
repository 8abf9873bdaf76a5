package model

import "strings"

// EthicalDMAResult is the structured output of the ethical evaluator.
type EthicalDMAResult struct {
	AlignmentCheck string `json:"alignment_check"`
	Decision       string `json:"decision"`
	Rationale      string `json:"rationale,omitempty"`
}

// CSDMAResult is the structured output of the common-sense evaluator.
type CSDMAResult struct {
	PlausibilityScore float64  `json:"plausibility_score"`
	Flags             []string `json:"flags,omitempty"`
	Reasoning         string   `json:"reasoning,omitempty"`
}

// DSDMAResult is the structured output of the optional domain evaluator.
type DSDMAResult struct {
	Domain            string   `json:"domain"`
	Score             float64  `json:"score"`
	Flags             []string `json:"flags,omitempty"`
	Reasoning         string   `json:"reasoning,omitempty"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
}

// InitialDMAResults aggregates the parallel initial evaluations for a thought.
// Errors holds per-DMA failure messages keyed by DMA name.
type InitialDMAResults struct {
	Ethical *EthicalDMAResult `json:"ethical,omitempty"`
	CSDMA   *CSDMAResult      `json:"csdma,omitempty"`
	DSDMA   *DSDMAResult      `json:"dsdma,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// CriticalFailure reports whether any required DMA failed outright.
func (r *InitialDMAResults) CriticalFailure() bool {
	return len(r.Errors) > 0
}

// FailedDMAs names the evaluators that failed, for deferral reasons.
func (r *InitialDMAResults) FailedDMAs() string {
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	// Deterministic order for log and test stability.
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if names[j] < names[i] {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	return strings.Join(names, ", ")
}
