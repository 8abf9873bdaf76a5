// Package ports declares the narrow capability interfaces the runtime
// consumes. Concrete transports, providers, and stores live behind them.
package ports

import "context"

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResourceUsage reports the spend of a single LLM call.
type ResourceUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// StructuredOptions bounds a structured completion call.
type StructuredOptions struct {
	MaxTokens   int
	Temperature float64
}

// LLMClient produces structured completions. CallStructured unmarshals the
// model's JSON response into responseModel (a pointer to one of the DMA
// result types or ActionSelectionResult) and reports resource usage.
// Errors propagate to the caller; retry and timeout policy belong to the
// DMA executor.
type LLMClient interface {
	CallStructured(ctx context.Context, messages []Message, responseModel any, opts StructuredOptions) (ResourceUsage, error)
}
