package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// HandlerAction is the closed set of actions the pipeline may select.
type HandlerAction string

const (
	ActionObserve      HandlerAction = "observe"
	ActionSpeak        HandlerAction = "speak"
	ActionTool         HandlerAction = "tool"
	ActionReject       HandlerAction = "reject"
	ActionPonder       HandlerAction = "ponder"
	ActionDefer        HandlerAction = "defer"
	ActionMemorize     HandlerAction = "memorize"
	ActionRecall       HandlerAction = "recall"
	ActionForget       HandlerAction = "forget"
	ActionTaskComplete HandlerAction = "task_complete"
)

// AllActions enumerates every member of the closed action set.
func AllActions() []HandlerAction {
	return []HandlerAction{
		ActionObserve, ActionSpeak, ActionTool, ActionReject, ActionPonder,
		ActionDefer, ActionMemorize, ActionRecall, ActionForget, ActionTaskComplete,
	}
}

// IsValid reports whether a is a member of the closed action set.
func (a HandlerAction) IsValid() bool {
	switch a {
	case ActionObserve, ActionSpeak, ActionTool, ActionReject, ActionPonder,
		ActionDefer, ActionMemorize, ActionRecall, ActionForget, ActionTaskComplete:
		return true
	default:
		return false
	}
}

// MemoryScope bounds memory operations.
type MemoryScope string

const (
	ScopeIdentity    MemoryScope = "identity"
	ScopeEnvironment MemoryScope = "environment"
	ScopeLocal       MemoryScope = "local"
)

// SpeakParams carries the payload for a SPEAK action.
type SpeakParams struct {
	Content   string `json:"content"`
	ChannelID string `json:"channel_id,omitempty"`
}

// PonderParams carries the open questions a PONDER re-queue should revisit.
type PonderParams struct {
	Questions []string `json:"questions"`
}

// DeferParams hands the thought to an external authority.
type DeferParams struct {
	Reason     string         `json:"reason"`
	Context    map[string]any `json:"context,omitempty"`
	DeferUntil *time.Time     `json:"defer_until,omitempty"`
}

// RejectParams terminates the task with a refusal, optionally deriving an
// adaptive content filter from the offending input.
type RejectParams struct {
	Reason         string `json:"reason"`
	CreateFilter   bool   `json:"create_filter,omitempty"`
	FilterPattern  string `json:"filter_pattern,omitempty"`
	FilterPriority string `json:"filter_priority,omitempty"`
}

// ObserveParams directs a passive or active observation of a channel.
type ObserveParams struct {
	ChannelID string `json:"channel_id,omitempty"`
	Active    bool   `json:"active,omitempty"`
}

// MemorizeParams stores a fact through the memory service.
type MemorizeParams struct {
	Key   string      `json:"key"`
	Value string      `json:"value,omitempty"`
	Scope MemoryScope `json:"scope"`
}

// RecallParams queries the memory service.
type RecallParams struct {
	Query string      `json:"query"`
	Scope MemoryScope `json:"scope"`
}

// ForgetParams removes a fact from the memory service.
type ForgetParams struct {
	Key    string      `json:"key"`
	Scope  MemoryScope `json:"scope"`
	Reason string      `json:"reason,omitempty"`
}

// ToolParams invokes a named tool with arguments.
type ToolParams struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// TaskCompleteParams optionally records the task outcome.
type TaskCompleteParams struct {
	Outcome string `json:"outcome,omitempty"`
}

// ActionSelectionResult is the pipeline's final choice of action. The
// ActionParameters payload is a tagged variant keyed by SelectedAction;
// use the typed accessors to decode it.
type ActionSelectionResult struct {
	SelectedAction   HandlerAction   `json:"selected_action"`
	ActionParameters json.RawMessage `json:"action_parameters,omitempty"`
	Rationale        string          `json:"rationale,omitempty"`
	Confidence       float64         `json:"confidence,omitempty"`
	RawLLMResponse   string          `json:"raw_llm_response,omitempty"`
}

// NewActionResult builds a result, serializing params for the given action.
func NewActionResult(action HandlerAction, params any, rationale string) (*ActionSelectionResult, error) {
	result := &ActionSelectionResult{SelectedAction: action, Rationale: rationale}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", action, err)
		}
		result.ActionParameters = raw
	}
	return result, nil
}

// MustActionResult is NewActionResult for params known to marshal.
func MustActionResult(action HandlerAction, params any, rationale string) *ActionSelectionResult {
	result, err := NewActionResult(action, params, rationale)
	if err != nil {
		panic(err)
	}
	return result
}

func decodeParams[T any](r *ActionSelectionResult, want HandlerAction) (*T, error) {
	if r.SelectedAction != want {
		return nil, fmt.Errorf("action parameter mismatch: have %s, want %s", r.SelectedAction, want)
	}
	var params T
	if len(r.ActionParameters) > 0 {
		if err := json.Unmarshal(r.ActionParameters, &params); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", want, err)
		}
	}
	return &params, nil
}

// SpeakParams decodes the payload of a SPEAK result.
func (r *ActionSelectionResult) SpeakParams() (*SpeakParams, error) {
	return decodeParams[SpeakParams](r, ActionSpeak)
}

// PonderParams decodes the payload of a PONDER result.
func (r *ActionSelectionResult) PonderParams() (*PonderParams, error) {
	return decodeParams[PonderParams](r, ActionPonder)
}

// DeferParams decodes the payload of a DEFER result.
func (r *ActionSelectionResult) DeferParams() (*DeferParams, error) {
	return decodeParams[DeferParams](r, ActionDefer)
}

// RejectParams decodes the payload of a REJECT result.
func (r *ActionSelectionResult) RejectParams() (*RejectParams, error) {
	return decodeParams[RejectParams](r, ActionReject)
}

// ObserveParams decodes the payload of an OBSERVE result.
func (r *ActionSelectionResult) ObserveParams() (*ObserveParams, error) {
	return decodeParams[ObserveParams](r, ActionObserve)
}

// MemorizeParams decodes the payload of a MEMORIZE result.
func (r *ActionSelectionResult) MemorizeParams() (*MemorizeParams, error) {
	return decodeParams[MemorizeParams](r, ActionMemorize)
}

// RecallParams decodes the payload of a RECALL result.
func (r *ActionSelectionResult) RecallParams() (*RecallParams, error) {
	return decodeParams[RecallParams](r, ActionRecall)
}

// ForgetParams decodes the payload of a FORGET result.
func (r *ActionSelectionResult) ForgetParams() (*ForgetParams, error) {
	return decodeParams[ForgetParams](r, ActionForget)
}

// ToolParams decodes the payload of a TOOL result.
func (r *ActionSelectionResult) ToolParams() (*ToolParams, error) {
	return decodeParams[ToolParams](r, ActionTool)
}

// TaskCompleteParams decodes the payload of a TASK_COMPLETE result.
func (r *ActionSelectionResult) TaskCompleteParams() (*TaskCompleteParams, error) {
	return decodeParams[TaskCompleteParams](r, ActionTaskComplete)
}
