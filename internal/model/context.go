package model

import "time"

// TaskSummary is a compact view of a task for snapshots and prompts.
type TaskSummary struct {
	TaskID      string     `json:"task_id"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
}

// ThoughtSummary is a compact view of a thought for snapshots and prompts.
type ThoughtSummary struct {
	ThoughtID   string        `json:"thought_id"`
	ThoughtType string        `json:"thought_type"`
	Status      ThoughtStatus `json:"status"`
	PonderCount int           `json:"ponder_count"`
}

// SecretReference points at a detected secret without carrying its value.
type SecretReference struct {
	UUID        string `json:"uuid"`
	ContextHint string `json:"context_hint,omitempty"`
	SecretType  string `json:"secret_type,omitempty"`
}

// UserProfile is an optional enrichment attached to a snapshot.
type UserProfile struct {
	UserID   string         `json:"user_id"`
	Nick     string         `json:"nick,omitempty"`
	Channel  string         `json:"channel,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResourceSnapshot reports LLM spend accumulated so far.
type ResourceSnapshot struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// SystemSnapshot is a point-in-time aggregation of ambient facts passed into
// a thought's context before the DMAs run.
type SystemSnapshot struct {
	TaskCounts           map[TaskStatus]int    `json:"task_counts,omitempty"`
	PendingThoughtCount  int                   `json:"pending_thought_count"`
	CurrentTask          *TaskSummary          `json:"current_task,omitempty"`
	CurrentThought       *ThoughtSummary       `json:"current_thought,omitempty"`
	RecentCompletedTasks []TaskSummary         `json:"recent_completed_tasks,omitempty"`
	TopPendingTasks      []TaskSummary         `json:"top_pending_tasks,omitempty"`
	ChannelID            string                `json:"channel_id,omitempty"`
	DetectedSecrets      []SecretReference     `json:"detected_secrets,omitempty"`
	UserProfiles         []UserProfile         `json:"user_profiles,omitempty"`
	Resources            *ResourceSnapshot     `json:"resources,omitempty"`
	AgentIdentity        string                `json:"agent_identity,omitempty"`
	TakenAt              time.Time             `json:"taken_at"`
}

// EpistemicData carries the guardrail content measurements.
type EpistemicData struct {
	Entropy   float64 `json:"entropy"`
	Coherence float64 `json:"coherence"`
}

// GuardrailResult records the outcome of the guardrail stage for a result.
// When Overridden, OriginalAction preserves what the selector chose.
type GuardrailResult struct {
	Overridden     bool                   `json:"overridden"`
	OriginalAction *ActionSelectionResult `json:"original_action,omitempty"`
	OverrideReason string                 `json:"override_reason,omitempty"`
	Epistemic      EpistemicData          `json:"epistemic"`
}

// ShutdownContext describes a requested shutdown for the shutdown task.
type ShutdownContext struct {
	Reason               string     `json:"reason"`
	InitiatedBy          string     `json:"initiated_by"`
	AllowDeferral        bool       `json:"allow_deferral"`
	ExpectedReactivation *time.Time `json:"expected_reactivation,omitempty"`
	IsTerminal           bool       `json:"is_terminal"`
}

// DispatchContext is handed to every handler invocation.
type DispatchContext struct {
	ChannelID       string           `json:"channel_id,omitempty"`
	AuthorID        string           `json:"author_id,omitempty"`
	AuthorName      string           `json:"author_name,omitempty"`
	OriginService   string           `json:"origin_service,omitempty"`
	HandlerName     string           `json:"handler_name"`
	ActionType      HandlerAction    `json:"action_type"`
	ThoughtID       string           `json:"thought_id"`
	TaskID          string           `json:"task_id"`
	SourceTaskID    string           `json:"source_task_id"`
	EventSummary    string           `json:"event_summary,omitempty"`
	EventTimestamp  time.Time        `json:"event_timestamp"`
	WAID            string           `json:"wa_id,omitempty"`
	WAAuthorized    bool             `json:"wa_authorized"`
	CorrelationID   string           `json:"correlation_id"`
	RoundNumber     int              `json:"round_number"`
	GuardrailResult *GuardrailResult `json:"guardrail_result,omitempty"`
}
