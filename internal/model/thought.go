package model

import (
	"encoding/json"
	"time"
)

// ThoughtStatus represents the lifecycle state of a thought.
type ThoughtStatus string

const (
	ThoughtPending    ThoughtStatus = "pending"
	ThoughtProcessing ThoughtStatus = "processing"
	ThoughtCompleted  ThoughtStatus = "completed"
	ThoughtPaused     ThoughtStatus = "paused"
	ThoughtFailed     ThoughtStatus = "failed"
	ThoughtDeferred   ThoughtStatus = "deferred"
	ThoughtRejected   ThoughtStatus = "rejected"
)

// IsTerminal reports whether the status is a final state.
func (s ThoughtStatus) IsTerminal() bool {
	switch s {
	case ThoughtCompleted, ThoughtFailed, ThoughtDeferred, ThoughtRejected:
		return true
	default:
		return false
	}
}

// Well-known thought types. ThoughtType stays a free string so observers can
// introduce new kinds without a schema change.
const (
	ThoughtTypeSeed           = "seed"
	ThoughtTypeFollowUp       = "follow_up"
	ThoughtTypeMemoryMeta     = "memory_meta"
	ThoughtTypeStartupMeta    = "startup_meta"
	ThoughtTypeCorrection     = "correction"
	ThoughtTypeObservation    = "observation"
	ThoughtTypeJob            = "job"
	ThoughtTypeStandard       = "standard"
	ThoughtTypeScheduledTrigger = "SCHEDULED_TASK_TRIGGER"
	ThoughtTypeActiveObservationResult = "active_observation_result"
)

// ThoughtContext is a snapshot of the state a thought was built against.
type ThoughtContext struct {
	ChannelID       string          `json:"channel_id,omitempty"`
	AuthorID        string          `json:"author_id,omitempty"`
	AuthorName      string          `json:"author_name,omitempty"`
	OriginService   string          `json:"origin_service,omitempty"`
	InitialTaskContext *TaskContext `json:"initial_task_context,omitempty"`
	SystemSnapshot  *SystemSnapshot `json:"system_snapshot,omitempty"`
	IdentityContext string          `json:"identity_context,omitempty"`
	IsWACorrection  bool            `json:"is_wa_correction,omitempty"`
	WAAuthorID      string          `json:"wa_author_id,omitempty"`
	WAAuthorName    string          `json:"wa_author_name,omitempty"`
	Extras          map[string]any  `json:"extras,omitempty"`
}

// Thought is a unit of reasoning attached to exactly one task.
type Thought struct {
	ThoughtID       string          `json:"thought_id"`
	SourceTaskID    string          `json:"source_task_id"`
	ParentThoughtID string          `json:"parent_thought_id,omitempty"`
	ThoughtType     string          `json:"thought_type"`
	Content         string          `json:"content"`
	Context         ThoughtContext  `json:"context"`
	Status          ThoughtStatus   `json:"status"`
	Priority        int             `json:"priority"`
	RoundNumber     int             `json:"round_number"`
	RoundProcessed  int             `json:"round_processed,omitempty"`
	PonderCount     int             `json:"ponder_count"`
	PonderNotes     []string        `json:"ponder_notes,omitempty"`
	FinalAction     json.RawMessage `json:"final_action,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SetFinalAction serializes result into the thought's final-action slot.
func (t *Thought) SetFinalAction(result *ActionSelectionResult) error {
	if result == nil {
		t.FinalAction = nil
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	t.FinalAction = raw
	return nil
}

// DecodeFinalAction parses the stored final action, if any.
func (t *Thought) DecodeFinalAction() (*ActionSelectionResult, error) {
	if len(t.FinalAction) == 0 {
		return nil, nil
	}
	var result ActionSelectionResult
	if err := json.Unmarshal(t.FinalAction, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
