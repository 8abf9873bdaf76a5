package ports

import (
	"context"

	"github.com/emooreatx/cirisagent/internal/model"
)

// MemoryNodeType classifies memory graph nodes.
type MemoryNodeType string

const (
	NodeChannel MemoryNodeType = "channel"
	NodeUser    MemoryNodeType = "user"
	NodeConcept MemoryNodeType = "concept"
	NodeAgent   MemoryNodeType = "agent"
)

// MemoryNode is a recall query or result in the memory graph.
type MemoryNode struct {
	Type     MemoryNodeType `json:"type"`
	Key      string         `json:"key"`
	Scope    model.MemoryScope `json:"scope"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemoryService is the memory-graph capability.
type MemoryService interface {
	Recall(ctx context.Context, node MemoryNode) ([]MemoryNode, error)
	Memorize(ctx context.Context, key string, channel string, metadata map[string]any, isCorrection bool) error
	Forget(ctx context.Context, key string, scope model.MemoryScope, reason string) error
	ExportIdentityContext(ctx context.Context) (string, error)
}

// SecretsService filters inbound text for secrets before it is persisted.
type SecretsService interface {
	// ProcessIncomingText returns the redacted text plus references to any
	// secrets detected.
	ProcessIncomingText(ctx context.Context, text string, contextHint string, sourceMessageID string) (string, []model.SecretReference, error)
	ListAllSecrets(ctx context.Context) ([]model.SecretReference, error)
	FilterConfigVersion(ctx context.Context) (int, error)
}

// CommunicationSink delivers outbound messages. SendMessage returns the
// outbound message ID so deferral reports can be correlated with replies.
type CommunicationSink interface {
	SendMessage(ctx context.Context, channelID string, content string, metadata map[string]any) (string, error)
	// FetchMessages performs a bounded read of recent channel history for
	// active observation.
	FetchMessages(ctx context.Context, channelID string, limit int) ([]InboundMessage, error)
}

// ToolSink executes named tools.
type ToolSink interface {
	RunTool(ctx context.Context, toolName string, arguments map[string]any) (map[string]any, error)
}

// AuditSink records handler and processor actions.
type AuditSink interface {
	LogAction(ctx context.Context, actionType string, auditCtx map[string]any, outcome string) error
}

// FilterService manages adaptive content-filter triggers.
type FilterService interface {
	AddFilterTrigger(ctx context.Context, trigger string, disposition string) (bool, error)
}

// InboundMessage is an external event as seen by observers.
type InboundMessage struct {
	MessageID  string `json:"message_id"`
	ChannelID  string `json:"channel_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
	IsAgent    bool   `json:"is_agent"`
	// ReplyToID is set when the message replies to a previously sent
	// message, e.g. a deferral report.
	ReplyToID string `json:"reply_to_id,omitempty"`
}

// Capability names under which services register.
const (
	CapabilityLLM           = "llm"
	CapabilityMemory        = "memory"
	CapabilitySecrets       = "secrets"
	CapabilityCommunication = "communication"
	CapabilityTool          = "tool"
	CapabilityAudit         = "audit"
	CapabilityFilter        = "filter"
)
