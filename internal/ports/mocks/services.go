package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/ports"
)

// SentMessage records one CommunicationSink delivery.
type SentMessage struct {
	MessageID string
	ChannelID string
	Content   string
	Metadata  map[string]any
}

// RecordingSink captures outbound messages and serves canned history.
type RecordingSink struct {
	mu      sync.Mutex
	Sent    []SentMessage
	History map[string][]ports.InboundMessage
	FailSend error
}

// NewRecordingSink builds an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{History: make(map[string][]ports.InboundMessage)}
}

// SendMessage implements ports.CommunicationSink.
func (s *RecordingSink) SendMessage(_ context.Context, channelID string, content string, metadata map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSend != nil {
		return "", s.FailSend
	}
	msgID := ids.NewMessageID()
	s.Sent = append(s.Sent, SentMessage{MessageID: msgID, ChannelID: channelID, Content: content, Metadata: metadata})
	return msgID, nil
}

// FetchMessages implements ports.CommunicationSink.
func (s *RecordingSink) FetchMessages(_ context.Context, channelID string, limit int) ([]ports.InboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.History[channelID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]ports.InboundMessage(nil), msgs...), nil
}

// LastSent returns the most recent delivery, if any.
func (s *RecordingSink) LastSent() *SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Sent) == 0 {
		return nil
	}
	msg := s.Sent[len(s.Sent)-1]
	return &msg
}

// MemoryCall records one MemoryService invocation.
type MemoryCall struct {
	Op       string
	Key      string
	Channel  string
	Scope    model.MemoryScope
	Metadata map[string]any
}

// FakeMemory is an in-map MemoryService.
type FakeMemory struct {
	mu       sync.Mutex
	Facts    map[string]map[string]any
	Calls    []MemoryCall
	Identity string
}

// NewFakeMemory builds an empty fake memory service.
func NewFakeMemory() *FakeMemory {
	return &FakeMemory{Facts: make(map[string]map[string]any)}
}

// Recall implements ports.MemoryService.
func (m *FakeMemory) Recall(_ context.Context, node ports.MemoryNode) ([]ports.MemoryNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MemoryCall{Op: "recall", Key: node.Key, Scope: node.Scope})
	meta, ok := m.Facts[node.Key]
	if !ok {
		return nil, nil
	}
	return []ports.MemoryNode{{Type: node.Type, Key: node.Key, Scope: node.Scope, Metadata: meta}}, nil
}

// Memorize implements ports.MemoryService.
func (m *FakeMemory) Memorize(_ context.Context, key string, channel string, metadata map[string]any, isCorrection bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MemoryCall{Op: "memorize", Key: key, Channel: channel, Metadata: metadata})
	m.Facts[key] = metadata
	return nil
}

// Forget implements ports.MemoryService.
func (m *FakeMemory) Forget(_ context.Context, key string, scope model.MemoryScope, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MemoryCall{Op: "forget", Key: key, Scope: scope})
	if _, ok := m.Facts[key]; !ok {
		return fmt.Errorf("memory key %q not found", key)
	}
	delete(m.Facts, key)
	return nil
}

// ExportIdentityContext implements ports.MemoryService.
func (m *FakeMemory) ExportIdentityContext(_ context.Context) (string, error) {
	return m.Identity, nil
}

// AuditRecord captures one AuditSink entry.
type AuditRecord struct {
	ActionType string
	Context    map[string]any
	Outcome    string
}

// RecordingAudit captures audit entries for assertions.
type RecordingAudit struct {
	mu      sync.Mutex
	Records []AuditRecord
}

// LogAction implements ports.AuditSink.
func (a *RecordingAudit) LogAction(_ context.Context, actionType string, auditCtx map[string]any, outcome string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Records = append(a.Records, AuditRecord{ActionType: actionType, Context: auditCtx, Outcome: outcome})
	return nil
}

// Outcomes lists recorded outcomes for an action type.
func (a *RecordingAudit) Outcomes(actionType string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, r := range a.Records {
		if r.ActionType == actionType {
			out = append(out, r.Outcome)
		}
	}
	return out
}

// PassthroughSecrets is a SecretsService that redacts nothing.
type PassthroughSecrets struct{}

// ProcessIncomingText implements ports.SecretsService.
func (PassthroughSecrets) ProcessIncomingText(_ context.Context, text string, _ string, _ string) (string, []model.SecretReference, error) {
	return text, nil, nil
}

// ListAllSecrets implements ports.SecretsService.
func (PassthroughSecrets) ListAllSecrets(context.Context) ([]model.SecretReference, error) {
	return nil, nil
}

// FilterConfigVersion implements ports.SecretsService.
func (PassthroughSecrets) FilterConfigVersion(context.Context) (int, error) {
	return 1, nil
}

// RecordingTool captures tool invocations and returns canned results.
type RecordingTool struct {
	mu      sync.Mutex
	Calls   []string
	Results map[string]map[string]any
	Fail    error
}

// RunTool implements ports.ToolSink.
func (t *RecordingTool) RunTool(_ context.Context, toolName string, _ map[string]any) (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, toolName)
	if t.Fail != nil {
		return nil, t.Fail
	}
	if t.Results != nil {
		if res, ok := t.Results[toolName]; ok {
			return res, nil
		}
	}
	return map[string]any{"ok": true}, nil
}

var (
	_ ports.CommunicationSink = (*RecordingSink)(nil)
	_ ports.MemoryService     = (*FakeMemory)(nil)
	_ ports.AuditSink         = (*RecordingAudit)(nil)
	_ ports.SecretsService    = PassthroughSecrets{}
	_ ports.ToolSink          = (*RecordingTool)(nil)
)
