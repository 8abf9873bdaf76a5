package adapters

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/emooreatx/cirisagent/internal/ports"
)

// JSONLinesAudit appends one JSON object per audited action to a writer,
// typically a log file. Writes are serialized; a failed write surfaces to
// the caller, which logs and continues.
type JSONLinesAudit struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewJSONLinesAudit builds an audit sink over out.
func NewJSONLinesAudit(out io.Writer) *JSONLinesAudit {
	return &JSONLinesAudit{out: out, now: func() time.Time { return time.Now().UTC() }}
}

type auditEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	ActionType string         `json:"action_type"`
	Outcome    string         `json:"outcome"`
	Context    map[string]any `json:"context,omitempty"`
}

// LogAction implements ports.AuditSink.
func (a *JSONLinesAudit) LogAction(_ context.Context, actionType string, auditCtx map[string]any, outcome string) error {
	line, err := json.Marshal(auditEntry{
		Timestamp:  a.now(),
		ActionType: actionType,
		Outcome:    outcome,
		Context:    auditCtx,
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.out.Write(append(line, '\n'))
	return err
}

var _ ports.AuditSink = (*JSONLinesAudit)(nil)
