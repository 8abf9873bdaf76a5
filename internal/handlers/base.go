// Package handlers executes selected actions: each member of the action set
// has a handler that performs the side effect, records the thought's final
// status, and spawns any follow-up thought.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/ports"
	"github.com/emooreatx/cirisagent/internal/registry"
)

// serviceWaitTimeout bounds how long a handler waits for a capability to
// appear in the registry before giving the round back.
const serviceWaitTimeout = 30 * time.Second

// ErrServiceNotReady marks a handler failure caused by a required service
// still missing after the bounded registry wait. The dispatcher leaves the
// thought's status untouched for this error so a later round can retry it.
var ErrServiceNotReady = errors.New("required service not ready")

// FollowUpCreationError marks a handler failure caused by the follow-up
// thought, not the action itself. The dispatcher fails the thought so the
// task does not silently stall.
type FollowUpCreationError struct {
	ThoughtID string
	Err       error
}

func (e *FollowUpCreationError) Error() string {
	return fmt.Sprintf("create follow-up for thought %s: %v", e.ThoughtID, e.Err)
}

func (e *FollowUpCreationError) Unwrap() error { return e.Err }

// Handler executes one action type for a thought.
type Handler interface {
	Handle(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error
}

// Base carries the plumbing every handler shares.
type Base struct {
	store       persistence.Store
	registry    *registry.Registry
	logger      logging.Logger
	waitTimeout time.Duration
}

// NewBase wires the shared handler plumbing.
func NewBase(store persistence.Store, reg *registry.Registry, logger logging.Logger) *Base {
	return &Base{store: store, registry: reg, logger: logging.OrNop(logger), waitTimeout: serviceWaitTimeout}
}

// service resolves a capability, waiting up to the base wait timeout for
// late registration. A service that never appears surfaces as
// ErrServiceNotReady, which the dispatcher treats as retryable.
func service[T any](ctx context.Context, b *Base, name string) (T, error) {
	var zero T
	if err := b.registry.WaitReady(ctx, name, b.waitTimeout); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrServiceNotReady, name, err)
	}
	svc, ok := registry.Get[T](b.registry, name)
	if !ok {
		return zero, fmt.Errorf("service %q has unexpected type", name)
	}
	return svc, nil
}

// audit records the action outcome; a missing audit sink only logs.
func (b *Base) audit(ctx context.Context, dctx model.DispatchContext, outcome string) {
	sink, ok := registry.Get[ports.AuditSink](b.registry, ports.CapabilityAudit)
	if !ok {
		b.logger.Debug("Handlers: no audit sink registered, skipping audit for %s", dctx.ThoughtID)
		return
	}
	auditCtx := map[string]any{
		"handler_name": dctx.HandlerName,
		"thought_id":   dctx.ThoughtID,
		"task_id":      dctx.TaskID,
		"channel_id":   dctx.ChannelID,
	}
	if err := sink.LogAction(ctx, string(dctx.ActionType), auditCtx, outcome); err != nil {
		b.logger.Warn("Handlers: audit write failed for %s: %v", dctx.ThoughtID, err)
	}
}

// completeThought marks the thought terminal with its final action. A
// thought that already reached a terminal status is left alone; re-dispatch
// of an already-handled thought must not double-fire.
func (b *Base) completeThought(ctx context.Context, thoughtID string, status model.ThoughtStatus, result *model.ActionSelectionResult) error {
	err := b.store.UpdateThoughtStatus(ctx, thoughtID, status, persistence.WithFinalAction(result))
	if errors.Is(err, persistence.ErrThoughtTerminal) {
		b.logger.Warn("Handlers: thought %s already terminal, skipping status write", thoughtID)
		return nil
	}
	return err
}

// followUp creates a follow-up thought on the same task. priorityDelta is
// applied to the parent thought's priority.
func (b *Base) followUp(ctx context.Context, parent model.Thought, thoughtType, content string, priorityDelta int) (*model.Thought, error) {
	now := time.Now().UTC()
	th := &model.Thought{
		ThoughtID:       ids.NewThoughtID(),
		SourceTaskID:    parent.SourceTaskID,
		ParentThoughtID: parent.ThoughtID,
		ThoughtType:     thoughtType,
		Content:         content,
		Context:         parent.Context,
		Status:          model.ThoughtPending,
		Priority:        parent.Priority + priorityDelta,
		RoundNumber:     parent.RoundNumber + 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := b.store.AddThought(ctx, th); err != nil {
		return nil, &FollowUpCreationError{ThoughtID: parent.ThoughtID, Err: err}
	}
	return th, nil
}

// correlate opens a pending correlation around a side effect.
func (b *Base) correlate(ctx context.Context, handlerName string, action model.HandlerAction, request any) string {
	raw, err := json.Marshal(request)
	if err != nil {
		raw = nil
	}
	now := time.Now().UTC()
	c := &model.Correlation{
		CorrelationID: ids.NewCorrelationID(),
		ServiceType:   handlerName,
		HandlerName:   handlerName,
		ActionType:    string(action),
		RequestData:   raw,
		Status:        model.CorrelationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := b.store.AddCorrelation(ctx, c); err != nil {
		b.logger.Warn("Handlers: correlation write failed: %v", err)
		return ""
	}
	return c.CorrelationID
}

// resolveCorrelation closes a correlation opened by correlate.
func (b *Base) resolveCorrelation(ctx context.Context, correlationID string, response any, status model.CorrelationStatus) {
	if correlationID == "" {
		return
	}
	raw, err := json.Marshal(response)
	if err != nil {
		raw = nil
	}
	if err := b.store.UpdateCorrelation(ctx, correlationID, raw, status); err != nil {
		b.logger.Warn("Handlers: correlation update failed: %v", err)
	}
}
