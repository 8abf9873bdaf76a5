package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/registry"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

// Dispatcher routes a final action to its handler. An optional action
// filter lets a processor state claim certain actions for itself (the wakeup
// processor handles SPEAK/PONDER completion semantics inline).
type Dispatcher struct {
	base     *Base
	handlers map[model.HandlerAction]Handler
	filter   map[model.HandlerAction]bool
	metrics  *telemetry.Collector
	logger   logging.Logger
}

// NewDispatcher builds a dispatcher with the full handler table.
func NewDispatcher(store persistence.Store, reg *registry.Registry, cfg config.AppConfig,
	metrics *telemetry.Collector, logger logging.Logger) *Dispatcher {
	logger = logging.OrNop(logger)
	base := NewBase(store, reg, logger)
	d := &Dispatcher{
		base:    base,
		metrics: metrics,
		logger:  logger,
	}
	deferHandler := &DeferHandler{base: base, deferralChannelID: cfg.Channels.DeferralChannelID}
	d.handlers = map[model.HandlerAction]Handler{
		model.ActionSpeak:        &SpeakHandler{base: base},
		model.ActionPonder:       &PonderHandler{base: base, deferHandler: deferHandler, maxPonderRounds: cfg.Workflow.MaxPonderRounds},
		model.ActionDefer:        deferHandler,
		model.ActionReject:       &RejectHandler{base: base},
		model.ActionObserve:      &ObserveHandler{base: base, contextLimit: cfg.Observer.PassiveContextLimit},
		model.ActionMemorize:     &MemorizeHandler{base: base},
		model.ActionRecall:       &RecallHandler{base: base},
		model.ActionForget:       &ForgetHandler{base: base},
		model.ActionTool:         &ToolHandler{base: base},
		model.ActionTaskComplete: &TaskCompleteHandler{base: base},
	}
	return d
}

// SetActionFilter restricts which actions this dispatcher executes; filtered
// actions return ErrFiltered so the caller can apply its own semantics.
// A nil filter (the default) accepts everything.
func (d *Dispatcher) SetActionFilter(actions ...model.HandlerAction) {
	if len(actions) == 0 {
		d.filter = nil
		return
	}
	d.filter = make(map[model.HandlerAction]bool, len(actions))
	for _, a := range actions {
		d.filter[a] = true
	}
}

// Filtered reports whether the dispatcher would refuse the action.
func (d *Dispatcher) Filtered(action model.HandlerAction) bool {
	return d.filter != nil && !d.filter[action]
}

// Dispatch executes the thought's final action. Unknown actions and handler
// errors fail the thought; a FollowUpCreationError also fails the thought
// even though the side effect itself succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, thought model.Thought, result *model.ActionSelectionResult, dctx model.DispatchContext) error {
	action := result.SelectedAction
	dctx.ActionType = action
	dctx.ThoughtID = thought.ThoughtID
	dctx.SourceTaskID = thought.SourceTaskID
	if dctx.TaskID == "" {
		dctx.TaskID = thought.SourceTaskID
	}
	if dctx.EventTimestamp.IsZero() {
		dctx.EventTimestamp = time.Now().UTC()
	}

	handler, ok := d.handlers[action]
	if !ok || d.Filtered(action) {
		d.logger.Error("Dispatcher: no handler for action %q, failing thought %s", action, thought.ThoughtID)
		d.metrics.RecordHandlerRun(ctx, string(action), "unhandled")
		return d.base.completeThought(ctx, thought.ThoughtID, model.ThoughtFailed, result)
	}
	dctx.HandlerName = handlerName(action)

	d.logger.Info("Dispatcher: %s handling thought %s (task %s)", dctx.HandlerName, thought.ThoughtID, thought.SourceTaskID)
	err := handler.Handle(ctx, thought, result, dctx)
	if err != nil {
		// A service that has not registered yet is a transient condition:
		// leave the thought alone and let a later round retry it.
		if errors.Is(err, ErrServiceNotReady) {
			d.metrics.RecordHandlerRun(ctx, string(action), "service_unavailable")
			d.logger.Warn("Dispatcher: %s cannot run thought %s yet: %v", dctx.HandlerName, thought.ThoughtID, err)
			return err
		}
		d.metrics.RecordHandlerRun(ctx, string(action), "error")
		d.logger.Error("Dispatcher: %s failed for thought %s: %v", dctx.HandlerName, thought.ThoughtID, err)
		if failErr := d.base.completeThought(ctx, thought.ThoughtID, model.ThoughtFailed, result); failErr != nil {
			d.logger.Error("Dispatcher: could not fail thought %s: %v", thought.ThoughtID, failErr)
		}
		return err
	}
	d.metrics.RecordHandlerRun(ctx, string(action), "ok")
	return nil
}

func handlerName(action model.HandlerAction) string {
	return string(action) + "_handler"
}
