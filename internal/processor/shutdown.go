package processor

import (
	"context"
	"fmt"

	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

// ShutdownOutcome classifies how the agent answered a shutdown request.
type ShutdownOutcome string

const (
	ShutdownAccepted ShutdownOutcome = "accepted"
	ShutdownRejected ShutdownOutcome = "rejected"
	ShutdownError    ShutdownOutcome = "error"
)

// ShutdownProcessor asks the agent to acknowledge a shutdown through the
// normal pipeline: one high-priority task, one seed thought, one verdict.
type ShutdownProcessor struct {
	engine  *Engine
	store   persistence.Store
	metrics *telemetry.Collector
	logger  logging.Logger

	taskID string
}

// NewShutdownProcessor builds the shutdown processor.
func NewShutdownProcessor(engine *Engine, store persistence.Store,
	metrics *telemetry.Collector, logger logging.Logger) *ShutdownProcessor {
	return &ShutdownProcessor{
		engine:  engine,
		store:   store,
		metrics: metrics,
		logger:  logging.OrNop(logger),
	}
}

// SupportedStates implements Processor.
func (p *ShutdownProcessor) SupportedStates() []AgentState {
	return []AgentState{StateShutdown}
}

// CanProcess implements Processor.
func (p *ShutdownProcessor) CanProcess(state AgentState) bool {
	return state == StateShutdown
}

// ProcessRound implements Processor. The runtime normally calls Run instead;
// ProcessRound exists so the shutdown state fits the shared round loop.
func (p *ShutdownProcessor) ProcessRound(ctx context.Context) error {
	if p.taskID == "" {
		return fmt.Errorf("shutdown round without a shutdown task; call Run")
	}
	round := p.engine.NextRound()
	p.metrics.RecordRound(ctx, string(StateShutdown))
	queue, err := p.engine.BuildQueue(ctx)
	if err != nil {
		return err
	}
	p.engine.RunQueue(ctx, queue, round)
	return nil
}

// Run creates the shutdown task, processes its seed thought, and classifies
// the result.
func (p *ShutdownProcessor) Run(ctx context.Context, sctx model.ShutdownContext) (ShutdownOutcome, string, error) {
	task := &model.Task{
		TaskID:      "shutdown_" + ids.NewTaskID(),
		Description: fmt.Sprintf("Shutdown requested: %s (initiated by %s). Acknowledge with task_complete, or reject with a reason if shutting down now would be wrong.", sctx.Reason, sctx.InitiatedBy),
		Priority:    100,
		Status:      model.TaskActive,
		Context: model.TaskContext{
			OriginService: "shutdown",
			Extras: map[string]any{
				"shutdown_context": sctx,
			},
		},
	}
	if err := p.store.AddTask(ctx, task); err != nil {
		return ShutdownError, "", fmt.Errorf("create shutdown task: %w", err)
	}
	p.taskID = task.TaskID
	p.logger.Info("Shutdown: created negotiation task %s (reason: %s)", task.TaskID, sctx.Reason)

	round := p.engine.NextRound()
	p.metrics.RecordRound(ctx, string(StateShutdown))

	th := SeedThoughtForTask(task, round)
	if err := p.store.AddThought(ctx, th); err != nil {
		return ShutdownError, "", fmt.Errorf("seed shutdown thought: %w", err)
	}
	if err := p.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtProcessing,
		persistence.WithRoundProcessed(round)); err != nil {
		return ShutdownError, "", err
	}
	th.Status = model.ThoughtProcessing

	if _, err := p.engine.ProcessOne(ctx, *th, round); err != nil {
		p.logger.Error("Shutdown: negotiation thought failed: %v", err)
	}
	p.engine.CheckTaskCompletion(ctx, task.TaskID)

	return p.classify(ctx, task.TaskID, th.ThoughtID)
}

// classify maps the task and final-thought outcome onto the three shutdown
// verdicts. The reason string is only meaningful for a rejection.
func (p *ShutdownProcessor) classify(ctx context.Context, taskID, thoughtID string) (ShutdownOutcome, string, error) {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return ShutdownError, "", err
	}
	switch task.Status {
	case model.TaskCompleted:
		return ShutdownAccepted, "", nil
	case model.TaskFailed, model.TaskRejected:
		th, err := p.store.GetThought(ctx, thoughtID)
		if err != nil {
			return ShutdownError, "", err
		}
		final, err := th.DecodeFinalAction()
		if err != nil || final == nil {
			return ShutdownError, "", nil
		}
		if final.SelectedAction == model.ActionReject {
			reason := ""
			if params, perr := final.RejectParams(); perr == nil {
				reason = params.Reason
			}
			p.logger.Warn("Shutdown: agent rejected shutdown: %s", reason)
			return ShutdownRejected, reason, nil
		}
		return ShutdownError, "", nil
	default:
		// DEFER and everything non-terminal: the agent keeps running.
		return ShutdownError, fmt.Sprintf("shutdown task ended in status %s", task.Status), nil
	}
}
