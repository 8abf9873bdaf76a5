package processor

import (
	"context"

	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

// DefaultKeepAliveTaskID is the well-known monitor task the work processor
// keeps warm when nothing else is pending.
const DefaultKeepAliveTaskID = "job-discord-monitor"

// WorkProcessor is the steady-state processor: activate tasks, seed
// thoughts, drain the queue, and keep the pipeline warm with a job thought
// when everything is idle.
type WorkProcessor struct {
	engine          *Engine
	store           persistence.Store
	keepAliveTaskID string
	metrics         *telemetry.Collector
	logger          logging.Logger
}

// NewWorkProcessor builds the work processor. An empty keepAliveTaskID
// selects the default monitor task.
func NewWorkProcessor(engine *Engine, store persistence.Store, keepAliveTaskID string,
	metrics *telemetry.Collector, logger logging.Logger) *WorkProcessor {
	if keepAliveTaskID == "" {
		keepAliveTaskID = DefaultKeepAliveTaskID
	}
	return &WorkProcessor{
		engine:          engine,
		store:           store,
		keepAliveTaskID: keepAliveTaskID,
		metrics:         metrics,
		logger:          logging.OrNop(logger),
	}
}

// SupportedStates implements Processor.
func (p *WorkProcessor) SupportedStates() []AgentState {
	return []AgentState{StateWork, StatePlay, StateSolitude, StateDream}
}

// CanProcess implements Processor.
func (p *WorkProcessor) CanProcess(state AgentState) bool {
	for _, s := range p.SupportedStates() {
		if s == state {
			return true
		}
	}
	return false
}

// ProcessRound implements Processor: one full work round.
func (p *WorkProcessor) ProcessRound(ctx context.Context) error {
	round := p.engine.NextRound()
	p.metrics.RecordRound(ctx, string(StateWork))

	p.engine.ActivatePendingTasks(ctx)
	p.engine.SeedThoughts(ctx, round)

	queue, err := p.engine.BuildQueue(ctx)
	if err != nil {
		return err
	}
	if len(queue) == 0 {
		p.keepAlive(ctx, round)
		queue, err = p.engine.BuildQueue(ctx)
		if err != nil {
			return err
		}
	}
	if len(queue) == 0 {
		return nil
	}

	p.logger.Debug("Work: round %d processing %d thought(s)", round, len(queue))
	p.engine.RunQueue(ctx, queue, round)
	return nil
}

// keepAlive injects one job thought on the monitor task when the queue is
// empty and the monitor task has no live thought of its own.
func (p *WorkProcessor) keepAlive(ctx context.Context, round int) {
	task, err := p.store.GetTask(ctx, p.keepAliveTaskID)
	if err != nil {
		return
	}
	if task.Status != model.TaskActive {
		return
	}
	siblings, err := p.store.GetThoughtsByTaskID(ctx, p.keepAliveTaskID)
	if err != nil {
		p.logger.Warn("Work: keep-alive sibling check: %v", err)
		return
	}
	for _, th := range siblings {
		if th.Status == model.ThoughtPending || th.Status == model.ThoughtProcessing {
			return
		}
	}
	th := &model.Thought{
		ThoughtID:    ids.NewThoughtID(),
		SourceTaskID: p.keepAliveTaskID,
		ThoughtType:  model.ThoughtTypeJob,
		Content:      "Check for new activity on monitored channels and decide whether anything needs attention.",
		Status:       model.ThoughtPending,
		RoundNumber:  round,
		Context: model.ThoughtContext{
			ChannelID:     task.Context.ChannelID,
			OriginService: task.Context.OriginService,
		},
	}
	if err := p.store.AddThought(ctx, th); err != nil {
		p.logger.Warn("Work: keep-alive thought creation: %v", err)
		return
	}
	p.logger.Debug("Work: created keep-alive job thought %s", th.ThoughtID)
}
