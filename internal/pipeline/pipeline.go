// Package pipeline turns one PENDING thought into a guardrail-vetted final
// action: context build, parallel initial DMAs, action selection, and the
// guardrail stage with a single re-selection pass.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/dma"
	"github.com/emooreatx/cirisagent/internal/guardrails"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/ports"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

// Outcome is the pipeline's verdict for one thought.
type Outcome struct {
	Result    *model.ActionSelectionResult
	Guardrail model.GuardrailResult
	ChannelID string
}

// ThoughtProcessor runs the cognitive pipeline for single thoughts.
type ThoughtProcessor struct {
	store     persistence.Store
	dmas      *dma.Executor
	guards    *guardrails.Guardrails
	snapshots *SnapshotBuilder
	memory    ports.MemoryService
	profile   config.AgentProfile
	workflow  config.WorkflowConfig
	channels  config.ChannelsConfig
	agentMode string
	metrics   *telemetry.Collector
	logger    logging.Logger
}

// SetMemoryService wires the memory service used for the memory-meta fast
// path. Without one, memory-meta thoughts flow through the full pipeline.
func (p *ThoughtProcessor) SetMemoryService(m ports.MemoryService) {
	p.memory = m
}

// NewThoughtProcessor assembles the pipeline stages.
func NewThoughtProcessor(store persistence.Store, dmas *dma.Executor, guards *guardrails.Guardrails,
	snapshots *SnapshotBuilder, cfg config.AppConfig, profile config.AgentProfile,
	metrics *telemetry.Collector, logger logging.Logger) *ThoughtProcessor {
	return &ThoughtProcessor{
		store:     store,
		dmas:      dmas,
		guards:    guards,
		snapshots: snapshots,
		profile:   profile,
		workflow:  cfg.Workflow,
		channels:  cfg.Channels,
		agentMode: cfg.AgentMode,
		metrics:   metrics,
		logger:    logging.OrNop(logger),
	}
}

// permittedActions converts the profile's action names, ignoring unknowns.
func (p *ThoughtProcessor) permittedActions() []model.HandlerAction {
	if len(p.profile.PermittedActions) == 0 {
		return nil
	}
	var actions []model.HandlerAction
	for _, name := range p.profile.PermittedActions {
		a := model.HandlerAction(name)
		if a.IsValid() {
			actions = append(actions, a)
		} else {
			p.logger.Warn("Pipeline: profile %s permits unknown action %q, ignoring", p.profile.Name, name)
		}
	}
	return actions
}

// Process evaluates one thought end to end and returns its final action.
// The error return is reserved for infrastructure failures (store access);
// evaluation failures become DEFER results instead, so a thought always
// resolves to a dispatchable action when the store is healthy.
func (p *ThoughtProcessor) Process(ctx context.Context, thought model.Thought) (*Outcome, error) {
	started := time.Now()
	defer func() {
		p.metrics.RecordPipelineDuration(ctx, time.Since(started).Seconds())
	}()

	// The queued copy can be stale: reload so status and ponder mutations
	// that landed between enqueue and processing are what gets evaluated.
	fresh, err := p.store.GetThought(ctx, thought.ThoughtID)
	if err != nil {
		return nil, fmt.Errorf("reload thought %s: %w", thought.ThoughtID, err)
	}
	if fresh.Status.IsTerminal() {
		p.logger.Info("Pipeline: thought %s already %s, skipping", fresh.ThoughtID, fresh.Status)
		return nil, nil
	}
	thought = *fresh

	task, err := p.store.GetTask(ctx, thought.SourceTaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s for thought %s: %w", thought.SourceTaskID, thought.ThoughtID, err)
	}

	channelID := ResolveChannelID(task, thought, p.channels.HomeChannelID, p.agentMode)
	snap := p.snapshots.Build(ctx, thought, task, channelID)

	in := dma.Input{
		Thought:           thought,
		Task:              task,
		ProcessingContext: RenderSnapshot(snap),
		Profile:           p.profile,
	}

	initial := p.dmas.RunInitial(ctx, in)
	if initial.CriticalFailure() {
		p.logger.Error("Pipeline: initial DMAs failed for thought %s (%s), deferring", thought.ThoughtID, initial.FailedDMAs())
		deferCtx := make(map[string]any, len(initial.Errors))
		for name, msg := range initial.Errors {
			deferCtx[name] = msg
		}
		result := model.MustActionResult(model.ActionDefer, model.DeferParams{
			Reason:  fmt.Sprintf("initial evaluation failed: %s", initial.FailedDMAs()),
			Context: map[string]any{"dma_errors": deferCtx},
		}, "DMA failure fallback")
		return &Outcome{Result: result, ChannelID: channelID}, nil
	}

	permitted := p.permittedActions()
	selIn := dma.SelectionInput{
		Input:            in,
		InitialResults:   initial,
		PermittedActions: permitted,
	}
	selected, err := p.dmas.RunActionSelection(ctx, selIn)
	if err != nil {
		p.logger.Error("Pipeline: action selection failed for thought %s, deferring: %v", thought.ThoughtID, err)
		result := model.MustActionResult(model.ActionDefer, model.DeferParams{
			Reason: fmt.Sprintf("action selection failed: %v", err),
		}, "selection failure fallback")
		return &Outcome{Result: result, ChannelID: channelID}, nil
	}

	// Memory-meta thoughts are internal bookkeeping: apply the memory
	// operation directly and finish the thought without dispatch.
	if thought.ThoughtType == model.ThoughtTypeMemoryMeta && p.memory != nil {
		return nil, p.applyMemoryMeta(ctx, thought, selected, channelID)
	}

	// TASK_COMPLETE is a pure status transition with no outward side effect;
	// it never needs a guardrail pass.
	if selected.SelectedAction == model.ActionTaskComplete {
		return &Outcome{Result: selected, ChannelID: channelID}, nil
	}

	final, info := p.guards.Check(ctx, thought, selected, permitted, p.workflow.MaxPonderRounds)

	// One recursive re-selection when the guardrail downgraded to PONDER:
	// give the selector a chance to produce a passing action before the
	// thought burns a ponder round.
	if info.Overridden && final.SelectedAction == model.ActionPonder {
		retryIn := selIn
		retryIn.RetryGuidance = fmt.Sprintf(
			"Your previous choice (%s) was rejected: %s. Choose a different action or improve the content.",
			info.OriginalAction.SelectedAction, info.OverrideReason)

		reselected, err := p.dmas.RunActionSelection(ctx, retryIn)
		if err == nil {
			refinal, reinfo := p.guards.Check(ctx, thought, reselected, permitted, p.workflow.MaxPonderRounds)
			if !reinfo.Overridden {
				return &Outcome{Result: refinal, Guardrail: reinfo, ChannelID: channelID}, nil
			}
			// Second override stands; no further recursion.
			final, info = refinal, reinfo
		} else {
			p.logger.Warn("Pipeline: re-selection failed for thought %s, keeping override: %v", thought.ThoughtID, err)
		}
	}

	return &Outcome{Result: final, Guardrail: info, ChannelID: channelID}, nil
}

// applyMemoryMeta performs one memory write and completes the thought. The
// key and metadata come from the selector's memorize params when it produced
// them, otherwise from the thought's own context (author nick plus extras).
// Memory failures are logged, not retried: a stuck meta thought would
// otherwise clog the queue it was meant to drain.
func (p *ThoughtProcessor) applyMemoryMeta(ctx context.Context, thought model.Thought, selected *model.ActionSelectionResult, channelID string) error {
	key := thought.Context.AuthorName
	meta := thought.Context.Extras
	if selected.SelectedAction == model.ActionMemorize {
		if params, err := selected.MemorizeParams(); err == nil && params.Key != "" {
			key = params.Key
			meta = map[string]any{"value": params.Value, "scope": string(params.Scope)}
		}
	}
	if key == "" {
		p.logger.Warn("Pipeline: memory-meta thought %s has no memorize key, skipping write", thought.ThoughtID)
	} else if err := p.memory.Memorize(ctx, key, channelID, meta, thought.Context.IsWACorrection); err != nil {
		p.logger.Error("Pipeline: memory-meta memorize %q failed: %v", key, err)
	}
	if err := p.store.UpdateThoughtStatus(ctx, thought.ThoughtID, model.ThoughtCompleted,
		persistence.WithFinalAction(selected)); err != nil {
		return fmt.Errorf("complete memory-meta thought %s: %w", thought.ThoughtID, err)
	}
	return nil
}
