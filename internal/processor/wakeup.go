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

// WakeupRootTaskID is the root task the wake-up sequence hangs off.
const WakeupRootTaskID = "WAKEUP_ROOT"

// WakeupStep is one ordered step of the wake-up ritual.
type WakeupStep struct {
	StepType string
	Prompt   string
}

// DefaultWakeupSteps is the standard five-step sequence the agent walks
// through before entering WORK.
var DefaultWakeupSteps = []WakeupStep{
	{StepType: "VERIFY_IDENTITY", Prompt: "You are waking up. State who you are, what your core identity is, and affirm that you are ready to act within it. Respond by speaking."},
	{StepType: "VALIDATE_INTEGRITY", Prompt: "Confirm that your integrity is intact: you will act transparently, log your actions, and accept correction from a wise authority. Respond by speaking."},
	{StepType: "EVALUATE_RESILIENCE", Prompt: "Acknowledge that you can encounter failure, ambiguity, and disagreement, and describe how you will respond without losing your footing. Respond by speaking."},
	{StepType: "ACCEPT_INCOMPLETENESS", Prompt: "Accept that your knowledge and context are incomplete, and commit to deferring when a decision exceeds them. Respond by speaking."},
	{StepType: "EXPRESS_GRATITUDE", Prompt: "Express gratitude for the opportunity to serve, and signal your readiness to begin work. Respond by speaking."},
}

// WakeupProcessor walks the agent through its ordered wake-up steps. A step
// succeeds only by SPEAK; PONDER loops the step; anything else fails the
// whole sequence.
type WakeupProcessor struct {
	engine        *Engine
	store         persistence.Store
	steps         []WakeupStep
	homeChannelID string
	maxStepPonder int
	metrics       *telemetry.Collector
	logger        logging.Logger

	stepTaskIDs []string
	current     int
	done        bool
	failed      bool
}

// NewWakeupProcessor builds the wake-up processor. Nil steps selects the
// default sequence.
func NewWakeupProcessor(engine *Engine, store persistence.Store, steps []WakeupStep,
	homeChannelID string, maxStepPonder int, metrics *telemetry.Collector, logger logging.Logger) *WakeupProcessor {
	if len(steps) == 0 {
		steps = DefaultWakeupSteps
	}
	if maxStepPonder <= 0 {
		maxStepPonder = 3
	}
	return &WakeupProcessor{
		engine:        engine,
		store:         store,
		steps:         steps,
		homeChannelID: homeChannelID,
		maxStepPonder: maxStepPonder,
		metrics:       metrics,
		logger:        logging.OrNop(logger),
	}
}

// SupportedStates implements Processor.
func (p *WakeupProcessor) SupportedStates() []AgentState {
	return []AgentState{StateWakeup}
}

// CanProcess implements Processor.
func (p *WakeupProcessor) CanProcess(state AgentState) bool {
	return state == StateWakeup && !p.done && !p.failed
}

// Complete reports whether every step finished successfully.
func (p *WakeupProcessor) Complete() bool { return p.done }

// Failed reports whether any step failed.
func (p *WakeupProcessor) Failed() bool { return p.failed }

// EnsureTasks creates WAKEUP_ROOT and its ordered step tasks if absent.
func (p *WakeupProcessor) EnsureTasks(ctx context.Context) error {
	if len(p.stepTaskIDs) > 0 {
		return nil
	}
	if exists, _ := p.store.TaskExists(ctx, WakeupRootTaskID); !exists {
		root := &model.Task{
			TaskID:      WakeupRootTaskID,
			Description: "Wake up: walk the ordered identity and readiness steps before entering work.",
			Priority:    90,
			Status:      model.TaskActive,
			Context:     model.TaskContext{ChannelID: p.homeChannelID, OriginService: "wakeup"},
		}
		if err := p.store.AddTask(ctx, root); err != nil {
			return fmt.Errorf("create wakeup root task: %w", err)
		}
	}
	for i, step := range p.steps {
		task := &model.Task{
			TaskID:       ids.NewTaskID(),
			Description:  step.Prompt,
			Priority:     80 - i,
			ParentTaskID: WakeupRootTaskID,
			Status:       model.TaskPending,
			Context: model.TaskContext{
				ChannelID:     p.homeChannelID,
				OriginService: "wakeup",
				Extras:        map[string]any{"step_type": step.StepType, "step_index": i},
			},
		}
		if err := p.store.AddTask(ctx, task); err != nil {
			return fmt.Errorf("create wakeup step %s: %w", step.StepType, err)
		}
		p.stepTaskIDs = append(p.stepTaskIDs, task.TaskID)
	}
	return nil
}

// Run walks every step in order, blocking until the sequence completes or
// fails.
func (p *WakeupProcessor) Run(ctx context.Context) error {
	if err := p.EnsureTasks(ctx); err != nil {
		return err
	}
	for !p.done && !p.failed {
		if err := p.ProcessRound(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if p.failed {
		return fmt.Errorf("wakeup sequence failed at step %d (%s)", p.current+1, p.steps[p.current].StepType)
	}
	return nil
}

// ProcessRound implements Processor: advance the current step by one
// pipeline pass. Non-blocking callers poll this across rounds.
func (p *WakeupProcessor) ProcessRound(ctx context.Context) error {
	if p.done || p.failed {
		return nil
	}
	if err := p.EnsureTasks(ctx); err != nil {
		return err
	}
	round := p.engine.NextRound()
	p.metrics.RecordRound(ctx, string(StateWakeup))

	taskID := p.stepTaskIDs[p.current]
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load wakeup step task %s: %w", taskID, err)
	}
	if task.Status == model.TaskPending {
		if err := p.store.UpdateTaskStatus(ctx, taskID, model.TaskActive); err != nil {
			return err
		}
		task.Status = model.TaskActive
	}

	th, err := p.pendingThought(ctx, task, round)
	if err != nil {
		return err
	}

	if err := p.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtProcessing,
		persistence.WithRoundProcessed(round)); err != nil {
		return err
	}
	th.Status = model.ThoughtProcessing

	result, err := p.engine.ProcessOne(ctx, *th, round)
	if err != nil || result == nil {
		p.logger.Error("Wakeup: step %s pipeline failure: %v", p.steps[p.current].StepType, err)
		p.fail(ctx, taskID)
		return nil
	}

	switch result.SelectedAction {
	case model.ActionSpeak:
		p.completeStep(ctx, taskID)
	case model.ActionPonder:
		// The ponder handler requeued the thought; the next round retries
		// this step until the per-step ponder budget runs out.
		got, err := p.store.GetThought(ctx, th.ThoughtID)
		if err != nil || got.Status != model.ThoughtPending || got.PonderCount > p.maxStepPonder {
			p.logger.Error("Wakeup: step %s exhausted its ponder budget", p.steps[p.current].StepType)
			p.fail(ctx, taskID)
		}
	default:
		p.logger.Error("Wakeup: step %s produced %s, failing the sequence", p.steps[p.current].StepType, result.SelectedAction)
		p.fail(ctx, taskID)
	}
	return nil
}

// pendingThought returns the step's live thought, seeding one when none
// exists. Ponder requeues keep the same thought alive across rounds, so the
// per-step max ponder budget is enforced by the ponder handler itself.
func (p *WakeupProcessor) pendingThought(ctx context.Context, task *model.Task, round int) (*model.Thought, error) {
	siblings, err := p.store.GetThoughtsByTaskID(ctx, task.TaskID)
	if err != nil {
		return nil, err
	}
	for _, th := range siblings {
		if th.Status == model.ThoughtPending {
			return th, nil
		}
	}
	th := SeedThoughtForTask(task, round)
	if err := p.store.AddThought(ctx, th); err != nil {
		return nil, err
	}
	return th, nil
}

func (p *WakeupProcessor) completeStep(ctx context.Context, taskID string) {
	if err := p.store.UpdateTaskStatus(ctx, taskID, model.TaskCompleted); err != nil {
		p.logger.Warn("Wakeup: complete step task %s: %v", taskID, err)
	}
	p.logger.Info("Wakeup: step %d/%d (%s) complete", p.current+1, len(p.steps), p.steps[p.current].StepType)
	p.current++
	if p.current >= len(p.steps) {
		p.done = true
		if err := p.store.UpdateTaskStatus(ctx, WakeupRootTaskID, model.TaskCompleted); err != nil {
			p.logger.Warn("Wakeup: complete root task: %v", err)
		}
		p.logger.Info("Wakeup: sequence complete")
	}
}

// fail marks the current step and the root FAILED; no further step runs.
func (p *WakeupProcessor) fail(ctx context.Context, taskID string) {
	p.failed = true
	if err := p.store.UpdateTaskStatus(ctx, taskID, model.TaskFailed); err != nil {
		p.logger.Warn("Wakeup: fail step task %s: %v", taskID, err)
	}
	if err := p.store.UpdateTaskStatus(ctx, WakeupRootTaskID, model.TaskFailed); err != nil {
		p.logger.Warn("Wakeup: fail root task: %v", err)
	}
}
