package processor

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/handlers"
	"github.com/emooreatx/cirisagent/internal/ids"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
	"github.com/emooreatx/cirisagent/internal/pipeline"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

// Engine owns the round mechanics every state processor shares: the round
// counter, seed-thought creation, the bounded processing queue, and the
// pipeline-then-dispatch run over that queue.
type Engine struct {
	store      persistence.Store
	thoughts   *pipeline.ThoughtProcessor
	dispatcher *handlers.Dispatcher
	workflow   config.WorkflowConfig
	metrics    *telemetry.Collector
	logger     logging.Logger

	round atomic.Int64
}

// NewEngine assembles the shared round engine.
func NewEngine(store persistence.Store, thoughts *pipeline.ThoughtProcessor, dispatcher *handlers.Dispatcher,
	workflow config.WorkflowConfig, metrics *telemetry.Collector, logger logging.Logger) *Engine {
	return &Engine{
		store:      store,
		thoughts:   thoughts,
		dispatcher: dispatcher,
		workflow:   workflow,
		metrics:    metrics,
		logger:     logging.OrNop(logger),
	}
}

// NextRound advances and returns the round counter.
func (e *Engine) NextRound() int {
	return int(e.round.Add(1))
}

// Round returns the current round number without advancing it.
func (e *Engine) Round() int {
	return int(e.round.Load())
}

// ActivatePendingTasks promotes PENDING tasks to ACTIVE up to the configured
// cap. Returns how many tasks were activated.
func (e *Engine) ActivatePendingTasks(ctx context.Context) int {
	active, err := e.store.CountTasks(ctx, model.TaskActive)
	if err != nil {
		e.logger.Warn("Engine: count active tasks: %v", err)
		return 0
	}
	budget := e.workflow.MaxActiveTasks - active
	if budget <= 0 {
		return 0
	}
	pending, err := e.store.GetPendingTasksForActivation(ctx, budget)
	if err != nil {
		e.logger.Warn("Engine: fetch pending tasks: %v", err)
		return 0
	}
	activated := 0
	for _, task := range pending {
		if err := e.store.UpdateTaskStatus(ctx, task.TaskID, model.TaskActive); err != nil {
			e.logger.Warn("Engine: activate task %s: %v", task.TaskID, err)
			continue
		}
		activated++
	}
	if activated > 0 {
		e.logger.Info("Engine: activated %d pending task(s)", activated)
	}
	return activated
}

// SeedThoughts creates the initial thought for every ACTIVE task that has no
// non-terminal thought yet. Returns how many seeds were created.
func (e *Engine) SeedThoughts(ctx context.Context, round int) int {
	tasks, err := e.store.GetTasksNeedingSeedThought(ctx, e.workflow.MaxActiveTasks)
	if err != nil {
		e.logger.Warn("Engine: fetch tasks needing seed: %v", err)
		return 0
	}
	seeded := 0
	for _, task := range tasks {
		th := SeedThoughtForTask(task, round)
		if err := e.store.AddThought(ctx, th); err != nil {
			e.logger.Warn("Engine: seed thought for task %s: %v", task.TaskID, err)
			continue
		}
		seeded++
	}
	return seeded
}

// SeedThoughtForTask builds (without persisting) the seed thought for a task,
// copying the channel/author facts the pipeline will need.
func SeedThoughtForTask(task *model.Task, round int) *model.Thought {
	return &model.Thought{
		ThoughtID:    ids.NewThoughtID(),
		SourceTaskID: task.TaskID,
		ThoughtType:  model.ThoughtTypeSeed,
		Content:      fmt.Sprintf("Initial seed thought for task: %s", task.Description),
		Status:       model.ThoughtPending,
		Priority:     task.Priority,
		RoundNumber:  round,
		Context: model.ThoughtContext{
			ChannelID:          task.Context.ChannelID,
			AuthorID:           task.Context.AuthorID,
			AuthorName:         task.Context.AuthorName,
			OriginService:      task.Context.OriginService,
			InitialTaskContext: &task.Context,
		},
	}
}

// BuildQueue returns at most max_active_thoughts pending thoughts of ACTIVE
// tasks. Pending memory-meta thoughts preempt everything else: when any
// exist, the round processes only them.
func (e *Engine) BuildQueue(ctx context.Context) ([]*model.Thought, error) {
	queue, err := e.store.GetPendingThoughtsForActiveTasks(ctx, e.workflow.MaxActiveThoughts)
	if err != nil {
		return nil, fmt.Errorf("build processing queue: %w", err)
	}
	var meta []*model.Thought
	for _, th := range queue {
		if th.ThoughtType == model.ThoughtTypeMemoryMeta {
			meta = append(meta, th)
		}
	}
	if len(meta) > 0 {
		e.logger.Info("Engine: %d memory-meta thought(s) preempt the round", len(meta))
		return meta, nil
	}
	return queue, nil
}

// RunQueue marks every queued thought PROCESSING and runs the pipeline over
// the queue concurrently, dispatching each terminal result. Per-thought
// failures are logged and do not abort the round.
func (e *Engine) RunQueue(ctx context.Context, queue []*model.Thought, round int) {
	var marked []*model.Thought
	for _, th := range queue {
		if err := e.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtProcessing,
			persistence.WithRoundProcessed(round)); err != nil {
			e.logger.Warn("Engine: mark thought %s processing: %v", th.ThoughtID, err)
			continue
		}
		th.Status = model.ThoughtProcessing
		th.RoundProcessed = round
		marked = append(marked, th)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, th := range marked {
		th := th
		g.Go(func() error {
			if _, err := e.ProcessOne(gctx, *th, round); err != nil {
				e.logger.Error("Engine: thought %s failed in round %d: %v", th.ThoughtID, round, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, th := range marked {
		e.CheckTaskCompletion(ctx, th.SourceTaskID)
	}
}

// ProcessOne runs a single thought through the pipeline and dispatches the
// result. A nil action with nil error means the pipeline finished the thought
// internally (memory-meta fast path).
func (e *Engine) ProcessOne(ctx context.Context, th model.Thought, round int) (*model.ActionSelectionResult, error) {
	out, err := e.thoughts.Process(ctx, th)
	if err != nil {
		if failErr := e.store.UpdateThoughtStatus(ctx, th.ThoughtID, model.ThoughtFailed); failErr != nil {
			e.logger.Warn("Engine: could not fail thought %s: %v", th.ThoughtID, failErr)
		}
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	dctx := model.DispatchContext{
		ChannelID:     out.ChannelID,
		AuthorID:      th.Context.AuthorID,
		AuthorName:    th.Context.AuthorName,
		OriginService: th.Context.OriginService,
		CorrelationID: ids.NewCorrelationID(),
		RoundNumber:   round,
	}
	if out.Guardrail.Overridden {
		g := out.Guardrail
		dctx.GuardrailResult = &g
	}
	if err := e.dispatcher.Dispatch(ctx, th, out.Result, dctx); err != nil {
		return out.Result, err
	}
	return out.Result, nil
}

// CheckTaskCompletion completes an ACTIVE task once no PENDING or PROCESSING
// thought remains for it.
func (e *Engine) CheckTaskCompletion(ctx context.Context, taskID string) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil || task.Status != model.TaskActive {
		return
	}
	siblings, err := e.store.GetThoughtsByTaskID(ctx, taskID)
	if err != nil {
		e.logger.Warn("Engine: completion check for task %s: %v", taskID, err)
		return
	}
	for _, th := range siblings {
		if th.Status == model.ThoughtPending || th.Status == model.ThoughtProcessing {
			return
		}
	}
	if err := e.store.UpdateTaskStatus(ctx, taskID, model.TaskCompleted); err != nil {
		e.logger.Warn("Engine: complete task %s: %v", taskID, err)
		return
	}
	e.logger.Info("Engine: task %s completed (no live thoughts remain)", taskID)
}
