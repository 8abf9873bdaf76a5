package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emooreatx/cirisagent/internal/config"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/persistence"
)

// DefaultStopGrace bounds how long Stop waits for the loop to drain before
// cancelling it hard.
const DefaultStopGrace = 10 * time.Second

// Runtime sequences the lifecycle: WAKEUP once, then WORK rounds until a
// stop signal or an accepted shutdown.
type Runtime struct {
	store    persistence.Store
	wakeup   *WakeupProcessor
	work     *WorkProcessor
	shutdown *ShutdownProcessor
	workflow config.WorkflowConfig
	logger   logging.Logger

	mu     sync.Mutex
	state  AgentState
	cancel context.CancelFunc

	// roundMu serializes pipeline ownership: the work loop holds it for the
	// duration of a round, a shutdown request holds it while the shutdown
	// processor runs. Exactly one processor drives the pipeline at a time.
	roundMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRuntime wires the per-state processors into one lifecycle.
func NewRuntime(store persistence.Store, wakeup *WakeupProcessor, work *WorkProcessor,
	shutdown *ShutdownProcessor, workflow config.WorkflowConfig, logger logging.Logger) *Runtime {
	return &Runtime{
		store:    store,
		wakeup:   wakeup,
		work:     work,
		shutdown: shutdown,
		workflow: workflow,
		logger:   logging.OrNop(logger),
		state:    StateShutdown,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (r *Runtime) State() AgentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) setState(s AgentState) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	if prev != s {
		r.logger.Info("Runtime: state %s -> %s", prev, s)
	}
}

// Start runs the lifecycle until the context ends, Stop is called, or the
// wake-up sequence fails. It blocks; callers run it on its own goroutine.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()
	defer close(r.done)

	if n, err := r.store.MarkStaleProcessing(ctx, "orphaned by restart"); err != nil {
		r.logger.Warn("Runtime: stale-thought sweep failed: %v", err)
	} else if n > 0 {
		r.logger.Info("Runtime: failed %d thought(s) orphaned by a previous run", n)
	}

	r.setState(StateWakeup)
	if err := r.wakeup.Run(ctx); err != nil {
		r.setState(StateShutdown)
		return fmt.Errorf("wakeup: %w", err)
	}

	r.setState(StateWork)
	delay := r.workflow.RoundDelay()
	for {
		select {
		case <-ctx.Done():
			r.setState(StateShutdown)
			return nil
		case <-r.stop:
			r.setState(StateShutdown)
			return nil
		default:
		}
		r.runWorkRound(ctx)
		select {
		case <-ctx.Done():
			r.setState(StateShutdown)
			return nil
		case <-r.stop:
			r.setState(StateShutdown)
			return nil
		case <-time.After(delay):
		}
	}
}

// runWorkRound executes one work round unless another processor owns the
// pipeline. The state re-check under roundMu closes the window between a
// shutdown request and a round that was about to start.
func (r *Runtime) runWorkRound(ctx context.Context) {
	if r.State() != StateWork {
		return
	}
	r.roundMu.Lock()
	defer r.roundMu.Unlock()
	if r.State() != StateWork {
		return
	}
	if err := r.work.ProcessRound(ctx); err != nil {
		r.logger.Error("Runtime: work round failed: %v", err)
	}
}

// Stop signals the loop and waits up to grace for it to drain; on timeout it
// cancels hard. A zero grace selects the default. Handlers in flight finish;
// only the next round is prevented.
func (r *Runtime) Stop(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
		return nil
	case <-time.After(grace):
	}
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case <-r.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("processing loop did not stop within %s", 2*grace)
	}
}

// RequestShutdown negotiates a shutdown through the pipeline. An accepted
// verdict stops the loop; a rejected one leaves the agent running. The state
// flip plus the roundMu acquisition make the work loop skip its rounds and
// drain the in-flight one before the shutdown processor takes the pipeline.
func (r *Runtime) RequestShutdown(ctx context.Context, sctx model.ShutdownContext) (ShutdownOutcome, string, error) {
	prev := r.State()
	r.setState(StateShutdown)
	r.roundMu.Lock()
	defer r.roundMu.Unlock()
	outcome, reason, err := r.shutdown.Run(ctx, sctx)
	if err != nil {
		r.setState(prev)
		return outcome, reason, err
	}
	switch outcome {
	case ShutdownAccepted:
		r.stopOnce.Do(func() { close(r.stop) })
	case ShutdownRejected:
		if !sctx.IsTerminal {
			r.setState(prev)
		}
	default:
		r.setState(prev)
	}
	return outcome, reason, nil
}
