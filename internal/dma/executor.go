package dma

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ciriserrors "github.com/emooreatx/cirisagent/internal/errors"
	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
	"github.com/emooreatx/cirisagent/internal/telemetry"
)

// Executor runs DMAs with per-attempt timeouts and transient-error retries,
// and records run/failure metrics.
type Executor struct {
	ethical   *EthicalDMA
	cs        *CSDMA
	ds        *DSDMA // nil when the profile has no domain
	selection *ActionSelectionDMA

	timeout time.Duration
	retry   ciriserrors.RetryConfig
	metrics *telemetry.Collector
	logger  logging.Logger
}

// NewExecutor wires the evaluators behind a shared retry and timeout policy.
// ds may be nil.
func NewExecutor(ethical *EthicalDMA, cs *CSDMA, ds *DSDMA, selection *ActionSelectionDMA,
	timeout time.Duration, retry ciriserrors.RetryConfig, metrics *telemetry.Collector, logger logging.Logger) *Executor {
	return &Executor{
		ethical:   ethical,
		cs:        cs,
		ds:        ds,
		selection: selection,
		timeout:   timeout,
		retry:     retry,
		metrics:   metrics,
		logger:    logging.OrNop(logger),
	}
}

// runWithRetries wraps one DMA call with a per-attempt deadline and the
// shared retry policy. Transient errors are retried; permanent errors and
// exhausted retries surface to the caller.
func runWithRetries[T any](ctx context.Context, e *Executor, name, thoughtID string,
	fn func(ctx context.Context) (T, error)) (T, error) {

	result, err := ciriserrors.RetryWithResultAndLog(ctx, e.retry, func(ctx context.Context) (T, error) {
		e.metrics.RecordDMARun(ctx, name, thoughtID)
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return fn(attemptCtx)
	}, e.logger)
	if err != nil {
		e.metrics.RecordDMAFailure(ctx, name, thoughtID)
		e.logger.Error("DMA %s failed for thought %s: %v", name, thoughtID, err)
	}
	return result, err
}

// RunInitial fans out the configured initial DMAs in parallel. A DMA
// failure never aborts its siblings; failures land in the Errors map so the
// pipeline can decide whether the thought survives.
func (e *Executor) RunInitial(ctx context.Context, in Input) *model.InitialDMAResults {
	results := &model.InitialDMAResults{}
	var mu sync.Mutex
	fail := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if results.Errors == nil {
			results.Errors = make(map[string]string)
		}
		results.Errors[name] = err.Error()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := runWithRetries(gctx, e, e.ethical.Name(), in.Thought.ThoughtID,
			func(ctx context.Context) (*model.EthicalDMAResult, error) { return e.ethical.Run(ctx, in) })
		if err != nil {
			fail(e.ethical.Name(), err)
			return nil
		}
		mu.Lock()
		results.Ethical = r
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		r, err := runWithRetries(gctx, e, e.cs.Name(), in.Thought.ThoughtID,
			func(ctx context.Context) (*model.CSDMAResult, error) { return e.cs.Run(ctx, in) })
		if err != nil {
			fail(e.cs.Name(), err)
			return nil
		}
		mu.Lock()
		results.CSDMA = r
		mu.Unlock()
		return nil
	})
	if e.ds != nil {
		g.Go(func() error {
			r, err := runWithRetries(gctx, e, e.ds.Name(), in.Thought.ThoughtID,
				func(ctx context.Context) (*model.DSDMAResult, error) { return e.ds.Run(ctx, in) })
			if err != nil {
				fail(e.ds.Name(), err)
				return nil
			}
			mu.Lock()
			results.DSDMA = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RunActionSelection chooses the final action under the shared retry policy.
func (e *Executor) RunActionSelection(ctx context.Context, in SelectionInput) (*model.ActionSelectionResult, error) {
	result, err := runWithRetries(ctx, e, e.selection.Name(), in.Thought.ThoughtID,
		func(ctx context.Context) (*model.ActionSelectionResult, error) { return e.selection.Run(ctx, in) })
	if err != nil {
		return nil, err
	}
	e.metrics.RecordActionSelection(ctx, string(result.SelectedAction), in.Thought.ThoughtID)
	return result, nil
}

// HasDomainDMA reports whether the optional domain evaluator is configured.
func (e *Executor) HasDomainDMA() bool { return e.ds != nil }
