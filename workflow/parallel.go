package workflow

import (
	"context"

	"github.com/uridolan77/Aigent-sub001/types"
)

type stepOutcome struct {
	step    types.StepDefinition
	res     types.ActionResult
	execErr error
}

// runParallel fans ready steps out to at most maxConcurrent concurrent step
// goroutines. It waits for any one in-flight step to finish rather than a
// whole batch, so a step whose last dependency just completed enters the
// concurrency window immediately. A critical failure under StopWorkflow and
// cancellation both stop the admission of new work; in-flight steps are
// always drained before the strategy returns.
func (r *run) runParallel(ctx context.Context) error {
	started := make(map[string]bool, len(r.wf.Steps))
	done := make(chan stepOutcome)
	inflight := 0
	admitting := true
	var cancelCause error

	for {
		if ctx.Err() != nil {
			if cancelCause == nil {
				cancelCause = context.Cause(ctx)
			}
			admitting = false
		}

		if admitting {
			for _, step := range r.readySteps(started) {
				if inflight >= r.maxConcurrent {
					break
				}
				started[step.ID] = true
				inflight++
				r.tracker.StepWaiting(step)
				go r.parallelStep(ctx, step, done)
			}
		}

		if inflight == 0 {
			break
		}

		out := <-done
		inflight--

		if out.execErr != nil && ctx.Err() != nil {
			// The step was cut short by the run's cancellation, not by a
			// fault of its own; no step-level error is recorded. The cause
			// is read from the context here because cancellation can fire
			// while this loop is blocked on the outcome channel, before the
			// top-of-loop check sees it.
			if cancelCause == nil {
				cancelCause = context.Cause(ctx)
			}
			r.tracker.StepFinished(out.step, false, cancelCause.Error())
			continue
		}

		res := out.res
		if out.execErr != nil {
			res = types.ActionResult{Success: false, Message: out.execErr.Error()}
		}
		r.setResult(out.step.ID, res)
		r.tracker.StepFinished(out.step, res.Success, res.Message)

		if !res.Success {
			r.recordStepFailure(out.step, res, out.execErr)
			if out.step.IsCritical && r.wf.ErrorHandling == types.StopWorkflow {
				r.stop(stopMessage(out.step))
				admitting = false
			}
		}
	}

	return cancelCause
}

// parallelStep executes one step in its own goroutine. Faults are caught
// inside executeStep and reported through the outcome so one step's failure
// never unwinds the admission loop.
func (r *run) parallelStep(ctx context.Context, step types.StepDefinition, done chan<- stepOutcome) {
	r.tracker.StepRunning(step)
	res, execErr := r.executeStep(ctx, step)
	done <- stepOutcome{step: step, res: res, execErr: execErr}
}

// readySteps returns, in declaration order, the steps that have not been
// admitted yet and whose dependencies all have recorded results.
func (r *run) readySteps(started map[string]bool) []types.StepDefinition {
	var ready []types.StepDefinition
	for _, step := range r.wf.Steps {
		if started[step.ID] {
			continue
		}
		if present, _ := r.depsSatisfied(step); present {
			ready = append(ready, step)
		}
	}
	return ready
}
