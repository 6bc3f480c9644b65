package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/uridolan77/Aigent-sub001/rules"
	"github.com/uridolan77/Aigent-sub001/types"
)

// panicError carries a recovered panic value and its stack so executor and
// strategy faults keep their diagnostics through the failure boundary.
type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// run is the mutable state of one executing workflow. The results map and
// error list are guarded by mu because the parallel strategy records
// outcomes from multiple in-flight step goroutines.
type run struct {
	engine  *Engine
	wf      types.WorkflowDefinition
	execCtx *types.ExecutionContext
	tracker *StatusTracker

	maxConcurrent int
	maxRetries    int
	retryDelay    time.Duration

	mu      sync.Mutex
	results map[string]types.ActionResult
	errs    []types.WorkflowError

	stoppedEarly bool
	stopMessage  string
}

func (r *run) result(stepID string) (types.ActionResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[stepID]
	return res, ok
}

func (r *run) setResult(stepID string, res types.ActionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[stepID] = res
}

func (r *run) resultsSnapshot() map[string]types.ActionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.ActionResult, len(r.results))
	for id, res := range r.results {
		out[id] = res
	}
	return out
}

func (r *run) addError(werr types.WorkflowError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, werr)
}

func (r *run) errorsSnapshot() []types.WorkflowError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.WorkflowError, len(r.errs))
	copy(out, r.errs)
	return out
}

func (r *run) stop(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stoppedEarly {
		r.stoppedEarly = true
		r.stopMessage = message
	}
}

func (r *run) stopped() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stoppedEarly, r.stopMessage
}

// executeStep drives one step through the executor with per-step retry
// overrides. Executor panics are recovered and returned as errors; only a
// non-nil error retries, an ordinary failed result is final.
func (r *run) executeStep(ctx context.Context, step types.StepDefinition) (res types.ActionResult, execErr error) {
	defer func() {
		if p := recover(); p != nil {
			res = types.ActionResult{}
			execErr = &panicError{value: p, stack: debug.Stack()}
		}
	}()

	maxRetries := r.maxRetries
	retryDelay := r.retryDelay
	if step.MaxRetries > 0 {
		maxRetries = step.MaxRetries
	}
	if step.RetryDelaySec > 0 {
		retryDelay = time.Duration(step.RetryDelaySec) * time.Second
	}

	var lastErr error
	for i := 0; i <= maxRetries; i++ { // Total attempts = 1 initial + maxRetries
		select {
		case <-ctx.Done():
			return types.ActionResult{}, ctx.Err()
		default:
		}
		result, err := r.engine.executor.Execute(ctx, step, r.execCtx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return types.ActionResult{}, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	if maxRetries > 0 {
		return types.ActionResult{}, fmt.Errorf("step execution failed after %d retries: %w", maxRetries, lastErr)
	}
	return types.ActionResult{}, lastErr
}

// runStep executes one step and records its result, status transition and,
// on failure, a workflow error. It reports whether the step failed. A
// cancellation surfacing through the executor is returned as an error so the
// strategy can abort with the right terminal state.
func (r *run) runStep(ctx context.Context, step types.StepDefinition) (failed bool, err error) {
	r.tracker.StepRunning(step)

	res, execErr := r.executeStep(ctx, step)
	if execErr != nil && ctx.Err() != nil {
		// The run was cancelled while the step was in flight; the step's
		// outcome is indistinguishable from the cancellation. The step ends
		// failed with the cause but no step-level error is recorded.
		cause := context.Cause(ctx)
		r.tracker.StepFinished(step, false, cause.Error())
		return false, cause
	}

	if execErr != nil {
		res = types.ActionResult{Success: false, Message: execErr.Error()}
	}
	r.setResult(step.ID, res)
	r.tracker.StepFinished(step, res.Success, res.Message)

	if res.Success {
		return false, nil
	}
	r.recordStepFailure(step, res, execErr)
	return true, nil
}

// recordStepFailure appends the WorkflowError for a failed step: STEP_FAILED
// when the executor reported failure, STEP_ERROR when it faulted.
func (r *run) recordStepFailure(step types.StepDefinition, res types.ActionResult, execErr error) {
	severity := types.SeverityError
	if step.IsCritical {
		severity = types.SeverityCritical
	}

	werr := types.WorkflowError{
		Code:      types.CodeStepFailed,
		Message:   res.Message,
		StepID:    step.ID,
		StepName:  step.Name,
		Severity:  severity,
		Timestamp: time.Now(),
	}
	if execErr != nil {
		werr.Code = types.CodeStepError
		werr.Message = execErr.Error()
		werr.Details = map[string]interface{}{
			"error_type": fmt.Sprintf("%T", execErr),
		}
		var pe *panicError
		if errors.As(execErr, &pe) {
			werr.Details["stack"] = string(pe.stack)
		}
	}
	r.addError(werr)

	r.engine.logger.Warn("step failed",
		"workflow_id", r.wf.ID,
		"step_id", step.ID,
		"code", werr.Code,
		"critical", step.IsCritical,
		"err", werr.Message)
}

// stopsRun applies the cross-strategy failure policy to a failed step.
func (r *run) stopsRun(step types.StepDefinition) bool {
	if step.IsCritical && r.wf.ErrorHandling == types.StopWorkflow {
		return true
	}
	if !step.ContinueOnFailure && r.wf.ErrorHandling != types.IgnoreErrors {
		return true
	}
	return false
}

// depsSatisfied reports whether every dependency of the step has a recorded
// result, and whether all of those results were successful.
func (r *run) depsSatisfied(step types.StepDefinition) (present bool, allSuccessful bool) {
	allSuccessful = true
	for _, dep := range step.Dependencies {
		res, ok := r.result(dep)
		if !ok {
			return false, false
		}
		if !res.Success {
			allSuccessful = false
		}
	}
	return true, allSuccessful
}

// conditionReady evaluates a step's condition against the accumulated step
// results and context variables. Evaluation errors make the step not ready;
// they are logged, never raised.
func (r *run) conditionReady(step types.StepDefinition) bool {
	env := rules.BuildEnv(r.resultsSnapshot(), r.execCtx.Variables)
	ok, err := r.engine.evaluator.Evaluate(step.Condition, env)
	if err != nil {
		r.engine.logger.Warn("condition evaluation failed, skipping step",
			"workflow_id", r.wf.ID,
			"step_id", step.ID,
			"condition", step.Condition,
			"err", err)
		return false
	}
	return ok
}
