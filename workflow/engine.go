package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/uridolan77/Aigent-sub001/events"
	"github.com/uridolan77/Aigent-sub001/rules"
	"github.com/uridolan77/Aigent-sub001/storage"
	"github.com/uridolan77/Aigent-sub001/types"
)

// Standard error definitions
var (
	ErrExecutorRequired  = errors.New("step executor is required")
	ErrGeneratorRequired = errors.New("generator is required")
	ErrStatusNotFound    = errors.New("workflow status not found")

	// Cancellation causes attached to the run context. Which one fired
	// decides the terminal state: Cancelled vs TimedOut.
	errRunCancelled = errors.New("workflow cancelled")
	errRunTimedOut  = errors.New("workflow timed out")
)

const defaultMaxConcurrentSteps = 4

// Config holds the engine-wide tunables applied to subsequent runs.
type Config struct {
	// MaxConcurrentSteps bounds the fan-out of the parallel strategy.
	MaxConcurrentSteps int
	// DefaultMaxRetries is the executor-fault retry count for steps that do
	// not declare their own.
	DefaultMaxRetries int
	// DefaultRetryDelay is the pause between retries for steps that do not
	// declare their own.
	DefaultRetryDelay time.Duration
}

// Engine turns workflow definitions into running, observable, cancellable
// executions. It is safe for concurrent use across workflows; runs are
// tracked by workflow ID. Executing the same workflow ID concurrently is
// caller error: the registries are last-writer-wins per key.
type Engine struct {
	executor  StepExecutor
	evaluator rules.Evaluator
	store     storage.Storage
	sink      events.Sink
	ownedBus  *events.StatusBus
	generate  generator.Generator
	logger    *slog.Logger

	mu       sync.RWMutex
	trackers map[string]*StatusTracker
	cancels  map[string]context.CancelCauseFunc

	confMu        sync.RWMutex
	maxConcurrent int
	maxRetries    int
	retryDelay    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator replaces the default expr-based condition evaluator.
func WithEvaluator(evaluator rules.Evaluator) Option {
	return func(e *Engine) {
		if evaluator != nil {
			e.evaluator = evaluator
		}
	}
}

// WithStorage replaces the default in-memory status/result store.
func WithStorage(store storage.Storage) Option {
	return func(e *Engine) {
		if store != nil {
			e.store = store
		}
	}
}

// WithSink replaces the default status bus with a caller-owned sink. The
// engine will not stop a sink it did not create.
func WithSink(sink events.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxConcurrentSteps sets the parallel fan-out bound.
func WithMaxConcurrentSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrent = n
		}
	}
}

// WithRetryDefaults sets the engine-wide retry defaults for executor faults.
func WithRetryDefaults(maxRetries int, delay time.Duration) Option {
	return func(e *Engine) {
		if maxRetries >= 0 {
			e.maxRetries = maxRetries
		}
		if delay > 0 {
			e.retryDelay = delay
		}
	}
}

// NewEngine creates an Engine around the given step executor and ID
// generator. Evaluator, storage and sink default to the expr evaluator, the
// in-memory store and an engine-owned status bus.
func NewEngine(executor StepExecutor, generate generator.Generator, options ...Option) (*Engine, error) {
	if executor == nil {
		return nil, ErrExecutorRequired
	}
	if generate == nil {
		return nil, ErrGeneratorRequired
	}

	bus := events.NewStatusBus()
	e := &Engine{
		executor:      executor,
		evaluator:     rules.NewExprEvaluator(),
		store:         storage.NewMemoryStorage(),
		sink:          bus,
		ownedBus:      bus,
		generate:      generate,
		logger:        slog.Default(),
		trackers:      make(map[string]*StatusTracker),
		cancels:       make(map[string]context.CancelCauseFunc),
		maxConcurrent: defaultMaxConcurrentSteps,
		retryDelay:    time.Second,
	}

	for _, option := range options {
		option(e)
	}

	// When WithSink replaced the constructor's bus, stop it so its
	// processor goroutine does not leak.
	if e.ownedBus != nil && e.sink != events.Sink(e.ownedBus) {
		e.ownedBus.Stop()
		e.ownedBus = nil
	}

	return e, nil
}

// Bus exposes the engine-owned status bus for subscriptions, or nil when a
// caller-supplied sink is in use.
func (e *Engine) Bus() *events.StatusBus {
	return e.ownedBus
}

// Configure applies engine-wide tunables to subsequent runs. Zero values
// leave the current setting unchanged.
func (e *Engine) Configure(conf Config) {
	e.confMu.Lock()
	defer e.confMu.Unlock()
	if conf.MaxConcurrentSteps > 0 {
		e.maxConcurrent = conf.MaxConcurrentSteps
	}
	if conf.DefaultMaxRetries > 0 {
		e.maxRetries = conf.DefaultMaxRetries
	}
	if conf.DefaultRetryDelay > 0 {
		e.retryDelay = conf.DefaultRetryDelay
	}
}

// ExecuteWorkflow runs a workflow to a terminal state and returns the run's
// result. The returned error is non-nil only for an invalid definition or a
// failed instance-ID allocation; every run-level fault (step failures,
// strategy panics, timeout, cancellation) is reported inside the
// WorkflowResult. The engine is the failure boundary for the whole run.
func (e *Engine) ExecuteWorkflow(ctx context.Context, wf types.WorkflowDefinition, execCtx *types.ExecutionContext) (*types.WorkflowResult, error) {
	if err := validateDefinition(wf); err != nil {
		return nil, err
	}
	if execCtx == nil {
		execCtx = types.NewExecutionContext(nil)
	}

	instanceID, err := e.generate.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance ID: %w", err)
	}
	execCtx.InstanceID = instanceID

	tracker := newStatusTracker(wf, instanceID, e.sink, e.logger)
	runCtx, cancel := context.WithCancelCause(ctx)

	e.mu.Lock()
	e.trackers[wf.ID] = tracker
	e.cancels[wf.ID] = cancel
	e.mu.Unlock()

	var timer *time.Timer
	if wf.TimeoutSeconds > 0 {
		timer = time.AfterFunc(time.Duration(wf.TimeoutSeconds)*time.Second, func() {
			cancel(errRunTimedOut)
		})
	}

	// The cancellation source is always retired, whatever path the run
	// takes out of this function. The tracker stays registered so the
	// terminal status remains queryable.
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		cancel(nil)
		e.mu.Lock()
		delete(e.cancels, wf.ID)
		e.mu.Unlock()
	}()

	e.persistStatus(tracker)
	tracker.publish(tracker.Snapshot())
	e.logger.Info("workflow started",
		"workflow_id", wf.ID,
		"instance_id", instanceID,
		"type", wf.Type,
		"steps", len(wf.Steps))

	e.confMu.RLock()
	r := &run{
		engine:        e,
		wf:            wf,
		execCtx:       execCtx,
		tracker:       tracker,
		maxConcurrent: e.maxConcurrent,
		maxRetries:    e.maxRetries,
		retryDelay:    e.retryDelay,
		results:       make(map[string]types.ActionResult, len(wf.Steps)),
	}
	e.confMu.RUnlock()

	startTime := tracker.Snapshot().StartTime
	strategyErr := e.dispatch(runCtx, r)

	endTime := time.Now()
	result := &types.WorkflowResult{
		StartTime:   startTime,
		EndTime:     endTime,
		DurationMs:  endTime.Sub(startTime).Milliseconds(),
		StepResults: r.resultsSnapshot(),
		Errors:      r.errorsSnapshot(),
	}

	var terminal types.WorkflowState
	switch {
	case strategyErr == nil:
		stopped, stopMsg := r.stopped()
		if len(result.Errors) == 0 && !stopped {
			terminal = types.WorkflowCompleted
			result.Success = true
			result.Message = "workflow completed"
		} else {
			terminal = types.WorkflowFailed
			result.Message = stopMsg
			if result.Message == "" {
				result.Message = fmt.Sprintf("workflow finished with %d error(s)", len(result.Errors))
			}
		}

	case errors.Is(strategyErr, errRunTimedOut), errors.Is(strategyErr, context.DeadlineExceeded):
		terminal = types.WorkflowTimedOut
		result.Message = fmt.Sprintf("workflow timed out after %d second(s)", wf.TimeoutSeconds)
		result.Errors = append(result.Errors, types.WorkflowError{
			Code:      types.CodeWorkflowTimeout,
			Message:   result.Message,
			Severity:  types.SeverityCritical,
			Timestamp: endTime,
		})

	case errors.Is(strategyErr, errRunCancelled), errors.Is(strategyErr, context.Canceled):
		terminal = types.WorkflowCancelled
		result.Message = "workflow cancelled"
		result.Errors = append(result.Errors, types.WorkflowError{
			Code:      types.CodeWorkflowCancelled,
			Message:   result.Message,
			Severity:  types.SeverityError,
			Timestamp: endTime,
		})

	default:
		terminal = types.WorkflowFailed
		result.Message = fmt.Sprintf("workflow execution failed: %v", strategyErr)
		werr := types.WorkflowError{
			Code:      types.CodeExecutionError,
			Message:   strategyErr.Error(),
			Severity:  types.SeverityCritical,
			Timestamp: endTime,
			Details: map[string]interface{}{
				"error_type": fmt.Sprintf("%T", strategyErr),
			},
		}
		var pe *panicError
		if errors.As(strategyErr, &pe) {
			werr.Details["stack"] = string(pe.stack)
		}
		result.Errors = append(result.Errors, werr)
	}

	errMsg := ""
	if terminal != types.WorkflowCompleted {
		errMsg = result.Message
	}
	tracker.Finish(terminal, errMsg)
	e.persistStatus(tracker)
	e.persistResult(instanceID, result)

	e.logger.Info("workflow finished",
		"workflow_id", wf.ID,
		"instance_id", instanceID,
		"state", terminal,
		"duration_ms", result.DurationMs,
		"errors", len(result.Errors))

	return result, nil
}

// dispatch selects the strategy for the workflow's type and confines any
// panic escaping it to an error.
func (e *Engine) dispatch(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p, stack: debug.Stack()}
		}
	}()

	switch r.wf.Type {
	case types.WorkflowSequential:
		return r.runSequential(ctx)
	case types.WorkflowParallel:
		return r.runParallel(ctx)
	case types.WorkflowConditional:
		return r.runConditional(ctx)
	case types.WorkflowHierarchical:
		return r.runHierarchical(ctx)
	default:
		// validateDefinition rejects unknown types before dispatch.
		return fmt.Errorf("%w: %q", ErrUnknownWorkflowType, r.wf.Type)
	}
}

// GetWorkflowStatus returns a snapshot of the run's status: live registry
// first, then the store for runs the engine no longer tracks.
func (e *Engine) GetWorkflowStatus(ctx context.Context, workflowID string) (types.WorkflowStatus, error) {
	select {
	case <-ctx.Done():
		return types.WorkflowStatus{}, ctx.Err()
	default:
	}

	e.mu.RLock()
	tracker, ok := e.trackers[workflowID]
	e.mu.RUnlock()

	if ok {
		return tracker.Snapshot(), nil
	}

	status, err := e.store.GetStatus(ctx, workflowID)
	if err != nil {
		return types.WorkflowStatus{}, fmt.Errorf("%w: %s", ErrStatusNotFound, workflowID)
	}
	return status, nil
}

// CancelWorkflow signals the run's cancellation source and marks the status
// Cancelled immediately. The signal is advisory: strategies observe it
// between steps and before admitting new parallel work, and an in-flight
// step executor is only interrupted if it honors the run context. An
// unknown or already-finished workflow ID is a logged no-op.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	e.mu.RLock()
	cancel, ok := e.cancels[workflowID]
	tracker := e.trackers[workflowID]
	e.mu.RUnlock()

	if !ok {
		e.logger.Info("cancel requested for unknown or finished workflow", "workflow_id", workflowID)
		return
	}

	cancel(errRunCancelled)
	if tracker != nil {
		tracker.Finish(types.WorkflowCancelled, "workflow cancelled")
	}
	e.logger.Info("workflow cancel requested", "workflow_id", workflowID)
}

// GetRunningWorkflows returns snapshots of all runs currently in the
// Running state.
func (e *Engine) GetRunningWorkflows(ctx context.Context) ([]types.WorkflowStatus, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.mu.RLock()
	trackers := make([]*StatusTracker, 0, len(e.trackers))
	for _, tracker := range e.trackers {
		trackers = append(trackers, tracker)
	}
	e.mu.RUnlock()

	var running []types.WorkflowStatus
	for _, tracker := range trackers {
		if snap := tracker.Snapshot(); snap.State == types.WorkflowRunning {
			running = append(running, snap)
		}
	}
	return running, nil
}

// EvictWorkflow drops a finished run from the live registry. Running
// workflows are not evicted.
func (e *Engine) EvictWorkflow(workflowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	tracker, ok := e.trackers[workflowID]
	if !ok || !tracker.Snapshot().State.Terminal() {
		return false
	}
	delete(e.trackers, workflowID)
	return true
}

// Stop shuts down the engine-owned status bus. Pending runs are unaffected;
// their later publications are dropped.
func (e *Engine) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if e.ownedBus != nil {
			e.ownedBus.Stop()
		}
		return nil
	}
}

func (e *Engine) persistStatus(tracker *StatusTracker) {
	snap := tracker.Snapshot()
	if err := e.store.SaveStatus(context.Background(), snap); err != nil {
		e.logger.Warn("failed to persist workflow status",
			"workflow_id", snap.WorkflowID, "err", err)
	}
}

func (e *Engine) persistResult(instanceID uint64, result *types.WorkflowResult) {
	if err := e.store.SaveResult(context.Background(), instanceID, *result); err != nil {
		e.logger.Warn("failed to persist workflow result",
			"instance_id", instanceID, "err", err)
	}
}
