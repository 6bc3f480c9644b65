package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/uridolan77/Aigent-sub001/events"
	"github.com/uridolan77/Aigent-sub001/types"
)

// StatusTracker owns the WorkflowStatus for one run. All mutation happens
// under its mutex (the parallel strategy updates it from many goroutines)
// and every transition publishes a snapshot to the status sink. Publication
// is fire-and-forget; sink errors are logged and never stall the run.
type StatusTracker struct {
	mu     sync.Mutex
	status types.WorkflowStatus
	sink   events.Sink
	logger *slog.Logger
}

func newStatusTracker(wf types.WorkflowDefinition, instanceID uint64, sink events.Sink, logger *slog.Logger) *StatusTracker {
	stepStatuses := make(map[string]types.StepStatus, len(wf.Steps))
	for _, step := range wf.Steps {
		stepStatuses[step.ID] = types.StepStatus{
			StepID:   step.ID,
			StepName: step.Name,
			State:    types.StepNotStarted,
		}
	}
	return &StatusTracker{
		status: types.WorkflowStatus{
			WorkflowID:   wf.ID,
			InstanceID:   instanceID,
			Name:         wf.Name,
			State:        types.WorkflowRunning,
			StartTime:    time.Now(),
			TotalSteps:   len(wf.Steps),
			StepStatuses: stepStatuses,
		},
		sink:   sink,
		logger: logger,
	}
}

// Snapshot returns a deep copy safe to hand to callers and sinks.
func (t *StatusTracker) Snapshot() types.WorkflowStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *StatusTracker) snapshotLocked() types.WorkflowStatus {
	snap := t.status
	snap.StepStatuses = make(map[string]types.StepStatus, len(t.status.StepStatuses))
	for id, ss := range t.status.StepStatuses {
		snap.StepStatuses[id] = ss
	}
	return snap
}

// StepWaiting marks a step as admitted but not yet executing.
func (t *StatusTracker) StepWaiting(step types.StepDefinition) {
	t.mu.Lock()
	ss := t.status.StepStatuses[step.ID]
	ss.State = types.StepWaiting
	t.status.StepStatuses[step.ID] = ss
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.publish(snap)
}

// StepRunning marks a step as executing and records it as the current step.
// CurrentStepID is best-effort under the parallel strategy.
func (t *StatusTracker) StepRunning(step types.StepDefinition) {
	now := time.Now()
	t.mu.Lock()
	ss := t.status.StepStatuses[step.ID]
	ss.State = types.StepRunning
	ss.StartTime = &now
	t.status.StepStatuses[step.ID] = ss
	t.status.CurrentStepID = step.ID
	t.status.CurrentStepName = step.Name
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.publish(snap)
}

// StepFinished records a completed or failed step and updates the counters.
func (t *StatusTracker) StepFinished(step types.StepDefinition, success bool, errMsg string) {
	now := time.Now()
	t.mu.Lock()
	ss := t.status.StepStatuses[step.ID]
	if success {
		ss.State = types.StepCompleted
	} else {
		ss.State = types.StepFailed
		ss.ErrorMessage = errMsg
	}
	ss.EndTime = &now
	if ss.StartTime != nil {
		ss.DurationMs = now.Sub(*ss.StartTime).Milliseconds()
	}
	t.status.StepStatuses[step.ID] = ss
	t.status.CompletedSteps++
	if !success {
		t.status.FailedSteps++
	}
	t.recalcProgressLocked()
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.publish(snap)
}

// StepSkipped records a step whose gate (dependencies or condition) was not
// satisfied. Skipped steps count toward progress, not toward failures.
func (t *StatusTracker) StepSkipped(step types.StepDefinition) {
	t.mu.Lock()
	ss := t.status.StepStatuses[step.ID]
	ss.State = types.StepSkipped
	t.status.StepStatuses[step.ID] = ss
	t.status.CompletedSteps++
	t.recalcProgressLocked()
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.publish(snap)
}

func (t *StatusTracker) recalcProgressLocked() {
	if t.status.TotalSteps > 0 {
		t.status.ProgressPercentage = t.status.CompletedSteps * 100 / t.status.TotalSteps
	}
}

// Finish moves the run to a terminal state. The first terminal state wins;
// later calls are ignored so exactly one terminal transition occurs per run.
func (t *StatusTracker) Finish(state types.WorkflowState, errMsg string) {
	now := time.Now()
	t.mu.Lock()
	if t.status.State.Terminal() {
		t.mu.Unlock()
		return
	}
	t.status.State = state
	t.status.EndTime = &now
	t.status.ErrorMessage = errMsg
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.publish(snap)
}

// State returns the current run state.
func (t *StatusTracker) State() types.WorkflowState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.State
}

func (t *StatusTracker) publish(snap types.WorkflowStatus) {
	if t.sink == nil {
		return
	}
	err := t.sink.Publish(context.Background(), events.StatusEvent{
		Topic:  events.TopicStatusUpdated,
		Status: snap,
	})
	if err != nil {
		t.logger.Debug("status publish dropped",
			"workflow_id", snap.WorkflowID,
			"instance_id", snap.InstanceID,
			"err", err)
	}
}
