package types

import "time"

// WorkflowType selects the scheduling strategy for a run.
type WorkflowType string

const (
	WorkflowSequential   WorkflowType = "sequential"
	WorkflowParallel     WorkflowType = "parallel"
	WorkflowConditional  WorkflowType = "conditional"
	WorkflowHierarchical WorkflowType = "hierarchical"
)

// ErrorHandlingMode decides how a run reacts to step failures.
type ErrorHandlingMode string

const (
	// StopWorkflow aborts the run when a critical step fails.
	StopWorkflow ErrorHandlingMode = "stop_workflow"
	// IgnoreErrors records failures but never stops the run early.
	IgnoreErrors ErrorHandlingMode = "ignore_errors"
	// ContinueOnStepPolicy (the default) stops only when the failed step
	// does not allow continuation.
	ContinueOnStepPolicy ErrorHandlingMode = ""
)

// WorkflowState is the run-level state.
type WorkflowState string

const (
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowCancelled WorkflowState = "cancelled"
	WorkflowTimedOut  WorkflowState = "timed_out"
)

// Terminal reports whether no further state transitions may occur.
func (s WorkflowState) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled, WorkflowTimedOut:
		return true
	}
	return false
}

// StepState is the per-step state.
type StepState string

const (
	StepNotStarted StepState = "not_started"
	StepWaiting    StepState = "waiting"
	StepRunning    StepState = "running"
	StepCompleted  StepState = "completed"
	StepFailed     StepState = "failed"
	StepSkipped    StepState = "skipped"
)

// Terminal reports whether the step has finished for this run.
func (s StepState) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// ErrorSeverity classifies a WorkflowError.
type ErrorSeverity string

const (
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// Error codes recorded in WorkflowError.Code.
const (
	CodeStepFailed        = "STEP_FAILED"
	CodeStepError         = "STEP_ERROR"
	CodeWorkflowCancelled = "WORKFLOW_CANCELLED"
	CodeWorkflowTimeout   = "WORKFLOW_TIMEOUT"
	CodeExecutionError    = "EXECUTION_ERROR"
)

// WorkflowDefinition is the immutable description of a workflow.
type WorkflowDefinition struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           WorkflowType      `json:"type"`
	Steps          []StepDefinition  `json:"steps"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	ErrorHandling  ErrorHandlingMode `json:"error_handling,omitempty"`
}

// StepDefinition describes a single unit of work within a workflow.
// Declaration order within WorkflowDefinition.Steps is the tie-break order
// for sequential iteration and ready-set admission.
type StepDefinition struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	// Condition gates execution beyond dependency satisfaction. Empty means
	// "run once dependencies completed successfully".
	Condition         string `json:"condition,omitempty"`
	IsCritical        bool   `json:"is_critical,omitempty"`
	ContinueOnFailure bool   `json:"continue_on_failure,omitempty"`
	MaxRetries        int    `json:"max_retries,omitempty"`
	RetryDelaySec     int    `json:"retry_delay_sec,omitempty"`
}

// ExecutionContext is the mutable, shared variable bag for one run.
// The engine does not serialize access to Variables across concurrently
// running steps; executors that mutate it under the parallel strategy must
// synchronize themselves.
type ExecutionContext struct {
	InstanceID uint64                 `json:"instance_id"`
	Variables  map[string]interface{} `json:"variables"`
}

// NewExecutionContext returns a context with an initialized variable map.
func NewExecutionContext(vars map[string]interface{}) *ExecutionContext {
	if vars == nil {
		vars = make(map[string]interface{})
	}
	return &ExecutionContext{Variables: vars}
}

// ActionResult is what a step executor returns for one step.
type ActionResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// StepStatus is the run-time record for one step.
type StepStatus struct {
	StepID       string     `json:"step_id"`
	StepName     string     `json:"step_name"`
	State        StepState  `json:"state"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// WorkflowStatus is the run-time record for a whole run. The engine owns it
// for the run's lifetime and hands out copies.
type WorkflowStatus struct {
	WorkflowID         string                `json:"workflow_id"`
	InstanceID         uint64                `json:"instance_id"`
	Name               string                `json:"name"`
	State              WorkflowState         `json:"state"`
	StartTime          time.Time             `json:"start_time"`
	EndTime            *time.Time            `json:"end_time,omitempty"`
	TotalSteps         int                   `json:"total_steps"`
	CompletedSteps     int                   `json:"completed_steps"`
	FailedSteps        int                   `json:"failed_steps"`
	ProgressPercentage int                   `json:"progress_percentage"`
	CurrentStepID      string                `json:"current_step_id,omitempty"`
	CurrentStepName    string                `json:"current_step_name,omitempty"`
	StepStatuses       map[string]StepStatus `json:"step_statuses"`
	ErrorMessage       string                `json:"error_message,omitempty"`
}

// WorkflowError is one recorded failure within a run.
type WorkflowError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	StepID    string                 `json:"step_id,omitempty"`
	StepName  string                 `json:"step_name,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// WorkflowResult is the immutable snapshot returned to the caller when a run
// reaches a terminal state.
type WorkflowResult struct {
	Success     bool                    `json:"success"`
	Message     string                  `json:"message,omitempty"`
	StartTime   time.Time               `json:"start_time"`
	EndTime     time.Time               `json:"end_time"`
	DurationMs  int64                   `json:"duration_ms"`
	StepResults map[string]ActionResult `json:"step_results"`
	Errors      []WorkflowError         `json:"errors,omitempty"`
}
