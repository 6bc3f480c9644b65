package workflow

import (
	"context"

	"github.com/uridolan77/Aigent-sub001/types"
)

// StepExecutor performs the work of a single step. Ordinary step failure is
// reported by returning a result with Success=false; a non-nil error means
// the executor itself faulted and is recorded with a distinct error code.
// Implementations should honor ctx so cancellation can reach in-flight work.
type StepExecutor interface {
	Execute(ctx context.Context, step types.StepDefinition, execCtx *types.ExecutionContext) (types.ActionResult, error)
}

// StepExecutorFunc adapts a function to the StepExecutor interface.
type StepExecutorFunc func(ctx context.Context, step types.StepDefinition, execCtx *types.ExecutionContext) (types.ActionResult, error)

// Execute implements StepExecutor.
func (f StepExecutorFunc) Execute(ctx context.Context, step types.StepDefinition, execCtx *types.ExecutionContext) (types.ActionResult, error) {
	return f(ctx, step, execCtx)
}
