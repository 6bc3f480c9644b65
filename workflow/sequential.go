package workflow

import (
	"context"
	"fmt"

	"github.com/uridolan77/Aigent-sub001/types"
)

// runSequential executes the steps one at a time in declaration order.
// Cancellation is checked between steps; a failed step ends the run early
// when the failure policy says so.
func (r *run) runSequential(ctx context.Context) error {
	for _, step := range r.wf.Steps {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		failed, err := r.runStep(ctx, step)
		if err != nil {
			return err
		}
		if failed && r.stopsRun(step) {
			r.stop(stopMessage(step))
			return nil
		}
	}
	return nil
}

func stopMessage(step types.StepDefinition) string {
	if step.IsCritical {
		return fmt.Sprintf("critical step %s failed", step.ID)
	}
	return fmt.Sprintf("step %s failed", step.ID)
}
