package workflow

import "context"

// runConditional drives the steps in declaration order like the sequential
// strategy, but gates each step on readiness: every dependency must have a
// recorded result, and either the step's condition evaluates to true or,
// with no condition, all dependency results were successful. A step that is
// not ready is skipped, not failed; it counts toward progress and its
// dependents will in turn find no result for it and skip as well.
func (r *run) runConditional(ctx context.Context) error {
	for _, step := range r.wf.Steps {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		present, allSuccessful := r.depsSatisfied(step)
		ready := present
		if ready {
			if step.Condition == "" {
				ready = allSuccessful
			} else {
				ready = r.conditionReady(step)
			}
		}
		if !ready {
			r.engine.logger.Debug("step not ready, skipped",
				"workflow_id", r.wf.ID,
				"step_id", step.ID,
				"condition", step.Condition)
			r.tracker.StepSkipped(step)
			continue
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
