package workflow

import (
	"context"

	"github.com/uridolan77/Aigent-sub001/types"
)

// runHierarchical treats the dependency graph as a forest: steps without
// dependencies are roots, and a step's children are the steps that list it
// as a dependency. Each root branch is walked depth-first in declaration
// order with no synchronization between branches. Before a step runs its
// dependencies are re-checked; a missing or failed dependency marks the step
// Skipped and ends the walk into its subtree. A visited guard keeps a step
// with several parents from running twice.
func (r *run) runHierarchical(ctx context.Context) error {
	children := make(map[string][]types.StepDefinition, len(r.wf.Steps))
	for _, step := range r.wf.Steps {
		for _, dep := range step.Dependencies {
			children[dep] = append(children[dep], step)
		}
	}

	visited := make(map[string]bool, len(r.wf.Steps))
	for _, root := range r.wf.Steps {
		if len(root.Dependencies) > 0 {
			continue
		}
		if stopped, _ := r.stopped(); stopped {
			// StopWorkflow abort: remaining root branches are not entered.
			break
		}
		if err := r.runBranch(ctx, root, visited, children); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) runBranch(ctx context.Context, step types.StepDefinition, visited map[string]bool, children map[string][]types.StepDefinition) error {
	if visited[step.ID] {
		return nil
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	visited[step.ID] = true

	for _, dep := range step.Dependencies {
		res, ok := r.result(dep)
		if !ok || !res.Success {
			r.tracker.StepSkipped(step)
			return nil
		}
	}

	failed, err := r.runStep(ctx, step)
	if err != nil {
		return err
	}
	if failed {
		if step.IsCritical && r.wf.ErrorHandling == types.StopWorkflow {
			r.stop(stopMessage(step))
			return nil
		}
		if !step.ContinueOnFailure && r.wf.ErrorHandling != types.IgnoreErrors {
			// The subtree is not entered; untouched children stay NotStarted.
			return nil
		}
	}

	for _, child := range children[step.ID] {
		if stopped, _ := r.stopped(); stopped {
			break
		}
		if err := r.runBranch(ctx, child, visited, children); err != nil {
			return err
		}
	}
	return nil
}
