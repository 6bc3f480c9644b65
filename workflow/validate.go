package workflow

import (
	"errors"
	"fmt"

	"github.com/yourbasic/graph"

	"github.com/uridolan77/Aigent-sub001/types"
)

// Validation error definitions
var (
	ErrNoSteps             = errors.New("workflow has no steps")
	ErrEmptyStepID         = errors.New("step ID cannot be empty")
	ErrDuplicateStepID     = errors.New("duplicate step ID")
	ErrUnknownDependency   = errors.New("dependency references unknown step")
	ErrCyclicDependency    = errors.New("cyclic step dependencies")
	ErrUnknownWorkflowType = errors.New("unknown workflow type")
)

// dependencyGraph is modeled after 'graph.Mutable' with only the pieces the
// acyclicity check needs. Each vertex is an index into the step slice.
type dependencyGraph struct {
	edges []map[int]struct{}
}

func (g *dependencyGraph) addEdge(v, w int) {
	g.edges[v][w] = struct{}{}
}

// Order returns the number of vertices of the dependency graph.
func (g *dependencyGraph) Order() int {
	return len(g.edges)
}

func (g *dependencyGraph) Visit(v int, do func(w int, c int64) bool) bool {
	for w := range g.edges[v] {
		if do(w, 1) {
			return true
		}
	}
	return false
}

// validateDefinition checks the preconditions for a run: steps present, ids
// unique and non-empty, dependencies resolvable, dependency relation acyclic,
// strategy known. A cyclic graph is rejected here rather than livelocking
// the parallel and hierarchical strategies later.
func validateDefinition(wf types.WorkflowDefinition) error {
	if len(wf.Steps) == 0 {
		return ErrNoSteps
	}

	switch wf.Type {
	case types.WorkflowSequential, types.WorkflowParallel, types.WorkflowConditional, types.WorkflowHierarchical:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownWorkflowType, wf.Type)
	}

	index := make(map[string]int, len(wf.Steps))
	for i, step := range wf.Steps {
		if step.ID == "" {
			return ErrEmptyStepID
		}
		if _, dup := index[step.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStepID, step.ID)
		}
		index[step.ID] = i
	}

	g := &dependencyGraph{edges: make([]map[int]struct{}, len(wf.Steps))}
	for i := range g.edges {
		g.edges[i] = map[int]struct{}{}
	}
	for i, step := range wf.Steps {
		for _, dep := range step.Dependencies {
			j, ok := index[dep]
			if !ok {
				return fmt.Errorf("%w: step %s depends on %s", ErrUnknownDependency, step.ID, dep)
			}
			// The edge represents "dep must finish before step".
			g.addEdge(j, i)
		}
	}

	if !graph.Acyclic(g) {
		return fmt.Errorf("%w: workflow %s", ErrCyclicDependency, wf.ID)
	}

	return nil
}
