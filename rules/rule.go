package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/uridolan77/Aigent-sub001/types"
)

// Evaluator evaluates a step condition against an environment built from
// prior step results and execution-context variables. Implementations must
// be safe for concurrent use; the parallel strategy evaluates conditions
// from multiple goroutines.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// ExprEvaluator is an Evaluator backed by expr-lang/expr with a compiled
// program cache keyed by expression text.
type ExprEvaluator struct {
	cache       map[string]*vm.Program
	mu          sync.RWMutex
	helperFuncs map[string]func(map[string]interface{}) interface{}
}

// NewExprEvaluator creates an ExprEvaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:       make(map[string]*vm.Program),
		helperFuncs: make(map[string]func(map[string]interface{}) interface{}),
	}
}

// AddHelperFunc registers a helper computed from the environment and exposed
// to every condition under the given name.
func (e *ExprEvaluator) AddHelperFunc(name string, f func(map[string]interface{}) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.helperFuncs[name] = f
}

// Evaluate compiles (or reuses) the expression and runs it against env.
// The expression must produce a boolean.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	e.mu.RLock()
	for k, f := range e.helperFuncs {
		env[k] = f(env)
	}
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
	}
	return boolResult, nil
}

// BuildEnv assembles the condition environment for one readiness check.
// Each recorded step result is reachable both directly under its step id
// ("s1.success") and under "steps" ("steps.s1.success"); execution-context
// variables live under "context".
func BuildEnv(stepResults map[string]types.ActionResult, variables map[string]interface{}) map[string]interface{} {
	steps := make(map[string]interface{}, len(stepResults))
	env := make(map[string]interface{}, len(stepResults)+2)
	for id, res := range stepResults {
		entry := map[string]interface{}{
			"success": res.Success,
			"message": res.Message,
			"data":    res.Data,
		}
		steps[id] = entry
		env[id] = entry
	}
	env["steps"] = steps
	if variables == nil {
		variables = map[string]interface{}{}
	}
	env["context"] = variables
	return env
}
