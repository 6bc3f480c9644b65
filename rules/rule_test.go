package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/uridolan77/Aigent-sub001/types"
)

func TestExprEvaluator(t *testing.T) {
	evaluator := NewExprEvaluator()

	tests := []struct {
		name       string
		expression string
		env        map[string]interface{}
		wantResult bool
		wantErr    bool
		errMsg     string
	}{
		{
			name:       "true comparison",
			expression: "retries > 2",
			env:        map[string]interface{}{"retries": 3},
			wantResult: true,
		},
		{
			name:       "false comparison",
			expression: "retries > 2",
			env:        map[string]interface{}{"retries": 1},
			wantResult: false,
		},
		{
			name:       "non-boolean result",
			expression: "retries + 5",
			env:        map[string]interface{}{"retries": 1},
			wantErr:    true,
			errMsg:     "did not evaluate to a boolean",
		},
		{
			name:       "invalid syntax",
			expression: "retries >>>",
			env:        map[string]interface{}{"retries": 1},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(tt.expression, tt.env)
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
				assert.False(t, result)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantResult, result)
			}
		})
	}
}

func TestEvaluateStepConditions(t *testing.T) {
	evaluator := NewExprEvaluator()

	results := map[string]types.ActionResult{
		"build": {Success: true, Message: "built", Data: map[string]interface{}{"artifacts": 3}},
		"lint":  {Success: false, Message: "2 findings"},
	}
	vars := map[string]interface{}{"env": "prod", "region": "eu-west-1"}
	env := BuildEnv(results, vars)

	cases := []struct {
		expression string
		want       bool
	}{
		{`build.success == true`, true},
		{`lint.success == true`, false},
		{`steps.build.success && context.env == "prod"`, true},
		{`build.data.artifacts > 1`, true},
		{`context.region == "us-east-1"`, false},
	}

	for _, c := range cases {
		t.Run(c.expression, func(t *testing.T) {
			got, err := evaluator.Evaluate(c.expression, env)
			assert.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestEvaluateUnknownStepReference(t *testing.T) {
	evaluator := NewExprEvaluator()
	env := BuildEnv(map[string]types.ActionResult{}, nil)

	// A condition naming a step with no recorded result must error rather
	// than silently pass; the engine turns this into a skip.
	_, err := evaluator.Evaluate("ghost.success == true", env)
	assert.Error(t, err)
}

func TestBuildEnvNilVariables(t *testing.T) {
	env := BuildEnv(nil, nil)
	assert.NotNil(t, env["steps"])
	assert.NotNil(t, env["context"])
}

func TestHelperFunc(t *testing.T) {
	evaluator := NewExprEvaluator()
	evaluator.AddHelperFunc("failedCount", func(env map[string]interface{}) interface{} {
		steps, _ := env["steps"].(map[string]interface{})
		count := 0
		for _, v := range steps {
			if entry, ok := v.(map[string]interface{}); ok {
				if success, ok := entry["success"].(bool); ok && !success {
					count++
				}
			}
		}
		return count
	})

	env := BuildEnv(map[string]types.ActionResult{
		"a": {Success: true},
		"b": {Success: false},
	}, nil)

	got, err := evaluator.Evaluate("failedCount == 1", env)
	assert.NoError(t, err)
	assert.True(t, got)
}

func TestConcurrentEvaluation(t *testing.T) {
	evaluator := NewExprEvaluator()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env := BuildEnv(map[string]types.ActionResult{"a": {Success: true}}, nil)
			result, err := evaluator.Evaluate("a.success == true", env)
			assert.NoError(t, err)
			assert.True(t, result)
		}()
	}
	wg.Wait()
}

func BenchmarkEvaluate(b *testing.B) {
	evaluator := NewExprEvaluator()
	env := BuildEnv(map[string]types.ActionResult{"a": {Success: true}}, map[string]interface{}{"env": "prod"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = evaluator.Evaluate(`a.success && context.env == "prod"`, env)
	}
}
