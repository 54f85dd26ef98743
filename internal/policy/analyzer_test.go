package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleSet(violations []Violation) map[string][]string {
	out := make(map[string][]string)
	for _, v := range violations {
		out[v.Rule] = append(out[v.Rule], v.ActionID)
	}
	return out
}

func TestAnalyzeCompliantPlan(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	violations, err := a.Analyze([]PlanAction{
		{ID: "s1", Type: "ASSESS_FAILURE_SCOPE"},
		{ID: "s2", Type: "CREATE_ROLLBACK_PLAN"},
		{ID: "s3", Type: "REQUEST_COORDINATOR_FOR_SIA_EXECUTION"},
		{ID: "s4", Type: "RUN_VALIDATION_TESTS"},
	})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestAnalyzeUnprotectedExecution(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	violations, err := a.Analyze([]PlanAction{
		{ID: "s1", Type: "REQUEST_COORDINATOR_FOR_SIA_EXECUTION"},
		{ID: "s2", Type: "RUN_VALIDATION_TESTS"},
	})
	require.NoError(t, err)

	byRule := ruleSet(violations)
	assert.Equal(t, []string{"s1"}, byRule["unprotected_execution"])
	assert.NotContains(t, byRule, "missing_validation", "validation follows the execution")
	assert.Equal(t, []string{"s2"}, byRule["unhandled_validation_failure"],
		"validation cannot recover without a rollback plan")
}

func TestAnalyzeRollbackAfterExecutionDoesNotCount(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	violations, err := a.Analyze([]PlanAction{
		{ID: "s1", Type: "REQUEST_COORDINATOR_FOR_SIA_EXECUTION"},
		{ID: "s2", Type: "CREATE_ROLLBACK_PLAN"},
		{ID: "s3", Type: "RUN_VALIDATION_TESTS"},
	})
	require.NoError(t, err)

	byRule := ruleSet(violations)
	assert.Equal(t, []string{"s1"}, byRule["unprotected_execution"],
		"a rollback plan created after the execution protects nothing")
	assert.NotContains(t, byRule, "unhandled_validation_failure",
		"the rollback plan exists before the validation step")
}

func TestAnalyzeMissingValidation(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	violations, err := a.Analyze([]PlanAction{
		{ID: "s1", Type: "CREATE_ROLLBACK_PLAN"},
		{ID: "s2", Type: "REQUEST_COORDINATOR_FOR_SIA_EXECUTION"},
	})
	require.NoError(t, err)

	byRule := ruleSet(violations)
	assert.NotContains(t, byRule, "unprotected_execution")
	assert.Equal(t, []string{"s2"}, byRule["missing_validation"])
}

func TestAnalyzeMultipleExecutions(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	violations, err := a.Analyze([]PlanAction{
		{ID: "s1", Type: "CREATE_ROLLBACK_PLAN"},
		{ID: "s2", Type: "REQUEST_COORDINATOR_FOR_SIA_EXECUTION"},
		{ID: "s3", Type: "RUN_VALIDATION_TESTS"},
		{ID: "s4", Type: "REQUEST_COORDINATOR_FOR_SIA_EXECUTION"}, // second change, never validated
	})
	require.NoError(t, err)

	byRule := ruleSet(violations)
	assert.Equal(t, []string{"s4"}, byRule["missing_validation"])
	assert.NotContains(t, byRule, "unprotected_execution",
		"the early rollback plan covers both executions")
}

func TestAnalyzeIgnoresOtherVerbs(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	violations, err := a.Analyze([]PlanAction{
		{ID: "s1", Type: "ANALYZE_SYSTEM_STATE"},
		{ID: "s2", Type: "UPDATE_AGENT_BELIEF"},
	})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestAnalyzeEmptyPlan(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	violations, err := a.Analyze(nil)
	require.NoError(t, err)
	assert.Nil(t, violations)
}
