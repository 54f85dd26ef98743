package bdi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"mastermind/internal/types"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	kerr := func(kind types.ErrorKind, detail string) error {
		return types.NewKindError(kind, "bdi.test", detail, nil)
	}

	cases := []struct {
		name string
		err  error
		want FailureType
	}{
		{"nil error", nil, FailureUnknown},
		{"tool unavailable kind", kerr(types.ErrToolUnavailable, "no such tool"), FailureToolUnavailable},
		{"tool execution kind", kerr(types.ErrToolExecution, "exit status 1"), FailureToolExecution},
		{"llm kind counts as execution", kerr(types.ErrLLM, "model refused"), FailureToolExecution},
		{"invalid input kind", kerr(types.ErrInvalidInput, "missing path"), FailureInvalidParams},
		{"rate limited kind", kerr(types.ErrRateLimited, "slow down"), FailureRateLimit},
		{"permission kind", kerr(types.ErrPermissionDenied, "outside workspace"), FailurePermission},
		{"timeout kind counts as network", kerr(types.ErrTimeout, "deadline exceeded"), FailureNetwork},
		{"unparseable plan", kerr(types.ErrPlanValidation, "could not parse plan JSON: empty response"), FailureGoalParse},
		{"structurally invalid plan", kerr(types.ErrPlanValidation, `action 0: unknown type "TELEPORT"`), FailurePlanning},
		{"dependency unmet kind", kerr(types.ErrDependencyUnmet, "step b waits on a"), FailurePlanning},
		{"unswitched kind falls back to sniffing", kerr(types.ErrInternal, "upstream said 429 too many requests"), FailureRateLimit},
		{"untyped rate limit", errors.New("upstream said 429 too many requests"), FailureRateLimit},
		{"untyped network", errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), FailureNetwork},
		{"untyped permission", errors.New("write forbidden by policy"), FailurePermission},
		{"untyped mystery", errors.New("wat"), FailureUnknown},
		{"wrapped kind error", fmt.Errorf("outer: %w", kerr(types.ErrRateLimited, "burst")), FailureRateLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestDefaultStrategies(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RecoverAlternativeTool, defaultStrategyFor(FailureToolUnavailable))
	assert.Equal(t, RecoverRetryWithDelay, defaultStrategyFor(FailureToolExecution))
	assert.Equal(t, RecoverSimplifiedApproach, defaultStrategyFor(FailureInvalidParams))
	assert.Equal(t, RecoverRetryWithDelay, defaultStrategyFor(FailureRateLimit))
	assert.Equal(t, RecoverEscalate, defaultStrategyFor(FailurePermission))
	assert.Equal(t, RecoverRetryWithDelay, defaultStrategyFor(FailureNetwork))
	assert.Equal(t, RecoverSimplifiedApproach, defaultStrategyFor(FailurePlanning))
	assert.Equal(t, RecoverSimplifiedApproach, defaultStrategyFor(FailureGoalParse))
	assert.Equal(t, RecoverRetryWithDelay, defaultStrategyFor(FailureUnknown))

	// Unmapped types still get a usable answer.
	assert.Equal(t, RecoverRetryWithDelay, defaultStrategyFor(FailureType("SOLAR_FLARE")))
}
