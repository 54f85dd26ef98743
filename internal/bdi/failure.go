package bdi

import (
	"errors"
	"strings"

	"mastermind/internal/types"
)

// FailureType classifies why an action or planning step failed.
type FailureType string

const (
	FailureToolUnavailable FailureType = "TOOL_UNAVAILABLE"
	FailureToolExecution   FailureType = "TOOL_EXECUTION_ERROR"
	FailureInvalidParams   FailureType = "INVALID_PARAMETERS"
	FailureRateLimit       FailureType = "RATE_LIMIT_ERROR"
	FailurePermission      FailureType = "PERMISSION_ERROR"
	FailureNetwork         FailureType = "NETWORK_ERROR"
	FailurePlanning        FailureType = "PLANNING_ERROR"
	FailureGoalParse       FailureType = "GOAL_PARSE_ERROR"
	FailureUnknown         FailureType = "UNKNOWN_ERROR"
)

// RecoveryStrategy is one way the executor reacts to a failure.
type RecoveryStrategy string

const (
	RecoverRetryWithDelay     RecoveryStrategy = "RETRY_WITH_DELAY"
	RecoverAlternativeTool    RecoveryStrategy = "ALTERNATIVE_TOOL"
	RecoverSimplifiedApproach RecoveryStrategy = "SIMPLIFIED_APPROACH"
	RecoverEscalate           RecoveryStrategy = "ESCALATE"
	RecoverFallbackManual     RecoveryStrategy = "FALLBACK_MANUAL"
	RecoverAbortGracefully    RecoveryStrategy = "ABORT_GRACEFULLY"
)

// strategyOrder fixes iteration order so rate ties resolve the same way
// every run.
var strategyOrder = []RecoveryStrategy{
	RecoverRetryWithDelay,
	RecoverAlternativeTool,
	RecoverSimplifiedApproach,
	RecoverEscalate,
	RecoverFallbackManual,
	RecoverAbortGracefully,
}

// defaultStrategies is the mapping used before any lessons exist for a
// failure type.
var defaultStrategies = map[FailureType]RecoveryStrategy{
	FailureToolUnavailable: RecoverAlternativeTool,
	FailureToolExecution:   RecoverRetryWithDelay,
	FailureInvalidParams:   RecoverSimplifiedApproach,
	FailureRateLimit:       RecoverRetryWithDelay,
	FailurePermission:      RecoverEscalate,
	FailureNetwork:         RecoverRetryWithDelay,
	FailurePlanning:        RecoverSimplifiedApproach,
	FailureGoalParse:       RecoverSimplifiedApproach,
	FailureUnknown:         RecoverRetryWithDelay,
}

func defaultStrategyFor(ft FailureType) RecoveryStrategy {
	if s, ok := defaultStrategies[ft]; ok {
		return s
	}
	return RecoverRetryWithDelay
}

// classify maps an execution error to a failure type. Typed errors map
// by kind; untyped errors are sniffed for transport signatures in the
// message.
func classify(err error) FailureType {
	if err == nil {
		return FailureUnknown
	}
	var ke *types.KindError
	if errors.As(err, &ke) {
		switch ke.Kind {
		case types.ErrToolUnavailable:
			return FailureToolUnavailable
		case types.ErrToolExecution, types.ErrLLM:
			return FailureToolExecution
		case types.ErrInvalidInput:
			return FailureInvalidParams
		case types.ErrRateLimited:
			return FailureRateLimit
		case types.ErrPermissionDenied:
			return FailurePermission
		case types.ErrTimeout:
			return FailureNetwork
		case types.ErrPlanValidation, types.ErrDependencyUnmet:
			if strings.Contains(strings.ToLower(ke.Error()), "parse") {
				return FailureGoalParse
			}
			return FailurePlanning
		}
		return sniff(ke.Error())
	}
	return sniff(err.Error())
}

// sniff recognizes transport failures by message text.
func sniff(msg string) FailureType {
	low := strings.ToLower(msg)
	switch {
	case strings.Contains(low, "rate limit"),
		strings.Contains(low, "too many requests"),
		strings.Contains(low, "429"):
		return FailureRateLimit
	case strings.Contains(low, "connection"),
		strings.Contains(low, "network"),
		strings.Contains(low, "dial"),
		strings.Contains(low, "dns"),
		strings.Contains(low, "unreachable"),
		strings.Contains(low, "broken pipe"),
		strings.Contains(low, "timeout"):
		return FailureNetwork
	case strings.Contains(low, "permission denied"),
		strings.Contains(low, "permission_denied"),
		strings.Contains(low, "forbidden"),
		strings.Contains(low, "unauthorized"):
		return FailurePermission
	}
	return FailureUnknown
}
