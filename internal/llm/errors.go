package llm

import (
	"context"
	"errors"
	"fmt"

	"mastermind/internal/types"
)

// Failure sentinels wrapped by provider adapters. The dispatcher routes on
// these: throttling maps to a RATE_LIMITED result, unknown models and dead
// endpoints are failover-eligible.
var (
	ErrThrottled     = errors.New("provider throttled")
	ErrModelNotFound = errors.New("model not found")
	ErrUnavailable   = errors.New("provider unavailable")
	ErrEmptyResponse = errors.New("empty response")
)

// DispatchError is the structured failure surfaced by the dispatch layer.
// It serializes to the {error, type, details} payload callers expect.
type DispatchError struct {
	Kind     types.ErrorKind
	Provider string
	Detail   string
	Err      error
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("%s: llm dispatch via %s failed", e.Kind, e.Provider)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Payload returns the wire-shaped error document.
func (e *DispatchError) Payload() map[string]any {
	return map[string]any{
		"error":   "llm generation failed",
		"type":    string(e.Kind),
		"details": e.Detail,
	}
}

// classifyKind maps a provider failure chain to an error kind.
func classifyKind(err error) types.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrThrottled):
		return types.ErrRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrTimeout
	default:
		return types.ErrLLM
	}
}
