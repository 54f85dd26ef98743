// Package types provides shared type definitions used across mastermind packages.
// This package exists to break import cycles between the kernel, the BDI executor,
// and the evolution coordinator. Types here are foundational data structures with
// no complex dependencies.
package types

import "fmt"

// ErrorKind classifies a failure that crosses a component boundary.
// The kind travels with interaction results and CLI error payloads so
// callers can branch on it without parsing messages.
type ErrorKind string

const (
	ErrInvalidInput        ErrorKind = "INVALID_INPUT"
	ErrRateLimited         ErrorKind = "RATE_LIMITED"
	ErrLLM                 ErrorKind = "LLM_ERROR"
	ErrToolUnavailable     ErrorKind = "TOOL_UNAVAILABLE"
	ErrToolExecution       ErrorKind = "TOOL_ERROR"
	ErrPlanValidation      ErrorKind = "PLAN_VALIDATION_ERROR"
	ErrDependencyUnmet     ErrorKind = "DEPENDENCY_UNMET"
	ErrTimeout             ErrorKind = "TIMEOUT"
	ErrPermissionDenied    ErrorKind = "PERMISSION_DENIED"
	ErrInternal            ErrorKind = "INTERNAL_ERROR"
)

// Valid reports whether k is a known error kind.
func (k ErrorKind) Valid() bool {
	switch k {
	case ErrInvalidInput, ErrRateLimited, ErrLLM, ErrToolUnavailable,
		ErrToolExecution, ErrPlanValidation, ErrDependencyUnmet,
		ErrTimeout, ErrPermissionDenied, ErrInternal:
		return true
	}
	return false
}

func (k ErrorKind) String() string { return string(k) }

// KindError is an error carrying a classification kind. Components that
// hand failures across boundaries wrap the cause in a KindError so the
// receiver can route on the kind instead of string-matching.
type KindError struct {
	Kind   ErrorKind
	Op     string // operation that failed, e.g. "llm.generate"
	Detail string
	Err    error
}

func (e *KindError) Error() string {
	// Detail wins over Err: callers that set both embed the cause in
	// the detail already.
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *KindError) Unwrap() error { return e.Err }

// NewKindError builds a classified error.
func NewKindError(kind ErrorKind, op, detail string, err error) *KindError {
	return &KindError{Kind: kind, Op: op, Detail: detail, Err: err}
}

// KindOf extracts the classification from err, walking the wrap chain.
// Unclassified errors report ErrInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for e := err; e != nil; {
		if ke, ok := e.(*KindError); ok {
			return ke.Kind
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return ErrInternal
}
