package tools

import "errors"

var (
	// ErrAlreadyRegistered reports a duplicate tool id.
	ErrAlreadyRegistered = errors.New("tool already registered")

	// ErrNotFound reports a lookup for an unknown tool id.
	ErrNotFound = errors.New("tool not found")
)
