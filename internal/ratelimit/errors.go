package ratelimit

import (
	"errors"
	"net"
)

// TransientError marks a failure worth retrying (connection drop, 429, 503).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks a failure that must not be retried (bad request,
// auth failure, unknown model).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err should be retried. The outermost
// explicit marker wins; otherwise network timeouts count as transient and
// everything else is surfaced immediately.
func IsTransient(err error) bool {
	for e := err; e != nil; {
		switch e.(type) {
		case *TransientError:
			return true
		case *PermanentError:
			return false
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
