package engine

import (
	"errors"
	"fmt"

	"hlfleet/internal/gateway/exchange"
)

// ValidationError rejects a signal before anything reaches the venue. The row
// is marked failed with Reason in its notes.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TransientError wraps an infrastructure failure that ends the tick. The loop
// retries on its next tick.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// terminal reports whether err settles a signal as failed instead of being
// retried.
func terminal(err error) bool {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return true
	}
	return exchange.IsRejection(err)
}
