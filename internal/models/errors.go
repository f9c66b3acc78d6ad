package models

import "fmt"

// ExecErrorKind classifies execution failures into the shared taxonomy.
// RateLimited and Timeout are transient and may be retried once with backoff;
// everything else terminates the cycle's attempt for that symbol.
type ExecErrorKind string

const (
	ExecAuthFailure       ExecErrorKind = "AuthFailure"
	ExecInsufficientFunds ExecErrorKind = "InsufficientFunds"
	ExecRateLimited       ExecErrorKind = "RateLimited"
	ExecRejectedByVenue   ExecErrorKind = "RejectedByVenue"
	ExecTimeout           ExecErrorKind = "Timeout"
)

// ExecutionError is a venue-agnostic execution failure. Venue-specific codes
// are mapped into Kind at the adapter boundary and kept in Code for logging.
type ExecutionError struct {
	Kind ExecErrorKind
	Code int64
	Msg  string
}

func (e *ExecutionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("execution failed (%s, venue code %d): %s", e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("execution failed (%s): %s", e.Kind, e.Msg)
}

// Transient reports whether the failure may be retried within the same cycle.
func (e *ExecutionError) Transient() bool {
	return e.Kind == ExecRateLimited || e.Kind == ExecTimeout
}

// Permanent reports whether the failure indicates misconfiguration rather
// than market conditions. These should trip an operator-visible alert.
func (e *ExecutionError) Permanent() bool {
	return e.Kind == ExecAuthFailure
}

// InvariantViolationError signals that the ledger's accounting identity was
// broken. It is fatal to the controller: all trading halts and operator
// intervention is required. It must never be swallowed.
type InvariantViolationError struct {
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return "accounting invariant violated: " + e.Detail
}
