// Package errors defines the taxonomy of terminal outcomes surfaced at the
// proxy boundary: every internal failure is demoted to one of these kinds
// before it reaches a client.
package errors

import (
	"errors"
	"fmt"
)

// Kind tags an Error with its place in the taxonomy.
type Kind string

const (
	KindPolicyDenied       Kind = "policy_denied"
	KindApprovalTimeout    Kind = "approval_timeout"
	KindApprovalDenied     Kind = "approval_denied"
	KindApprovalCancelled  Kind = "approval_cancelled"
	KindUpstreamTimeout    Kind = "upstream_timeout"
	KindUpstreamTransport  Kind = "upstream_transport"
	KindPolicyEngineError  Kind = "policy_engine_error"
	KindRateLimiterError   Kind = "rate_limiter_error"
)

// DeadlineKind distinguishes which deadline fired for KindUpstreamTimeout.
type DeadlineKind string

const (
	DeadlineChunk DeadlineKind = "chunk"
	DeadlineTotal DeadlineKind = "total"
)

// Error is the taxonomy's concrete type. Message is safe to log but never
// to return to an external client verbatim — callers map Kind to a fixed,
// user-safe string at the transport boundary (see Boundary).
type Error struct {
	Kind     Kind
	Message  string
	Deadline DeadlineKind // set only when Kind == KindUpstreamTimeout
	cause    error
}

func (e *Error) Error() string {
	if e.Deadline != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Deadline, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is supports errors.Is(err, PolicyDenied("")) style matching on Kind alone,
// ignoring Message/Deadline/cause — callers typically only care which
// taxonomy bucket an error falls into.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func PolicyDenied(reason string) *Error { return newErr(KindPolicyDenied, reason, nil) }

func ApprovalTimeout() *Error {
	return newErr(KindApprovalTimeout, "approval not received within allotted time", nil)
}

func ApprovalDenied() *Error { return newErr(KindApprovalDenied, "approval denied", nil) }

func ApprovalCancelled() *Error { return newErr(KindApprovalCancelled, "approval cancelled by client", nil) }

func UpstreamTimeout(deadline DeadlineKind) *Error {
	e := newErr(KindUpstreamTimeout, fmt.Sprintf("%s deadline exceeded", deadline), nil)
	e.Deadline = deadline
	return e
}

func UpstreamTransport(cause error) *Error {
	return newErr(KindUpstreamTransport, "upstream transport failure", cause)
}

func PolicyEngineError(cause error) *Error {
	return newErr(KindPolicyEngineError, "policy engine error", cause)
}

func RateLimiterError(msg string) *Error { return newErr(KindRateLimiterError, msg, nil) }

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
