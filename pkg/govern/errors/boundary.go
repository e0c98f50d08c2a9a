package errors

import "fmt"

// JSON-RPC error codes returned to the client. ApprovalDenied and
// ApprovalTimeout collapse onto the same external code deliberately, to
// avoid an oracle for "was a human asked" versus "did nobody answer".
const (
	CodePolicyDenied    = -32003
	CodeApprovalTimeout = -32004
	CodeUpstreamTimeout = -32005
	CodeUpstreamTransport = -32010
)

// RPCError is the wire shape returned to the client on the reject/timeout
// paths: a JSON-RPC error object plus the HTTP status it rides on.
type RPCError struct {
	HTTPStatus int
	Code       int
	Message    string
}

// genericMessages are the only strings ever sent externally for their
// Kind — internal Message/cause detail never crosses this boundary.
var genericMessages = map[Kind]string{
	KindPolicyDenied:      "request denied by policy",
	KindApprovalTimeout:   "approval not received within allotted time",
	KindApprovalDenied:    "approval not received within allotted time",
	KindUpstreamTimeout:   "upstream timeout",
	KindUpstreamTransport: "upstream transport failure",
	KindPolicyEngineError: "request denied by policy",
	KindRateLimiterError:  "internal error",
}

// Boundary maps a taxonomy Error to the wire response. KindApprovalCancelled
// has no wire representation: a cancelled request produces no response at
// all, so callers must check for that kind before invoking Boundary and
// simply close the connection.
func Boundary(err *Error) RPCError {
	msg := genericMessages[err.Kind]
	if msg == "" {
		msg = "internal error"
	}
	if err.Kind == KindUpstreamTimeout && err.Deadline != "" {
		msg = fmt.Sprintf("upstream timeout (%s deadline)", err.Deadline)
	}

	switch err.Kind {
	case KindPolicyDenied, KindPolicyEngineError:
		return RPCError{HTTPStatus: 403, Code: CodePolicyDenied, Message: msg}
	case KindApprovalTimeout, KindApprovalDenied:
		return RPCError{HTTPStatus: 504, Code: CodeApprovalTimeout, Message: msg}
	case KindUpstreamTimeout:
		return RPCError{HTTPStatus: 504, Code: CodeUpstreamTimeout, Message: msg}
	case KindUpstreamTransport:
		return RPCError{HTTPStatus: 502, Code: CodeUpstreamTransport, Message: msg}
	case KindRateLimiterError:
		return RPCError{HTTPStatus: 500, Code: CodeUpstreamTransport, Message: msg}
	default:
		return RPCError{HTTPStatus: 500, Code: CodeUpstreamTransport, Message: msg}
	}
}
