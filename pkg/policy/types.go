// Package policy defines the data model and evaluation contract for routing
// decisions: every inbound request is classified into Forward, Approve, or
// Reject by an Engine implementation before the proxy service acts on it.
package policy

import (
	"fmt"
	"time"
)

// Principal identifies the caller making a request. It is constructed once
// per request from transport-level identity (service-account token, mTLS
// peer, ...) and is immutable for the request's lifetime.
type Principal struct {
	AppName        string
	Namespace      string
	ServiceAccount string
	// Roles is an ordered sequence of role names. Duplicates are harmless —
	// uniqueness is not required and has no effect on evaluation.
	Roles []string
}

// String renders a compact identity for logging.
func (p Principal) String() string {
	return fmt.Sprintf("%s/%s/%s", p.Namespace, p.AppName, p.ServiceAccount)
}

// ResourceKind distinguishes the two shapes a Resource can take.
type ResourceKind int8

const (
	// ResourceToolCall identifies an MCP tool invocation.
	ResourceToolCall ResourceKind = iota
	// ResourceMcpMethod identifies a generic MCP protocol method call.
	ResourceMcpMethod
)

// Resource uniquely identifies the requested operation on an upstream. It is
// a tagged variant: exactly one of the (Name, Method) fields is meaningful,
// selected by Kind.
type Resource struct {
	Kind   ResourceKind
	Name   string // tool name, set when Kind == ResourceToolCall
	Method string // MCP method, set when Kind == ResourceMcpMethod
	Server string // upstream server identifier, always set
}

// ToolCall builds a Resource identifying an MCP tool call.
func ToolCall(name, server string) Resource {
	return Resource{Kind: ResourceToolCall, Name: name, Server: server}
}

// McpMethod builds a Resource identifying a generic MCP method.
func McpMethod(method, server string) Resource {
	return Resource{Kind: ResourceMcpMethod, Method: method, Server: server}
}

// String renders the resource for logging and diagnostics.
func (r Resource) String() string {
	switch r.Kind {
	case ResourceToolCall:
		return fmt.Sprintf("tool:%s@%s", r.Name, r.Server)
	case ResourceMcpMethod:
		return fmt.Sprintf("method:%s@%s", r.Method, r.Server)
	default:
		return fmt.Sprintf("unknown@%s", r.Server)
	}
}

// ApprovalGrant carries the outcome of a completed human/agent approval,
// supplied back into PolicyContext when a request is re-evaluated after
// approval.
type ApprovalGrant struct {
	TaskID         string
	ApprovedBy     string
	ApprovedAtUnix int64
}

// Context carries optional information used only when re-evaluating a
// request after approval. The zero value means "no approval context".
type Context struct {
	ApprovalGrant *ApprovalGrant
}

// Request is what callers hand the policy Engine: a principal acting on a
// resource, with optional post-approval context.
type Request struct {
	Principal Principal
	Resource  Resource
	Context   Context
}

// DecisionKind enumerates the three terminal routing outcomes.
type DecisionKind int8

const (
	DecisionForward DecisionKind = iota
	DecisionApprove
	DecisionReject
)

// Decision is the tagged-variant result of policy evaluation. Exactly one of
// Timeout (DecisionApprove) or Reason (DecisionReject) is meaningful,
// selected by Kind.
type Decision struct {
	Kind DecisionKind

	// Timeout is the approval window, set when Kind == DecisionApprove.
	// Always positive.
	Timeout time.Duration

	// Reason is an opaque, log-safe diagnostic, set when Kind ==
	// DecisionReject. Never propagated verbatim to the external client.
	Reason string
}

// Forward is the Green-path decision: stream the request through unmodified.
func Forward() Decision { return Decision{Kind: DecisionForward} }

// Approve requires human/agent sign-off before forwarding, within timeout.
// Panics if timeout is not positive — callers construct this from validated
// policy configuration, never from untrusted input.
func Approve(timeout time.Duration) Decision {
	if timeout <= 0 {
		panic("policy: Approve timeout must be positive")
	}
	return Decision{Kind: DecisionApprove, Timeout: timeout}
}

// Reject denies the request outright with a diagnostic reason.
// Panics if reason is empty — every Reject must carry a non-empty
// diagnostic per the engine's evaluation contract.
func Reject(reason string) Decision {
	if reason == "" {
		panic("policy: Reject reason must not be empty")
	}
	return Decision{Kind: DecisionReject, Reason: reason}
}

// Source describes where a policy engine's active rule set came from.
type SourceKind int8

const (
	SourceConfigMap SourceKind = iota
	SourceEnvironment
	SourceEmbedded
)

type Source struct {
	Kind     SourceKind
	Path     string // set when Kind == SourceConfigMap
	LoadedAt time.Time
}

// Stats are monotonically non-decreasing counters describing an Engine's
// lifetime, reset only by explicit operator action (never by reload).
type Stats struct {
	PolicyCount     int
	LastReload      *time.Time
	ReloadCount     uint64
	EvaluationCount uint64
}
