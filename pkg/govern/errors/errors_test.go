package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIs_MatchesOnKindOnly(t *testing.T) {
	a := PolicyDenied("tool in deny list")
	b := PolicyDenied("a different reason entirely")
	require.True(t, errors.Is(a, b))

	c := ApprovalTimeout()
	require.False(t, errors.Is(a, c))
}

func TestAs_UnwrapsWrappedError(t *testing.T) {
	base := UpstreamTransport(fmt.Errorf("dial tcp: connection refused"))
	wrapped := fmt.Errorf("forwarding request: %w", base)

	got, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, KindUpstreamTransport, got.Kind)
	require.Error(t, errors.Unwrap(got))
}

func TestUpstreamTimeout_CarriesDeadlineKind(t *testing.T) {
	err := UpstreamTimeout(DeadlineChunk)
	require.Equal(t, DeadlineChunk, err.Deadline)
	require.Contains(t, err.Error(), "chunk")
}

func TestBoundary_NeverLeaksInternalReason(t *testing.T) {
	err := PolicyDenied("this must never reach the client")
	rpc := Boundary(err)
	require.Equal(t, CodePolicyDenied, rpc.Code)
	require.NotContains(t, rpc.Message, "this must never reach the client")
}

func TestBoundary_DeniedAndExpiredCollapseToSameCode(t *testing.T) {
	denied := Boundary(ApprovalDenied())
	expired := Boundary(ApprovalTimeout())
	require.Equal(t, denied.Code, expired.Code, "Denied and Expired must be indistinguishable to the client")
	require.Equal(t, denied.Message, expired.Message)
}

func TestBoundary_UpstreamTransportIs502(t *testing.T) {
	rpc := Boundary(UpstreamTransport(errors.New("dns failure")))
	require.Equal(t, 502, rpc.HTTPStatus)
	require.Equal(t, CodeUpstreamTransport, rpc.Code)
}
