package identity

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromHeaders_BuildsPrincipal(t *testing.T) {
	h := http.Header{}
	h.Set("X-Thoughtgate-Namespace", "prod")
	h.Set("X-Thoughtgate-App", "research-agent")
	h.Set("X-Thoughtgate-Service-Account", "svc-research")
	h.Set("X-Thoughtgate-Roles", "admin, reviewer")

	p, err := FromHeaders(h)
	require.NoError(t, err)
	require.Equal(t, "prod", p.Namespace)
	require.Equal(t, "research-agent", p.AppName)
	require.Equal(t, []string{"admin", "reviewer"}, p.Roles)
}

func TestFromHeaders_MissingAllIsError(t *testing.T) {
	_, err := FromHeaders(http.Header{})
	require.ErrorIs(t, err, ErrMissingIdentity)
}

func TestFromPeerCertificate_BuildsPrincipal(t *testing.T) {
	cert := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:         "svc-research",
			OrganizationalUnit: []string{"prod"},
			Organization:       []string{"research-agent"},
		},
	}
	p, err := FromPeerCertificate(cert)
	require.NoError(t, err)
	require.Equal(t, "svc-research", p.ServiceAccount)
	require.Equal(t, "prod", p.Namespace)
	require.Equal(t, "research-agent", p.AppName)
}

func TestFromPeerCertificate_NilIsError(t *testing.T) {
	_, err := FromPeerCertificate(nil)
	require.ErrorIs(t, err, ErrMissingIdentity)
}
