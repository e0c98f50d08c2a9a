// Package identity builds a policy.Principal from transport-level
// metadata. The exact binding (service-account token, mTLS peer
// certificate, ...) is a deployment choice — this package implements a
// header-based binding (FromHeaders) and an mTLS peer-certificate binding
// (FromPeerCertificate).
package identity

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"strings"

	"github.com/olegmukhin/thoughtgate/pkg/policy"
)

const (
	headerNamespace      = "X-Thoughtgate-Namespace"
	headerApp            = "X-Thoughtgate-App"
	headerServiceAccount = "X-Thoughtgate-Service-Account"
	headerRoles          = "X-Thoughtgate-Roles" // comma-separated
)

// ErrMissingIdentity is returned when a request carries none of the
// expected identity headers.
var ErrMissingIdentity = fmt.Errorf("identity: request carries no identity metadata")

// FromHeaders builds a Principal from the recommended service-account
// header set. It is the simplest ingress binding — a sidecar deployment
// that terminates mTLS in front of this process and forwards identity as
// headers.
func FromHeaders(h http.Header) (policy.Principal, error) {
	ns := h.Get(headerNamespace)
	app := h.Get(headerApp)
	sa := h.Get(headerServiceAccount)
	if ns == "" && app == "" && sa == "" {
		return policy.Principal{}, ErrMissingIdentity
	}

	var roles []string
	if raw := h.Get(headerRoles); raw != "" {
		for _, r := range strings.Split(raw, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
	}

	return policy.Principal{
		Namespace:      ns,
		AppName:        app,
		ServiceAccount: sa,
		Roles:          roles,
	}, nil
}

// FromPeerCertificate builds a Principal from an mTLS client certificate's
// subject, using CommonName as ServiceAccount and the first
// OrganizationalUnit as Namespace — a common convention for SPIFFE-style
// service identity encoded in a cert subject.
func FromPeerCertificate(cert *x509.Certificate) (policy.Principal, error) {
	if cert == nil {
		return policy.Principal{}, ErrMissingIdentity
	}
	p := policy.Principal{ServiceAccount: cert.Subject.CommonName}
	if len(cert.Subject.OrganizationalUnit) > 0 {
		p.Namespace = cert.Subject.OrganizationalUnit[0]
	}
	if len(cert.Subject.Organization) > 0 {
		p.AppName = cert.Subject.Organization[0]
	}
	if p.ServiceAccount == "" {
		return policy.Principal{}, ErrMissingIdentity
	}
	return p, nil
}
