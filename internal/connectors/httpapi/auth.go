package httpapi

import (
	"net/http"

	"github.com/agentstation/fieldsync/pkg/connectors"
)

// Authenticator applies a credential to an outgoing request.
type Authenticator interface {
	Apply(req *http.Request, cred connectors.Credential)
	// Required reports whether requests fail without a credential.
	Required() bool
}

// NoAuth implements no authentication.
type NoAuth struct{}

// Apply implements the Authenticator interface for NoAuth.
func (NoAuth) Apply(*http.Request, connectors.Credential) {}

// Required implements Authenticator.
func (NoAuth) Required() bool { return false }

// BearerAuth implements Bearer token authentication.
type BearerAuth struct{}

// Apply implements the Authenticator interface for BearerAuth.
func (BearerAuth) Apply(req *http.Request, cred connectors.Credential) {
	req.Header.Set("Authorization", "Bearer "+string(cred))
}

// Required implements Authenticator.
func (BearerAuth) Required() bool { return true }

// HeaderAuth implements custom header authentication.
type HeaderAuth struct {
	Header string
}

// Apply implements the Authenticator interface for HeaderAuth.
func (a HeaderAuth) Apply(req *http.Request, cred connectors.Credential) {
	req.Header.Set(a.Header, string(cred))
}

// Required implements Authenticator.
func (HeaderAuth) Required() bool { return true }

// QueryAuth implements credential as query parameter authentication.
type QueryAuth struct {
	Param string
}

// Apply implements the Authenticator interface for QueryAuth.
func (a QueryAuth) Apply(req *http.Request, cred connectors.Credential) {
	if req.URL == nil {
		return
	}
	query := req.URL.Query()
	query.Set(a.Param, string(cred))
	req.URL.RawQuery = query.Encode()
}

// Required implements Authenticator.
func (QueryAuth) Required() bool { return true }
