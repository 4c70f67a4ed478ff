// Package noop provides a pass-through authenticator for development and
// for deployments that terminate auth upstream.
package noop

import (
	"net/http"

	"github.com/jkoenig/runbox/pkg/auth"
)

// Authenticator admits every request with a fixed anonymous identity.
type Authenticator struct{}

// New returns a no-op authenticator.
func New() *Authenticator {
	return &Authenticator{}
}

var _ auth.Authenticator = (*Authenticator)(nil)

func (a *Authenticator) Name() string { return "noop" }

func (a *Authenticator) Authenticate(_ *http.Request) auth.AuthResult {
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{Subject: "anonymous"},
	}
}
