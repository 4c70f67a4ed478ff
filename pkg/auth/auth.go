package auth

import (
	"errors"
	"net/http"
)

// Sentinel errors, usable with errors.Is.
var (
	// ErrUnauthenticated indicates the request carried no valid credentials.
	ErrUnauthenticated = errors.New("auth: unauthenticated")

	// ErrForbidden indicates the identity is valid but lacks permission.
	ErrForbidden = errors.New("auth: forbidden")
)

// AuthDecision is the outcome of a single authenticator in a chain.
type AuthDecision int

const (
	// Abstain means the authenticator cannot handle this request
	// (e.g. the expected header is absent). The chain moves on.
	Abstain AuthDecision = iota

	// Yes means the authenticator validated the credentials.
	Yes

	// No means credentials were present but invalid. The chain stops.
	No
)

func (d AuthDecision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "abstain"
	}
}

// Identity describes an authenticated caller.
type Identity struct {
	// Subject is the stable identifier of the caller (key name, JWT sub).
	Subject string

	// Scopes are permission strings granted to the caller.
	Scopes []string

	// Metadata carries provider-specific claims.
	Metadata map[string]string
}

// HasScope reports whether the identity carries the given scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AuthResult combines a decision with its supporting data.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // non-nil iff Decision == Yes
	Err      error     // non-nil iff Decision == No
}

// Authenticator inspects a request and votes on it.
type Authenticator interface {
	// Name identifies the authenticator in logs.
	Name() string

	// Authenticate examines the request and returns a decision.
	Authenticate(r *http.Request) AuthResult
}

// AuthChain runs authenticators in order until one returns Yes or No.
type AuthChain struct {
	authenticators []Authenticator

	// allowByDefault controls the outcome when every authenticator
	// abstains. False means abstention is a denial.
	allowByDefault bool
}

// NewChain builds a chain from the given authenticators. By default an
// all-abstain outcome is a denial; use AllowByDefault to invert that.
func NewChain(authenticators ...Authenticator) *AuthChain {
	return &AuthChain{authenticators: authenticators}
}

// AllowByDefault makes the chain admit requests that no authenticator
// claimed. Only sensible for development setups.
func (c *AuthChain) AllowByDefault() *AuthChain {
	c.allowByDefault = true
	return c
}

// Authenticate runs the chain. The first Yes or No wins.
func (c *AuthChain) Authenticate(r *http.Request) AuthResult {
	for _, a := range c.authenticators {
		res := a.Authenticate(r)
		if res.Decision != Abstain {
			return res
		}
	}
	if c.allowByDefault {
		return AuthResult{
			Decision: Yes,
			Identity: &Identity{Subject: "anonymous"},
		}
	}
	return AuthResult{Decision: No, Err: ErrUnauthenticated}
}
