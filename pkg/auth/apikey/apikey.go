// Package apikey authenticates requests by static API keys presented as
// Bearer tokens. Keys are compared as SHA-256 digests in constant time.
package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/jkoenig/runbox/pkg/auth"
)

// KeyEntry is a provisioned API key with its hash precomputed.
type KeyEntry struct {
	hash    [sha256.Size]byte
	Subject string
	Scopes  []string
}

// RawKeyEntry is the plaintext form used at configuration time.
type RawKeyEntry struct {
	Key     string
	Subject string
	Scopes  []string
}

// Authenticator validates Bearer tokens against a fixed key set.
type Authenticator struct {
	keys []KeyEntry
}

// New builds an authenticator from raw key entries.
func New(raw []RawKeyEntry) (*Authenticator, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("apikey: no keys provisioned")
	}
	keys := make([]KeyEntry, 0, len(raw))
	for i, r := range raw {
		if r.Key == "" {
			return nil, fmt.Errorf("apikey: entry %d has empty key", i)
		}
		if r.Subject == "" {
			return nil, fmt.Errorf("apikey: entry %d has empty subject", i)
		}
		keys = append(keys, KeyEntry{
			hash:    sha256.Sum256([]byte(r.Key)),
			Subject: r.Subject,
			Scopes:  r.Scopes,
		})
	}
	return &Authenticator{keys: keys}, nil
}

var _ auth.Authenticator = (*Authenticator)(nil)

func (a *Authenticator) Name() string { return "apikey" }

// Authenticate abstains when no Bearer token is present, so a JWT
// authenticator later in the chain can still claim the request.
func (a *Authenticator) Authenticate(r *http.Request) auth.AuthResult {
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	presented := sha256.Sum256([]byte(token))
	for i := range a.keys {
		if subtle.ConstantTimeCompare(presented[:], a.keys[i].hash[:]) == 1 {
			return auth.AuthResult{
				Decision: auth.Yes,
				Identity: &auth.Identity{
					Subject: a.keys[i].Subject,
					Scopes:  a.keys[i].Scopes,
					Metadata: map[string]string{
						"auth_method": "apikey",
					},
				},
			}
		}
	}
	return auth.AuthResult{
		Decision: auth.No,
		Err:      fmt.Errorf("%w: unknown api key", auth.ErrUnauthenticated),
	}
}
