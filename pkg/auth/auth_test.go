package auth

import (
	"errors"
	"net/http"
	"testing"
)

// mockAuthn is a test authenticator with configurable behavior.
type mockAuthn struct {
	result AuthResult
}

func (m *mockAuthn) Name() string { return "mock" }

func (m *mockAuthn) Authenticate(_ *http.Request) AuthResult {
	return m.result
}

func TestAuthChain_FirstYesStops(t *testing.T) {
	chain := NewChain(
		&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "alice"}}},
		&mockAuthn{result: AuthResult{Decision: No, Err: ErrUnauthenticated}},
	)

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(r)

	if result.Decision != Yes {
		t.Errorf("Decision = %d, want Yes", result.Decision)
	}
	if result.Identity.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "alice")
	}
}

func TestAuthChain_FirstNoStops(t *testing.T) {
	chain := NewChain(
		&mockAuthn{result: AuthResult{Decision: No, Err: ErrUnauthenticated}},
		&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "bob"}}},
	)

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(r)

	if result.Decision != No {
		t.Errorf("Decision = %d, want No", result.Decision)
	}
}

func TestAuthChain_AllAbstain_Denied(t *testing.T) {
	chain := NewChain(
		&mockAuthn{result: AuthResult{Decision: Abstain}},
		&mockAuthn{result: AuthResult{Decision: Abstain}},
	)

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(r)

	if result.Decision != No {
		t.Errorf("Decision = %d, want No (abstention denies)", result.Decision)
	}
	if !errors.Is(result.Err, ErrUnauthenticated) {
		t.Errorf("Err = %v, want ErrUnauthenticated", result.Err)
	}
}

func TestAuthChain_AllAbstain_AllowByDefault(t *testing.T) {
	chain := NewChain(
		&mockAuthn{result: AuthResult{Decision: Abstain}},
	).AllowByDefault()

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(r)

	if result.Decision != Yes {
		t.Errorf("Decision = %d, want Yes (default allow)", result.Decision)
	}
	if result.Identity.Subject != "anonymous" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "anonymous")
	}
}

func TestAuthChain_Empty_Denied(t *testing.T) {
	chain := NewChain()

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(r)

	if result.Decision != No {
		t.Errorf("Decision = %d, want No (empty chain)", result.Decision)
	}
}

func TestAuthChain_AbstainThenYes(t *testing.T) {
	chain := NewChain(
		&mockAuthn{result: AuthResult{Decision: Abstain}},
		&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "jwt-user"}}},
	)

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(r)

	if result.Decision != Yes {
		t.Errorf("Decision = %d, want Yes", result.Decision)
	}
	if result.Identity.Subject != "jwt-user" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "jwt-user")
	}
}

func TestIdentity_HasScope(t *testing.T) {
	id := &Identity{Subject: "alice", Scopes: []string{"execute", "admin"}}
	if !id.HasScope("execute") {
		t.Error("HasScope(execute) = false, want true")
	}
	if id.HasScope("delete") {
		t.Error("HasScope(delete) = true, want false")
	}

	// No scopes.
	id2 := &Identity{Subject: "bob"}
	if id2.HasScope("execute") {
		t.Error("HasScope on scopeless identity = true, want false")
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := t.Context()

	// No identity set.
	if _, ok := IdentityFromContext(ctx); ok {
		t.Error("expected no identity from empty context")
	}

	// Set and retrieve.
	id := &Identity{Subject: "alice"}
	ctx = SetIdentity(ctx, id)
	got, ok := IdentityFromContext(ctx)
	if !ok || got.Subject != "alice" {
		t.Errorf("got %v, want alice", got)
	}
}
