package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	sessions, err := NewSessions("unit-test-secret")
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	token, issued, err := sessions.Issue("user-42", "org-7", []string{"Admin", "viewer", "admin"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.SessionID() == "" {
		t.Fatal("expected session id to be assigned")
	}

	claims, err := sessions.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.OrganizationID != "org-7" {
		t.Fatalf("unexpected organization: %s", claims.OrganizationID)
	}
	if claims.SessionID() != issued.SessionID() {
		t.Fatalf("session id mismatch: %s != %s", claims.SessionID(), issued.SessionID())
	}
	if !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "viewer") {
		t.Fatalf("roles not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a, _ := NewSessions("secret-a")
	b, _ := NewSessions("secret-b")

	token, _, err := a.Issue("user-1", "", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpiredSession(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := now
	sessions, err := NewSessions("unit-test-secret",
		WithSessionTTL(time.Hour),
		WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	token, _, err := sessions.Issue("user-1", "org-1", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := sessions.Verify(token); err != nil {
		t.Fatalf("expected fresh session to verify: %v", err)
	}

	clock = now.Add(2 * time.Hour)
	if _, err := sessions.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	sessions, _ := NewSessions("unit-test-secret")
	for _, token := range []string{"", "  ", "not-a-jwt", "a.b.c"} {
		if _, err := sessions.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", token, err)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	sessions, _ := NewSessions("unit-test-secret")
	_, claims, err := sessions.Issue("user-7", "org-1", []string{"Admin", "viewer"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	ctx := ContextWithSession(context.Background(), claims)
	got, ok := SessionFromContext(ctx)
	if !ok || got.Subject != "user-7" {
		t.Fatalf("unexpected session from context: %+v ok=%v", got, ok)
	}
	if !HasRole(ctx, "ADMIN") || !HasRole(ctx, "viewer") {
		t.Fatalf("HasRole missing expected roles: %v", got.Roles)
	}
	if HasRole(ctx, "operator") {
		t.Fatal("unexpected role found")
	}
	if _, ok := SessionFromContext(context.Background()); ok {
		t.Fatal("expected no session on bare context")
	}
}
