package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"changeops.io/internal/auth"
	"changeops.io/internal/tenant"
)

func seedUser(t *testing.T, env *testEnv, email, password string, roles []string, status string) *tenant.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &tenant.User{
		ID:             "user-" + email,
		OrganizationID: "org-1",
		Email:          email,
		PasswordHash:   hash,
		Roles:          roles,
		Status:         status,
	}
	env.store.users[u.ID] = u
	return u
}

func loginRequestFor(email, password, remote string) *http.Request {
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
	req.RemoteAddr = remote
	return req
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env, "a@acme.test", "correct horse", []string{"member"}, "active")

	rr := env.do(t, loginRequestFor("a@acme.test", "correct horse", "10.3.0.1:1000"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("expected session token")
	}
	if body["user_id"] != user.ID || body["organization_id"] != "org-1" {
		t.Fatalf("unexpected body: %v", body)
	}

	claims, err := env.sessions.Verify(token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != user.ID {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
}

func TestLoginUniformFailureResponses(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env, "a@acme.test", "correct horse", []string{"member"}, "active")
	seedUser(t, env, "gone@acme.test", "whatever", []string{"member"}, "suspended")

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "a@acme.test", "battery staple"},
		{"unknown account", "nobody@acme.test", "battery staple"},
		{"suspended account", "gone@acme.test", "whatever"},
	}
	for i, tc := range cases {
		remote := fmt.Sprintf("10.3.1.%d:1000", i+1)
		rr := env.do(t, loginRequestFor(tc.email, tc.password, remote))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["error"] != "invalid credentials" {
			t.Fatalf("%s: expected uniform error message, got %v", tc.name, body["error"])
		}
	}
}

func TestLoginThrottleLocksOut(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env, "a@acme.test", "correct horse", []string{"member"}, "active")

	// Throttle allows two failures per subject; same email and IP share
	// one lockout key.
	for i := 0; i < 2; i++ {
		rr := env.do(t, loginRequestFor("a@acme.test", "wrong", "10.3.2.1:1000"))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}

	rr := env.do(t, loginRequestFor("a@acme.test", "correct horse", "10.3.2.1:1000"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 even with correct password, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// A different client IP is not affected.
	rr = env.do(t, loginRequestFor("a@acme.test", "correct horse", "10.3.2.2:1000"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from other client, got %d", rr.Code)
	}
}

func TestLoginSuccessResetsThrottle(t *testing.T) {
	env := newTestEnv(t)
	seedUser(t, env, "a@acme.test", "correct horse", []string{"member"}, "active")

	rr := env.do(t, loginRequestFor("a@acme.test", "wrong", "10.3.3.1:1000"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr = env.do(t, loginRequestFor("a@acme.test", "correct horse", "10.3.3.1:1000"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	// The counter restarted, so one more failure does not lock out.
	rr = env.do(t, loginRequestFor("a@acme.test", "wrong", "10.3.3.1:1000"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after reset, got %d", rr.Code)
	}
	rr = env.do(t, loginRequestFor("a@acme.test", "correct horse", "10.3.3.1:1000"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after single failure, got %d", rr.Code)
	}
}

func TestLoginRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, loginRequestFor("", "pw", "10.3.4.1:1000"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":"a@acme.test","extra":true}`))
	req.RemoteAddr = "10.3.4.2:1000"
	rr = env.do(t, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rr.Code)
	}
}

func TestLoginMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil)
	req.RemoteAddr = "10.3.5.1:1000"

	rr := env.do(t, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header: %q", rr.Header().Get("Allow"))
	}
}
