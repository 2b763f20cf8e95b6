package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"changeops.io/internal/auth"
	"changeops.io/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	sessions, err := auth.NewSessions("audit-test-secret")
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	_, claims, err := sessions.Issue("user-42", "org-9", []string{"admin"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithSession(ctx, claims)

	if err := LogEvent(ctx, "impersonation.token.issued", map[string]any{"mode": "read"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "impersonation.token.issued" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_user_id"] != "user-42" {
		t.Fatalf("unexpected actor: %v", entry["actor_user_id"])
	}
	if entry["actor_org_id"] != "org-9" {
		t.Fatalf("unexpected actor org: %v", entry["actor_org_id"])
	}
	if entry["actor_session_id"] == "" {
		t.Fatal("expected actor session id")
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["mode"] != "read" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
