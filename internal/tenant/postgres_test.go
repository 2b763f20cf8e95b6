package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestOrgStoreFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("select id, name, status, created_at, updated_at, metadata from organizations").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at", "metadata"}).
			AddRow("org-1", "Acme Change Program", "active", now, now, []byte(`{"plan":"enterprise"}`)))

	store := NewPGStore(db)
	org, err := store.Organizations().Find(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if org.Name != "Acme Change Program" {
		t.Fatalf("unexpected name: %s", org.Name)
	}
	if org.Metadata["plan"] != "enterprise" {
		t.Fatalf("unexpected metadata: %v", org.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrgStoreFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, name, status, created_at, updated_at, metadata from organizations").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at", "metadata"}))

	store := NewPGStore(db)
	if _, err := store.Organizations().Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrgStoreCreateAssignsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into organizations").
		WithArgs(sqlmock.AnyArg(), "Acme", "active", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewPGStore(db)
	org := &Organization{Name: "Acme"}
	if err := store.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if org.ID == "" {
		t.Fatal("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserStoreCreateDuplicateEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	store := NewPGStore(db)
	u := &User{Email: "dupe@acme.test", PasswordHash: "h"}
	if err := store.Users().Create(context.Background(), u); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUserStoreFindByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("select id, organization_id, email, password_hash, roles, status, created_at, updated_at from users").
		WithArgs("ops@changeops.io").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "email", "password_hash", "roles", "status", "created_at", "updated_at"}).
			AddRow("user-1", "", "ops@changeops.io", "hash", []byte(`["superadmin"]`), "active", now, now))

	store := NewPGStore(db)
	user, err := store.Users().FindByEmail(context.Background(), "ops@changeops.io")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if !user.Active() {
		t.Fatal("expected active user")
	}
	if len(user.Roles) != 1 || user.Roles[0] != "superadmin" {
		t.Fatalf("unexpected roles: %v", user.Roles)
	}
}

func TestUserStoreListByOrg(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("select id, organization_id, email, password_hash, roles, status, created_at, updated_at from users").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "email", "password_hash", "roles", "status", "created_at", "updated_at"}).
			AddRow("u1", "org-1", "a@acme.test", "h", []byte(`["member"]`), "active", now, now).
			AddRow("u2", "org-1", "b@acme.test", "h", []byte(`["admin"]`), "suspended", now, now))

	store := NewPGStore(db)
	users, err := store.Users().ListByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListByOrg: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[1].Active() {
		t.Fatal("expected suspended user to be inactive")
	}
}
