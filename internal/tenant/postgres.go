package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"changeops.io/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Organizations() OrganizationStore { return &orgStore{db: s.db} }
func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }

// Organization store -------------------------------------------------------
type orgStore struct{ db *sql.DB }

func (s *orgStore) Create(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	if org.Status == "" {
		org.Status = "active"
	}
	meta, _ := json.Marshal(org.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into organizations(id, name, status, metadata) values($1,$2,$3,$4)`,
		org.ID, org.Name, org.Status, meta,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("organization %s: %w", org.ID, ErrAlreadyExists)
	}
	return err
}

func (s *orgStore) Find(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, status, created_at, updated_at, metadata from organizations where id=$1`, id,
	)
	return scanOrganization(row)
}

func (s *orgStore) List(ctx context.Context) ([]*Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, status, created_at, updated_at, metadata from organizations order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, org)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanOrganization(row rowScanner) (*Organization, error) {
	var (
		org      Organization
		metadata []byte
	)
	if err := row.Scan(&org.ID, &org.Name, &org.Status, &org.CreatedAt, &org.UpdatedAt, &metadata); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(metadata, &org.Metadata)
	return &org, nil
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = "active"
	}
	roles, _ := json.Marshal(u.Roles)
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, organization_id, email, password_hash, roles, status) values($1,$2,$3,$4,$5,$6)`,
		u.ID, u.OrganizationID, u.Email, u.PasswordHash, roles, u.Status,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Email, ErrAlreadyExists)
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, organization_id, email, password_hash, roles, status, created_at, updated_at from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, organization_id, email, password_hash, roles, status, created_at, updated_at from users where email=$1`, email)
	return scanUser(row)
}

func (s *userStore) ListByOrg(ctx context.Context, orgID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, organization_id, email, password_hash, roles, status, created_at, updated_at from users where organization_id=$1 order by created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u     User
		roles []byte
	)
	if err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash, &roles, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(roles, &u.Roles)
	return &u, nil
}
