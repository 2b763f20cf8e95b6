package tenant

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("tenant: not found")
	ErrAlreadyExists = errors.New("tenant: already exists")
)

// OrganizationStore manages organizations.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListByOrg(ctx context.Context, orgID string) ([]*User, error)
}

// Store bundles the directory stores behind one dependency.
type Store interface {
	Organizations() OrganizationStore
	Users() UserStore
}
