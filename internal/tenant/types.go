// Package tenant holds the multi-tenant directory: organizations and the
// users operating on their behalf.
package tenant

import "time"

// Organization is a tenant of the platform.
type Organization struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]string
}

// User is a human account belonging to one organization. Platform
// operators have an empty OrganizationID and carry the superadmin role in
// their session instead.
type User struct {
	ID             string
	OrganizationID string
	Email          string
	PasswordHash   string
	Roles          []string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the user may authenticate.
func (u *User) Active() bool {
	return u.Status == "active"
}
