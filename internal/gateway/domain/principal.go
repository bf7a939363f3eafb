package domain

import (
	"slices"
	"time"
)

// Principal is an authenticated identity. It belongs to exactly one tenant
// and carries roles that only mean something inside that tenant.
type Principal struct {
	ID           string
	TenantID     string
	Login        string
	PasswordHash string // argon2id PHC string
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole reports whether role is part of the principal's role set. An empty
// role is satisfied by any principal.
func (p Principal) HasRole(role string) bool {
	if role == "" {
		return true
	}
	return slices.Contains(p.Roles, role)
}
