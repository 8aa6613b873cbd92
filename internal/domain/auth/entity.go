// internal/domain/auth/entity.go
package auth

import (
	"database/sql"
	"time"
)

// Identity represents the core user identity
type Identity struct {
	ID        int64          `json:"id" db:"id"`
	Email     sql.NullString `json:"email" db:"email"`
	Status    string         `json:"status" db:"status"` // active, inactive, suspended
	LastLogin sql.NullTime   `json:"last_login" db:"last_login"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt sql.NullTime   `json:"-" db:"deleted_at"`
}

// Blocked reports whether the identity may not sign in.
func (i *Identity) Blocked() bool {
	return i.Status == StatusInactive || i.Status == StatusSuspended
}

const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"

	ProviderLocal = "local"
)

// Provider represents an authentication provider. Only "local" is used.
type Provider struct {
	ID                int64          `json:"id" db:"id"`
	IdentityID        int64          `json:"identity_id" db:"identity_id"`
	Provider          string         `json:"provider" db:"provider"`
	PasswordHash      sql.NullString `json:"-" db:"password_hash"`
	IsPrimary         bool           `json:"is_primary" db:"is_primary"`
	PasswordChangedAt sql.NullTime   `json:"-" db:"password_changed_at"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}
