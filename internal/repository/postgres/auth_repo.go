// internal/repository/postgres/auth_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantumbulls-session/internal/domain/auth"
	xerrors "quantumbulls-session/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuthRepository struct {
	db *pgxpool.Pool
}

func NewAuthRepository(db *DB) *AuthRepository {
	return &AuthRepository{db: db.Pool()}
}

// ========== Identity Methods ==========

// FindIdentityByEmail retrieves an identity by email
func (r *AuthRepository) FindIdentityByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	query := `
		SELECT id, email, status, last_login, created_at, updated_at, deleted_at
		FROM auth_identities
		WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL
	`

	var identity auth.Identity
	err := r.db.QueryRow(ctx, query, email).Scan(
		&identity.ID, &identity.Email, &identity.Status, &identity.LastLogin,
		&identity.CreatedAt, &identity.UpdatedAt, &identity.DeletedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	return &identity, nil
}

// UpdateIdentityLastLogin updates the last login timestamp
func (r *AuthRepository) UpdateIdentityLastLogin(ctx context.Context, id int64) error {
	query := `UPDATE auth_identities SET last_login = $1, updated_at = $1 WHERE id = $2`
	_, err := r.db.Exec(ctx, query, time.Now(), id)
	return err
}

// ========== Provider Methods ==========

// FindProviderByIdentityAndType finds a provider by identity ID and provider type
func (r *AuthRepository) FindProviderByIdentityAndType(ctx context.Context, identityID int64, providerType string) (*auth.Provider, error) {
	query := `
		SELECT id, identity_id, provider, password_hash, is_primary,
		       password_changed_at, created_at, updated_at
		FROM auth_providers
		WHERE identity_id = $1 AND provider = $2
	`

	var provider auth.Provider
	err := r.db.QueryRow(ctx, query, identityID, providerType).Scan(
		&provider.ID, &provider.IdentityID, &provider.Provider, &provider.PasswordHash,
		&provider.IsPrimary, &provider.PasswordChangedAt,
		&provider.CreatedAt, &provider.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provider: %w", err)
	}

	return &provider, nil
}

// ========== Utility Methods ==========

// ExistsByEmail checks if an identity with email exists
func (r *AuthRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM auth_identities WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL)`
	var exists bool
	err := r.db.QueryRow(ctx, query, email).Scan(&exists)
	return exists, err
}

// CreateLocalAccount creates an identity and its local provider in one transaction.
func (r *AuthRepository) CreateLocalAccount(ctx context.Context, identity *auth.Identity, passwordHash string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO auth_identities (email, status)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`, identity.Email, identity.Status).Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO auth_providers (identity_id, provider, password_hash, is_primary)
		VALUES ($1, $2, $3, TRUE)
	`, identity.ID, auth.ProviderLocal, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	return tx.Commit(ctx)
}
