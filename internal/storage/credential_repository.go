package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"creditgate/internal/auth"
	"creditgate/internal/models"
)

// CredentialRepository implements auth.CredentialStore on Postgres.
// GetByID results are cached; every mutation invalidates the entry.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{
		db: db,
	}
}

const credentialColumns = `
	id, organization_id, user_id, name, secret_hash, prefix, permissions,
	rate_limit_per_minute, active, expires_at, last_used_at, usage_count,
	created_at, updated_at
`

// Create persists a new credential
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (
			id, organization_id, user_id, name, secret_hash, prefix, permissions,
			rate_limit_per_minute, active, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		cred.ID, cred.OrganizationID, cred.UserID, cred.Name, cred.SecretHash,
		cred.Prefix, cred.Permissions, cred.RateLimitPerMinute, cred.Active,
		cred.ExpiresAt,
	).Scan(&cred.CreatedAt, &cred.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// GetByID retrieves a credential by ID
func (r *CredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	if cached, found := r.db.credentialCache.Get(id); found {
		return cached, nil
	}

	var cred models.Credential
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`

	err := r.db.conn.GetContext(ctx, &cred, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, auth.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	r.db.credentialCache.Put(cred)
	return &cred, nil
}

// GetByPrefix retrieves candidate credentials by display prefix. The prefix
// column is indexed; collisions are possible so callers compare hashes
// against every candidate. Never cached: verification must see fresh
// active/expiry state.
func (r *CredentialRepository) GetByPrefix(ctx context.Context, prefix string) ([]*models.Credential, error) {
	var creds []*models.Credential
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE prefix = $1`

	err := r.db.conn.SelectContext(ctx, &creds, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials by prefix: %w", err)
	}

	return creds, nil
}

// ListByOrganization retrieves an organization's credentials, newest first
func (r *CredentialRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.Credential, error) {
	if limit <= 0 {
		limit = 100
	}

	var creds []*models.Credential
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	err := r.db.conn.SelectContext(ctx, &creds, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	return creds, nil
}

// Update persists the mutable fields of a credential
func (r *CredentialRepository) Update(ctx context.Context, cred *models.Credential) error {
	query := `
		UPDATE credentials
		SET name = $2, permissions = $3, rate_limit_per_minute = $4,
		    active = $5, expires_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.conn.QueryRowContext(
		ctx, query,
		cred.ID, cred.Name, cred.Permissions, cred.RateLimitPerMinute,
		cred.Active, cred.ExpiresAt,
	).Scan(&cred.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return auth.ErrCredentialNotFound
		}
		return fmt.Errorf("failed to update credential: %w", err)
	}

	r.invalidate(cred.ID)
	return nil
}

// ReplaceSecret swaps in a new hash and prefix, resetting usage counters.
// The old secret stops verifying the moment this commits.
func (r *CredentialRepository) ReplaceSecret(ctx context.Context, id uuid.UUID, secretHash, prefix string) error {
	query := `
		UPDATE credentials
		SET secret_hash = $2, prefix = $3, usage_count = 0,
		    last_used_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.conn.ExecContext(ctx, query, id, secretHash, prefix)
	if err != nil {
		return fmt.Errorf("failed to replace credential secret: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to replace credential secret: %w", err)
	}
	if rows == 0 {
		return auth.ErrCredentialNotFound
	}

	r.invalidate(id)
	return nil
}

// TouchUsage atomically increments the usage counter and stamps last_used_at.
// The increment happens in the database so concurrent touches never lose
// updates.
func (r *CredentialRepository) TouchUsage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE credentials
		SET usage_count = usage_count + 1, last_used_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to touch credential usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to touch credential usage: %w", err)
	}
	if rows == 0 {
		return auth.ErrCredentialNotFound
	}

	r.invalidate(id)
	return nil
}

// Delete hard-removes a credential
func (r *CredentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if rows == 0 {
		return auth.ErrCredentialNotFound
	}

	r.invalidate(id)
	return nil
}

func (r *CredentialRepository) invalidate(id uuid.UUID) {
	r.db.credentialCache.Invalidate(id)
}
