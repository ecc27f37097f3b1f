package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"creditgate/internal/models"
)

var (
	// ErrCredentialNotFound is returned for admin operations on a missing credential
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrForbidden is returned when a non-admin actor attempts an admin-only mutation
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidPermission is returned when a permission set contains unknown capabilities
	ErrInvalidPermission = errors.New("invalid permission")
)

// CredentialStore persists credentials. Implemented by
// storage.CredentialRepository (Postgres) and InMemoryCredentialStore.
type CredentialStore interface {
	Create(ctx context.Context, cred *models.Credential) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error)
	GetByPrefix(ctx context.Context, prefix string) ([]*models.Credential, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.Credential, error)
	Update(ctx context.Context, cred *models.Credential) error

	// ReplaceSecret swaps hash+prefix in place and resets usage_count and
	// last_used_at. All other fields survive.
	ReplaceSecret(ctx context.Context, id uuid.UUID, secretHash, prefix string) error

	// TouchUsage atomically increments usage_count and stamps last_used_at.
	// Concurrent touches of the same credential must not lose increments.
	TouchUsage(ctx context.Context, id uuid.UUID) error

	Delete(ctx context.Context, id uuid.UUID) error
}

// VerifyReason is the internal failure classification of a verification.
// It exists only so the audit trail can distinguish failure modes; the
// outward signal is always the collapsed "invalid credential".
type VerifyReason string

const (
	ReasonOK        VerifyReason = "ok"
	ReasonMalformed VerifyReason = "malformed"
	ReasonNotFound  VerifyReason = "not_found"
	ReasonMismatch  VerifyReason = "hash_mismatch"
	ReasonInactive  VerifyReason = "inactive"
	ReasonExpired   VerifyReason = "expired"
)

// VerifyResult is the outcome of presenting a secret.
type VerifyResult struct {
	Valid          bool
	Credential     *models.Credential
	OrganizationID uuid.UUID

	// Reason is for audit logging only. Handlers must not leak it.
	Reason VerifyReason
}

// CreateParams are the admin-supplied fields of a new credential.
type CreateParams struct {
	Name               string
	UserID             *uuid.UUID
	Permissions        []models.Permission
	RateLimitPerMinute int
	ExpiresAt          *time.Time
}

// UpdateParams are the mutable fields of a credential. Nil means unchanged.
type UpdateParams struct {
	Name               *string
	Permissions        []models.Permission
	RateLimitPerMinute *int
	Active             *bool
	ExpiresAt          *time.Time
	ClearExpiresAt     bool
}

// Registry issues and verifies bearer credentials.
type Registry struct {
	store CredentialStore
	cost  int

	// dummyHash is compared against when the prefix lookup comes up empty,
	// so a miss costs the same as a mismatch.
	dummyHash string
}

// NewRegistry creates a credential registry. cost is the bcrypt cost factor;
// 0 selects the bcrypt default.
func NewRegistry(store CredentialStore, cost int) (*Registry, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := HashSecret("creditgate-dummy-comparison-target", cost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}
	return &Registry{store: store, cost: cost, dummyHash: dummy}, nil
}

// Create generates a new credential for an organization and returns the
// stored view together with the plaintext secret. The plaintext is never
// persisted and never returned again.
func (r *Registry) Create(ctx context.Context, orgID uuid.UUID, params CreateParams) (*models.Credential, string, error) {
	if params.Name == "" {
		return nil, "", fmt.Errorf("%w: name is required", ErrInvalidPermission)
	}
	perms := make([]string, 0, len(params.Permissions))
	for _, p := range params.Permissions {
		if !p.IsValid() {
			return nil, "", fmt.Errorf("%w: %q", ErrInvalidPermission, p)
		}
		perms = append(perms, p.String())
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := HashSecret(secret, r.cost)
	if err != nil {
		return nil, "", err
	}

	rateLimit := params.RateLimitPerMinute
	if rateLimit == 0 {
		rateLimit = 60
	}

	cred := &models.Credential{
		ID:                 uuid.New(),
		OrganizationID:     orgID,
		UserID:             params.UserID,
		Name:               params.Name,
		SecretHash:         hash,
		Prefix:             DisplayPrefix(secret),
		Permissions:        pq.StringArray(perms),
		RateLimitPerMinute: rateLimit,
		Active:             true,
		ExpiresAt:          params.ExpiresAt,
	}

	if err := r.store.Create(ctx, cred); err != nil {
		return nil, "", fmt.Errorf("failed to create credential: %w", err)
	}
	return cred, secret, nil
}

// Verify resolves a presented plaintext secret into a credential. Invalid,
// inactive, and expired credentials all collapse to Valid=false; only the
// Reason field, meant for audit, tells them apart. A store error is the
// only condition reported as error.
func (r *Registry) Verify(ctx context.Context, presented string) (*VerifyResult, error) {
	if !WellFormed(presented) {
		// Burn a comparison anyway so malformed probes are not faster.
		CompareSecret(r.dummyHash, presented)
		return &VerifyResult{Reason: ReasonMalformed}, nil
	}

	candidates, err := r.store.GetByPrefix(ctx, DisplayPrefix(presented))
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}

	if len(candidates) == 0 {
		CompareSecret(r.dummyHash, presented)
		return &VerifyResult{Reason: ReasonNotFound}, nil
	}

	var matched *models.Credential
	for _, cand := range candidates {
		if CompareSecret(cand.SecretHash, presented) {
			matched = cand
			break
		}
	}
	if matched == nil {
		return &VerifyResult{Reason: ReasonMismatch}, nil
	}

	if !matched.Active {
		return &VerifyResult{Reason: ReasonInactive}, nil
	}
	if matched.IsExpired() {
		return &VerifyResult{Reason: ReasonExpired}, nil
	}

	// Duplicate presentations each count: the store increment is atomic.
	if err := r.store.TouchUsage(ctx, matched.ID); err != nil {
		return nil, fmt.Errorf("failed to record credential usage: %w", err)
	}
	matched.UsageCount++
	now := time.Now()
	matched.LastUsedAt = &now

	return &VerifyResult{
		Valid:          true,
		Credential:     matched,
		OrganizationID: matched.OrganizationID,
		Reason:         ReasonOK,
	}, nil
}

// Regenerate replaces the secret of an existing credential in place. The old
// secret becomes invalid the moment the store commits; usage counters reset.
// Returns the refreshed view, the new plaintext, and the old prefix for
// audit purposes.
func (r *Registry) Regenerate(ctx context.Context, actor *models.Credential, id, orgID uuid.UUID) (*models.Credential, string, string, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, "", "", err
	}

	cred, err := r.getScoped(ctx, id, orgID)
	if err != nil {
		return nil, "", "", err
	}
	oldPrefix := cred.Prefix

	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", "", err
	}
	hash, err := HashSecret(secret, r.cost)
	if err != nil {
		return nil, "", "", err
	}

	if err := r.store.ReplaceSecret(ctx, id, hash, DisplayPrefix(secret)); err != nil {
		return nil, "", "", fmt.Errorf("failed to regenerate credential: %w", err)
	}

	cred.SecretHash = hash
	cred.Prefix = DisplayPrefix(secret)
	cred.UsageCount = 0
	cred.LastUsedAt = nil

	return cred, secret, oldPrefix, nil
}

// Update applies admin mutations to a credential.
func (r *Registry) Update(ctx context.Context, actor *models.Credential, id, orgID uuid.UUID, params UpdateParams) (*models.Credential, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	cred, err := r.getScoped(ctx, id, orgID)
	if err != nil {
		return nil, err
	}

	if params.Name != nil {
		cred.Name = *params.Name
	}
	if params.Permissions != nil {
		perms := make([]string, 0, len(params.Permissions))
		for _, p := range params.Permissions {
			if !p.IsValid() {
				return nil, fmt.Errorf("%w: %q", ErrInvalidPermission, p)
			}
			perms = append(perms, p.String())
		}
		cred.Permissions = pq.StringArray(perms)
	}
	if params.RateLimitPerMinute != nil {
		cred.RateLimitPerMinute = *params.RateLimitPerMinute
	}
	if params.Active != nil {
		cred.Active = *params.Active
	}
	if params.ClearExpiresAt {
		cred.ExpiresAt = nil
	} else if params.ExpiresAt != nil {
		cred.ExpiresAt = params.ExpiresAt
	}

	if err := r.store.Update(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to update credential: %w", err)
	}
	return cred, nil
}

// Delete hard-removes a credential. The audit trail is the only remaining
// record of it.
func (r *Registry) Delete(ctx context.Context, actor *models.Credential, id, orgID uuid.UUID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if _, err := r.getScoped(ctx, id, orgID); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Get returns a credential scoped to an organization.
func (r *Registry) Get(ctx context.Context, id, orgID uuid.UUID) (*models.Credential, error) {
	return r.getScoped(ctx, id, orgID)
}

// List returns an organization's credentials, newest first.
func (r *Registry) List(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.Credential, error) {
	return r.store.ListByOrganization(ctx, orgID, limit, offset)
}

// getScoped fetches a credential and enforces organization scoping: a
// credential from another organization is reported as not found, never as
// forbidden.
func (r *Registry) getScoped(ctx context.Context, id, orgID uuid.UUID) (*models.Credential, error) {
	cred, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred.OrganizationID != orgID {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

// requireAdmin enforces the admin-only contract. A nil actor is the platform
// itself (bootstrap CLI, internal wiring) and is always allowed.
func requireAdmin(actor *models.Credential) error {
	if actor == nil {
		return nil
	}
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
