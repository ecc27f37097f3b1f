package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"creditgate/internal/models"
)

func newTestRegistry(t *testing.T) (*Registry, *InMemoryCredentialStore) {
	t.Helper()
	store := NewInMemoryCredentialStore()
	// MinCost keeps the KDF fast in tests; production uses the default.
	reg, err := NewRegistry(store, bcrypt.MinCost)
	require.NoError(t, err)
	return reg, store
}

func TestRegistry_CreateAndVerify(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	orgID := uuid.New()

	cred, secret, err := reg.Create(ctx, orgID, CreateParams{
		Name:        "production key",
		Permissions: []models.Permission{models.PermissionGenerate},
	})
	require.NoError(t, err)

	assert.Equal(t, orgID, cred.OrganizationID)
	assert.Equal(t, 60, cred.RateLimitPerMinute, "rate limit defaults to 60 rpm")
	assert.True(t, cred.Active)
	assert.NotContains(t, cred.SecretHash, secret, "plaintext must not appear in the hash")
	assert.Equal(t, DisplayPrefix(secret), cred.Prefix)

	res, err := reg.Verify(ctx, secret)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, orgID, res.OrganizationID)
	assert.Equal(t, cred.ID, res.Credential.ID)
	assert.Equal(t, int64(1), res.Credential.UsageCount)
	assert.NotNil(t, res.Credential.LastUsedAt)
}

func TestRegistry_VerifyFailures(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	orgID := uuid.New()

	cred, secret, err := reg.Create(ctx, orgID, CreateParams{
		Name:        "key",
		Permissions: []models.Permission{models.PermissionGenerate},
	})
	require.NoError(t, err)

	t.Run("malformed secret", func(t *testing.T) {
		res, err := reg.Verify(ctx, "not-a-key")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonMalformed, res.Reason)
	})

	t.Run("unknown prefix", func(t *testing.T) {
		other, err := GenerateSecret()
		require.NoError(t, err)
		res, err := reg.Verify(ctx, other)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonNotFound, res.Reason)
	})

	t.Run("right prefix wrong tail", func(t *testing.T) {
		forged := secret[:len(secret)-4] + "AAAA"
		if forged == secret {
			forged = secret[:len(secret)-4] + "BBBB"
		}
		res, err := reg.Verify(ctx, forged)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonMismatch, res.Reason)
	})

	t.Run("inactive credential", func(t *testing.T) {
		cred.Active = false
		require.NoError(t, store.Update(ctx, cred))

		res, err := reg.Verify(ctx, secret)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonInactive, res.Reason)

		cred.Active = true
		require.NoError(t, store.Update(ctx, cred))
	})

	t.Run("expired credential", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		cred.ExpiresAt = &past
		require.NoError(t, store.Update(ctx, cred))

		res, err := reg.Verify(ctx, secret)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonExpired, res.Reason)
	})
}

func TestRegistry_VerifyConcurrentUsageCount(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	cred, secret, err := reg.Create(ctx, uuid.New(), CreateParams{
		Name:        "hot key",
		Permissions: []models.Permission{models.PermissionGenerate},
	})
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := reg.Verify(ctx, secret)
			assert.NoError(t, err)
			assert.True(t, res.Valid)
		}()
	}
	wg.Wait()

	stored, err := store.GetByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), stored.UsageCount, "no lost usage-count increments")
}

func TestRegistry_Regenerate(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	orgID := uuid.New()

	cred, oldSecret, err := reg.Create(ctx, orgID, CreateParams{
		Name:               "rotating key",
		Permissions:        []models.Permission{models.PermissionGenerate, models.PermissionUsageRead},
		RateLimitPerMinute: 120,
	})
	require.NoError(t, err)

	// Bump the counter so the reset is observable.
	_, err = reg.Verify(ctx, oldSecret)
	require.NoError(t, err)

	refreshed, newSecret, oldPrefix, err := reg.Regenerate(ctx, nil, cred.ID, orgID)
	require.NoError(t, err)

	assert.Equal(t, cred.Prefix, oldPrefix)
	assert.NotEqual(t, oldSecret, newSecret)
	assert.Equal(t, DisplayPrefix(newSecret), refreshed.Prefix)
	assert.Equal(t, int64(0), refreshed.UsageCount)
	assert.Nil(t, refreshed.LastUsedAt)
	// Name, permissions, and rate limit survive rotation.
	assert.Equal(t, "rotating key", refreshed.Name)
	assert.Equal(t, 120, refreshed.RateLimitPerMinute)

	// Old secret is dead immediately.
	res, err := reg.Verify(ctx, oldSecret)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	// New secret works and counts from zero.
	res, err = reg.Verify(ctx, newSecret)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	stored, err := store.GetByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.UsageCount)
}

func TestRegistry_AdminOnlyMutations(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	orgID := uuid.New()

	cred, _, err := reg.Create(ctx, orgID, CreateParams{
		Name:        "victim",
		Permissions: []models.Permission{models.PermissionGenerate},
	})
	require.NoError(t, err)

	nonAdmin := &models.Credential{Permissions: []string{"generate"}}

	_, _, _, err = reg.Regenerate(ctx, nonAdmin, cred.ID, orgID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = reg.Update(ctx, nonAdmin, cred.ID, orgID, UpdateParams{})
	assert.ErrorIs(t, err, ErrForbidden)

	err = reg.Delete(ctx, nonAdmin, cred.ID, orgID)
	assert.ErrorIs(t, err, ErrForbidden)

	admin := &models.Credential{Permissions: []string{"admin"}}
	err = reg.Delete(ctx, admin, cred.ID, orgID)
	assert.NoError(t, err)

	_, err = reg.Get(ctx, cred.ID, orgID)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestRegistry_CrossOrganizationScoping(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	orgA := uuid.New()
	orgB := uuid.New()

	cred, _, err := reg.Create(ctx, orgA, CreateParams{
		Name:        "org A key",
		Permissions: []models.Permission{models.PermissionGenerate},
	})
	require.NoError(t, err)

	// From org B's point of view the credential does not exist.
	_, err = reg.Get(ctx, cred.ID, orgB)
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	err = reg.Delete(ctx, nil, cred.ID, orgB)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestRegistry_CreateRejectsUnknownPermission(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, _, err := reg.Create(context.Background(), uuid.New(), CreateParams{
		Name:        "bad",
		Permissions: []models.Permission{"superuser"},
	})
	assert.ErrorIs(t, err, ErrInvalidPermission)
}
