package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
)

// InMemoryCredentialStore keeps credentials in a map. It honors the same
// atomicity contracts as the Postgres repository and backs tests and
// standalone deployments.
type InMemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[uuid.UUID]*models.Credential
}

func NewInMemoryCredentialStore() *InMemoryCredentialStore {
	return &InMemoryCredentialStore{
		creds: make(map[uuid.UUID]*models.Credential),
	}
}

func (s *InMemoryCredentialStore) Create(ctx context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cred.CreatedAt = now
	cred.UpdatedAt = now
	cp := *cred
	s.creds[cred.ID] = &cp
	return nil
}

func (s *InMemoryCredentialStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[id]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *InMemoryCredentialStore) GetByPrefix(ctx context.Context, prefix string) ([]*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Credential
	for _, cred := range s.creds {
		if cred.Prefix == prefix {
			cp := *cred
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryCredentialStore) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Credential
	for _, cred := range s.creds {
		if cred.OrganizationID == orgID {
			cp := *cred
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryCredentialStore) Update(ctx context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.creds[cred.ID]
	if !ok {
		return ErrCredentialNotFound
	}
	cp := *cred
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	s.creds[cred.ID] = &cp
	return nil
}

func (s *InMemoryCredentialStore) ReplaceSecret(ctx context.Context, id uuid.UUID, secretHash, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[id]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.SecretHash = secretHash
	cred.Prefix = prefix
	cred.UsageCount = 0
	cred.LastUsedAt = nil
	cred.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryCredentialStore) TouchUsage(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[id]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.UsageCount++
	now := time.Now()
	cred.LastUsedAt = &now
	return nil
}

func (s *InMemoryCredentialStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[id]; !ok {
		return ErrCredentialNotFound
	}
	delete(s.creds, id)
	return nil
}
