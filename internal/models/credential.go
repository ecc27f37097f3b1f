package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Credential represents an opaque bearer API key belonging to an organization.
// Only the bcrypt hash and a non-secret display prefix are ever persisted;
// the plaintext secret is returned exactly once at creation time.
type Credential struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	OrganizationID     uuid.UUID      `db:"organization_id" json:"organization_id"`
	UserID             *uuid.UUID     `db:"user_id" json:"user_id,omitempty"`
	Name               string         `db:"name" json:"name"`
	SecretHash         string         `db:"secret_hash" json:"-"` // bcrypt hash, never serialized
	Prefix             string         `db:"prefix" json:"prefix"` // non-secret display prefix, indexed
	Permissions        pq.StringArray `db:"permissions" json:"permissions"`
	RateLimitPerMinute int            `db:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	Active             bool           `db:"active" json:"active"`
	ExpiresAt          *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt         *time.Time     `db:"last_used_at" json:"last_used_at,omitempty"`
	UsageCount         int64          `db:"usage_count" json:"usage_count"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// HasPermission checks whether the credential holds a capability that
// satisfies the required one.
func (c *Credential) HasPermission(required Permission) bool {
	for _, raw := range c.Permissions {
		if Permission(raw).Grants(required) {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the credential carries the admin capability
func (c *Credential) IsAdmin() bool {
	for _, raw := range c.Permissions {
		if Permission(raw) == PermissionAdmin {
			return true
		}
	}
	return false
}

// IsExpired checks if the credential has expired
func (c *Credential) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// IsValid checks if the credential is active and not expired
func (c *Credential) IsValid() bool {
	return c.Active && !c.IsExpired()
}
