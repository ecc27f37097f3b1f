package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType enumerates the security and operational occurrences the
// platform records.
type AuditEventType string

const (
	AuditAuthSuccess        AuditEventType = "auth.success"
	AuditAuthFailure        AuditEventType = "auth.failure"
	AuditCredentialCreated  AuditEventType = "credential.created"
	AuditCredentialUpdated  AuditEventType = "credential.updated"
	AuditCredentialDeleted  AuditEventType = "credential.deleted"
	AuditCredentialRotated  AuditEventType = "credential.rotated"
	AuditRateLimitExceeded  AuditEventType = "rate_limit.exceeded"
	AuditUnauthorizedAccess AuditEventType = "access.unauthorized"
	AuditSuspiciousActivity AuditEventType = "activity.suspicious"
	AuditCreditDeducted     AuditEventType = "credit.deducted"
	AuditCreditInsufficient AuditEventType = "credit.insufficient"
	AuditCreditTopUp        AuditEventType = "credit.top_up"
	AuditCreditAdjusted     AuditEventType = "credit.adjusted"
	AuditLowBalance         AuditEventType = "credit.low_balance"
)

// IsValid checks if the event type is known
func (t AuditEventType) IsValid() bool {
	switch t {
	case AuditAuthSuccess, AuditAuthFailure,
		AuditCredentialCreated, AuditCredentialUpdated,
		AuditCredentialDeleted, AuditCredentialRotated,
		AuditRateLimitExceeded, AuditUnauthorizedAccess,
		AuditSuspiciousActivity,
		AuditCreditDeducted, AuditCreditInsufficient,
		AuditCreditTopUp, AuditCreditAdjusted, AuditLowBalance:
		return true
	default:
		return false
	}
}

// AuditSeverity tags an event with its operational weight.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// IsValid checks if the severity is known
func (s AuditSeverity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// AuditEvent is an immutable, append-only record of a security or
// operational occurrence. The application never updates or deletes rows.
type AuditEvent struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	EventType      AuditEventType `db:"event_type" json:"event_type"`
	Severity       AuditSeverity  `db:"severity" json:"severity"`
	UserID         *uuid.UUID     `db:"user_id" json:"user_id,omitempty"`
	OrganizationID *uuid.UUID     `db:"organization_id" json:"organization_id,omitempty"`
	EntityID       *uuid.UUID     `db:"entity_id" json:"entity_id,omitempty"`
	EntityType     string         `db:"entity_type" json:"entity_type,omitempty"`
	Details        JSONB          `db:"details" json:"details,omitempty"`
	Metadata       JSONB          `db:"metadata" json:"metadata,omitempty"` // IP, user agent, request id, session id
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}
