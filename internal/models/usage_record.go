package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord represents one metered operation attempt, billed or not.
// A record is written for every attempt; failed attempts carry cost 0 and
// an error message so reconciliation can tell billed operations from
// no-charge failures.
type UsageRecord struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrganizationID uuid.UUID  `db:"organization_id" json:"organization_id"`
	CredentialID   *uuid.UUID `db:"credential_id" json:"credential_id,omitempty"`
	AgentID        *uuid.UUID `db:"agent_id" json:"agent_id,omitempty"`
	RequestID      string     `db:"request_id" json:"request_id"`
	Service        string     `db:"service" json:"service"`
	Provider       string     `db:"provider" json:"provider,omitempty"`
	Model          string     `db:"model" json:"model"`
	InputTokens    int        `db:"input_tokens" json:"input_tokens"`
	OutputTokens   int        `db:"output_tokens" json:"output_tokens"`
	Cost           float64    `db:"cost" json:"cost"`
	DurationMS     int64      `db:"duration_ms" json:"duration_ms"`
	Success        bool       `db:"success" json:"success"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	Metadata       JSONB      `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
