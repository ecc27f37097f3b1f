package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a credit balance change.
type TransactionType string

const (
	// TransactionUsage is a deduction for a metered operation.
	TransactionUsage TransactionType = "usage"

	// TransactionTopUp is a prepaid balance increase.
	TransactionTopUp TransactionType = "top_up"

	// TransactionAdjustment is a manual admin correction, either sign.
	TransactionAdjustment TransactionType = "adjustment"
)

// IsValid checks if the transaction type is known
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionUsage, TransactionTopUp, TransactionAdjustment:
		return true
	default:
		return false
	}
}

// CreditAccount holds an organization's prepaid balance.
// The balance is mutated only through ledger transactions and never
// goes negative.
type CreditAccount struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	OrganizationID      uuid.UUID `db:"organization_id" json:"organization_id"`
	Balance             float64   `db:"balance" json:"balance"` // numeric(12,4) in Postgres
	LowBalanceThreshold float64   `db:"low_balance_threshold" json:"low_balance_threshold"`
	AutoTopUpEnabled    bool      `db:"auto_top_up_enabled" json:"auto_top_up_enabled"`
	AutoTopUpAmount     float64   `db:"auto_top_up_amount" json:"auto_top_up_amount"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// IsLowBalance checks whether the balance has fallen to or below the
// configured threshold
func (a *CreditAccount) IsLowBalance() bool {
	return a.LowBalanceThreshold > 0 && a.Balance <= a.LowBalanceThreshold
}

// CreditTransaction is an immutable record of one balance change.
// Amount is signed: negative for usage, positive for top-ups; adjustments
// carry either sign. BalanceAfter is the account balance the moment the
// transaction committed.
type CreditTransaction struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrganizationID uuid.UUID  `db:"organization_id" json:"organization_id"`
	Type           string     `db:"type" json:"type"`
	Amount         float64    `db:"amount" json:"amount"`
	BalanceAfter   float64    `db:"balance_after" json:"balance_after"`
	Service        string     `db:"service" json:"service,omitempty"`
	Model          string     `db:"model" json:"model,omitempty"`
	CredentialID   *uuid.UUID `db:"credential_id" json:"credential_id,omitempty"`
	AgentID        *uuid.UUID `db:"agent_id" json:"agent_id,omitempty"`
	RequestID      string     `db:"request_id" json:"request_id,omitempty"` // idempotency key for usage deductions
	Metadata       JSONB      `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
