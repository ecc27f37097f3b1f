package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
	"creditgate/internal/pricing"
)

var (
	// ErrInsufficientBalance is returned when a deduction exceeds the
	// organization's balance. The balance is left untouched.
	ErrInsufficientBalance = errors.New("insufficient credit balance")

	// ErrAccountNotFound is returned when an organization has no credit account
	ErrAccountNotFound = errors.New("credit account not found")

	// ErrDuplicateRequest is returned by stores when a usage transaction
	// with the same request id already exists.
	ErrDuplicateRequest = errors.New("duplicate request id")
)

// AccountStore persists credit accounts and their transactions. Implemented
// by storage.CreditRepository (Postgres) and InMemoryAccountStore.
//
// DeductAndRecord is the correctness-critical contract: it must behave like
//
//	UPDATE credit_accounts SET balance = balance - $amount
//	WHERE organization_id = $org AND balance >= $amount
//
// followed, only when the row changed, by an insert of the transaction with
// balance_after equal to the post-update balance, all in one atomic unit.
// Concurrent deductions against one organization serialize; a deduction
// that does not fit fails with ErrInsufficientBalance and mutates nothing.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.CreditAccount) error
	GetAccount(ctx context.Context, orgID uuid.UUID) (*models.CreditAccount, error)

	DeductAndRecord(ctx context.Context, amount float64, txn *models.CreditTransaction) (*models.CreditTransaction, error)

	// CreditAndRecord increases the balance unconditionally (top-ups,
	// positive adjustments) and records the transaction.
	CreditAndRecord(ctx context.Context, amount float64, txn *models.CreditTransaction) (*models.CreditTransaction, error)

	// GetTransactionByRequestID resolves a prior usage transaction by its
	// idempotency key. Returns ErrAccountNotFound-free (nil, nil) when absent.
	GetTransactionByRequestID(ctx context.Context, orgID uuid.UUID, requestID string) (*models.CreditTransaction, error)

	ListTransactions(ctx context.Context, orgID uuid.UUID, from, to time.Time, limit, offset int) ([]*models.CreditTransaction, error)

	// SumUsage aggregates usage-type transactions in [from, to).
	SumUsage(ctx context.Context, orgID uuid.UUID, from, to time.Time) (totalCost float64, operationCount int64, err error)
}

// Usage describes one metered operation to bill.
type Usage struct {
	Service      string
	Model        string
	InputTokens  int
	OutputTokens int

	// RequestID doubles as the idempotency key: a retried request with the
	// same id is never billed twice.
	RequestID string

	CredentialID *uuid.UUID
	AgentID      *uuid.UUID
	UserID       *uuid.UUID
	Metadata     models.JSONB
}

// DeductResult reports a successful (or replayed) deduction.
type DeductResult struct {
	DeductedAmount   float64
	RemainingBalance float64
	Transaction      *models.CreditTransaction

	// AlreadyBilled is set when the request id matched a prior transaction
	// and no new deduction happened.
	AlreadyBilled bool

	// LowBalance is set when the post-deduction balance sits at or below
	// the account's configured threshold.
	LowBalance bool
}

// Summary aggregates usage transactions for reporting.
type Summary struct {
	TotalCost      float64 `json:"total_cost"`
	OperationCount int64   `json:"operation_count"`
}

// Ledger holds per-organization prepaid balances and meters usage
// against them through atomic check-and-deduct transactions.
type Ledger struct {
	store  AccountStore
	prices *pricing.Table
}

// NewLedger creates a credit ledger.
func NewLedger(store AccountStore, prices *pricing.Table) *Ledger {
	return &Ledger{store: store, prices: prices}
}

// Deduct computes the cost of a metered operation and atomically charges
// it against the organization's balance. On insufficient balance it fails
// with ErrInsufficientBalance and performs no mutation. A repeated request
// id returns the original outcome without charging again.
func (l *Ledger) Deduct(ctx context.Context, orgID uuid.UUID, usage Usage) (*DeductResult, error) {
	cost, err := l.prices.Cost(usage.Model, usage.InputTokens, usage.OutputTokens)
	if err != nil {
		return nil, err
	}

	if usage.RequestID != "" {
		prior, err := l.store.GetTransactionByRequestID(ctx, orgID, usage.RequestID)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if prior != nil {
			return &DeductResult{
				DeductedAmount:   -prior.Amount,
				RemainingBalance: prior.BalanceAfter,
				Transaction:      prior,
				AlreadyBilled:    true,
			}, nil
		}
	}

	txn := &models.CreditTransaction{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Type:           string(models.TransactionUsage),
		Amount:         -cost,
		Service:        usage.Service,
		Model:          usage.Model,
		CredentialID:   usage.CredentialID,
		AgentID:        usage.AgentID,
		RequestID:      usage.RequestID,
		Metadata:       usage.Metadata,
	}

	committed, err := l.store.DeductAndRecord(ctx, cost, txn)
	if errors.Is(err, ErrDuplicateRequest) {
		// Lost a race against a concurrent retry of the same request;
		// surface the transaction that won.
		prior, lookupErr := l.store.GetTransactionByRequestID(ctx, orgID, usage.RequestID)
		if lookupErr != nil || prior == nil {
			return nil, fmt.Errorf("failed to resolve duplicate request %s: %w", usage.RequestID, err)
		}
		return &DeductResult{
			DeductedAmount:   -prior.Amount,
			RemainingBalance: prior.BalanceAfter,
			Transaction:      prior,
			AlreadyBilled:    true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &DeductResult{
		DeductedAmount:   cost,
		RemainingBalance: committed.BalanceAfter,
		Transaction:      committed,
	}

	if account, err := l.store.GetAccount(ctx, orgID); err == nil {
		result.LowBalance = account.IsLowBalance()
	}

	return result, nil
}

// TopUp increases an organization's prepaid balance.
func (l *Ledger) TopUp(ctx context.Context, orgID uuid.UUID, amount float64, metadata models.JSONB) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("top-up amount must be positive, got %f", amount)
	}

	txn := &models.CreditTransaction{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Type:           string(models.TransactionTopUp),
		Amount:         amount,
		Metadata:       metadata,
	}
	return l.store.CreditAndRecord(ctx, amount, txn)
}

// Adjust applies a signed manual correction. Negative adjustments honor the
// never-negative invariant and fail with ErrInsufficientBalance when the
// balance cannot absorb them.
func (l *Ledger) Adjust(ctx context.Context, orgID uuid.UUID, amount float64, reason string) (*models.CreditTransaction, error) {
	if amount == 0 {
		return nil, errors.New("adjustment amount must be non-zero")
	}

	txn := &models.CreditTransaction{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Type:           string(models.TransactionAdjustment),
		Amount:         amount,
		Metadata:       models.JSONB{"reason": reason},
	}

	if amount > 0 {
		return l.store.CreditAndRecord(ctx, amount, txn)
	}
	return l.store.DeductAndRecord(ctx, -amount, txn)
}

// GetBalance returns the organization's current balance.
func (l *Ledger) GetBalance(ctx context.Context, orgID uuid.UUID) (float64, error) {
	account, err := l.store.GetAccount(ctx, orgID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// GetAccount returns the organization's credit account.
func (l *Ledger) GetAccount(ctx context.Context, orgID uuid.UUID) (*models.CreditAccount, error) {
	return l.store.GetAccount(ctx, orgID)
}

// GetUsageSummary aggregates usage transactions in [from, to).
func (l *Ledger) GetUsageSummary(ctx context.Context, orgID uuid.UUID, from, to time.Time) (*Summary, error) {
	total, count, err := l.store.SumUsage(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}
	return &Summary{TotalCost: total, OperationCount: count}, nil
}

// ListTransactions returns transactions for reconciliation and export.
func (l *Ledger) ListTransactions(ctx context.Context, orgID uuid.UUID, from, to time.Time, limit, offset int) ([]*models.CreditTransaction, error) {
	return l.store.ListTransactions(ctx, orgID, from, to, limit, offset)
}
