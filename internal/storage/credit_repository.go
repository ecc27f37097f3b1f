package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"creditgate/internal/billing"
	"creditgate/internal/models"
)

// uniqueViolation is the Postgres error code for unique constraint breaks.
const uniqueViolation = "23505"

// CreditRepository implements billing.AccountStore on Postgres. The
// compare-and-deduct runs as a single conditional UPDATE, so concurrent
// deductions serialize on the account row and the balance never goes
// negative.
type CreditRepository struct {
	db *DB
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(db *DB) *CreditRepository {
	return &CreditRepository{
		db: db,
	}
}

// CreateAccount persists a new credit account
func (r *CreditRepository) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	query := `
		INSERT INTO credit_accounts (
			id, organization_id, balance, low_balance_threshold,
			auto_top_up_enabled, auto_top_up_amount
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		account.ID, account.OrganizationID, account.Balance,
		account.LowBalanceThreshold, account.AutoTopUpEnabled, account.AutoTopUpAmount,
	).Scan(&account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create credit account: %w", err)
	}

	return nil
}

// GetAccount retrieves an organization's credit account
func (r *CreditRepository) GetAccount(ctx context.Context, orgID uuid.UUID) (*models.CreditAccount, error) {
	var account models.CreditAccount
	query := `
		SELECT id, organization_id, balance, low_balance_threshold,
		       auto_top_up_enabled, auto_top_up_amount, created_at, updated_at
		FROM credit_accounts
		WHERE organization_id = $1
	`

	err := r.db.conn.GetContext(ctx, &account, query, orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, billing.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get credit account: %w", err)
	}

	return &account, nil
}

// DeductAndRecord atomically checks and deducts the amount, then records
// the transaction, all in one database transaction. The conditional UPDATE
// either changes the row (sufficient balance) or changes nothing.
func (r *CreditRepository) DeductAndRecord(ctx context.Context, amount float64, txn *models.CreditTransaction) (*models.CreditTransaction, error) {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balanceAfter float64
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE organization_id = $2 AND balance >= $1
		RETURNING balance
	`, amount, txn.OrganizationID).Scan(&balanceAfter)

	if err == sql.ErrNoRows {
		// Either no account or insufficient balance; look to tell apart.
		if _, getErr := r.GetAccount(ctx, txn.OrganizationID); getErr != nil {
			return nil, getErr
		}
		return nil, billing.ErrInsufficientBalance
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deduct balance: %w", err)
	}

	committed, err := r.insertTransaction(ctx, tx, txn, balanceAfter)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deduction: %w", err)
	}

	return committed, nil
}

// CreditAndRecord increases the balance and records the transaction
func (r *CreditRepository) CreditAndRecord(ctx context.Context, amount float64, txn *models.CreditTransaction) (*models.CreditTransaction, error) {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balanceAfter float64
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE organization_id = $2
		RETURNING balance
	`, amount, txn.OrganizationID).Scan(&balanceAfter)

	if err == sql.ErrNoRows {
		return nil, billing.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}

	committed, err := r.insertTransaction(ctx, tx, txn, balanceAfter)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}

	return committed, nil
}

// insertTransaction writes the transaction row inside the caller's tx.
// A unique index on (organization_id, request_id) for usage rows turns
// concurrent retries of one request into ErrDuplicateRequest.
func (r *CreditRepository) insertTransaction(ctx context.Context, tx *sqlx.Tx, txn *models.CreditTransaction, balanceAfter float64) (*models.CreditTransaction, error) {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}

	cp := *txn
	cp.BalanceAfter = balanceAfter

	err := tx.QueryRowContext(ctx, `
		INSERT INTO credit_transactions (
			id, organization_id, type, amount, balance_after, service, model,
			credential_id, agent_id, request_id, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
		RETURNING created_at
	`,
		cp.ID, cp.OrganizationID, cp.Type, cp.Amount, cp.BalanceAfter,
		cp.Service, cp.Model, cp.CredentialID, cp.AgentID, cp.RequestID,
		cp.Metadata,
	).Scan(&cp.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, billing.ErrDuplicateRequest
		}
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	return &cp, nil
}

// GetTransactionByRequestID resolves a usage transaction by its idempotency
// key. Returns (nil, nil) when absent.
func (r *CreditRepository) GetTransactionByRequestID(ctx context.Context, orgID uuid.UUID, requestID string) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	query := `
		SELECT id, organization_id, type, amount, balance_after, service, model,
		       credential_id, agent_id, COALESCE(request_id, '') AS request_id,
		       metadata, created_at
		FROM credit_transactions
		WHERE organization_id = $1 AND request_id = $2 AND type = 'usage'
	`

	err := r.db.conn.GetContext(ctx, &txn, query, orgID, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction by request id: %w", err)
	}

	return &txn, nil
}

// ListTransactions retrieves an organization's transactions, newest first
func (r *CreditRepository) ListTransactions(ctx context.Context, orgID uuid.UUID, from, to time.Time, limit, offset int) ([]*models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	if to.IsZero() {
		to = time.Now().Add(24 * time.Hour)
	}

	var txns []*models.CreditTransaction
	query := `
		SELECT id, organization_id, type, amount, balance_after, service, model,
		       credential_id, agent_id, COALESCE(request_id, '') AS request_id,
		       metadata, created_at
		FROM credit_transactions
		WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	err := r.db.conn.SelectContext(ctx, &txns, query, orgID, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txns, nil
}

// SumUsage aggregates usage transactions in [from, to)
func (r *CreditRepository) SumUsage(ctx context.Context, orgID uuid.UUID, from, to time.Time) (float64, int64, error) {
	if to.IsZero() {
		to = time.Now().Add(24 * time.Hour)
	}

	var row struct {
		TotalCost      float64 `db:"total_cost"`
		OperationCount int64   `db:"operation_count"`
	}
	query := `
		SELECT COALESCE(SUM(-amount), 0) AS total_cost, COUNT(*) AS operation_count
		FROM credit_transactions
		WHERE organization_id = $1 AND type = 'usage'
		  AND created_at >= $2 AND created_at < $3
	`

	err := r.db.conn.GetContext(ctx, &row, query, orgID, from, to)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum usage: %w", err)
	}

	return row.TotalCost, row.OperationCount, nil
}
