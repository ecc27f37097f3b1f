package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
)

// balanceEpsilon absorbs float accumulation drift in balance comparisons.
// Stored amounts are dollar values with at most 1e-4 precision.
const balanceEpsilon = 1e-9

// InMemoryAccountStore keeps accounts and transactions in maps, honoring
// the same atomicity contract as the Postgres repository: the balance
// check and deduction happen under one lock, so concurrent deductions
// serialize and the balance never goes negative.
type InMemoryAccountStore struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*models.CreditAccount
	transactions map[uuid.UUID][]*models.CreditTransaction
	byRequestID  map[uuid.UUID]map[string]*models.CreditTransaction
}

func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{
		accounts:     make(map[uuid.UUID]*models.CreditAccount),
		transactions: make(map[uuid.UUID][]*models.CreditTransaction),
		byRequestID:  make(map[uuid.UUID]map[string]*models.CreditTransaction),
	}
}

func (s *InMemoryAccountStore) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now
	cp := *account
	s.accounts[account.OrganizationID] = &cp
	return nil
}

func (s *InMemoryAccountStore) GetAccount(ctx context.Context, orgID uuid.UUID) (*models.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[orgID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

func (s *InMemoryAccountStore) DeductAndRecord(ctx context.Context, amount float64, txn *models.CreditTransaction) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[txn.OrganizationID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	if txn.RequestID != "" && txn.Type == string(models.TransactionUsage) {
		if _, exists := s.byRequestID[txn.OrganizationID][txn.RequestID]; exists {
			return nil, ErrDuplicateRequest
		}
	}

	if account.Balance+balanceEpsilon < amount {
		return nil, ErrInsufficientBalance
	}

	account.Balance -= amount
	account.UpdatedAt = time.Now()

	return s.recordLocked(txn, account.Balance), nil
}

func (s *InMemoryAccountStore) CreditAndRecord(ctx context.Context, amount float64, txn *models.CreditTransaction) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[txn.OrganizationID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	account.Balance += amount
	account.UpdatedAt = time.Now()

	return s.recordLocked(txn, account.Balance), nil
}

// recordLocked finalizes and stores a transaction. Caller holds the lock.
func (s *InMemoryAccountStore) recordLocked(txn *models.CreditTransaction, balanceAfter float64) *models.CreditTransaction {
	cp := *txn
	cp.BalanceAfter = balanceAfter
	cp.CreatedAt = time.Now()

	orgID := cp.OrganizationID
	s.transactions[orgID] = append(s.transactions[orgID], &cp)

	if cp.RequestID != "" && cp.Type == string(models.TransactionUsage) {
		if s.byRequestID[orgID] == nil {
			s.byRequestID[orgID] = make(map[string]*models.CreditTransaction)
		}
		s.byRequestID[orgID][cp.RequestID] = &cp
	}

	out := cp
	return &out
}

func (s *InMemoryAccountStore) GetTransactionByRequestID(ctx context.Context, orgID uuid.UUID, requestID string) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byRequestID[orgID][requestID]
	if !ok {
		return nil, nil
	}
	cp := *txn
	return &cp, nil
}

func (s *InMemoryAccountStore) ListTransactions(ctx context.Context, orgID uuid.UUID, from, to time.Time, limit, offset int) ([]*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.CreditTransaction
	for _, txn := range s.transactions[orgID] {
		if !from.IsZero() && txn.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !txn.CreatedAt.Before(to) {
			continue
		}
		cp := *txn
		out = append(out, &cp)
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

func (s *InMemoryAccountStore) SumUsage(ctx context.Context, orgID uuid.UUID, from, to time.Time) (float64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	var count int64
	for _, txn := range s.transactions[orgID] {
		if txn.Type != string(models.TransactionUsage) {
			continue
		}
		if !from.IsZero() && txn.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !txn.CreatedAt.Before(to) {
			continue
		}
		total += -txn.Amount
		count++
	}
	return total, count, nil
}
