package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditgate/internal/models"
	"creditgate/internal/pricing"
)

const costTolerance = 1e-4

func newTestLedger(t *testing.T, orgID uuid.UUID, balance float64) (*Ledger, *InMemoryAccountStore) {
	t.Helper()

	store := NewInMemoryAccountStore()
	err := store.CreateAccount(context.Background(), &models.CreditAccount{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Balance:        balance,
	})
	require.NoError(t, err)

	return NewLedger(store, pricing.DefaultTable()), store
}

func TestLedgerDeduct(t *testing.T) {
	ctx := context.Background()

	t.Run("sequential deductions drain the balance", func(t *testing.T) {
		orgID := uuid.New()
		ledger, _ := newTestLedger(t, orgID, 25.00)

		calls := []struct {
			input, output int
		}{
			{50, 75},
			{60, 85},
			{70, 120},
		}

		var total float64
		for i, call := range calls {
			result, err := ledger.Deduct(ctx, orgID, Usage{
				Service:      "llm",
				Model:        "gpt-3.5-turbo",
				InputTokens:  call.input,
				OutputTokens: call.output,
				RequestID:    fmt.Sprintf("req-%d", i),
			})
			require.NoError(t, err)
			assert.False(t, result.AlreadyBilled)

			want := (float64(call.input)*0.0015 + float64(call.output)*0.002) / 1000
			assert.InDelta(t, want, result.DeductedAmount, costTolerance)
			total += want
		}

		balance, err := ledger.GetBalance(ctx, orgID)
		require.NoError(t, err)
		assert.InDelta(t, 25.00-total, balance, costTolerance)
	})

	t.Run("gpt-4 deduction", func(t *testing.T) {
		orgID := uuid.New()
		ledger, _ := newTestLedger(t, orgID, 25.00)

		result, err := ledger.Deduct(ctx, orgID, Usage{
			Service:      "llm",
			Model:        "gpt-4",
			InputTokens:  2000,
			OutputTokens: 1500,
			RequestID:    "req-gpt4",
		})
		require.NoError(t, err)

		assert.InDelta(t, 0.15, result.DeductedAmount, costTolerance)
		assert.InDelta(t, 25.00-0.15, result.RemainingBalance, costTolerance)
	})

	t.Run("insufficient balance leaves the balance untouched", func(t *testing.T) {
		orgID := uuid.New()
		ledger, _ := newTestLedger(t, orgID, 0.50)

		_, err := ledger.Deduct(ctx, orgID, Usage{
			Service:      "llm",
			Model:        "gpt-4",
			InputTokens:  20000,
			OutputTokens: 10000,
			RequestID:    "req-too-big",
		})
		require.ErrorIs(t, err, ErrInsufficientBalance)

		balance, err := ledger.GetBalance(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, 0.50, balance)

		txns, err := ledger.ListTransactions(ctx, orgID, time.Time{}, time.Time{}, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, txns)
	})

	t.Run("unknown model fails closed without charging", func(t *testing.T) {
		orgID := uuid.New()
		ledger, _ := newTestLedger(t, orgID, 25.00)

		_, err := ledger.Deduct(ctx, orgID, Usage{
			Service:     "llm",
			Model:       "gpt-99-ultra",
			InputTokens: 100,
			RequestID:   "req-unknown",
		})
		require.ErrorIs(t, err, pricing.ErrUnknownModel)

		balance, err := ledger.GetBalance(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, 25.00, balance)
	})

	t.Run("unknown account", func(t *testing.T) {
		ledger, _ := newTestLedger(t, uuid.New(), 25.00)

		_, err := ledger.Deduct(ctx, uuid.New(), Usage{
			Service:     "llm",
			Model:       "gpt-4",
			InputTokens: 100,
		})
		require.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("low balance flag", func(t *testing.T) {
		orgID := uuid.New()
		store := NewInMemoryAccountStore()
		require.NoError(t, store.CreateAccount(ctx, &models.CreditAccount{
			ID:                  uuid.New(),
			OrganizationID:      orgID,
			Balance:             0.20,
			LowBalanceThreshold: 0.10,
		}))
		ledger := NewLedger(store, pricing.DefaultTable())

		result, err := ledger.Deduct(ctx, orgID, Usage{
			Service:      "llm",
			Model:        "gpt-4",
			InputTokens:  2000,
			OutputTokens: 1500,
			RequestID:    "req-low",
		})
		require.NoError(t, err)
		assert.True(t, result.LowBalance)
	})
}

func TestLedgerDeductIdempotency(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	ledger, _ := newTestLedger(t, orgID, 25.00)

	usage := Usage{
		Service:      "llm",
		Model:        "gpt-4",
		InputTokens:  2000,
		OutputTokens: 1500,
		RequestID:    "req-replay",
	}

	first, err := ledger.Deduct(ctx, orgID, usage)
	require.NoError(t, err)
	require.False(t, first.AlreadyBilled)

	second, err := ledger.Deduct(ctx, orgID, usage)
	require.NoError(t, err)
	assert.True(t, second.AlreadyBilled)
	assert.InDelta(t, first.DeductedAmount, second.DeductedAmount, costTolerance)
	assert.InDelta(t, first.RemainingBalance, second.RemainingBalance, costTolerance)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	balance, err := ledger.GetBalance(ctx, orgID)
	require.NoError(t, err)
	assert.InDelta(t, 25.00-0.15, balance, costTolerance)

	txns, err := ledger.ListTransactions(ctx, orgID, time.Time{}, time.Time{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestLedgerConcurrentDeductions(t *testing.T) {
	ctx := context.Background()

	t.Run("all fit", func(t *testing.T) {
		orgID := uuid.New()
		// 40 gpt-4 calls at 0.15 each consume exactly 6.00 of 25.00.
		ledger, _ := newTestLedger(t, orgID, 25.00)

		const workers = 40
		var wg sync.WaitGroup
		errs := make([]error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = ledger.Deduct(ctx, orgID, Usage{
					Service:      "llm",
					Model:        "gpt-4",
					InputTokens:  2000,
					OutputTokens: 1500,
					RequestID:    fmt.Sprintf("req-par-%d", i),
				})
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			require.NoError(t, err, "deduction %d", i)
		}

		balance, err := ledger.GetBalance(ctx, orgID)
		require.NoError(t, err)
		assert.InDelta(t, 25.00-workers*0.15, balance, costTolerance)
	})

	t.Run("only as many as fit succeed", func(t *testing.T) {
		orgID := uuid.New()
		// Balance covers exactly 8 of 20 competing 0.15 deductions.
		ledger, _ := newTestLedger(t, orgID, 8*0.15)

		const workers = 20
		var wg sync.WaitGroup
		errs := make([]error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = ledger.Deduct(ctx, orgID, Usage{
					Service:      "llm",
					Model:        "gpt-4",
					InputTokens:  2000,
					OutputTokens: 1500,
					RequestID:    fmt.Sprintf("req-race-%d", i),
				})
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				require.ErrorIs(t, err, ErrInsufficientBalance)
			}
		}
		assert.Equal(t, 8, succeeded)

		balance, err := ledger.GetBalance(ctx, orgID)
		require.NoError(t, err)
		assert.InDelta(t, 0, balance, costTolerance)
		assert.GreaterOrEqual(t, balance, -costTolerance)
	})

	t.Run("concurrent retries of one request bill once", func(t *testing.T) {
		orgID := uuid.New()
		ledger, _ := newTestLedger(t, orgID, 25.00)

		const workers = 10
		var wg sync.WaitGroup
		results := make([]*DeductResult, workers)
		errs := make([]error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = ledger.Deduct(ctx, orgID, Usage{
					Service:      "llm",
					Model:        "gpt-4",
					InputTokens:  2000,
					OutputTokens: 1500,
					RequestID:    "req-retry-storm",
				})
			}(i)
		}
		wg.Wait()

		billed := 0
		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i])
			if !results[i].AlreadyBilled {
				billed++
			}
		}
		assert.Equal(t, 1, billed)

		balance, err := ledger.GetBalance(ctx, orgID)
		require.NoError(t, err)
		assert.InDelta(t, 25.00-0.15, balance, costTolerance)
	})
}

func TestLedgerTopUpAndAdjust(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	ledger, _ := newTestLedger(t, orgID, 5.00)

	t.Run("top-up", func(t *testing.T) {
		txn, err := ledger.TopUp(ctx, orgID, 20.00, models.JSONB{"source": "stripe"})
		require.NoError(t, err)
		assert.Equal(t, string(models.TransactionTopUp), txn.Type)
		assert.InDelta(t, 25.00, txn.BalanceAfter, costTolerance)
	})

	t.Run("top-up rejects non-positive amounts", func(t *testing.T) {
		_, err := ledger.TopUp(ctx, orgID, 0, nil)
		require.Error(t, err)
		_, err = ledger.TopUp(ctx, orgID, -5, nil)
		require.Error(t, err)
	})

	t.Run("positive adjustment", func(t *testing.T) {
		txn, err := ledger.Adjust(ctx, orgID, 1.00, "billing correction")
		require.NoError(t, err)
		assert.InDelta(t, 26.00, txn.BalanceAfter, costTolerance)
	})

	t.Run("negative adjustment", func(t *testing.T) {
		txn, err := ledger.Adjust(ctx, orgID, -6.00, "chargeback")
		require.NoError(t, err)
		assert.InDelta(t, 20.00, txn.BalanceAfter, costTolerance)
	})

	t.Run("negative adjustment cannot overdraw", func(t *testing.T) {
		_, err := ledger.Adjust(ctx, orgID, -100.00, "oversized chargeback")
		require.ErrorIs(t, err, ErrInsufficientBalance)

		balance, err := ledger.GetBalance(ctx, orgID)
		require.NoError(t, err)
		assert.InDelta(t, 20.00, balance, costTolerance)
	})
}

func TestLedgerUsageSummary(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	ledger, _ := newTestLedger(t, orgID, 25.00)

	for i := 0; i < 3; i++ {
		_, err := ledger.Deduct(ctx, orgID, Usage{
			Service:      "llm",
			Model:        "gpt-4",
			InputTokens:  2000,
			OutputTokens: 1500,
			RequestID:    fmt.Sprintf("req-sum-%d", i),
		})
		require.NoError(t, err)
	}

	// Top-ups must not count as usage.
	_, err := ledger.TopUp(ctx, orgID, 10.00, nil)
	require.NoError(t, err)

	summary, err := ledger.GetUsageSummary(ctx, orgID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.OperationCount)
	assert.InDelta(t, 3*0.15, summary.TotalCost, costTolerance)
}
