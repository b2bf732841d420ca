package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/repository"
	"github.com/josh-kwaku/campus-ledger/internal/service/ledger"
	"github.com/josh-kwaku/campus-ledger/internal/service/reconcile"
	"github.com/josh-kwaku/campus-ledger/internal/testutil"
)

func setupLedger(t *testing.T, db *sql.DB) *ledger.Service {
	t.Helper()
	return ledger.NewService(
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewIdempotencyRepository(db),
		nil,
		nil,
		ledger.Config{
			MaxAttempts:      20,
			RetryInitial:     2 * time.Millisecond,
			RetryMax:         20 * time.Millisecond,
			MutationTimeout:  5 * time.Second,
			ReservationLease: 30 * time.Second,
		},
	)
}

func TestPostgres_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	acct := testutil.SeedAccount(t, db, "5.00", "0.00", domain.AccountStatusActive)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, acct.ID, decimal.RequireFromString("1.00"), fmt.Sprintf("pos-%d", i))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrInsufficientBalance) && !errors.Is(err, domain.ErrConcurrentModification) {
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, succeeded, 5)
	want := decimal.RequireFromString("5.00").Sub(decimal.NewFromInt(int64(succeeded)))
	assert.True(t, want.Equal(testutil.GetAvailable(t, db, acct.ID)), "available must equal 5.00 minus applied debits")
	assert.Equal(t, succeeded, testutil.CountTransactions(t, db, acct.ID))
}

func TestPostgres_ReplayReturnsOriginalTransaction(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	acct := testutil.SeedAccount(t, db, "10.00", "0.00", domain.AccountStatusActive)

	first, err := svc.Debit(ctx, acct.ID, decimal.RequireFromString("2.50"), "canteen-01:1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.Debit(ctx, acct.ID, decimal.RequireFromString("2.50"), "canteen-01:1")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	assert.True(t, decimal.RequireFromString("7.50").Equal(testutil.GetAvailable(t, db, acct.ID)))
	assert.Equal(t, 1, testutil.CountTransactions(t, db, acct.ID))
	assert.Equal(t, domain.IdempotencyApplied, testutil.IdempotencyState(t, db, "canteen-01:1"))
}

func TestPostgres_ReconcileDetectsSeededDrift(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupLedger(t, db)
	ctx := context.Background()

	// seeded balances have no backing transactions, so the whole balance is drift
	acct := testutil.SeedAccount(t, db, "3.00", "0.00", domain.AccountStatusActive)
	_, err := svc.Credit(ctx, acct.ID, decimal.RequireFromString("1.00"), "topup-1")
	require.NoError(t, err)

	engine := reconcile.NewEngine(
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		svc,
		repository.NewReconciliationRepository(db),
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil,
		reconcile.Config{AutoAdjustThreshold: decimal.RequireFromString("1.00"), MaxAttempts: 3},
	)

	res, err := engine.Reconcile(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.00").Equal(res.Computed))
	assert.True(t, decimal.RequireFromString("4.00").Equal(res.Stored))
	assert.Equal(t, domain.ActionAlerted, res.Action)
	assert.Nil(t, res.AdjustmentTxnID)

	assert.True(t, decimal.RequireFromString("4.00").Equal(testutil.GetAvailable(t, db, acct.ID)))
}
