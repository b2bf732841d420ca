package reconcile_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/repository/memory"
	"github.com/josh-kwaku/campus-ledger/internal/service/ledger"
	"github.com/josh-kwaku/campus-ledger/internal/service/reconcile"
)

var today = time.Date(2026, 10, 19, 2, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *memory.Store
	ledger *ledger.Service
	engine *reconcile.Engine
}

func newLedger(store *memory.Store) *ledger.Service {
	return ledger.NewService(store.Accounts(), store.Ledger(), store.Idempotency(), nil, nil, ledger.Config{
		MaxAttempts:      5,
		RetryInitial:     time.Millisecond,
		RetryMax:         5 * time.Millisecond,
		MutationTimeout:  5 * time.Second,
		ReservationLease: 30 * time.Second,
		Now:              func() time.Time { return today },
	})
}

func newEngine(store *memory.Store, corr interface {
	Correct(ctx context.Context, accountID uuid.UUID, expectedVersion int64, delta decimal.Decimal, txnID string) (*ledger.Result, error)
}) *reconcile.Engine {
	return reconcile.NewEngine(
		store.Accounts(),
		store.Ledger(),
		corr,
		store.Reconciliations(),
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil,
		reconcile.Config{
			AutoAdjustThreshold: dec("10.00"),
			MaxAttempts:         3,
			Concurrency:         2,
			Now:                 func() time.Time { return today },
		},
	)
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	svc := newLedger(store)
	return &fixture{store: store, ledger: svc, engine: newEngine(store, svc)}
}

// account opens an account whose history credits amount.
func (f *fixture) account(t *testing.T, amount string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	acct, err := f.ledger.Open(ctx, "holder")
	require.NoError(t, err)
	_, err = f.ledger.Credit(ctx, acct.ID, dec(amount), "seed-"+acct.ID.String())
	require.NoError(t, err)
	return acct.ID
}

func (f *fixture) stored(t *testing.T, id uuid.UUID) domain.Account {
	t.Helper()
	acct, err := f.ledger.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return *acct
}

func TestReconcile_CleanAccount(t *testing.T) {
	f := setup(t)
	id := f.account(t, "45.00")

	res, err := f.engine.Reconcile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, res.Action)
	assert.True(t, res.Delta.IsZero())
	assert.False(t, res.Alerted())
}

func TestReconcile_SmallDriftAutoAdjusted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.account(t, "45.00")
	f.store.Accounts().SetBalance(id, dec("50.00"), decimal.Zero)

	res, err := f.engine.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAutoAdjusted, res.Action)
	assert.True(t, res.Alerted())
	assert.True(t, dec("50.00").Equal(res.Stored))
	assert.True(t, dec("45.00").Equal(res.Computed))
	assert.True(t, dec("5.00").Equal(res.Delta))
	require.NotNil(t, res.AdjustmentTxnID)

	assert.True(t, dec("45.00").Equal(f.stored(t, id).Available))

	adj, err := f.store.Ledger().GetByTxnID(ctx, *res.AdjustmentTxnID)
	require.NoError(t, err)
	assert.Equal(t, domain.OriginReconciliation, adj.Origin)
	assert.True(t, dec("-5.00").Equal(adj.Amount))

	again, err := f.engine.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, again.Action)
}

func TestReconcile_NegativeDriftCredited(t *testing.T) {
	f := setup(t)
	id := f.account(t, "45.00")
	f.store.Accounts().SetBalance(id, dec("40.00"), decimal.Zero)

	res, err := f.engine.Reconcile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAutoAdjusted, res.Action)
	assert.True(t, dec("-5.00").Equal(res.Delta))
	assert.True(t, dec("45.00").Equal(f.stored(t, id).Available))
}

func TestReconcile_LargeDriftOnlyAlerts(t *testing.T) {
	f := setup(t)
	id := f.account(t, "45.00")
	f.store.Accounts().SetBalance(id, dec("200.00"), decimal.Zero)

	res, err := f.engine.Reconcile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAlerted, res.Action)
	assert.Nil(t, res.AdjustmentTxnID)
	assert.True(t, dec("200.00").Equal(f.stored(t, id).Available))
}

func TestReconcile_CorrectionWouldOverdrawAvailable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.account(t, "15.00")
	_, err := f.ledger.Freeze(ctx, id, dec("10.00"), "hold-1")
	require.NoError(t, err)
	f.store.Accounts().SetBalance(id, dec("2.00"), dec("16.00"))

	res, err := f.engine.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAlerted, res.Action)
	assert.True(t, dec("3.00").Equal(res.Delta))
	assert.True(t, dec("2.00").Equal(f.stored(t, id).Available))
}

func TestReconcile_UnknownAccount(t *testing.T) {
	f := setup(t)
	_, err := f.engine.Reconcile(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

type racingCorrector struct {
	inner *ledger.Service
	calls int
}

func (c *racingCorrector) Correct(ctx context.Context, accountID uuid.UUID, expectedVersion int64, delta decimal.Decimal, txnID string) (*ledger.Result, error) {
	c.calls++
	if c.calls == 1 {
		return nil, domain.ErrVersionConflict
	}
	return c.inner.Correct(ctx, accountID, expectedVersion, delta, txnID)
}

func TestReconcile_RecomputesAfterVersionConflict(t *testing.T) {
	store := memory.New()
	svc := newLedger(store)
	corr := &racingCorrector{inner: svc}
	f := &fixture{store: store, ledger: svc, engine: newEngine(store, corr)}
	id := f.account(t, "45.00")
	f.store.Accounts().SetBalance(id, dec("50.00"), decimal.Zero)

	res, err := f.engine.Reconcile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, corr.calls)
	assert.Equal(t, domain.ActionAutoAdjusted, res.Action)
}

func TestReconcileAll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	clean := f.account(t, "10.00")
	small := f.account(t, "45.00")
	large := f.account(t, "45.00")
	f.store.Accounts().SetBalance(small, dec("50.00"), decimal.Zero)
	f.store.Accounts().SetBalance(large, dec("500.00"), decimal.Zero)

	runDate := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	run, err := f.engine.ReconcileAll(ctx, runDate)
	require.NoError(t, err)
	assert.Len(t, run.RunID, 26)
	assert.Equal(t, runDate, run.RunDate)
	assert.Equal(t, 3, run.Checked)
	assert.Equal(t, 2, run.Mismatched)
	assert.Equal(t, 1, run.AutoAdjusted)
	assert.Equal(t, 1, run.Alerted)
	assert.Equal(t, 0, run.Failed)

	for _, id := range []uuid.UUID{clean, small, large} {
		results, err := f.engine.Results(ctx, id, &runDate, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, run.RunID, results[0].RunID)
	}

	other := runDate.AddDate(0, 0, 1)
	results, err := f.engine.Results(ctx, clean, &other, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRealign_ClearsDriftAboveThreshold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.account(t, "45.00")
	f.store.Accounts().SetBalance(id, dec("70.00"), decimal.Zero)

	alert, err := f.engine.Reconcile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.ActionAlerted, alert.Action)
	require.True(t, dec("25.00").Equal(alert.Delta))

	res, err := f.engine.Realign(ctx, id, alert.Delta, "operator-1", "cash drawer recount")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRealigned, res.Action)
	require.NotNil(t, res.AdjustmentTxnID)
	assert.True(t, dec("45.00").Equal(f.stored(t, id).Available))

	adj, err := f.store.Ledger().GetByTxnID(ctx, *res.AdjustmentTxnID)
	require.NoError(t, err)
	assert.Equal(t, domain.OriginReconciliation, adj.Origin)
	assert.True(t, dec("-25.00").Equal(adj.Amount))

	next, err := f.engine.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, next.Action)
	assert.True(t, next.Delta.IsZero())

	history, err := f.store.Reconciliations().ListByAccount(ctx, id, nil, 10)
	require.NoError(t, err)
	actions := make([]domain.ReconciliationAction, 0, len(history))
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	assert.Contains(t, actions, domain.ActionRealigned)
}

func TestRealign_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		stored   string
		expected string
		operator string
		wantErr  error
	}{
		{name: "drift moved since review", stored: "70.00", expected: "20.00", operator: "operator-1", wantErr: domain.ErrDriftChanged},
		{name: "no drift", stored: "45.00", expected: "0.00", operator: "operator-1", wantErr: domain.ErrNoDrift},
		{name: "missing operator", stored: "70.00", expected: "25.00", operator: "", wantErr: domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			id := f.account(t, "45.00")
			f.store.Accounts().SetBalance(id, dec(tt.stored), decimal.Zero)

			_, err := f.engine.Realign(context.Background(), id, dec(tt.expected), tt.operator, "")
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, dec(tt.stored).Equal(f.stored(t, id).Available))
		})
	}
}

func TestRealign_UnknownAccount(t *testing.T) {
	f := setup(t)
	_, err := f.engine.Realign(context.Background(), uuid.New(), dec("1.00"), "operator-1", "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
