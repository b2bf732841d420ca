package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceEffect(t *testing.T) {
	amt := decimal.RequireFromString("12.50")

	tests := []struct {
		name string
		txn  Transaction
		want decimal.Decimal
	}{
		{"applied debit", Transaction{Kind: KindDebit, Amount: amt.Neg(), SyncStatus: SyncStatusApplied}, amt.Neg()},
		{"applied credit", Transaction{Kind: KindCredit, Amount: amt, SyncStatus: SyncStatusApplied}, amt},
		{"freeze nets to zero", Transaction{Kind: KindFreeze, Amount: amt.Neg(), SyncStatus: SyncStatusApplied}, decimal.Zero},
		{"unfreeze nets to zero", Transaction{Kind: KindUnfreeze, Amount: amt, SyncStatus: SyncStatusApplied}, decimal.Zero},
		{"operator adjustment counts", Transaction{Kind: KindAdjustment, Origin: OriginOnline, Amount: amt.Neg(), SyncStatus: SyncStatusApplied}, amt.Neg()},
		{"reconciliation correction ignored", Transaction{Kind: KindAdjustment, Origin: OriginReconciliation, Amount: amt, SyncStatus: SyncStatusApplied}, decimal.Zero},
		{"conflict ignored", Transaction{Kind: KindDebit, Amount: amt.Neg(), SyncStatus: SyncStatusConflict}, decimal.Zero},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(tc.txn.BalanceEffect()), "got %s", tc.txn.BalanceEffect())
		})
	}
}

func TestValidAmount(t *testing.T) {
	assert.True(t, ValidAmount(decimal.RequireFromString("0.01")))
	assert.True(t, ValidAmount(decimal.RequireFromString("15.00")))
	assert.False(t, ValidAmount(decimal.Zero))
	assert.False(t, ValidAmount(decimal.RequireFromString("-1")))
	assert.False(t, ValidAmount(decimal.RequireFromString("1.005")))
}

func TestAccountStatusTransitions(t *testing.T) {
	assert.True(t, AccountStatusActive.CanTransitionTo(AccountStatusFrozen))
	assert.True(t, AccountStatusFrozen.CanTransitionTo(AccountStatusActive))
	assert.True(t, AccountStatusFrozen.CanTransitionTo(AccountStatusClosed))
	assert.False(t, AccountStatusClosed.CanTransitionTo(AccountStatusActive))
	assert.False(t, AccountStatusActive.CanTransitionTo(AccountStatusActive))
}

func TestParsePendingTxnID(t *testing.T) {
	device, seq, err := ParsePendingTxnID(PendingTxnID("canteen:till-3", 42))
	require.NoError(t, err)
	assert.Equal(t, "canteen:till-3", device)
	assert.Equal(t, uint64(42), seq)

	for _, bad := range []string{"", "nodevice", ":7", "dev:", "dev:x"} {
		_, _, err := ParsePendingTxnID(bad)
		assert.ErrorIs(t, err, ErrInvalidRecord, bad)
	}
}

func TestWhitelistEntryUsableAt(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	e := WhitelistEntry{ValidFrom: start, ValidUntil: start.Add(time.Hour)}

	assert.False(t, e.UsableAt(start.Add(-time.Nanosecond)))
	assert.True(t, e.UsableAt(start))
	assert.True(t, e.UsableAt(start.Add(time.Hour)))
	assert.False(t, e.UsableAt(start.Add(time.Hour+time.Nanosecond)))
}

func TestWhitelistSnapshotChecksum(t *testing.T) {
	now := time.Now().UTC()
	a := WhitelistEntry{DeviceID: "d1", AccountID: uuid.New(), MaxPerTransaction: decimal.NewFromInt(20), ValidFrom: now, ValidUntil: now.Add(time.Hour), Version: 1}
	b := WhitelistEntry{DeviceID: "d1", AccountID: uuid.New(), MaxPerTransaction: decimal.NewFromInt(5), ValidFrom: now, ValidUntil: now.Add(time.Hour), Version: 3}

	s1 := NewWhitelistSnapshot("d1", []WhitelistEntry{a, b}, now)
	s2 := NewWhitelistSnapshot("d1", []WhitelistEntry{b, a}, now)
	assert.Equal(t, s1.Checksum, s2.Checksum)
	require.NoError(t, s1.Verify())

	s1.Entries[0].MaxPerTransaction = decimal.NewFromInt(2000)
	assert.ErrorIs(t, s1.Verify(), ErrSnapshotChecksum)
}

func TestInsufficientBalanceError(t *testing.T) {
	err := fmt.Errorf("Debit: %w", &InsufficientBalanceError{
		Available: decimal.RequireFromString("2.00"),
		Requested: decimal.RequireFromString("8.00"),
	})

	assert.ErrorIs(t, err, ErrInsufficientBalance)
	var ibe *InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, "2.00", ibe.Available.StringFixed(2))
	assert.True(t, IsBusinessDecline(err))
	assert.False(t, IsRetryable(err))
}

func TestNewSyncReport(t *testing.T) {
	r := NewSyncReport([]SyncItem{
		{TxnID: "d:1", Outcome: OutcomeApplied},
		{TxnID: "d:2", Outcome: OutcomeConflict},
		{TxnID: "d:3", Outcome: OutcomeDuplicate},
		{TxnID: "d:4", Outcome: OutcomeRejected},
		{TxnID: "d:5", Outcome: OutcomeFailed},
		{TxnID: "d:6", Outcome: OutcomeConflict},
	})

	assert.Equal(t, 6, r.Total)
	assert.Equal(t, 1, r.Applied)
	assert.Equal(t, 2, r.Conflicts)
	assert.Equal(t, []string{"d:2", "d:6"}, r.ConflictTxnIDs)
	assert.Equal(t, 1, r.Duplicates)
	assert.Equal(t, 1, r.Rejected)
	assert.Equal(t, 1, r.Failed)
}
