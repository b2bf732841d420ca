package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places an amount may carry.
const MinorUnitPlaces = 2

type TransactionKind string

const (
	KindDebit      TransactionKind = "DEBIT"
	KindCredit     TransactionKind = "CREDIT"
	KindFreeze     TransactionKind = "FREEZE"
	KindUnfreeze   TransactionKind = "UNFREEZE"
	KindAdjustment TransactionKind = "ADJUSTMENT"
)

func (k TransactionKind) IsValid() bool {
	switch k {
	case KindDebit, KindCredit, KindFreeze, KindUnfreeze, KindAdjustment:
		return true
	}
	return false
}

type Origin string

const (
	OriginOnline         Origin = "ONLINE"
	OriginOffline        Origin = "OFFLINE"
	OriginReconciliation Origin = "RECONCILIATION"
)

type SyncStatus string

const (
	SyncStatusApplied   SyncStatus = "APPLIED"
	SyncStatusDuplicate SyncStatus = "DUPLICATE"
	SyncStatusConflict  SyncStatus = "CONFLICT"
)

// Transaction is an append-only ledger record. Amount is signed relative to
// the account's available balance: debits and freezes are negative.
type Transaction struct {
	ID         string
	AccountID  uuid.UUID
	Amount     decimal.Decimal
	Kind       TransactionKind
	Origin     Origin
	DeviceID   string
	OccurredAt time.Time
	RecordedAt time.Time
	SyncStatus SyncStatus
}

// BalanceEffect is the transaction's contribution to available+frozen.
// Freezes only move money between the two buckets, and reconciliation
// corrections realign the snapshot with history rather than move money.
func (t Transaction) BalanceEffect() decimal.Decimal {
	if t.SyncStatus != SyncStatusApplied {
		return decimal.Zero
	}
	switch t.Kind {
	case KindFreeze, KindUnfreeze:
		return decimal.Zero
	case KindAdjustment:
		if t.Origin == OriginReconciliation {
			return decimal.Zero
		}
	}
	return t.Amount
}

// ValidAmount reports whether amount is positive and representable in minor units.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(MinorUnitPlaces))
}
