package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ConflictReason string

const (
	ConflictInsufficientBalance ConflictReason = "INSUFFICIENT_BALANCE"
	ConflictAccountNotUsable    ConflictReason = "ACCOUNT_NOT_USABLE"
)

type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "OPEN"
	ConflictResolved ConflictStatus = "RESOLVED"
)

type ResolutionStrategy string

const (
	StrategyReject       ResolutionStrategy = "REJECT"
	StrategyPartialApply ResolutionStrategy = "PARTIAL_APPLY"
	StrategyManual       ResolutionStrategy = "MANUAL"
)

func (s ResolutionStrategy) IsValid() bool {
	switch s {
	case StrategyReject, StrategyPartialApply, StrategyManual:
		return true
	}
	return false
}

type Conflict struct {
	TxnID          string
	AccountID      uuid.UUID
	DeviceID       string
	Amount         decimal.Decimal
	Reason         ConflictReason
	Status         ConflictStatus
	Strategy       *ResolutionStrategy
	AppliedAmount  decimal.Decimal
	Shortfall      decimal.Decimal
	ShortfallTxnID *string
	ResolvedBy     *string
	Note           *string
	OccurredAt     time.Time
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	SettledAt      *time.Time
}

// Resolution is the terminal outcome written when a conflict is closed.
type Resolution struct {
	TxnID          string
	Strategy       ResolutionStrategy
	AppliedAmount  decimal.Decimal
	Shortfall      decimal.Decimal
	ShortfallTxnID *string
	ResolvedBy     string
	Note           string
	ResolvedAt     time.Time
}

func PartialTxnID(txnID string) string   { return txnID + "#partial" }
func ShortfallTxnID(txnID string) string { return txnID + "#shortfall" }
