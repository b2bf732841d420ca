package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return true
	}
	return false
}

// CanTransitionTo reports whether an account in status s may move to next.
// CLOSED is terminal.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	switch s {
	case AccountStatusActive:
		return next == AccountStatusFrozen || next == AccountStatusClosed
	case AccountStatusFrozen:
		return next == AccountStatusActive || next == AccountStatusClosed
	}
	return false
}

type Account struct {
	ID        uuid.UUID
	HolderRef string
	Available decimal.Decimal
	Frozen    decimal.Decimal
	Status    AccountStatus
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total is the stored balance compared against the transaction history.
func (a Account) Total() decimal.Decimal {
	return a.Available.Add(a.Frozen)
}
