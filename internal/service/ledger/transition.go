package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

// transition computes the next account snapshot and the transaction that
// records it. It is pure; persisting the pair is the caller's job.
func transition(acct domain.Account, m Mutation, now time.Time) (domain.Account, domain.Transaction, error) {
	next := acct
	next.Version = acct.Version + 1
	next.UpdatedAt = now

	amount := m.Amount
	var signed decimal.Decimal

	switch m.Kind {
	case domain.KindDebit:
		if acct.Status != domain.AccountStatusActive {
			return acct, domain.Transaction{}, domain.ErrAccountNotUsable
		}
		if m.UpTo {
			amount = decimal.Min(amount, acct.Available)
			if !amount.IsPositive() {
				return acct, domain.Transaction{}, &domain.InsufficientBalanceError{Available: acct.Available, Requested: m.Amount}
			}
		} else if acct.Available.LessThan(amount) {
			return acct, domain.Transaction{}, &domain.InsufficientBalanceError{Available: acct.Available, Requested: amount}
		}
		next.Available = acct.Available.Sub(amount)
		signed = amount.Neg()

	case domain.KindCredit:
		if acct.Status == domain.AccountStatusClosed {
			return acct, domain.Transaction{}, domain.ErrAccountNotUsable
		}
		next.Available = acct.Available.Add(amount)
		signed = amount

	case domain.KindFreeze:
		if acct.Status == domain.AccountStatusClosed {
			return acct, domain.Transaction{}, domain.ErrAccountNotUsable
		}
		if acct.Available.LessThan(amount) {
			return acct, domain.Transaction{}, &domain.InsufficientBalanceError{Available: acct.Available, Requested: amount}
		}
		next.Available = acct.Available.Sub(amount)
		next.Frozen = acct.Frozen.Add(amount)
		signed = amount.Neg()

	case domain.KindUnfreeze:
		if acct.Status == domain.AccountStatusClosed {
			return acct, domain.Transaction{}, domain.ErrAccountNotUsable
		}
		if acct.Frozen.LessThan(amount) {
			return acct, domain.Transaction{}, domain.ErrInvalidFreezeAmount
		}
		next.Available = acct.Available.Add(amount)
		next.Frozen = acct.Frozen.Sub(amount)
		signed = amount

	case domain.KindAdjustment:
		// reconciliation realigns closed accounts too
		if acct.Status == domain.AccountStatusClosed && m.Origin != domain.OriginReconciliation {
			return acct, domain.Transaction{}, domain.ErrAccountNotUsable
		}
		next.Available = acct.Available.Add(amount)
		if next.Available.IsNegative() {
			return acct, domain.Transaction{}, &domain.InsufficientBalanceError{Available: acct.Available, Requested: amount.Neg()}
		}
		signed = amount

	default:
		return acct, domain.Transaction{}, domain.ErrInvalidRequest
	}

	occurredAt := m.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	txn := domain.Transaction{
		ID:         m.TxnID,
		AccountID:  acct.ID,
		Amount:     signed,
		Kind:       m.Kind,
		Origin:     m.Origin,
		DeviceID:   m.DeviceID,
		OccurredAt: occurredAt,
		RecordedAt: now,
		SyncStatus: domain.SyncStatusApplied,
	}
	return next, txn, nil
}
