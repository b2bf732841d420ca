package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidAmount           = errors.New("amount must be positive with at most two decimal places")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrAccountNotUsable        = errors.New("account not usable")
	ErrInvalidFreezeAmount     = errors.New("unfreeze amount exceeds frozen balance")
	ErrInvalidStatusTransition = errors.New("invalid account status transition")
	ErrVersionConflict         = errors.New("optimistic lock conflict")
	ErrConcurrentModification  = errors.New("concurrent modification: retries exhausted")
	ErrDuplicateTransaction    = errors.New("transaction id already recorded")
	ErrTxnIDReused             = errors.New("transaction id already used for a different operation")
	ErrTransactionConflicted   = errors.New("transaction already recorded as conflict")
	ErrReservationInFlight     = errors.New("transaction id reserved by an in-flight request")
	ErrReservationLost         = errors.New("idempotency reservation no longer held")
	ErrNotWhitelisted          = errors.New("account not whitelisted for offline use")
	ErrAmountExceedsCap        = errors.New("amount exceeds offline per-transaction cap")
	ErrInvalidSignature        = errors.New("record signature invalid")
	ErrInvalidRecord           = errors.New("invalid pending record")
	ErrBatchTooLarge           = errors.New("sync batch too large")
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")
	ErrInvalidStrategy         = errors.New("invalid resolution strategy")
	ErrDriftChanged            = errors.New("drift changed since it was reviewed")
	ErrNoDrift                 = errors.New("account has no drift to realign")
	ErrSnapshotChecksum        = errors.New("whitelist snapshot checksum mismatch")
)

// InsufficientBalanceError carries the amounts behind a declined debit or freeze.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.StringFixed(MinorUnitPlaces), e.Requested.StringFixed(MinorUnitPlaces))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// IsBusinessDecline reports whether err is a final business decision rather
// than an infrastructure or concurrency failure.
func IsBusinessDecline(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAccountNotUsable) ||
		errors.Is(err, ErrInvalidFreezeAmount)
}

// IsRetryable reports whether the caller may resubmit the same request unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrReservationInFlight) ||
		errors.Is(err, ErrVersionConflict)
}
