package domain

import (
	"time"

	"github.com/google/uuid"
)

type IdempotencyState string

const (
	IdempotencyPending  IdempotencyState = "PENDING"
	IdempotencyApplied  IdempotencyState = "APPLIED"
	IdempotencyConflict IdempotencyState = "CONFLICT"
)

type ReserveOutcome string

const (
	ReserveNew       ReserveOutcome = "NEW"
	ReserveDuplicate ReserveOutcome = "DUPLICATE"
)

type IdempotencyEntry struct {
	TxnID         string
	AccountID     uuid.UUID
	State         IdempotencyState
	ReservedUntil time.Time
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

type Reservation struct {
	Outcome ReserveOutcome
	Entry   IdempotencyEntry
}
