package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReconciliationAction string

const (
	ActionNone         ReconciliationAction = "NONE"
	ActionAlerted      ReconciliationAction = "ALERTED"
	ActionAutoAdjusted ReconciliationAction = "AUTO_ADJUSTED"
	// ActionRealigned is an operator-approved correction of a drift that
	// exceeded the auto-adjust threshold.
	ActionRealigned ReconciliationAction = "REALIGNED"
)

// ReconciliationResult is written once per account per run, and once per
// operator realignment. AUTO_ADJUSTED implies the drift was also alerted.
type ReconciliationResult struct {
	ID              string
	RunID           string
	RunDate         time.Time
	AccountID       uuid.UUID
	Computed        decimal.Decimal
	Stored          decimal.Decimal
	Delta           decimal.Decimal
	Action          ReconciliationAction
	AdjustmentTxnID *string
	CreatedAt       time.Time
}

func (r ReconciliationResult) Alerted() bool {
	return r.Action != ActionNone
}

type ReconciliationRun struct {
	RunID        string
	RunDate      time.Time
	Checked      int
	Mismatched   int
	AutoAdjusted int
	Alerted      int
	Failed       int
	StartedAt    time.Time
	FinishedAt   time.Time
}
