package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

// SeedAccount inserts an account with the given balances directly, bypassing
// the ledger, so tests can start from drifted or frozen states.
func SeedAccount(t *testing.T, db *sql.DB, available, frozen string, status domain.AccountStatus) *domain.Account {
	t.Helper()

	now := time.Now().UTC()
	a := &domain.Account{
		ID:        uuid.New(),
		HolderRef: "student-" + uuid.NewString()[:8],
		Available: decimal.RequireFromString(available),
		Frozen:    decimal.RequireFromString(frozen),
		Status:    status,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := db.Exec(
		`INSERT INTO accounts (id, holder_ref, available, frozen, status, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.HolderRef, a.Available, a.Frozen, a.Status, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func GetAvailable(t *testing.T, db *sql.DB, accountID uuid.UUID) decimal.Decimal {
	t.Helper()

	var available decimal.Decimal
	err := db.QueryRow(`SELECT available FROM accounts WHERE id = $1`, accountID).Scan(&available)
	if err != nil {
		t.Fatalf("get available %s: %v", accountID, err)
	}
	return available
}

func CountTransactions(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		t.Fatalf("count transactions for %s: %v", accountID, err)
	}
	return count
}

func IdempotencyState(t *testing.T, db *sql.DB, txnID string) domain.IdempotencyState {
	t.Helper()

	var state domain.IdempotencyState
	err := db.QueryRow(`SELECT state FROM idempotency_keys WHERE txn_id = $1`, txnID).Scan(&state)
	if err != nil {
		t.Fatalf("idempotency state %s: %v", txnID, err)
	}
	return state
}
