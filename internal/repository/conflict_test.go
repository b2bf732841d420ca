package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

var conflictCols = []string{
	"txn_id", "account_id", "device_id", "amount", "reason", "status", "strategy",
	"applied_amount", "shortfall", "shortfall_txn_id", "resolved_by", "note",
	"occurred_at", "created_at", "resolved_at", "settled_at",
}

func TestConflictRepository_Claim(t *testing.T) {
	now := time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC)
	accountID := uuid.New()

	t.Run("open conflict is claimed", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewConflictRepository(db)

		mock.ExpectQuery(`UPDATE conflicts`).
			WithArgs("till-1:3", "REJECT", "ops-1", "refunded at counter", now).
			WillReturnRows(sqlmock.NewRows(conflictCols).AddRow(
				"till-1:3", accountID.String(), "till-1", "8.00", "INSUFFICIENT_BALANCE", "RESOLVED", "REJECT",
				"0", "0", nil, "ops-1", "refunded at counter",
				now.Add(-time.Hour), now.Add(-time.Hour), now, now))

		c, err := repo.Claim(context.Background(), "till-1:3", domain.StrategyReject, "ops-1", "refunded at counter", now)
		require.NoError(t, err)
		assert.Equal(t, domain.ConflictResolved, c.Status)
		require.NotNil(t, c.Strategy)
		assert.Equal(t, domain.StrategyReject, *c.Strategy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("resolved conflict cannot be claimed again", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewConflictRepository(db)

		mock.ExpectQuery(`UPDATE conflicts`).WillReturnRows(sqlmock.NewRows(conflictCols))
		mock.ExpectQuery(`SELECT (.+) FROM conflicts WHERE txn_id = \$1`).
			WithArgs("till-1:3").
			WillReturnRows(sqlmock.NewRows(conflictCols).AddRow(
				"till-1:3", accountID.String(), "till-1", "8.00", "INSUFFICIENT_BALANCE", "RESOLVED", "MANUAL",
				"0", "0", nil, "ops-1", nil,
				now.Add(-time.Hour), now.Add(-time.Hour), now, now))

		_, err = repo.Claim(context.Background(), "till-1:3", domain.StrategyReject, "ops-2", "", now)
		assert.ErrorIs(t, err, domain.ErrConflictAlreadyResolved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown conflict", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewConflictRepository(db)

		mock.ExpectQuery(`UPDATE conflicts`).WillReturnRows(sqlmock.NewRows(conflictCols))
		mock.ExpectQuery(`SELECT (.+) FROM conflicts`).WillReturnRows(sqlmock.NewRows(conflictCols))

		_, err = repo.Claim(context.Background(), "nope:1", domain.StrategyManual, "ops-1", "", now)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
