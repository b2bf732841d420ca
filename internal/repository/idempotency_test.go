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

var idempotencyCols = []string{"txn_id", "account_id", "state", "reserved_until", "created_at", "completed_at"}

func newIdempotencyMock(t *testing.T) (*IdempotencyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewIdempotencyRepository(db), mock
}

func TestIdempotencyRepository_CheckAndReserve(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	lease := 30 * time.Second
	accountID := uuid.New()

	t.Run("new reservation", func(t *testing.T) {
		repo, mock := newIdempotencyMock(t)
		mock.ExpectQuery(`INSERT INTO idempotency_keys`).
			WithArgs("till-1:1", accountID, now.Add(lease), now).
			WillReturnRows(sqlmock.NewRows(idempotencyCols).
				AddRow("till-1:1", accountID.String(), "PENDING", now.Add(lease), now, nil))

		res, err := repo.CheckAndReserve(context.Background(), "till-1:1", accountID, now, lease)
		require.NoError(t, err)
		assert.Equal(t, domain.ReserveNew, res.Outcome)
		assert.Equal(t, domain.IdempotencyPending, res.Entry.State)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed key is a duplicate", func(t *testing.T) {
		repo, mock := newIdempotencyMock(t)
		mock.ExpectQuery(`INSERT INTO idempotency_keys`).WillReturnRows(sqlmock.NewRows(idempotencyCols))
		mock.ExpectQuery(`SELECT (.+) FROM idempotency_keys WHERE txn_id = \$1`).
			WithArgs("till-1:1").
			WillReturnRows(sqlmock.NewRows(idempotencyCols).
				AddRow("till-1:1", accountID.String(), "APPLIED", now, now.Add(-time.Hour), now))

		res, err := repo.CheckAndReserve(context.Background(), "till-1:1", accountID, now, lease)
		require.NoError(t, err)
		assert.Equal(t, domain.ReserveDuplicate, res.Outcome)
		assert.Equal(t, domain.IdempotencyApplied, res.Entry.State)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("live pending reservation", func(t *testing.T) {
		repo, mock := newIdempotencyMock(t)
		mock.ExpectQuery(`INSERT INTO idempotency_keys`).WillReturnRows(sqlmock.NewRows(idempotencyCols))
		mock.ExpectQuery(`SELECT (.+) FROM idempotency_keys`).
			WillReturnRows(sqlmock.NewRows(idempotencyCols).
				AddRow("till-1:1", accountID.String(), "PENDING", now.Add(time.Second), now, nil))

		_, err := repo.CheckAndReserve(context.Background(), "till-1:1", accountID, now, lease)
		assert.ErrorIs(t, err, domain.ErrReservationInFlight)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIdempotencyRepository_Commit(t *testing.T) {
	now := time.Now().UTC()

	repo, mock := newIdempotencyMock(t)
	mock.ExpectExec(`UPDATE idempotency_keys SET state`).
		WithArgs("till-1:1", domain.IdempotencyApplied, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Commit(context.Background(), "till-1:1", now))

	mock.ExpectExec(`UPDATE idempotency_keys SET state`).
		WithArgs("till-1:2", domain.IdempotencyConflict, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.MarkConflict(context.Background(), "till-1:2", now)
	assert.ErrorIs(t, err, domain.ErrReservationLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepository_ExpirePending(t *testing.T) {
	now := time.Now().UTC()
	repo, mock := newIdempotencyMock(t)

	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE state = 'PENDING'`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ExpirePending(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
