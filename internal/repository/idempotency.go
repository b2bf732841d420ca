package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

const idempotencyColumns = `txn_id, account_id, state, reserved_until, created_at, completed_at`

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// CheckAndReserve inserts a PENDING reservation for txnID, or takes over an
// existing PENDING one whose lease ran out. A live PENDING reservation yields
// domain.ErrReservationInFlight; a completed one is reported as a duplicate.
func (r *IdempotencyRepository) CheckAndReserve(ctx context.Context, txnID string, accountID uuid.UUID, now time.Time, lease time.Duration) (*domain.Reservation, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO idempotency_keys (txn_id, account_id, state, reserved_until, created_at)
		VALUES ($1, $2, 'PENDING', $3, $4)
		ON CONFLICT (txn_id) DO UPDATE
			SET account_id = EXCLUDED.account_id,
				reserved_until = EXCLUDED.reserved_until,
				created_at = EXCLUDED.created_at
			WHERE idempotency_keys.state = 'PENDING'
				AND idempotency_keys.reserved_until < EXCLUDED.created_at
		RETURNING `+idempotencyColumns,
		txnID, accountID, now.Add(lease), now,
	)
	e, err := scanIdempotencyEntry(row)
	if err == nil {
		return &domain.Reservation{Outcome: domain.ReserveNew, Entry: *e}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("CheckAndReserve: %w", err)
	}

	existing, err := r.Get(ctx, txnID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// released between the upsert and this read
			return nil, fmt.Errorf("CheckAndReserve: %w", domain.ErrReservationInFlight)
		}
		return nil, fmt.Errorf("CheckAndReserve: %w", err)
	}
	if existing.State == domain.IdempotencyPending {
		return nil, fmt.Errorf("CheckAndReserve: %w", domain.ErrReservationInFlight)
	}
	return &domain.Reservation{Outcome: domain.ReserveDuplicate, Entry: *existing}, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, txnID string) (*domain.IdempotencyEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE txn_id = $1`, txnID,
	)
	e, err := scanIdempotencyEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return e, nil
}

// GetResult returns the transaction recorded for a completed reservation, or
// nil when txnID has not been applied.
func (r *IdempotencyRepository) GetResult(ctx context.Context, txnID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT t.txn_id, t.account_id, t.amount, t.kind, t.origin, t.device_id,
			t.occurred_at, t.recorded_at, t.sync_status
		FROM idempotency_keys k
		JOIN transactions t ON t.txn_id = k.txn_id
		WHERE k.txn_id = $1 AND k.state <> 'PENDING'`, txnID,
	)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetResult: %w", err)
	}
	return t, nil
}

func (r *IdempotencyRepository) Commit(ctx context.Context, txnID string, now time.Time) error {
	if err := r.complete(ctx, txnID, domain.IdempotencyApplied, now); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) MarkConflict(ctx context.Context, txnID string, now time.Time) error {
	if err := r.complete(ctx, txnID, domain.IdempotencyConflict, now); err != nil {
		return fmt.Errorf("MarkConflict: %w", err)
	}
	return nil
}

// complete moves a reservation to a terminal state. Repeating the same
// transition is a no-op.
func (r *IdempotencyRepository) complete(ctx context.Context, txnID string, state domain.IdempotencyState, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET state = $2, completed_at = COALESCE(completed_at, $3)
		WHERE txn_id = $1 AND (state = 'PENDING' OR state = $2)`,
		txnID, state, now,
	)
	if err != nil {
		return err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrReservationLost
	}
	return nil
}

// Release drops a PENDING reservation so the txnID can be reserved again.
func (r *IdempotencyRepository) Release(ctx context.Context, txnID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE txn_id = $1 AND state = 'PENDING'`, txnID,
	)
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE state = 'PENDING' AND reserved_until < $1`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("ExpirePending: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return 0, fmt.Errorf("ExpirePending: %w", err)
	}
	return n, nil
}

func (r *IdempotencyRepository) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE state <> 'PENDING' AND completed_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("PurgeCompleted: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return 0, fmt.Errorf("PurgeCompleted: %w", err)
	}
	return n, nil
}

func scanIdempotencyEntry(s scanner) (*domain.IdempotencyEntry, error) {
	var e domain.IdempotencyEntry
	err := s.Scan(&e.TxnID, &e.AccountID, &e.State, &e.ReservedUntil, &e.CreatedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
