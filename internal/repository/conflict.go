package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

const conflictColumns = `txn_id, account_id, device_id, amount, reason, status, strategy,
	applied_amount, shortfall, shortfall_txn_id, resolved_by, note,
	occurred_at, created_at, resolved_at, settled_at`

type ConflictRepository struct {
	db *sql.DB
}

func NewConflictRepository(db *sql.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

// Create records the conflict and its CONFLICT-tagged transaction together.
// It reports false when the conflict already existed.
func (r *ConflictRepository) Create(ctx context.Context, c *domain.Conflict, txn *domain.Transaction) (bool, error) {
	created := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO conflicts (txn_id, account_id, device_id, amount, reason, status, occurred_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (txn_id) DO NOTHING`,
			c.TxnID, c.AccountID, c.DeviceID, c.Amount, c.Reason, c.Status, c.OccurredAt, c.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		created = true

		_, err = tx.ExecContext(ctx,
			`INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (txn_id) DO NOTHING`,
			txn.ID, txn.AccountID, txn.Amount, txn.Kind, txn.Origin, txn.DeviceID,
			txn.OccurredAt, txn.RecordedAt, txn.SyncStatus,
		)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("Create: %w", err)
	}
	return created, nil
}

func (r *ConflictRepository) Get(ctx context.Context, txnID string) (*domain.Conflict, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE txn_id = $1`, txnID,
	)
	c, err := scanConflict(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return c, nil
}

// List pages conflicts oldest first. An empty status lists every conflict.
func (r *ConflictRepository) List(ctx context.Context, status domain.ConflictStatus, limit, offset int) ([]domain.Conflict, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conflicts WHERE ($1 = '' OR status = $1)`, string(status),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("List: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at, txn_id LIMIT $2 OFFSET $3`,
		string(status), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	conflicts := []domain.Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("List: scan: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("List: rows: %w", err)
	}
	return conflicts, total, nil
}

// Claim closes an OPEN conflict with strategy. A PARTIAL_APPLY claim whose
// settlement never completed may be claimed again with PARTIAL_APPLY so the
// settlement can be resumed; anything else fails with
// domain.ErrConflictAlreadyResolved.
func (r *ConflictRepository) Claim(ctx context.Context, txnID string, strategy domain.ResolutionStrategy, resolvedBy, note string, now time.Time) (*domain.Conflict, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE conflicts
		SET status = 'RESOLVED', strategy = $2, resolved_by = $3, note = $4, resolved_at = $5,
			settled_at = CASE WHEN $2 = 'PARTIAL_APPLY' THEN NULL ELSE $5::timestamptz END
		WHERE txn_id = $1
			AND (status = 'OPEN'
				OR (status = 'RESOLVED' AND strategy = 'PARTIAL_APPLY' AND settled_at IS NULL AND $2 = 'PARTIAL_APPLY'))
		RETURNING `+conflictColumns,
		txnID, string(strategy), resolvedBy, note, now,
	)
	c, err := scanConflict(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Claim: %w", err)
	}

	if _, err := r.Get(ctx, txnID); err != nil {
		return nil, fmt.Errorf("Claim: %w", err)
	}
	return nil, fmt.Errorf("Claim: %w", domain.ErrConflictAlreadyResolved)
}

// Settle records the amounts of a PARTIAL_APPLY resolution and appends the
// shortfall receivable, if any.
func (r *ConflictRepository) Settle(ctx context.Context, txnID string, applied, shortfall decimal.Decimal, shortfallTxn *domain.Transaction, now time.Time) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var shortfallID *string
		if shortfallTxn != nil {
			shortfallID = &shortfallTxn.ID
			_, err := tx.ExecContext(ctx,
				`INSERT INTO transactions (`+transactionColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (txn_id) DO NOTHING`,
				shortfallTxn.ID, shortfallTxn.AccountID, shortfallTxn.Amount, shortfallTxn.Kind,
				shortfallTxn.Origin, shortfallTxn.DeviceID, shortfallTxn.OccurredAt,
				shortfallTxn.RecordedAt, shortfallTxn.SyncStatus,
			)
			if err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE conflicts
			SET applied_amount = $2, shortfall = $3, shortfall_txn_id = $4, settled_at = $5
			WHERE txn_id = $1 AND settled_at IS NULL`,
			txnID, applied, shortfall, shortfallID, now,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("Settle: %w", err)
	}
	return nil
}

func scanConflict(s scanner) (*domain.Conflict, error) {
	var c domain.Conflict
	var strategy sql.NullString
	err := s.Scan(
		&c.TxnID, &c.AccountID, &c.DeviceID, &c.Amount, &c.Reason, &c.Status, &strategy,
		&c.AppliedAmount, &c.Shortfall, &c.ShortfallTxnID, &c.ResolvedBy, &c.Note,
		&c.OccurredAt, &c.CreatedAt, &c.ResolvedAt, &c.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	if strategy.Valid {
		s := domain.ResolutionStrategy(strategy.String)
		c.Strategy = &s
	}
	return &c, nil
}
