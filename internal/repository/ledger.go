package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

const transactionColumns = `txn_id, account_id, amount, kind, origin, device_id,
	occurred_at, recorded_at, sync_status`

// LedgerRepository reads the append-only transaction log. Rows are written by
// AccountRepository.ApplyMutation and ConflictRepository.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) GetByTxnID(ctx context.Context, txnID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE txn_id = $1`, txnID,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByTxnID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByTxnID: %w", err)
	}
	return t, nil
}

func (r *LedgerRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByAccountID: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = $1 ORDER BY recorded_at DESC, txn_id LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByAccountID: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("GetByAccountID: scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("GetByAccountID: rows: %w", err)
	}
	return txns, total, nil
}

// SumBalanceEffects totals the account's APPLIED history with the same rules
// as domain.Transaction.BalanceEffect.
func (r *LedgerRepository) SumBalanceEffects(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE account_id = $1
			AND sync_status = 'APPLIED'
			AND kind NOT IN ('FREEZE', 'UNFREEZE')
			AND NOT (kind = 'ADJUSTMENT' AND origin = 'RECONCILIATION')`,
		accountID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumBalanceEffects: %w", err)
	}
	return sum, nil
}

func insertTransaction(ctx context.Context, e execer, t *domain.Transaction) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.AccountID, t.Amount, t.Kind, t.Origin, t.DeviceID,
		t.OccurredAt, t.RecordedAt, t.SyncStatus,
	)
	return err
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.Scan(
		&t.ID, &t.AccountID, &t.Amount, &t.Kind, &t.Origin, &t.DeviceID,
		&t.OccurredAt, &t.RecordedAt, &t.SyncStatus,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
