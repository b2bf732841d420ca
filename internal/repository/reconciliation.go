package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

const reconciliationColumns = `id, run_id, run_date, account_id, computed, stored, delta,
	action, adjustment_txn_id, created_at`

type ReconciliationRepository struct {
	db *sql.DB
}

func NewReconciliationRepository(db *sql.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) Create(ctx context.Context, res *domain.ReconciliationResult) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reconciliation_results (`+reconciliationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		res.ID, res.RunID, res.RunDate, res.AccountID, res.Computed, res.Stored, res.Delta,
		res.Action, res.AdjustmentTxnID, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ListByAccount returns results newest first, optionally narrowed to one run date.
func (r *ReconciliationRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, runDate *time.Time, limit int) ([]domain.ReconciliationResult, error) {
	var date any
	if runDate != nil {
		date = runDate.Format(time.DateOnly)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reconciliationColumns+` FROM reconciliation_results
		WHERE account_id = $1 AND ($2::date IS NULL OR run_date = $2::date)
		ORDER BY created_at DESC, id DESC LIMIT $3`,
		accountID, date, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	defer rows.Close()

	results := []domain.ReconciliationResult{}
	for rows.Next() {
		res, err := scanReconciliationResult(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByAccount: scan: %w", err)
		}
		results = append(results, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByAccount: rows: %w", err)
	}
	return results, nil
}

func scanReconciliationResult(s scanner) (*domain.ReconciliationResult, error) {
	var r domain.ReconciliationResult
	err := s.Scan(
		&r.ID, &r.RunID, &r.RunDate, &r.AccountID, &r.Computed, &r.Stored, &r.Delta,
		&r.Action, &r.AdjustmentTxnID, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
