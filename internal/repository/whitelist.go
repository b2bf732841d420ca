package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

const whitelistColumns = `device_id, account_id, max_per_transaction, valid_from, valid_until, version, updated_at`

type WhitelistRepository struct {
	db *sql.DB
}

func NewWhitelistRepository(db *sql.DB) *WhitelistRepository {
	return &WhitelistRepository{db: db}
}

// Upsert creates the entry at version 1 or replaces its terms and bumps the
// version. The stored row is returned.
func (r *WhitelistRepository) Upsert(ctx context.Context, e *domain.WhitelistEntry) (*domain.WhitelistEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO whitelist_entries (`+whitelistColumns+`)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (device_id, account_id) DO UPDATE
			SET max_per_transaction = EXCLUDED.max_per_transaction,
				valid_from = EXCLUDED.valid_from,
				valid_until = EXCLUDED.valid_until,
				version = whitelist_entries.version + 1,
				updated_at = EXCLUDED.updated_at
		RETURNING `+whitelistColumns,
		e.DeviceID, e.AccountID, e.MaxPerTransaction, e.ValidFrom, e.ValidUntil, e.UpdatedAt,
	)
	stored, err := scanWhitelistEntry(row)
	if err != nil {
		return nil, fmt.Errorf("Upsert: %w", err)
	}
	return stored, nil
}

func (r *WhitelistRepository) Get(ctx context.Context, deviceID string, accountID uuid.UUID) (*domain.WhitelistEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+whitelistColumns+` FROM whitelist_entries WHERE device_id = $1 AND account_id = $2`,
		deviceID, accountID,
	)
	e, err := scanWhitelistEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return e, nil
}

func (r *WhitelistRepository) ListByDevice(ctx context.Context, deviceID string) ([]domain.WhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+whitelistColumns+` FROM whitelist_entries WHERE device_id = $1 ORDER BY account_id`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByDevice: %w", err)
	}
	defer rows.Close()

	entries := []domain.WhitelistEntry{}
	for rows.Next() {
		e, err := scanWhitelistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByDevice: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByDevice: rows: %w", err)
	}
	return entries, nil
}

func scanWhitelistEntry(s scanner) (*domain.WhitelistEntry, error) {
	var e domain.WhitelistEntry
	err := s.Scan(&e.DeviceID, &e.AccountID, &e.MaxPerTransaction, &e.ValidFrom, &e.ValidUntil, &e.Version, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
