// Package terminal is the device side of offline payments: a local SQLite
// store for the whitelist snapshot, the device sequence and the buffer of
// records not yet synced, plus the HTTP client that syncs them.
package terminal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	device_id TEXT PRIMARY KEY,
	issued_at TEXT NOT NULL,
	checksum TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS whitelist (
	device_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	max_per_transaction TEXT NOT NULL,
	valid_from TEXT NOT NULL,
	valid_until TEXT NOT NULL,
	version INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (device_id, account_id)
);

CREATE TABLE IF NOT EXISTS sequences (
	device_id TEXT PRIMARY KEY,
	last INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending (
	txn_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	amount TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	whitelist_version INTEGER NOT NULL,
	signature TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_sequence ON pending(device_id, sequence);
`

type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("OpenStore: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("OpenStore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ReplaceSnapshot verifies snap and swaps it in for the device. A snapshot
// older than the stored one is ignored.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap domain.WhitelistSnapshot) error {
	if err := snap.Verify(); err != nil {
		return fmt.Errorf("ReplaceSnapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ReplaceSnapshot: begin: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT issued_at FROM snapshot_meta WHERE device_id = ?`, snap.DeviceID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first snapshot for this device
	case err != nil:
		return fmt.Errorf("ReplaceSnapshot: read meta: %w", err)
	default:
		issuedAt, err := parseTime(current)
		if err != nil {
			return fmt.Errorf("ReplaceSnapshot: parse meta: %w", err)
		}
		if issuedAt.After(snap.IssuedAt) {
			return nil
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM whitelist WHERE device_id = ?`, snap.DeviceID); err != nil {
		return fmt.Errorf("ReplaceSnapshot: clear: %w", err)
	}
	for _, e := range snap.Entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO whitelist (device_id, account_id, max_per_transaction, valid_from, valid_until, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.DeviceID, e.AccountID.String(), e.MaxPerTransaction.String(),
			formatTime(e.ValidFrom), formatTime(e.ValidUntil), e.Version, formatTime(e.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("ReplaceSnapshot: insert entry: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (device_id, issued_at, checksum) VALUES (?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET issued_at = excluded.issued_at, checksum = excluded.checksum`,
		snap.DeviceID, formatTime(snap.IssuedAt), snap.Checksum,
	)
	if err != nil {
		return fmt.Errorf("ReplaceSnapshot: write meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ReplaceSnapshot: commit: %w", err)
	}
	return nil
}

// Entry implements offline.EntrySource.
func (s *Store) Entry(ctx context.Context, deviceID string, accountID uuid.UUID) (*domain.WhitelistEntry, time.Time, error) {
	var issued string
	err := s.db.QueryRowContext(ctx, `SELECT issued_at FROM snapshot_meta WHERE device_id = ?`, deviceID).Scan(&issued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("Entry: no snapshot for %s: %w", deviceID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("Entry: %w", err)
	}
	issuedAt, err := parseTime(issued)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("Entry: %w", err)
	}

	var (
		capStr, from, until, updated string
		e                            = domain.WhitelistEntry{DeviceID: deviceID, AccountID: accountID}
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT max_per_transaction, valid_from, valid_until, version, updated_at
		FROM whitelist WHERE device_id = ? AND account_id = ?`,
		deviceID, accountID.String(),
	).Scan(&capStr, &from, &until, &e.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, issuedAt, fmt.Errorf("Entry: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, issuedAt, fmt.Errorf("Entry: %w", err)
	}

	if e.MaxPerTransaction, err = decimal.NewFromString(capStr); err != nil {
		return nil, issuedAt, fmt.Errorf("Entry: cap: %w", err)
	}
	if e.ValidFrom, err = parseTime(from); err != nil {
		return nil, issuedAt, fmt.Errorf("Entry: valid_from: %w", err)
	}
	if e.ValidUntil, err = parseTime(until); err != nil {
		return nil, issuedAt, fmt.Errorf("Entry: valid_until: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, issuedAt, fmt.Errorf("Entry: updated_at: %w", err)
	}
	return &e, issuedAt, nil
}

// NextSequence implements offline.Sequencer. Sequences start at 1 and are
// never reused, even if the record they were taken for is never buffered.
func (s *Store) NextSequence(ctx context.Context, deviceID string) (uint64, error) {
	var next uint64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sequences (device_id, last) VALUES (?, 1)
		ON CONFLICT (device_id) DO UPDATE SET last = last + 1
		RETURNING last`,
		deviceID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("NextSequence: %w", err)
	}
	return next, nil
}

func (s *Store) Buffer(ctx context.Context, rec domain.PendingRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending (txn_id, account_id, device_id, sequence, amount, occurred_at, whitelist_version, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TxnID, rec.AccountID.String(), rec.DeviceID, rec.Sequence, rec.Amount.StringFixed(domain.MinorUnitPlaces),
		formatTime(rec.OccurredAt), rec.WhitelistVersion, rec.Signature,
	)
	if err != nil {
		return fmt.Errorf("Buffer: %w", err)
	}
	return nil
}

// Pending returns up to limit buffered records in device sequence order.
func (s *Store) Pending(ctx context.Context, limit int) ([]domain.PendingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT txn_id, account_id, device_id, sequence, amount, occurred_at, whitelist_version, signature
		FROM pending ORDER BY device_id, sequence LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("Pending: %w", err)
	}
	defer rows.Close()

	records := []domain.PendingRecord{}
	for rows.Next() {
		var (
			r                 domain.PendingRecord
			accountID, amount string
			occurredAt        string
		)
		if err := rows.Scan(&r.TxnID, &accountID, &r.DeviceID, &r.Sequence, &amount, &occurredAt, &r.WhitelistVersion, &r.Signature); err != nil {
			return nil, fmt.Errorf("Pending: scan: %w", err)
		}
		if r.AccountID, err = uuid.Parse(accountID); err != nil {
			return nil, fmt.Errorf("Pending: account id: %w", err)
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("Pending: amount: %w", err)
		}
		if r.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("Pending: occurred_at: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Pending: rows: %w", err)
	}
	return records, nil
}

func (s *Store) Delete(ctx context.Context, txnIDs []string) error {
	if len(txnIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(txnIDs)), ",")
	args := make([]any, len(txnIDs))
	for i, id := range txnIDs {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending WHERE txn_id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}
