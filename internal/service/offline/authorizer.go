// Package offline authorizes purchases on a disconnected terminal. Decisions
// are bounded only by the cached whitelist; the live balance is never read.
package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
)

// EntrySource returns a device's whitelist entry for an account together
// with the issue time of the snapshot it came from.
type EntrySource interface {
	Entry(ctx context.Context, deviceID string, accountID uuid.UUID) (*domain.WhitelistEntry, time.Time, error)
}

type Sequencer interface {
	NextSequence(ctx context.Context, deviceID string) (uint64, error)
}

type AuthorizerConfig struct {
	MaxSnapshotAge time.Duration
	LookupTimeout  time.Duration
}

type Authorizer struct {
	entries EntrySource
	seq     Sequencer
	signer  *Signer
	cfg     AuthorizerConfig
}

func NewAuthorizer(entries EntrySource, seq Sequencer, signer *Signer, cfg AuthorizerConfig) *Authorizer {
	return &Authorizer{entries: entries, seq: seq, signer: signer, cfg: cfg}
}

func (a *Authorizer) Authorize(ctx context.Context, deviceID string, accountID uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.PendingRecord, error) {
	if !domain.ValidAmount(amount) {
		return nil, fmt.Errorf("Authorize: %w", domain.ErrInvalidAmount)
	}

	entry, err := a.lookup(ctx, deviceID, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}
	if amount.GreaterThan(entry.MaxPerTransaction) {
		return nil, fmt.Errorf("Authorize: %s over cap %s: %w",
			amount.StringFixed(domain.MinorUnitPlaces),
			entry.MaxPerTransaction.StringFixed(domain.MinorUnitPlaces),
			domain.ErrAmountExceedsCap)
	}

	seq, err := a.seq.NextSequence(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("Authorize: next sequence: %w", err)
	}

	rec := domain.PendingRecord{
		TxnID:            domain.PendingTxnID(deviceID, seq),
		AccountID:        accountID,
		DeviceID:         deviceID,
		Sequence:         seq,
		Amount:           amount,
		OccurredAt:       now.UTC(),
		WhitelistVersion: entry.Version,
	}
	rec.Signature = a.signer.Sign(rec)

	logging.FromContext(ctx).Info("offline purchase authorized",
		"txn_id", rec.TxnID,
		"device_id", deviceID,
		"account_id", accountID,
		"amount", amount.StringFixed(domain.MinorUnitPlaces),
		"whitelist_version", entry.Version,
	)
	return &rec, nil
}

// lookup treats a missing entry, an expired entry and a stale snapshot alike.
func (a *Authorizer) lookup(ctx context.Context, deviceID string, accountID uuid.UUID, now time.Time) (*domain.WhitelistEntry, error) {
	if a.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.LookupTimeout)
		defer cancel()
	}

	entry, issuedAt, err := a.entries.Entry(ctx, deviceID, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup: %w", domain.ErrNotWhitelisted)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	if now.Sub(issuedAt) > a.cfg.MaxSnapshotAge {
		return nil, fmt.Errorf("lookup: snapshot issued %s is stale: %w", issuedAt.Format(time.RFC3339), domain.ErrNotWhitelisted)
	}
	if !entry.UsableAt(now) {
		return nil, fmt.Errorf("lookup: entry outside validity window: %w", domain.ErrNotWhitelisted)
	}
	return entry, nil
}
