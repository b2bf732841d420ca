package terminal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
	"github.com/josh-kwaku/campus-ledger/internal/service/offline"
)

type ledgerAPI interface {
	FetchSnapshot(ctx context.Context, deviceID string) (domain.WhitelistSnapshot, error)
	SubmitBatch(ctx context.Context, records []domain.PendingRecord) (*domain.SyncReport, error)
}

type authorizer interface {
	Authorize(ctx context.Context, deviceID string, accountID uuid.UUID, amount decimal.Decimal, now time.Time) (*domain.PendingRecord, error)
}

// Agent runs a single terminal: it refreshes the whitelist while online,
// authorizes purchases against it while offline and flushes the buffer on
// reconnect.
type Agent struct {
	deviceID  string
	store     *Store
	api       ledgerAPI
	authz     authorizer
	batchSize int
	now       func() time.Time
}

func NewAgent(deviceID string, store *Store, api ledgerAPI, authz authorizer, batchSize int, now func() time.Time) *Agent {
	if now == nil {
		now = time.Now
	}
	return &Agent{deviceID: deviceID, store: store, api: api, authz: authz, batchSize: batchSize, now: now}
}

// NewOfflineAuthorizer builds the authorizer a terminal uses, reading entries
// and sequences from store.
func NewOfflineAuthorizer(store *Store, deviceKey []byte, cfg offline.AuthorizerConfig) *offline.Authorizer {
	return offline.NewAuthorizer(store, store, offline.NewSigner(deviceKey), cfg)
}

func (a *Agent) Refresh(ctx context.Context) (domain.WhitelistSnapshot, error) {
	snap, err := a.api.FetchSnapshot(ctx, a.deviceID)
	if err != nil {
		return domain.WhitelistSnapshot{}, fmt.Errorf("Refresh: %w", err)
	}
	if snap.DeviceID != a.deviceID {
		return domain.WhitelistSnapshot{}, fmt.Errorf("Refresh: snapshot for %q: %w", snap.DeviceID, domain.ErrInvalidRequest)
	}
	if err := a.store.ReplaceSnapshot(ctx, snap); err != nil {
		return domain.WhitelistSnapshot{}, fmt.Errorf("Refresh: %w", err)
	}

	logging.FromContext(ctx).Info("whitelist refreshed",
		"device_id", a.deviceID,
		"entries", len(snap.Entries),
		"issued_at", snap.IssuedAt,
	)
	return snap, nil
}

// Authorize decides a purchase offline and buffers the signed record.
func (a *Agent) Authorize(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*domain.PendingRecord, error) {
	rec, err := a.authz.Authorize(ctx, a.deviceID, accountID, amount, a.now())
	if err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}
	if err := a.store.Buffer(ctx, *rec); err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}
	return rec, nil
}

// Flush submits buffered records in batches. Every record the server
// settled, whatever the outcome, leaves the buffer; FAILED records stay for
// the next flush. Flush stops at the first batch where nothing was settled.
func (a *Agent) Flush(ctx context.Context) (*domain.SyncReport, error) {
	log := logging.FromContext(ctx)
	var items []domain.SyncItem

	for {
		records, err := a.store.Pending(ctx, a.batchSize)
		if err != nil {
			return nil, fmt.Errorf("Flush: %w", err)
		}
		if len(records) == 0 {
			break
		}

		report, err := a.api.SubmitBatch(ctx, records)
		if err != nil {
			return nil, fmt.Errorf("Flush: %w", err)
		}
		items = append(items, report.Items...)

		var settled []string
		for _, it := range report.Items {
			if it.Outcome != domain.OutcomeFailed {
				settled = append(settled, it.TxnID)
			}
		}
		if err := a.store.Delete(ctx, settled); err != nil {
			return nil, fmt.Errorf("Flush: %w", err)
		}

		log.Info("sync batch flushed",
			"device_id", a.deviceID,
			"records", len(records),
			"settled", len(settled),
			"conflicts", report.Conflicts,
		)

		if len(settled) < len(records) {
			break
		}
	}

	return domain.NewSyncReport(items), nil
}
