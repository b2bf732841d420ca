package whitelist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
)

type entryRepo interface {
	Upsert(ctx context.Context, e *domain.WhitelistEntry) (*domain.WhitelistEntry, error)
	ListByDevice(ctx context.Context, deviceID string) ([]domain.WhitelistEntry, error)
}

type accountChecker interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

type snapshotCache interface {
	Get(ctx context.Context, deviceID string) (*domain.WhitelistSnapshot, error)
	Set(ctx context.Context, snap domain.WhitelistSnapshot) error
	Invalidate(ctx context.Context, deviceID string) error
}

type Service struct {
	entries  entryRepo
	accounts accountChecker
	cache    snapshotCache
	now      func() time.Time
}

// NewService accepts a nil cache, in which case every snapshot is built from
// the repository.
func NewService(entries entryRepo, accounts accountChecker, cache snapshotCache, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{entries: entries, accounts: accounts, cache: cache, now: now}
}

// Snapshot returns the device's entries that have not yet expired. Cache
// failures fall back to the repository.
func (s *Service) Snapshot(ctx context.Context, deviceID string) (*domain.WhitelistSnapshot, error) {
	log := logging.FromContext(ctx)
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("Snapshot: %w", domain.ErrInvalidRequest)
	}

	if s.cache != nil {
		snap, err := s.cache.Get(ctx, deviceID)
		if err != nil {
			log.Warn("whitelist cache read failed", "device_id", deviceID, "error", err)
		}
		if snap != nil {
			return snap, nil
		}
	}

	all, err := s.entries.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("Snapshot: %w", err)
	}
	now := s.now()
	live := make([]domain.WhitelistEntry, 0, len(all))
	for _, e := range all {
		if !now.After(e.ValidUntil) {
			live = append(live, e)
		}
	}
	snap := domain.NewWhitelistSnapshot(deviceID, live, now)

	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			log.Warn("whitelist cache write failed", "device_id", deviceID, "error", err)
		}
	}
	return &snap, nil
}

// UpsertEntry is the provisioning hook. The stored version is bumped on
// every write.
func (s *Service) UpsertEntry(ctx context.Context, e domain.WhitelistEntry) (*domain.WhitelistEntry, error) {
	if strings.TrimSpace(e.DeviceID) == "" || e.AccountID == uuid.Nil {
		return nil, fmt.Errorf("UpsertEntry: %w", domain.ErrInvalidRequest)
	}
	if !domain.ValidAmount(e.MaxPerTransaction) {
		return nil, fmt.Errorf("UpsertEntry: %w", domain.ErrInvalidAmount)
	}
	if !e.ValidUntil.After(e.ValidFrom) {
		return nil, fmt.Errorf("UpsertEntry: validity window ends before it starts: %w", domain.ErrInvalidRequest)
	}
	if _, err := s.accounts.GetByID(ctx, e.AccountID); err != nil {
		return nil, fmt.Errorf("UpsertEntry: %w", err)
	}

	e.UpdatedAt = s.now()
	saved, err := s.entries.Upsert(ctx, &e)
	if err != nil {
		return nil, fmt.Errorf("UpsertEntry: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, e.DeviceID); err != nil {
			logging.FromContext(ctx).Warn("whitelist cache invalidate failed", "device_id", e.DeviceID, "error", err)
		}
	}

	logging.FromContext(ctx).Info("whitelist entry upserted",
		"device_id", saved.DeviceID,
		"account_id", saved.AccountID,
		"max_per_transaction", saved.MaxPerTransaction.StringFixed(domain.MinorUnitPlaces),
		"version", saved.Version,
	)
	return saved, nil
}
