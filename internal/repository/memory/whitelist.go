package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

type Whitelist struct{ s *Store }

func (w *Whitelist) Upsert(_ context.Context, e *domain.WhitelistEntry) (*domain.WhitelistEntry, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	k := whitelistKey{deviceID: e.DeviceID, accountID: e.AccountID}
	stored := *e
	stored.Version = 1
	if prev, ok := w.s.whitelist[k]; ok {
		stored.Version = prev.Version + 1
	}
	w.s.whitelist[k] = stored
	return &stored, nil
}

func (w *Whitelist) Get(_ context.Context, deviceID string, accountID uuid.UUID) (*domain.WhitelistEntry, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	e, ok := w.s.whitelist[whitelistKey{deviceID: deviceID, accountID: accountID}]
	if !ok {
		return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
	}
	return &e, nil
}

func (w *Whitelist) ListByDevice(_ context.Context, deviceID string) ([]domain.WhitelistEntry, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()

	entries := []domain.WhitelistEntry{}
	for k, e := range w.s.whitelist {
		if k.deviceID == deviceID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].AccountID[:], entries[j].AccountID[:]) < 0
	})
	return entries, nil
}
