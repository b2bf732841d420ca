package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

type cachedSnapshot struct {
	issuedAt time.Time
	entries  map[uuid.UUID]domain.WhitelistEntry
}

// SnapshotCache keeps the latest verified whitelist snapshot per device in
// memory. It satisfies EntrySource.
type SnapshotCache struct {
	mu      sync.RWMutex
	devices map[string]cachedSnapshot
}

func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{devices: make(map[string]cachedSnapshot)}
}

// Replace swaps in snap after verifying its checksum. An older snapshot never
// replaces a newer one.
func (c *SnapshotCache) Replace(snap domain.WhitelistSnapshot) error {
	if err := snap.Verify(); err != nil {
		return fmt.Errorf("Replace: %w", err)
	}

	entries := make(map[uuid.UUID]domain.WhitelistEntry, len(snap.Entries))
	for _, e := range snap.Entries {
		if e.DeviceID != snap.DeviceID {
			return fmt.Errorf("Replace: entry for device %q in snapshot for %q: %w", e.DeviceID, snap.DeviceID, domain.ErrInvalidRequest)
		}
		entries[e.AccountID] = e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.devices[snap.DeviceID]; ok && cur.issuedAt.After(snap.IssuedAt) {
		return nil
	}
	c.devices[snap.DeviceID] = cachedSnapshot{issuedAt: snap.IssuedAt, entries: entries}
	return nil
}

func (c *SnapshotCache) Entry(_ context.Context, deviceID string, accountID uuid.UUID) (*domain.WhitelistEntry, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.devices[deviceID]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("Entry: no snapshot for %s: %w", deviceID, domain.ErrNotFound)
	}
	e, ok := snap.entries[accountID]
	if !ok {
		return nil, snap.issuedAt, fmt.Errorf("Entry: %w", domain.ErrNotFound)
	}
	return &e, snap.issuedAt, nil
}

// Sequence is an in-process device counter. Terminals persist theirs.
type Sequence struct {
	mu   sync.Mutex
	next map[string]uint64
}

func NewSequence() *Sequence {
	return &Sequence{next: make(map[string]uint64)}
}

func (s *Sequence) NextSequence(_ context.Context, deviceID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[deviceID]++
	return s.next[deviceID], nil
}
