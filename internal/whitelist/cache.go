// Package whitelist serves per-device whitelist snapshots to terminals,
// reading through a Redis cache in front of Postgres.
package whitelist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

const namespace = "whitelist"

type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func key(deviceID string) string {
	return namespace + ":" + deviceID
}

type entryJSON struct {
	AccountID         uuid.UUID       `json:"account_id"`
	MaxPerTransaction decimal.Decimal `json:"max_per_transaction"`
	ValidFrom         time.Time       `json:"valid_from"`
	ValidUntil        time.Time       `json:"valid_until"`
	Version           int64           `json:"version"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type snapshotJSON struct {
	DeviceID string      `json:"device_id"`
	IssuedAt time.Time   `json:"issued_at"`
	Checksum string      `json:"checksum"`
	Entries  []entryJSON `json:"entries"`
}

func encodeSnapshot(s domain.WhitelistSnapshot) ([]byte, error) {
	out := snapshotJSON{
		DeviceID: s.DeviceID,
		IssuedAt: s.IssuedAt,
		Checksum: s.Checksum,
		Entries:  make([]entryJSON, len(s.Entries)),
	}
	for i, e := range s.Entries {
		out.Entries[i] = entryJSON{
			AccountID:         e.AccountID,
			MaxPerTransaction: e.MaxPerTransaction,
			ValidFrom:         e.ValidFrom,
			ValidUntil:        e.ValidUntil,
			Version:           e.Version,
			UpdatedAt:         e.UpdatedAt,
		}
	}
	return json.Marshal(out)
}

func decodeSnapshot(b []byte) (*domain.WhitelistSnapshot, error) {
	var in snapshotJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	snap := &domain.WhitelistSnapshot{
		DeviceID: in.DeviceID,
		IssuedAt: in.IssuedAt,
		Checksum: in.Checksum,
		Entries:  make([]domain.WhitelistEntry, len(in.Entries)),
	}
	for i, e := range in.Entries {
		snap.Entries[i] = domain.WhitelistEntry{
			DeviceID:          in.DeviceID,
			AccountID:         e.AccountID,
			MaxPerTransaction: e.MaxPerTransaction,
			ValidFrom:         e.ValidFrom,
			ValidUntil:        e.ValidUntil,
			Version:           e.Version,
			UpdatedAt:         e.UpdatedAt,
		}
	}
	return snap, nil
}

// Get returns nil, nil on a miss. A cached value that fails its checksum is
// treated as a miss.
func (c *Cache) Get(ctx context.Context, deviceID string) (*domain.WhitelistSnapshot, error) {
	b, err := c.client.Get(ctx, key(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Cache.Get: %w", err)
	}
	snap, err := decodeSnapshot(b)
	if err != nil || snap.Verify() != nil {
		return nil, nil
	}
	return snap, nil
}

func (c *Cache) Set(ctx context.Context, snap domain.WhitelistSnapshot) error {
	b, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("Cache.Set: encode: %w", err)
	}
	if err := c.client.Set(ctx, key(snap.DeviceID), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("Cache.Set: %w", err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, deviceID string) error {
	if err := c.client.Del(ctx, key(deviceID)).Err(); err != nil {
		return fmt.Errorf("Cache.Invalidate: %w", err)
	}
	return nil
}
