package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WhitelistEntry struct {
	DeviceID          string
	AccountID         uuid.UUID
	MaxPerTransaction decimal.Decimal
	ValidFrom         time.Time
	ValidUntil        time.Time
	Version           int64
	UpdatedAt         time.Time
}

// UsableAt reports whether the entry's validity window covers now.
func (e WhitelistEntry) UsableAt(now time.Time) bool {
	return !now.Before(e.ValidFrom) && !now.After(e.ValidUntil)
}

type WhitelistSnapshot struct {
	DeviceID string
	Entries  []WhitelistEntry
	IssuedAt time.Time
	Checksum string
}

func NewWhitelistSnapshot(deviceID string, entries []WhitelistEntry, issuedAt time.Time) WhitelistSnapshot {
	s := WhitelistSnapshot{DeviceID: deviceID, Entries: entries, IssuedAt: issuedAt}
	s.Checksum = s.ComputeChecksum()
	return s
}

// ComputeChecksum hashes the entries in account order so that transport
// reordering does not change the result.
func (s WhitelistSnapshot) ComputeChecksum() string {
	lines := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		lines[i] = fmt.Sprintf("%s|%s|%s|%d|%d|%d",
			e.DeviceID, e.AccountID, e.MaxPerTransaction.StringFixed(MinorUnitPlaces),
			e.ValidFrom.UTC().UnixNano(), e.ValidUntil.UTC().UnixNano(), e.Version)
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(s.DeviceID + "\n" + strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func (s WhitelistSnapshot) Verify() error {
	if s.ComputeChecksum() != s.Checksum {
		return ErrSnapshotChecksum
	}
	return nil
}
