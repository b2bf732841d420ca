package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PendingRecord is produced by an offline terminal and synced later.
type PendingRecord struct {
	TxnID            string
	AccountID        uuid.UUID
	DeviceID         string
	Sequence         uint64
	Amount           decimal.Decimal
	OccurredAt       time.Time
	WhitelistVersion int64
	Signature        string
}

func PendingTxnID(deviceID string, sequence uint64) string {
	return fmt.Sprintf("%s:%d", deviceID, sequence)
}

// ParsePendingTxnID splits a txn id of the form deviceId:sequence. Device ids
// may themselves contain colons; the sequence is the last segment.
func ParsePendingTxnID(txnID string) (string, uint64, error) {
	i := strings.LastIndexByte(txnID, ':')
	if i <= 0 || i == len(txnID)-1 {
		return "", 0, fmt.Errorf("ParsePendingTxnID: %q: %w", txnID, ErrInvalidRecord)
	}
	seq, err := strconv.ParseUint(txnID[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("ParsePendingTxnID: %q: %w", txnID, ErrInvalidRecord)
	}
	return txnID[:i], seq, nil
}

// SigningPayload is the canonical byte form covered by the record signature.
func (r PendingRecord) SigningPayload() []byte {
	return []byte(strings.Join([]string{
		r.TxnID,
		r.AccountID.String(),
		r.DeviceID,
		strconv.FormatUint(r.Sequence, 10),
		r.Amount.StringFixed(MinorUnitPlaces),
		r.OccurredAt.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(r.WhitelistVersion, 10),
	}, "|"))
}

type SyncOutcome string

const (
	OutcomeApplied   SyncOutcome = "APPLIED"
	OutcomeDuplicate SyncOutcome = "DUPLICATE"
	OutcomeConflict  SyncOutcome = "CONFLICT"
	OutcomeRejected  SyncOutcome = "REJECTED"
	OutcomeFailed    SyncOutcome = "FAILED"
)

type SyncItem struct {
	TxnID   string
	Outcome SyncOutcome
	Reason  string
}

type SyncReport struct {
	Total          int
	Applied        int
	Duplicates     int
	Conflicts      int
	Rejected       int
	Failed         int
	ConflictTxnIDs []string
	Items          []SyncItem
}

// NewSyncReport tallies items, which must already be in batch order.
func NewSyncReport(items []SyncItem) *SyncReport {
	r := &SyncReport{Total: len(items), Items: items, ConflictTxnIDs: []string{}}
	for _, it := range items {
		switch it.Outcome {
		case OutcomeApplied:
			r.Applied++
		case OutcomeDuplicate:
			r.Duplicates++
		case OutcomeConflict:
			r.Conflicts++
			r.ConflictTxnIDs = append(r.ConflictTxnIDs, it.TxnID)
		case OutcomeRejected:
			r.Rejected++
		case OutcomeFailed:
			r.Failed++
		}
	}
	return r
}
