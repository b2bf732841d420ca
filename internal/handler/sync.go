package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
)

type ingestService interface {
	Ingest(ctx context.Context, batch []domain.PendingRecord) (*domain.SyncReport, error)
}

type SyncHandler struct {
	pipeline ingestService
}

func NewSyncHandler(pipeline ingestService) *SyncHandler {
	return &SyncHandler{pipeline: pipeline}
}

// Record fields are kept as strings so that one malformed record is rejected
// on its own instead of failing the batch.
type syncRecordRequest struct {
	TxnID            string `json:"txn_id"`
	AccountID        string `json:"account_id"`
	DeviceID         string `json:"device_id" validate:"required"`
	Sequence         uint64 `json:"sequence"`
	Amount           string `json:"amount"`
	OccurredAt       string `json:"occurred_at"`
	WhitelistVersion int64  `json:"whitelist_version"`
	Signature        string `json:"signature"`
}

type syncBatchRequest struct {
	Records []syncRecordRequest `json:"records" validate:"required,dive"`
}

func (r syncRecordRequest) toRecord() domain.PendingRecord {
	rec := domain.PendingRecord{
		TxnID:            r.TxnID,
		DeviceID:         r.DeviceID,
		Sequence:         r.Sequence,
		WhitelistVersion: r.WhitelistVersion,
		Signature:        r.Signature,
	}
	if id, err := uuid.Parse(r.AccountID); err == nil {
		rec.AccountID = id
	}
	if amount, err := decimal.NewFromString(r.Amount); err == nil {
		rec.Amount = amount
	}
	if t, err := time.Parse(time.RFC3339Nano, r.OccurredAt); err == nil {
		rec.OccurredAt = t
	}
	return rec
}

type syncItemDTO struct {
	TxnID   string `json:"txn_id"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type syncReportDTO struct {
	Total          int           `json:"total"`
	Applied        int           `json:"applied"`
	Duplicates     int           `json:"duplicates"`
	Conflicts      int           `json:"conflicts"`
	Rejected       int           `json:"rejected"`
	Failed         int           `json:"failed"`
	ConflictTxnIDs []string      `json:"conflict_txn_ids"`
	Items          []syncItemDTO `json:"items"`
}

func toSyncReportDTO(r *domain.SyncReport) syncReportDTO {
	dto := syncReportDTO{
		Total:          r.Total,
		Applied:        r.Applied,
		Duplicates:     r.Duplicates,
		Conflicts:      r.Conflicts,
		Rejected:       r.Rejected,
		Failed:         r.Failed,
		ConflictTxnIDs: r.ConflictTxnIDs,
		Items:          make([]syncItemDTO, len(r.Items)),
	}
	for i, it := range r.Items {
		dto.Items[i] = syncItemDTO{TxnID: it.TxnID, Outcome: string(it.Outcome), Reason: it.Reason}
	}
	return dto
}

// Batch ingests a terminal's buffered records. A terminal may only submit
// records carrying its own device id.
func (h *SyncHandler) Batch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	caller, appErr := callerFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req syncBatchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	batch := make([]domain.PendingRecord, len(req.Records))
	for i, rr := range req.Records {
		if rr.DeviceID != caller.Subject {
			log.Warn("sync batch contains foreign device records", "device_id", caller.Subject, "record_device_id", rr.DeviceID)
			RespondAppError(w, ErrForbidden, nil)
			return
		}
		batch[i] = rr.toRecord()
	}

	report, err := h.pipeline.Ingest(r.Context(), batch)
	if err != nil {
		log.Warn("sync batch failed", "device_id", caller.Subject, "records", len(batch), "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toSyncReportDTO(report))
}
