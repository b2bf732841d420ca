package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/campus-ledger/internal/auth"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
)

type whitelistService interface {
	Snapshot(ctx context.Context, deviceID string) (*domain.WhitelistSnapshot, error)
	UpsertEntry(ctx context.Context, e domain.WhitelistEntry) (*domain.WhitelistEntry, error)
}

type WhitelistHandler struct {
	whitelist whitelistService
}

func NewWhitelistHandler(svc whitelistService) *WhitelistHandler {
	return &WhitelistHandler{whitelist: svc}
}

type upsertEntryRequest struct {
	MaxPerTransaction string    `json:"max_per_transaction" validate:"required,money"`
	ValidFrom         time.Time `json:"valid_from" validate:"required"`
	ValidUntil        time.Time `json:"valid_until" validate:"required,gtfield=ValidFrom"`
}

type entryDTO struct {
	AccountID         uuid.UUID `json:"account_id"`
	MaxPerTransaction string    `json:"max_per_transaction"`
	ValidFrom         time.Time `json:"valid_from"`
	ValidUntil        time.Time `json:"valid_until"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toEntryDTO(e *domain.WhitelistEntry) entryDTO {
	return entryDTO{
		AccountID:         e.AccountID,
		MaxPerTransaction: money(e.MaxPerTransaction),
		ValidFrom:         e.ValidFrom.UTC(),
		ValidUntil:        e.ValidUntil.UTC(),
		Version:           e.Version,
		UpdatedAt:         e.UpdatedAt.UTC(),
	}
}

type snapshotDTO struct {
	DeviceID string     `json:"device_id"`
	IssuedAt time.Time  `json:"issued_at"`
	Checksum string     `json:"checksum"`
	Entries  []entryDTO `json:"entries"`
}

// Snapshot serves a device its current whitelist. Terminals may only fetch
// their own; operators may fetch any.
func (h *WhitelistHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	caller, appErr := callerFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	deviceID := chi.URLParam(r, "deviceId")
	if caller.Role == auth.RoleTerminal && caller.Subject != deviceID {
		RespondAppError(w, ErrForbidden, nil)
		return
	}

	snap, err := h.whitelist.Snapshot(r.Context(), deviceID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to build whitelist snapshot", "device_id", deviceID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dto := snapshotDTO{
		DeviceID: snap.DeviceID,
		IssuedAt: snap.IssuedAt.UTC(),
		Checksum: snap.Checksum,
		Entries:  make([]entryDTO, len(snap.Entries)),
	}
	for i := range snap.Entries {
		dto.Entries[i] = toEntryDTO(&snap.Entries[i])
	}
	RespondSuccess(w, http.StatusOK, dto)
}

func (h *WhitelistHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	accountID, appErr := uuidParam(r, "accountId")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req upsertEntryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	saved, err := h.whitelist.UpsertEntry(r.Context(), domain.WhitelistEntry{
		DeviceID:          deviceID,
		AccountID:         accountID,
		MaxPerTransaction: mustDecimal(req.MaxPerTransaction),
		ValidFrom:         req.ValidFrom,
		ValidUntil:        req.ValidUntil,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("whitelist upsert failed", "device_id", deviceID, "account_id", accountID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toEntryDTO(saved))
}
