package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
)

type conflictService interface {
	Get(ctx context.Context, txnID string) (*domain.Conflict, error)
	List(ctx context.Context, status domain.ConflictStatus, limit, offset int) ([]domain.Conflict, int, error)
	Resolve(ctx context.Context, txnID string, strategy domain.ResolutionStrategy, resolvedBy, note string) (*domain.Resolution, error)
}

type ConflictHandler struct {
	conflicts conflictService
}

func NewConflictHandler(svc conflictService) *ConflictHandler {
	return &ConflictHandler{conflicts: svc}
}

type resolveRequest struct {
	Strategy string `json:"strategy" validate:"required,oneof=REJECT PARTIAL_APPLY MANUAL"`
	Note     string `json:"note" validate:"max=1024"`
}

type conflictDTO struct {
	TxnID          string     `json:"txn_id"`
	AccountID      uuid.UUID  `json:"account_id"`
	DeviceID       string     `json:"device_id"`
	Amount         string     `json:"amount"`
	Reason         string     `json:"reason"`
	Status         string     `json:"status"`
	Strategy       *string    `json:"strategy"`
	AppliedAmount  string     `json:"applied_amount"`
	Shortfall      string     `json:"shortfall"`
	ShortfallTxnID *string    `json:"shortfall_txn_id"`
	ResolvedBy     *string    `json:"resolved_by"`
	Note           *string    `json:"note"`
	OccurredAt     time.Time  `json:"occurred_at"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at"`
}

func toConflictDTO(c *domain.Conflict) conflictDTO {
	dto := conflictDTO{
		TxnID:          c.TxnID,
		AccountID:      c.AccountID,
		DeviceID:       c.DeviceID,
		Amount:         money(c.Amount),
		Reason:         string(c.Reason),
		Status:         string(c.Status),
		AppliedAmount:  money(c.AppliedAmount),
		Shortfall:      money(c.Shortfall),
		ShortfallTxnID: c.ShortfallTxnID,
		ResolvedBy:     c.ResolvedBy,
		Note:           c.Note,
		OccurredAt:     c.OccurredAt,
		CreatedAt:      c.CreatedAt,
		ResolvedAt:     c.ResolvedAt,
	}
	if c.Strategy != nil {
		s := string(*c.Strategy)
		dto.Strategy = &s
	}
	return dto
}

type resolutionDTO struct {
	TxnID          string    `json:"txn_id"`
	Strategy       string    `json:"strategy"`
	AppliedAmount  string    `json:"applied_amount"`
	Shortfall      string    `json:"shortfall"`
	ShortfallTxnID *string   `json:"shortfall_txn_id"`
	ResolvedBy     string    `json:"resolved_by"`
	Note           string    `json:"note,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

type conflictPageDTO struct {
	Conflicts []conflictDTO `json:"conflicts"`
	Total     int           `json:"total"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}

func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, fields := pagination(r)
	status := domain.ConflictStatus(r.URL.Query().Get("status"))
	if status != "" && status != domain.ConflictOpen && status != domain.ConflictResolved {
		fields = append(fields, FieldError{Field: "status", Message: "must be one of: OPEN, RESOLVED"})
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	conflicts, total, err := h.conflicts.List(r.Context(), status, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list conflicts", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]conflictDTO, len(conflicts))
	for i := range conflicts {
		dtos[i] = toConflictDTO(&conflicts[i])
	}
	RespondSuccess(w, http.StatusOK, conflictPageDTO{Conflicts: dtos, Total: total, Limit: limit, Offset: offset})
}

func (h *ConflictHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.conflicts.Get(r.Context(), chi.URLParam(r, "txnId"))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toConflictDTO(c))
}

func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	caller, appErr := callerFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	txnID := chi.URLParam(r, "txnId")

	var req resolveRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.conflicts.Resolve(r.Context(), txnID, domain.ResolutionStrategy(req.Strategy), caller.Subject, req.Note)
	if err != nil {
		logging.FromContext(r.Context()).Warn("conflict resolution failed", "txn_id", txnID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, resolutionDTO{
		TxnID:          res.TxnID,
		Strategy:       string(res.Strategy),
		AppliedAmount:  money(res.AppliedAmount),
		Shortfall:      money(res.Shortfall),
		ShortfallTxnID: res.ShortfallTxnID,
		ResolvedBy:     res.ResolvedBy,
		Note:           res.Note,
		ResolvedAt:     res.ResolvedAt,
	})
}
