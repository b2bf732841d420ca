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

type reconcileService interface {
	Reconcile(ctx context.Context, accountID uuid.UUID) (*domain.ReconciliationResult, error)
	ReconcileAll(ctx context.Context, runDate time.Time) (*domain.ReconciliationRun, error)
	Results(ctx context.Context, accountID uuid.UUID, runDate *time.Time, limit int) ([]domain.ReconciliationResult, error)
	Realign(ctx context.Context, accountID uuid.UUID, expectedDelta decimal.Decimal, operator, note string) (*domain.ReconciliationResult, error)
}

type ReconciliationHandler struct {
	engine reconcileService
	now    func() time.Time
}

func NewReconciliationHandler(engine reconcileService, now func() time.Time) *ReconciliationHandler {
	if now == nil {
		now = time.Now
	}
	return &ReconciliationHandler{engine: engine, now: now}
}

type reconciliationResultDTO struct {
	ID              string    `json:"id"`
	RunID           string    `json:"run_id"`
	RunDate         string    `json:"run_date"`
	AccountID       uuid.UUID `json:"account_id"`
	Computed        string    `json:"computed"`
	Stored          string    `json:"stored"`
	Delta           string    `json:"delta"`
	Action          string    `json:"action"`
	AdjustmentTxnID *string   `json:"adjustment_txn_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func toReconciliationResultDTO(res *domain.ReconciliationResult) reconciliationResultDTO {
	return reconciliationResultDTO{
		ID:              res.ID,
		RunID:           res.RunID,
		RunDate:         res.RunDate.Format(time.DateOnly),
		AccountID:       res.AccountID,
		Computed:        money(res.Computed),
		Stored:          money(res.Stored),
		Delta:           money(res.Delta),
		Action:          string(res.Action),
		AdjustmentTxnID: res.AdjustmentTxnID,
		CreatedAt:       res.CreatedAt,
	}
}

// realignRequest carries the delta the operator reviewed. It must still match
// the account's drift when the correction is applied.
type realignRequest struct {
	ExpectedDelta string `json:"expected_delta" validate:"required,signed_money"`
	Note          string `json:"note" validate:"max=1024"`
}

type reconciliationRunDTO struct {
	RunID        string    `json:"run_id"`
	RunDate      string    `json:"run_date"`
	Checked      int       `json:"checked"`
	Mismatched   int       `json:"mismatched"`
	AutoAdjusted int       `json:"auto_adjusted"`
	Alerted      int       `json:"alerted"`
	Failed       int       `json:"failed"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

func (h *ReconciliationHandler) Results(w http.ResponseWriter, r *http.Request) {
	id, appErr := uuidParam(r, "accountId")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	date, fields := dateQuery(r, "date")
	limit, _, pageFields := pagination(r)
	fields = append(fields, pageFields...)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	results, err := h.engine.Results(r.Context(), id, date, limit)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]reconciliationResultDTO, len(results))
	for i := range results {
		dtos[i] = toReconciliationResultDTO(&results[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *ReconciliationHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, appErr := uuidParam(r, "accountId")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	res, err := h.engine.Reconcile(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Error("on-demand reconciliation failed", "account_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toReconciliationResultDTO(res))
}

func (h *ReconciliationHandler) Run(w http.ResponseWriter, r *http.Request) {
	date, fields := dateQuery(r, "date")
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}
	runDate := h.now().UTC()
	if date != nil {
		runDate = *date
	}

	run, err := h.engine.ReconcileAll(r.Context(), runDate)
	if err != nil {
		logging.FromContext(r.Context()).Error("reconciliation run failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, reconciliationRunDTO{
		RunID:        run.RunID,
		RunDate:      run.RunDate.Format(time.DateOnly),
		Checked:      run.Checked,
		Mismatched:   run.Mismatched,
		AutoAdjusted: run.AutoAdjusted,
		Alerted:      run.Alerted,
		Failed:       run.Failed,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	})
}

func (h *ReconciliationHandler) Realign(w http.ResponseWriter, r *http.Request) {
	caller, appErr := callerFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	id, appErr := uuidParam(r, "accountId")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req realignRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	expected, err := decimal.NewFromString(req.ExpectedDelta)
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "expected_delta", Message: "must be a signed amount"}})
		return
	}

	res, err := h.engine.Realign(r.Context(), id, expected, caller.Subject, req.Note)
	if err != nil {
		logging.FromContext(r.Context()).Warn("drift realignment failed", "account_id", id, "operator", caller.Subject, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toReconciliationResultDTO(res))
}
