package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
	"github.com/josh-kwaku/campus-ledger/internal/logging"
	"github.com/josh-kwaku/campus-ledger/internal/service/ledger"
)

const replayedHeader = "X-Idempotent-Replayed"

type ledgerService interface {
	Open(ctx context.Context, holderRef string) (*domain.Account, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]domain.Account, int, error)
	History(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, int, error)
	SetStatus(ctx context.Context, accountID uuid.UUID, status domain.AccountStatus, actor string) (*domain.Account, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txnID string) (*ledger.Result, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txnID string) (*ledger.Result, error)
	Freeze(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txnID string) (*ledger.Result, error)
	Unfreeze(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txnID string) (*ledger.Result, error)
	Adjust(ctx context.Context, accountID uuid.UUID, signedAmount decimal.Decimal, txnID string) (*ledger.Result, error)
}

type AccountHandler struct {
	ledger ledgerService
}

func NewAccountHandler(svc ledgerService) *AccountHandler {
	return &AccountHandler{ledger: svc}
}

type openAccountRequest struct {
	HolderRef string `json:"holder_ref" validate:"required,max=128"`
}

type mutationRequest struct {
	TxnID  string `json:"txn_id" validate:"required,max=128"`
	Amount string `json:"amount" validate:"required,money"`
}

type adjustRequest struct {
	TxnID  string `json:"txn_id" validate:"required,max=128"`
	Amount string `json:"amount" validate:"required,signed_money"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE FROZEN CLOSED"`
}

type accountDTO struct {
	ID        uuid.UUID `json:"id"`
	HolderRef string    `json:"holder_ref"`
	Available string    `json:"available"`
	Frozen    string    `json:"frozen"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAccountDTO(a *domain.Account) accountDTO {
	return accountDTO{
		ID:        a.ID,
		HolderRef: a.HolderRef,
		Available: money(a.Available),
		Frozen:    money(a.Frozen),
		Status:    string(a.Status),
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type transactionDTO struct {
	TxnID      string    `json:"txn_id"`
	AccountID  uuid.UUID `json:"account_id"`
	Amount     string    `json:"amount"`
	Kind       string    `json:"kind"`
	Origin     string    `json:"origin"`
	DeviceID   string    `json:"device_id,omitempty"`
	SyncStatus string    `json:"sync_status"`
	OccurredAt time.Time `json:"occurred_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

func toTransactionDTO(t *domain.Transaction) transactionDTO {
	return transactionDTO{
		TxnID:      t.ID,
		AccountID:  t.AccountID,
		Amount:     money(t.Amount),
		Kind:       string(t.Kind),
		Origin:     string(t.Origin),
		DeviceID:   t.DeviceID,
		SyncStatus: string(t.SyncStatus),
		OccurredAt: t.OccurredAt,
		RecordedAt: t.RecordedAt,
	}
}

type mutationDTO struct {
	Account     accountDTO     `json:"account"`
	Transaction transactionDTO `json:"transaction"`
	Replayed    bool           `json:"replayed"`
}

type historyDTO struct {
	Transactions []transactionDTO `json:"transactions"`
	Total        int              `json:"total"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
}

type accountPageDTO struct {
	Accounts []accountDTO `json:"accounts"`
	Total    int          `json:"total"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	account, err := h.ledger.Open(r.Context(), req.HolderRef)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to open account", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toAccountDTO(account))
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, fields := pagination(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	accounts, total, err := h.ledger.ListAccounts(r.Context(), limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list accounts", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]accountDTO, len(accounts))
	for i := range accounts {
		dtos[i] = toAccountDTO(&accounts[i])
	}
	RespondSuccess(w, http.StatusOK, accountPageDTO{Accounts: dtos, Total: total, Limit: limit, Offset: offset})
}

func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, appErr := uuidParam(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	account, err := h.ledger.GetBalance(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAccountDTO(account))
}

func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, appErr := uuidParam(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	limit, offset, fields := pagination(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	txns, total, err := h.ledger.History(r.Context(), id, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]transactionDTO, len(txns))
	for i := range txns {
		dtos[i] = toTransactionDTO(&txns[i])
	}
	RespondSuccess(w, http.StatusOK, historyDTO{Transactions: dtos, Total: total, Limit: limit, Offset: offset})
}

type mutateFunc func(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, txnID string) (*ledger.Result, error)

// Mutate returns the handler for one online mutation kind.
func (h *AccountHandler) Mutate(kind domain.TransactionKind) http.HandlerFunc {
	var fn mutateFunc
	switch kind {
	case domain.KindDebit:
		fn = h.ledger.Debit
	case domain.KindCredit:
		fn = h.ledger.Credit
	case domain.KindFreeze:
		fn = h.ledger.Freeze
	case domain.KindUnfreeze:
		fn = h.ledger.Unfreeze
	case domain.KindAdjustment:
		fn = h.ledger.Adjust
	default:
		panic("handler.Mutate: unsupported kind " + string(kind))
	}

	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		id, appErr := uuidParam(r, "id")
		if appErr != nil {
			RespondAppError(w, appErr, nil)
			return
		}

		var txnID, amount string
		if kind == domain.KindAdjustment {
			var req adjustRequest
			if !decodeAndValidate(w, r, &req) {
				return
			}
			txnID, amount = req.TxnID, req.Amount
		} else {
			var req mutationRequest
			if !decodeAndValidate(w, r, &req) {
				return
			}
			txnID, amount = req.TxnID, req.Amount
		}

		res, err := fn(r.Context(), id, mustDecimal(amount), txnID)
		if err != nil {
			log.Warn("mutation failed", "kind", kind, "account_id", id, "txn_id", txnID, "error", err)
			RespondDomainError(w, err)
			return
		}

		status := http.StatusCreated
		if res.Replayed {
			w.Header().Set(replayedHeader, "true")
			status = http.StatusOK
		}
		RespondSuccess(w, status, mutationDTO{
			Account:     toAccountDTO(&res.Account),
			Transaction: toTransactionDTO(&res.Transaction),
			Replayed:    res.Replayed,
		})
	}
}

func (h *AccountHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	caller, appErr := callerFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	id, appErr := uuidParam(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req statusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	account, err := h.ledger.SetStatus(r.Context(), id, domain.AccountStatus(req.Status), caller.Subject)
	if err != nil {
		logging.FromContext(r.Context()).Warn("status change failed", "account_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAccountDTO(account))
}
