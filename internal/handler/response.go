package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type balanceDetails struct {
	Available string `json:"available"`
	Requested string `json:"requested"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

func RespondDomainError(w http.ResponseWriter, err error) {
	var (
		appErr  *AppError
		details any
	)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		appErr = ErrResourceNotFound
	case errors.Is(err, domain.ErrInsufficientBalance):
		appErr = ErrInsufficientBalance
		var ib *domain.InsufficientBalanceError
		if errors.As(err, &ib) {
			details = balanceDetails{
				Available: ib.Available.StringFixed(domain.MinorUnitPlaces),
				Requested: ib.Requested.StringFixed(domain.MinorUnitPlaces),
			}
		}
	case errors.Is(err, domain.ErrAccountNotUsable):
		appErr = ErrAccountNotUsable
	case errors.Is(err, domain.ErrInvalidFreezeAmount):
		appErr = ErrInvalidFreezeAmount
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		appErr = ErrInvalidStatusTransition
	case errors.Is(err, domain.ErrVersionConflict):
		appErr = ErrVersionConflict
	case errors.Is(err, domain.ErrConcurrentModification):
		appErr = ErrConcurrentModification
	case errors.Is(err, domain.ErrReservationInFlight), errors.Is(err, domain.ErrReservationLost):
		appErr = ErrRequestInFlight
	case errors.Is(err, domain.ErrTxnIDReused):
		appErr = ErrTxnIDReused
	case errors.Is(err, domain.ErrTransactionConflicted):
		appErr = ErrTransactionConflicted
	case errors.Is(err, domain.ErrBatchTooLarge):
		appErr = ErrBatchTooLarge
	case errors.Is(err, domain.ErrConflictAlreadyResolved):
		appErr = ErrConflictAlreadyResolved
	case errors.Is(err, domain.ErrInvalidStrategy):
		appErr = ErrInvalidStrategy
	case errors.Is(err, domain.ErrDriftChanged):
		appErr = ErrDriftChanged
	case errors.Is(err, domain.ErrNoDrift):
		appErr = ErrNoDrift
	case errors.Is(err, domain.ErrInvalidAmount):
		appErr = ErrInvalidAmount
	case errors.Is(err, domain.ErrInvalidRequest):
		appErr = ErrInvalidRequest
	default:
		slog.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}

	RespondAppError(w, appErr, details)
}
