package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Caller is not allowed to perform this action"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount           = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be positive with at most two decimal places"}
	ErrInsufficientBalance     = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", "Insufficient balance"}
	ErrAccountNotUsable        = &AppError{http.StatusUnprocessableEntity, "ACCOUNT_NOT_USABLE", "Account is frozen or closed"}
	ErrInvalidFreezeAmount     = &AppError{http.StatusUnprocessableEntity, "INVALID_FREEZE_AMOUNT", "Unfreeze amount exceeds frozen balance"}
	ErrInvalidStatusTransition = &AppError{http.StatusUnprocessableEntity, "INVALID_STATUS_TRANSITION", "Account status transition not allowed"}
	ErrVersionConflict         = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrConcurrentModification  = &AppError{http.StatusConflict, "CONCURRENT_MODIFICATION", "Account is under heavy contention, please retry"}
	ErrRequestInFlight         = &AppError{http.StatusConflict, "REQUEST_IN_FLIGHT", "A request with this txn_id is still being processed"}
	ErrTxnIDReused             = &AppError{http.StatusConflict, "TXN_ID_REUSED", "txn_id already used for a different operation"}
	ErrTransactionConflicted   = &AppError{http.StatusConflict, "TRANSACTION_CONFLICTED", "txn_id is recorded as a sync conflict"}
	ErrBatchTooLarge           = &AppError{http.StatusRequestEntityTooLarge, "BATCH_TOO_LARGE", "Sync batch exceeds the maximum size"}
	ErrConflictAlreadyResolved = &AppError{http.StatusConflict, "CONFLICT_ALREADY_RESOLVED", "Conflict already resolved"}
	ErrInvalidStrategy         = &AppError{http.StatusBadRequest, "INVALID_STRATEGY", "Strategy must be REJECT, PARTIAL_APPLY or MANUAL"}
	ErrDriftChanged            = &AppError{http.StatusConflict, "DRIFT_CHANGED", "Drift changed since it was reviewed, reconcile again"}
	ErrNoDrift                 = &AppError{http.StatusUnprocessableEntity, "NO_DRIFT", "Account has no drift to realign"}
)
