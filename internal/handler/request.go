package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/auth"
	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	maxBodyBytes     = 4 << 20
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// money: a positive amount in minor-unit precision.
	v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && domain.ValidAmount(d)
	})
	// signed_money: a non-zero amount in minor-unit precision, either sign.
	v.RegisterValidation("signed_money", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && domain.ValidAmount(d.Abs())
	})
	return v
}

var tagMessages = map[string]string{
	"required":     "required",
	"money":        "must be a positive amount with at most two decimal places",
	"signed_money": "must be a non-zero amount with at most two decimal places",
	"uuid":         "must be a UUID",
	"oneof":        "must be one of: ",
	"max":          "too long",
	"min":          "too small",
	"dive":         "invalid",
}

// validateRequest runs struct-tag validation and flattens the result.
func validateRequest(req any) []FieldError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "body", Message: err.Error()}}
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := tagMessages[fe.Tag()]
		if !ok {
			msg = "failed " + fe.Tag()
		}
		if fe.Tag() == "oneof" {
			msg += strings.ReplaceAll(fe.Param(), " ", ", ")
		}
		fields = append(fields, FieldError{Field: fieldPath(fe.Namespace()), Message: msg})
	}
	return fields
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	_, rest, found := strings.Cut(ns, ".")
	if !found {
		return ns
	}
	return rest
}

// decodeAndValidate reads a JSON body into req and writes the error response
// itself when it returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return false
	}
	if fields := validateRequest(req); len(fields) > 0 {
		RespondValidationError(w, fields)
		return false
	}
	return true
}

func uuidParam(r *http.Request, name string) (uuid.UUID, *AppError) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, ErrResourceNotFound
	}
	return id, nil
}

func pagination(r *http.Request) (int, int, []FieldError) {
	var errs []FieldError
	limit, offset := defaultPageLimit, 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			errs = append(errs, FieldError{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxPageLimit)})
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, FieldError{Field: "offset", Message: "must be a non-negative integer"})
		}
		offset = n
	}
	return limit, offset, errs
}

// dateQuery parses an optional YYYY-MM-DD query parameter.
func dateQuery(r *http.Request, name string) (*time.Time, []FieldError) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, []FieldError{{Field: name, Message: "must be YYYY-MM-DD"}}
	}
	return &d, nil
}

func callerFrom(r *http.Request) (*auth.Claims, *AppError) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return nil, ErrMissingToken
	}
	return claims, nil
}

// mustDecimal parses an amount that already passed the money validators.
func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MinorUnitPlaces)
}
