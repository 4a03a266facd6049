package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

const (
	CodeValidation          = "VAL_001"
	CodeNotFound            = "LDG_404"
	CodeInvalidState        = "LDG_409"
	CodeInsufficientBalance = "LDG_402"
	CodeUnknownProvider     = "PRV_001"
	CodeInternal            = "SYS_001"
	CodeTransient           = "SYS_002"
	CodeTimeout             = "SYS_003"
)

// ---- Validation (VAL) ----

// Validation returns a VAL_001 validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return Validation("Invalid amount")
}

func ErrSelfTransfer() *AppError {
	return Validation("Sender and recipient must differ")
}

func ErrUnsupportedToken(token string) *AppError {
	return Validation(fmt.Sprintf("Unsupported token type %q", token))
}

// ---- Ledger Business Logic (LDG) ----

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvalidState(message string) *AppError {
	return New(CodeInvalidState, message, http.StatusConflict)
}

func ErrInsufficientBalance() *AppError {
	return New(CodeInsufficientBalance, "Insufficient balance in wallet", http.StatusUnprocessableEntity)
}

// ---- Providers (PRV) ----

func ErrUnknownProvider(provider string) *AppError {
	return New(CodeUnknownProvider, fmt.Sprintf("Unknown provider %q", provider), http.StatusUnprocessableEntity)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(CodeInternal, "Internal database error", http.StatusInternalServerError, err)
}

// ErrTransient marks a failure that may succeed when the whole unit of work is re-run.
func ErrTransient(err error) *AppError {
	return Wrap(CodeTransient, "Transient infrastructure failure", http.StatusServiceUnavailable, err)
}

func ErrTimeout(err error) *AppError {
	return Wrap(CodeTimeout, "Operation timed out", http.StatusGatewayTimeout, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the outermost AppError code in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
