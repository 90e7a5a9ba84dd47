package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so clones of a predefined error compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Enrollment lifecycle errors.
var (
	ErrStudentIneligible   = New("STUDENT_INELIGIBLE", http.StatusPreconditionFailed, "student is not eligible for enrollment")
	ErrDuplicateEnrollment = New("DUPLICATE_ENROLLMENT", http.StatusConflict, "student already enrolled in class")
	ErrClassInactive       = New("CLASS_INACTIVE", http.StatusPreconditionFailed, "class is not active")
	ErrNoCapacity          = New("NO_CAPACITY", http.StatusConflict, "class has no free seat")
)

// Billing and allocation errors.
var (
	ErrInvalidSchedule    = New("INVALID_SCHEDULE", http.StatusBadRequest, "invalid installment schedule parameters")
	ErrDuplicatePeriod    = New("DUPLICATE_PERIOD", http.StatusConflict, "installment already exists for period")
	ErrAlreadyPaid        = New("ALREADY_PAID", http.StatusConflict, "installment is not payable")
	ErrInvalidAmount      = New("INVALID_AMOUNT", http.StatusBadRequest, "amount must be positive")
	ErrInvalidAllocation  = New("INVALID_ALLOCATION", http.StatusBadRequest, "allocation does not match installment amount")
	ErrAlreadyFinalized   = New("ALREADY_FINALIZED", http.StatusConflict, "payment already finalized")
	ErrAllocationConflict = New("ALLOCATION_CONFLICT", http.StatusConflict, "installment allocated by another payment")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
