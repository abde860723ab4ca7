package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")

	// Numbering errors. Allocation errors always mean no number was issued:
	// the allocator's transaction did not commit, so the caller may retry
	// without creating a gap.
	ErrUnsupportedDocumentType = new(ErrCodeUnsupportedDocumentType, "document type is not legally numbered")
	ErrAllocationTimeout       = new(ErrCodeAllocationTimeout, "number allocation timed out")
	ErrAllocationConflict      = new(ErrCodeAllocationConflict, "number allocation lock conflict")

	// Outbox errors
	ErrPublishExhausted = new(ErrCodePublishExhausted, "publish attempts exhausted")

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrNotFound:                http.StatusNotFound,
		ErrAlreadyExists:           http.StatusConflict,
		ErrValidation:              http.StatusBadRequest,
		ErrInvalidOperation:        http.StatusBadRequest,
		ErrDatabase:                http.StatusInternalServerError,
		ErrSystem:                  http.StatusInternalServerError,
		ErrUnsupportedDocumentType: http.StatusBadRequest,
		ErrAllocationTimeout:       http.StatusGatewayTimeout,
		ErrAllocationConflict:      http.StatusConflict,
		ErrPublishExhausted:        http.StatusConflict,
	}
)

const (
	ErrCodeSystemError             = "system_error"
	ErrCodeNotFound                = "not_found"
	ErrCodeAlreadyExists           = "already_exists"
	ErrCodeValidation              = "validation_error"
	ErrCodeInvalidOperation        = "invalid_operation"
	ErrCodeDatabase                = "database_error"
	ErrCodeUnsupportedDocumentType = "unsupported_document_type"
	ErrCodeAllocationTimeout       = "allocation_timeout"
	ErrCodeAllocationConflict      = "allocation_conflict"
	ErrCodePublishExhausted        = "publish_exhausted"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// New creates a new InternalError
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsUnsupportedDocumentType checks if an error is an unsupported document type error
func IsUnsupportedDocumentType(err error) bool {
	return errors.Is(err, ErrUnsupportedDocumentType)
}

// IsAllocationTimeout checks if an error is an allocation timeout error
func IsAllocationTimeout(err error) bool {
	return errors.Is(err, ErrAllocationTimeout)
}

// IsAllocationConflict checks if an error is an allocation conflict error
func IsAllocationConflict(err error) bool {
	return errors.Is(err, ErrAllocationConflict)
}

// IsPublishExhausted checks if an error is a publish exhausted error
func IsPublishExhausted(err error) bool {
	return errors.Is(err, ErrPublishExhausted)
}

// ErrCodeFromErr returns the machine-readable code of the sentinel the error
// is marked with, falling back to the system error code.
func ErrCodeFromErr(err error) string {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.Code
	}
	for e := range statusCodeMap {
		if errors.Is(err, e) {
			if sentinel, ok := e.(*InternalError); ok {
				return sentinel.Code
			}
		}
	}
	return ErrCodeSystemError
}

func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}
