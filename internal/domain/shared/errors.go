package shared

import "errors"

// DomainError represents a domain-level validation error. Two DomainErrors
// match under errors.Is when their codes are equal, so callers can compare
// against the sentinels below even when the message carries detail.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Validation error codes
const (
	CodeInvalidQuantity         = "INVALID_QUANTITY"
	CodeInvalidPrice            = "INVALID_PRICE"
	CodeInvalidProduct          = "INVALID_PRODUCT"
	CodeUnauthenticated         = "UNAUTHENTICATED"
	CodeEmptyCart               = "EMPTY_CART"
	CodeInvalidParticipant      = "INVALID_PARTICIPANT"
	CodeInvalidMessage          = "INVALID_MESSAGE"
	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	CodeNotFound                = "NOT_FOUND"
	CodeInvalidInput            = "INVALID_INPUT"
)

// Common domain errors
var (
	ErrNotFound        = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput    = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrUnauthenticated = NewDomainError(CodeUnauthenticated, "An authenticated identity is required")
)

// IsValidation reports whether err is (or wraps) a DomainError
func IsValidation(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// CodeOf returns the code of the DomainError in err's chain, or "".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
