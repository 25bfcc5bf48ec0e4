package dto

import (
	"net/http"

	"github.com/bgl/storefront/internal/domain/shared"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for request validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeInvalidQuantity is used when a line quantity is not a positive integer
	ErrCodeInvalidQuantity = "ERR_INVALID_QUANTITY"
	// ErrCodeInvalidPrice is used when a unit price is negative
	ErrCodeInvalidPrice = "ERR_INVALID_PRICE"
	// ErrCodeInvalidProduct is used when a product id is missing
	ErrCodeInvalidProduct = "ERR_INVALID_PRODUCT"
	// ErrCodeInvalidMessage is used when a chat message fails validation
	ErrCodeInvalidMessage = "ERR_INVALID_MESSAGE"
	// ErrCodeInvalidParticipant is used for self-conversations or foreign participants
	ErrCodeInvalidParticipant = "ERR_INVALID_PARTICIPANT"
	// ErrCodeEmptyCart is used when checkout is attempted with an empty cart
	ErrCodeEmptyCart = "ERR_EMPTY_CART"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when an identity is required but missing
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeForbidden is used when the identity lacks the admin role
	ErrCodeForbidden = "ERR_FORBIDDEN"
	// ErrCodeTokenExpired is used when the bearer token has expired
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	// ErrCodeTokenInvalid is used when the bearer token is invalid
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeDuplicateRequest is used when an Idempotency-Key was already used
	ErrCodeDuplicateRequest = "ERR_DUPLICATE_REQUEST"
)

// Business rule error codes
const (
	// ErrCodeInvalidStatusTransition is used when an order status would move backwards
	ErrCodeInvalidStatusTransition = "ERR_INVALID_STATUS_TRANSITION"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Upstream error codes
const (
	// ErrCodeSubmissionFailed is used when the commerce backend did not accept an order
	ErrCodeSubmissionFailed = "ERR_SUBMISSION_FAILED"
	// ErrCodeUpstreamUnavailable is used when the commerce backend cannot be reached
	ErrCodeUpstreamUnavailable = "ERR_UPSTREAM_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// General errors
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	// Validation errors -> 400 Bad Request
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeInvalidQuantity:    http.StatusBadRequest,
	ErrCodeInvalidPrice:       http.StatusBadRequest,
	ErrCodeInvalidProduct:     http.StatusBadRequest,
	ErrCodeInvalidMessage:     http.StatusBadRequest,
	ErrCodeInvalidParticipant: http.StatusBadRequest,
	ErrCodeEmptyCart:          http.StatusBadRequest,

	// Auth errors
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	// Resource errors
	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeDuplicateRequest: http.StatusConflict,

	// Business rule errors -> 422 Unprocessable Entity
	ErrCodeInvalidStatusTransition: http.StatusUnprocessableEntity,

	// Input errors -> 400 Bad Request
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	// Upstream errors -> 502 Bad Gateway
	ErrCodeSubmissionFailed:    http.StatusBadGateway,
	ErrCodeUpstreamUnavailable: http.StatusBadGateway,
}

// GetHTTPStatus returns the HTTP status code for an error code
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps shared.DomainError codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	shared.CodeInvalidQuantity:         ErrCodeInvalidQuantity,
	shared.CodeInvalidPrice:            ErrCodeInvalidPrice,
	shared.CodeInvalidProduct:          ErrCodeInvalidProduct,
	shared.CodeInvalidMessage:          ErrCodeInvalidMessage,
	shared.CodeInvalidParticipant:      ErrCodeInvalidParticipant,
	shared.CodeEmptyCart:               ErrCodeEmptyCart,
	shared.CodeUnauthenticated:         ErrCodeUnauthorized,
	shared.CodeInvalidStatusTransition: ErrCodeInvalidStatusTransition,
	shared.CodeNotFound:                ErrCodeNotFound,
	shared.CodeInvalidInput:            ErrCodeInvalidInput,
}

// NormalizeErrorCode converts a domain error code to its API code.
// Codes that are already API codes are returned unchanged.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	if _, ok := ErrorCodeHTTPStatus[code]; ok {
		return code
	}
	return ErrCodeUnknown
}
