package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeForbidden     = "forbidden"
	ErrCodeNotFound      = "not_found"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeConflict      = "conflict"
	ErrCodeInternalError = "internal_error"
	ErrCodeRateLimited   = "rate_limited"

	// Protocol errors (codec)
	ErrCodeMalformedChallenge = "malformed_challenge"
	ErrCodeMalformedPayload   = "malformed_payload"
	ErrCodeMalformedReceipt   = "malformed_receipt"

	// Authentication errors
	ErrCodeAuthExpired          = "auth_expired"
	ErrCodeAuthInvalidSignature = "auth_invalid_signature"
	ErrCodeAuthUnknownAgent     = "auth_unknown_agent"

	// State-conflict errors
	ErrCodeIntentNotPending        = "intent_not_pending"
	ErrCodeIntentNotSigned         = "intent_not_signed"
	ErrCodeIntentNotFound          = "intent_not_found"
	ErrCodeNoAcceptableRequirement = "no_acceptable_requirement"
	ErrCodeNonceReused             = "nonce_reused"
	ErrCodeAuthorizationExpired    = "authorization_expired"
)

// Predefined errors
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       ErrCodeForbidden,
		Message:    "Access denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrAuthExpired = &AppError{
		Code:       ErrCodeAuthExpired,
		Message:    "Request timestamp outside allowed skew",
		StatusCode: http.StatusUnauthorized,
	}

	ErrAuthInvalidSignature = &AppError{
		Code:       ErrCodeAuthInvalidSignature,
		Message:    "Recovered signer does not match registered agent key",
		StatusCode: http.StatusUnauthorized,
	}

	ErrAuthUnknownAgent = &AppError{
		Code:       ErrCodeAuthUnknownAgent,
		Message:    "No registered key for agent",
		StatusCode: http.StatusUnauthorized,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// MalformedChallenge creates a codec error for an unparseable PAYMENT-REQUIRED header
func MalformedChallenge(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeMalformedChallenge,
		Message:    "Malformed payment challenge",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// MalformedPayload creates a codec error for an unparseable PAYMENT-SIGNATURE header
func MalformedPayload(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeMalformedPayload,
		Message:    "Malformed payment payload",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// MalformedReceipt creates a codec error for an unparseable PAYMENT-RESPONSE header
func MalformedReceipt(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeMalformedReceipt,
		Message:    "Malformed settlement receipt",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// IntentNotFound creates an intent not found error
func IntentNotFound(id string) *AppError {
	return &AppError{
		Code:       ErrCodeIntentNotFound,
		Message:    "Intent not found",
		Detail:     fmt.Sprintf("intent_id: %s", id),
		StatusCode: http.StatusNotFound,
	}
}

// IntentNotPending creates a state-conflict error for a transition attempted
// on an intent whose stored status is no longer PENDING
func IntentNotPending(current string) *AppError {
	return &AppError{
		Code:       ErrCodeIntentNotPending,
		Message:    "Intent is no longer pending",
		Detail:     fmt.Sprintf("current status: %s", current),
		StatusCode: http.StatusConflict,
	}
}

// IntentNotSigned creates a state-conflict error for settling an unsigned intent
func IntentNotSigned(current string) *AppError {
	return &AppError{
		Code:       ErrCodeIntentNotSigned,
		Message:    "Intent has not been signed",
		Detail:     fmt.Sprintf("current status: %s", current),
		StatusCode: http.StatusConflict,
	}
}

// NoAcceptableRequirement creates an error for a challenge with no entry in
// the caller's supported network/asset set
func NoAcceptableRequirement(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeNoAcceptableRequirement,
		Message:    "No acceptable payment requirement in challenge",
		Detail:     detail,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// NonceReused creates an error for an authorization nonce already consumed
// by a prior payload from the same address
func NonceReused(from, nonce string) *AppError {
	return &AppError{
		Code:       ErrCodeNonceReused,
		Message:    "Authorization nonce already used",
		Detail:     fmt.Sprintf("from: %s nonce: %s", from, nonce),
		StatusCode: http.StatusConflict,
	}
}

// AuthorizationExpired creates an error for a payload outside its validity window
func AuthorizationExpired(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeAuthorizationExpired,
		Message:    "Authorization validity window not satisfied",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
