package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes surfaced to API callers.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeOtpMismatch            = "OTP_MISMATCH"
	CodeOtpCooldownActive      = "OTP_COOLDOWN_ACTIVE"
	CodeTokenUnavailable       = "TOKEN_UNAVAILABLE"
	CodeVisitLimitReached      = "VISIT_LIMIT_REACHED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeInternal               = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code,omitempty"`
	Details          string `json:"details,omitempty"`
	MinutesRemaining *int   `json:"minutes_remaining,omitempty"`
	Retryable        bool   `json:"retryable,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error

	// MinutesRemaining is set for OTP_COOLDOWN_ACTIVE.
	MinutesRemaining int
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError carrying the same code, so callers can write
// errors.Is(err, models.ErrVisitLimitReached).
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation             = &AppError{Code: CodeValidation}
	ErrInvalidStateTransition = &AppError{Code: CodeInvalidStateTransition}
	ErrOtpMismatch            = &AppError{Code: CodeOtpMismatch}
	ErrOtpCooldownActive      = &AppError{Code: CodeOtpCooldownActive}
	ErrTokenUnavailable       = &AppError{Code: CodeTokenUnavailable}
	ErrVisitLimitReached      = &AppError{Code: CodeVisitLimitReached}
	ErrConcurrentModification = &AppError{Code: CodeConcurrentModification}
	ErrNotFound               = &AppError{Code: CodeNotFound}
	ErrUnauthorized           = &AppError{Code: CodeUnauthorized}
)

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// NewInvalidStateTransitionError reports an operation that is not legal in the current status.
func NewInvalidStateTransitionError(op string, status RequestStatus) *AppError {
	return &AppError{
		Code:    CodeInvalidStateTransition,
		Message: fmt.Sprintf("cannot %s a request in status %q", op, status),
	}
}

// NewOtpMismatchError reports a wrong verification code.
func NewOtpMismatchError() *AppError {
	return &AppError{
		Code:    CodeOtpMismatch,
		Message: "verification code does not match",
	}
}

// NewOtpCooldownError reports that a resend is not yet allowed.
func NewOtpCooldownError(minutesRemaining int) *AppError {
	unit := "minutes"
	if minutesRemaining == 1 {
		unit = "minute"
	}
	return &AppError{
		Code:             CodeOtpCooldownActive,
		Message:          fmt.Sprintf("resend available in %d %s", minutesRemaining, unit),
		MinutesRemaining: minutesRemaining,
	}
}

// NewTokenUnavailableError reports a gate pass requested outside its window.
func NewTokenUnavailableError(message string) *AppError {
	return &AppError{
		Code:    CodeTokenUnavailable,
		Message: message,
	}
}

// NewVisitLimitReachedError reports an exhausted visit quota.
func NewVisitLimitReachedError() *AppError {
	return &AppError{
		Code:    CodeVisitLimitReached,
		Message: "visit limit reached for this gate pass",
	}
}

// NewConcurrentModificationError reports a lost optimistic-lock race.
func NewConcurrentModificationError(id uint) *AppError {
	return &AppError{
		Code:    CodeConcurrentModification,
		Message: fmt.Sprintf("request %d was modified concurrently; reload and retry", id),
	}
}

// StatusFor maps an error to the HTTP status used in responses.
func StatusFor(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeUnauthorized:
		return fiber.StatusForbidden
	case CodeOtpMismatch:
		return fiber.StatusUnprocessableEntity
	case CodeOtpCooldownActive:
		return fiber.StatusTooManyRequests
	case CodeInvalidStateTransition, CodeConcurrentModification, CodeTokenUnavailable, CodeVisitLimitReached:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
		switch appErr.Code {
		case CodeOtpCooldownActive:
			minutes := appErr.MinutesRemaining
			response.MinutesRemaining = &minutes
		case CodeConcurrentModification:
			response.Retryable = true
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}

// RespondWithAppError picks the status from the error itself.
func RespondWithAppError(c *fiber.Ctx, err error) error {
	return RespondWithError(c, StatusFor(err), err)
}
