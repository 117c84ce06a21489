package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a different client message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid username or password",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrVerificationInvalid covers unknown, superseded, and expired verification links alike.
	ErrVerificationInvalid = &AppError{
		Code:       "VERIFICATION_INVALID",
		Message:    "This verification link is invalid or has expired. Please request a new verification email.",
		StatusCode: http.StatusBadRequest,
	}

	ErrEmailMissing = &AppError{
		Code:       "EMAIL_MISSING",
		Message:    "No email associated with this account",
		StatusCode: http.StatusBadRequest,
	}

	ErrEmailDelivery = &AppError{
		Code:       "EMAIL_DELIVERY_FAILED",
		Message:    "Failed to send verification email, please try again later",
		StatusCode: http.StatusBadGateway,
	}

	ErrRobotNotConfigured = &AppError{
		Code:       "ROBOT_NOT_CONFIGURED",
		Message:    "Robot API configuration not found. Please configure your robot API credentials.",
		StatusCode: http.StatusNotFound,
	}

	ErrRobotCredentialsMissing = &AppError{
		Code:       "ROBOT_CREDENTIALS_MISSING",
		Message:    "Client ID or client secret not configured",
		StatusCode: http.StatusBadRequest,
	}

	ErrRobotTokenUnavailable = &AppError{
		Code:       "ROBOT_TOKEN_UNAVAILABLE",
		Message:    "Robot API access token is missing or expired. Please refresh your token.",
		StatusCode: http.StatusUnauthorized,
	}

	ErrUpstreamRejected = &AppError{
		Code:       "UPSTREAM_REJECTED",
		Message:    "Robot API rejected the request",
		StatusCode: http.StatusBadGateway,
	}

	ErrUpstreamMalformed = &AppError{
		Code:       "UPSTREAM_MALFORMED_RESPONSE",
		Message:    "Robot API returned an unexpected response",
		StatusCode: http.StatusBadGateway,
	}

	ErrUpstreamUnreachable = &AppError{
		Code:       "UPSTREAM_UNREACHABLE",
		Message:    "Connection error with robot API",
		StatusCode: http.StatusGatewayTimeout,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}
