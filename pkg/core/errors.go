package core

import (
	"fmt"
)

// Error is the canonical error shape shared by every layer of the bridge.
type Error struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	Param         string    `json:"param,omitempty"`
	Code          string    `json:"code,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	ProviderError any       `json:"provider_error,omitempty"`
	RetryAfter    *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"

	// ErrAuthentication is fatal to the current session: the identity or
	// session token is absent, invalid, or expired. The caller must
	// re-establish a session.
	ErrAuthentication ErrorType = "authentication_error"

	ErrNotFound  ErrorType = "not_found_error"
	ErrRateLimit ErrorType = "rate_limit_error"
	ErrAPI       ErrorType = "api_error"

	// ErrProviderUnavailable means the speech or reasoning engine is
	// unreachable or overloaded. Retryable with bounded backoff.
	ErrProviderUnavailable ErrorType = "provider_unavailable"

	// ErrValidation means tool arguments failed schema validation. Reported
	// as a failed ToolResult; the session continues.
	ErrValidation ErrorType = "validation_error"

	// ErrToolExecution means a tool handler failed or timed out. Reported as
	// a failed ToolResult with a user-safe message; detail is logged only.
	ErrToolExecution ErrorType = "tool_execution_error"

	// ErrProtocol means a message violated the bridge-channel or pairing
	// contract (for example a result for an unknown invocation). Logged and
	// rejected; never silently accepted.
	ErrProtocol ErrorType = "protocol_violation"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewProviderUnavailableError creates a provider unavailable error naming the
// upstream engine.
func NewProviderUnavailableError(provider string, underlying error) *Error {
	e := &Error{
		Type:    ErrProviderUnavailable,
		Message: fmt.Sprintf("%s unavailable", provider),
	}
	if underlying != nil {
		e.Message = fmt.Sprintf("%s unavailable: %v", provider, underlying)
		e.ProviderError = underlying.Error()
	}
	return e
}

// NewValidationError creates a validation error naming the offending field.
func NewValidationError(message, param string) *Error {
	return &Error{
		Type:    ErrValidation,
		Message: message,
		Param:   param,
	}
}

// NewToolExecutionError creates a tool execution error.
func NewToolExecutionError(message string) *Error {
	return &Error{
		Type:    ErrToolExecution,
		Message: message,
	}
}

// NewProtocolError creates a protocol violation error.
func NewProtocolError(message string) *Error {
	return &Error{
		Type:    ErrProtocol,
		Message: message,
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrProviderUnavailable, ErrAPI:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if ue, ok := e.ProviderError.(error); ok {
		return ue
	}
	return nil
}
