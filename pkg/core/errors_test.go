package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrInvalidRequest,
		Message: "missing session token",
	}

	expected := "invalid_request_error: missing session token"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := &Error{
		Type:    ErrRateLimit,
		Message: "too many requests",
		Code:    "rate_limit_exceeded",
	}

	expected := "rate_limit_error: too many requests (code: rate_limit_exceeded)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("bad request")
	if err.Type != ErrInvalidRequest {
		t.Errorf("Type = %v, want %v", err.Type, ErrInvalidRequest)
	}
	if err.Message != "bad request" {
		t.Errorf("Message = %q, want %q", err.Message, "bad request")
	}
}

func TestNewInvalidRequestErrorWithParam(t *testing.T) {
	err := NewInvalidRequestErrorWithParam("must be a BCP 47 tag", "language")
	if err.Type != ErrInvalidRequest {
		t.Errorf("Type = %v, want %v", err.Type, ErrInvalidRequest)
	}
	if err.Param != "language" {
		t.Errorf("Param = %q, want %q", err.Param, "language")
	}
}

func TestNewAuthenticationError(t *testing.T) {
	err := NewAuthenticationError("invalid identity token")
	if err.Type != ErrAuthentication {
		t.Errorf("Type = %v, want %v", err.Type, ErrAuthentication)
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("rate limit exceeded", 60)
	if err.Type != ErrRateLimit {
		t.Errorf("Type = %v, want %v", err.Type, ErrRateLimit)
	}
	if err.RetryAfter == nil || *err.RetryAfter != 60 {
		t.Errorf("RetryAfter = %v, want 60", err.RetryAfter)
	}
}

func TestNewProviderUnavailableError(t *testing.T) {
	underlying := errors.New("dial tcp: connection refused")
	err := NewProviderUnavailableError("speech engine", underlying)

	if err.Type != ErrProviderUnavailable {
		t.Errorf("Type = %v, want %v", err.Type, ErrProviderUnavailable)
	}
	if err.ProviderError == nil {
		t.Error("ProviderError should not be nil")
	}
	want := "speech engine unavailable: dial tcp: connection refused"
	if err.Message != want {
		t.Errorf("Message = %q, want %q", err.Message, want)
	}
}

func TestNewProviderUnavailableError_NoUnderlying(t *testing.T) {
	err := NewProviderUnavailableError("reasoning engine", nil)
	if err.Message != "reasoning engine unavailable" {
		t.Errorf("Message = %q, want %q", err.Message, "reasoning engine unavailable")
	}
	if err.ProviderError != nil {
		t.Errorf("ProviderError = %v, want nil", err.ProviderError)
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("amount must be positive", "amount")
	if err.Type != ErrValidation {
		t.Errorf("Type = %v, want %v", err.Type, ErrValidation)
	}
	if err.Param != "amount" {
		t.Errorf("Param = %q, want %q", err.Param, "amount")
	}
}

func TestNewToolExecutionError(t *testing.T) {
	err := NewToolExecutionError("tool timed out")
	if err.Type != ErrToolExecution {
		t.Errorf("Type = %v, want %v", err.Type, ErrToolExecution)
	}
}

func TestNewProtocolError(t *testing.T) {
	err := NewProtocolError("result for unknown invocation")
	if err.Type != ErrProtocol {
		t.Errorf("Type = %v, want %v", err.Type, ErrProtocol)
	}
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrRateLimit, true},
		{ErrProviderUnavailable, true},
		{ErrAPI, true},
		{ErrInvalidRequest, false},
		{ErrAuthentication, false},
		{ErrNotFound, false},
		{ErrValidation, false},
		{ErrToolExecution, false},
		{ErrProtocol, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &Error{Type: tt.errType, Message: "test"}
			if got := err.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("socket closed")
	err := &Error{
		Type:          ErrProviderUnavailable,
		Message:       "speech engine unavailable",
		ProviderError: underlying,
	}

	wrapped := fmt.Errorf("session aborted: %w", err)
	if !errors.Is(wrapped, underlying) {
		t.Error("errors.Is should reach the underlying error through Unwrap")
	}
}

func TestError_UnwrapNonError(t *testing.T) {
	err := &Error{
		Type:          ErrProviderUnavailable,
		Message:       "speech engine unavailable",
		ProviderError: "a plain string payload",
	}
	if err.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil for non-error payload", err.Unwrap())
	}
}
