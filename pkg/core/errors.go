package core

import (
	"fmt"
)

// Error is the canonical typed error for the orchestrator and gateway.
// Collaborator-specific failures (telephony, inference) are translated into
// one of these at the collaborator boundary; raw backend errors never reach
// session state.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	// ProviderError carries the upstream failure detail for operators.
	ProviderError any `json:"provider_error,omitempty"`
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
	// ErrValidation rejects malformed input before any session is created.
	ErrValidation ErrorType = "validation_error"
	// ErrConfiguration refuses call creation when a required backend or
	// credential is absent; the message carries a remediation hint.
	ErrConfiguration ErrorType = "configuration_error"
	// ErrPlacement reports a telephony-provider rejection of the call.
	ErrPlacement ErrorType = "placement_error"
	// ErrTransientChannel is a recoverable poll/analyzer failure; logged,
	// retried on the next scheduled attempt, never terminates the session.
	ErrTransientChannel ErrorType = "transient_channel_error"
	// ErrAnalysis is an unrecoverable analysis failure; the session verdict
	// is forced to error with confidence 0 and not retried.
	ErrAnalysis ErrorType = "analysis_error"

	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrAPI            ErrorType = "api_error"
)

// NewValidationError creates a validation error.
func NewValidationError(message string) *Error {
	return &Error{Type: ErrValidation, Message: message}
}

// NewValidationErrorWithParam creates a validation error naming the bad field.
func NewValidationErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrValidation, Message: message, Param: param}
}

// NewConfigurationError creates a configuration error. The message should
// tell the operator what is missing and how to fix it.
func NewConfigurationError(message string) *Error {
	return &Error{Type: ErrConfiguration, Message: message}
}

// NewPlacementError wraps a telephony rejection.
func NewPlacementError(message, code string, underlying error) *Error {
	e := &Error{Type: ErrPlacement, Message: message, Code: code}
	if underlying != nil {
		e.ProviderError = underlying.Error()
	}
	return e
}

// NewAnalysisError creates an unrecoverable analysis error.
func NewAnalysisError(message string, underlying error) *Error {
	e := &Error{Type: ErrAnalysis, Message: message}
	if underlying != nil {
		e.ProviderError = underlying.Error()
	}
	return e
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

// NewPermissionError creates a permission error.
func NewPermissionError(message string) *Error {
	return &Error{Type: ErrPermission, Message: message}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// NewAPIError creates a generic internal error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}
