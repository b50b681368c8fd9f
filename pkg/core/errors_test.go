package core

import "testing"

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrValidation,
		Message: "destination must be in E.164 format",
	}
	expected := "validation_error: destination must be in E.164 format"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := &Error{
		Type:    ErrPlacement,
		Message: "destination rejected by provider",
		Code:    "unverified_destination",
	}
	expected := "placement_error: destination rejected by provider (code: unverified_destination)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewPlacementError_CarriesProviderDetail(t *testing.T) {
	underlying := &Error{Type: ErrAPI, Message: "boom"}
	err := NewPlacementError("call rejected", "quota_exceeded", underlying)
	if err.Type != ErrPlacement {
		t.Errorf("Type = %v, want %v", err.Type, ErrPlacement)
	}
	if err.Code != "quota_exceeded" {
		t.Errorf("Code = %q, want %q", err.Code, "quota_exceeded")
	}
	if err.ProviderError == nil {
		t.Errorf("ProviderError not captured")
	}
}

func TestNewConfigurationError(t *testing.T) {
	err := NewConfigurationError("set DIALSCOPE_GEMINI_API_KEY to enable recording analysis")
	if err.Type != ErrConfiguration {
		t.Errorf("Type = %v, want %v", err.Type, ErrConfiguration)
	}
}
