// Package telephony defines the contracts the orchestrator consumes from
// the telephony provider (placement, status, recordings) and a REST client
// implementing them against a Twilio-compatible API.
package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/dialscope/dialscope/pkg/core/types"
)

// PlaceParams carries strategy-specific call placement parameters.
type PlaceParams struct {
	To   string
	From string

	// MachineDetection enables the provider's built-in classifier
	// (e.g. "DetectMessageEnd"); empty disables it.
	MachineDetection        string
	MachineDetectionTimeout time.Duration

	// Record requests a call recording for post-call analysis.
	Record bool

	// StatusCallback is the push-webhook URL for status events; empty when
	// webhooks are not deliverable and the caller will poll instead.
	StatusCallback       string
	StatusCallbackEvents []string

	// MediaStreamURL subscribes a bidirectional media stream (wss://...).
	MediaStreamURL string

	// Prompt is the instruction document played to the callee. The client
	// falls back to an inline script when no callback URL can serve one.
	Prompt string
}

// CallRef identifies a placed call at the provider.
type CallRef struct {
	ProviderCallID string
	Status         string
}

// Recording is one fetchable recorded artifact.
type Recording struct {
	ID       string
	URI      string
	Duration time.Duration
}

// Dialer places outbound calls.
type Dialer interface {
	Place(ctx context.Context, p PlaceParams) (CallRef, error)
}

// StatusFetcher reads the current status of a placed call; used by the
// poller when push delivery is unavailable.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, providerCallID string) (types.StatusEvent, error)
}

// RecordingAPI lists and downloads call recordings.
type RecordingAPI interface {
	Recordings(ctx context.Context, providerCallID string, limit int) ([]Recording, error)
	Download(ctx context.Context, rec Recording) (audio []byte, mimeType string, err error)
}

// API is the full provider surface the orchestrator consumes.
type API interface {
	Dialer
	StatusFetcher
	RecordingAPI
}

// Error codes for typed placement failures.
const (
	CodeUnverifiedDestination = "unverified_destination"
	CodeMalformedNumber       = "malformed_number"
	CodeQuotaExceeded         = "quota_exceeded"
	CodeProvider              = "provider_error"
)

// Error is a typed telephony-provider failure.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *Error) Error() string {
	return fmt.Sprintf("telephony: %s (code: %s, status: %d)", e.Message, e.Code, e.HTTPStatus)
}
