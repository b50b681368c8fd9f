// Package apierror translates internal errors into the wire-format error
// envelope and its HTTP status.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/dialscope/dialscope/pkg/core"
	"github.com/dialscope/dialscope/pkg/core/providers/gemini"
	"github.com/dialscope/dialscope/pkg/telephony"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Collaborator errors that escaped translation at the boundary.
	var telErr *telephony.Error
	if errors.As(err, &telErr) && telErr != nil {
		return &core.Error{
			Type:      core.ErrPlacement,
			Message:   telErr.Message,
			Code:      telErr.Code,
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	var gemErr *gemini.Error
	if errors.As(err, &gemErr) && gemErr != nil {
		return &core.Error{
			Type:          core.ErrAnalysis,
			Message:       gemErr.Message,
			Code:          gemErr.Code,
			RequestID:     requestID,
			ProviderError: gemErr.ProviderError,
		}, http.StatusBadGateway
	}

	// Unknown errors: treat as internal (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrValidation:
		return http.StatusBadRequest
	case core.ErrConfiguration:
		return http.StatusConflict
	case core.ErrPlacement:
		return http.StatusBadGateway
	case core.ErrTransientChannel:
		return http.StatusServiceUnavailable
	case core.ErrAnalysis:
		return http.StatusBadGateway
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrAPI:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
