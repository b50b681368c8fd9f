package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dialscope/dialscope/pkg/core"
	"github.com/dialscope/dialscope/pkg/core/types"
	"github.com/dialscope/dialscope/pkg/gateway/config"
	"github.com/dialscope/dialscope/pkg/telephony"
)

const maxWebhookBodyBytes = 256 << 10

// StatusWebhookHandler ingests telephony status callbacks. The provider
// authenticates with a signature over the delivery URL and form body, not a
// bearer token.
type StatusWebhookHandler struct {
	Engine *core.Engine
	Config config.Config
	Logger *slog.Logger
}

func (h StatusWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, r, core.NewValidationError("method not allowed"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, r, core.NewValidationError("invalid form body: "+err.Error()))
		return
	}

	if h.Config.VerifyWebhookSignatures {
		if !h.verifySignature(r) {
			writeError(w, r, core.NewAuthenticationError("invalid webhook signature"))
			return
		}
	}

	ev, err := eventFromForm(r.PostForm)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.Engine.ApplyStatusEvent(r.Context(), core.ChannelWebhook, ev); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// verifySignature checks the provider's HMAC over the public delivery URL
// plus the sorted form parameters.
func (h StatusWebhookHandler) verifySignature(r *http.Request) bool {
	sig := r.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return false
	}
	// The provider signs the public URL, which is the configured callback
	// base plus the request path, not the host the listener binds to.
	deliveryURL := strings.TrimRight(h.Config.CallbackBaseURL, "/") + r.URL.Path
	return telephony.VerifySignature(h.Config.TelephonyAuthToken, sig, deliveryURL, r.PostForm)
}

// eventFromForm translates the posted form into a status event. The raw
// form is re-encoded as JSON for the session audit log, so replays of the
// same delivery compare equal structurally.
func eventFromForm(form map[string][]string) (types.StatusEvent, error) {
	flat := make(map[string]string, len(form))
	for k, vs := range form {
		if len(vs) > 0 {
			flat[k] = vs[0]
		}
	}

	callID := flat["CallSid"]
	if callID == "" {
		return types.StatusEvent{}, core.NewValidationErrorWithParam("missing CallSid", "CallSid")
	}
	status, ok := types.MapProviderStatus(flat["CallStatus"])
	if !ok {
		return types.StatusEvent{}, core.NewValidationErrorWithParam(
			"unknown CallStatus "+flat["CallStatus"], "CallStatus")
	}

	payload, err := json.Marshal(flat)
	if err != nil {
		return types.StatusEvent{}, core.NewAPIError("encode webhook payload: " + err.Error())
	}
	return types.StatusEvent{
		ProviderCallID: callID,
		Status:         status,
		AnsweredBy:     flat["AnsweredBy"],
		Payload:        payload,
	}, nil
}
