package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/dialscope/dialscope/pkg/core/types"
	"github.com/dialscope/dialscope/pkg/telephony"
)

func webhookForm(status, answeredBy string) url.Values {
	form := url.Values{}
	form.Set("CallSid", "CA-test")
	form.Set("CallStatus", status)
	if answeredBy != "" {
		form.Set("AnsweredBy", answeredBy)
	}
	return form
}

func postWebhook(t *testing.T, h StatusWebhookHandler, form url.Values, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/v1/webhooks/telephony/status",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign {
		u := strings.TrimRight(h.Config.CallbackBaseURL, "/") + "/v1/webhooks/telephony/status"
		r.Header.Set("X-Twilio-Signature", telephony.SignPayload(h.Config.TelephonyAuthToken, u, form))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestWebhookAdvancesSession(t *testing.T) {
	env := newTestEnv(t)
	env.placeSession(t, "anonymous", "native")
	h := StatusWebhookHandler{Engine: env.engine, Config: env.cfg, Logger: slog.New(slog.DiscardHandler)}

	rec := postWebhook(t, h, webhookForm("in-progress", "human"), false)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	sess, err := env.store.GetByProviderCallID(t.Context(), "CA-test")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != types.StateAnswered {
		t.Errorf("state = %v", sess.State)
	}
	if sess.Verdict != types.VerdictHuman || sess.Confidence != 0.85 {
		t.Errorf("verdict = %v/%.2f", sess.Verdict, sess.Confidence)
	}
	if len(sess.RawEvents) != 1 || sess.RawEvents[0].Channel != "webhook" {
		t.Errorf("raw events = %+v", sess.RawEvents)
	}
}

func TestWebhookSignatureRequired(t *testing.T) {
	env := newTestEnv(t)
	env.placeSession(t, "anonymous", "native")
	cfg := env.cfg
	cfg.VerifyWebhookSignatures = true
	h := StatusWebhookHandler{Engine: env.engine, Config: cfg, Logger: slog.New(slog.DiscardHandler)}

	// Unsigned delivery is refused.
	rec := postWebhook(t, h, webhookForm("ringing", ""), false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned status = %d", rec.Code)
	}

	// Properly signed delivery lands.
	rec = postWebhook(t, h, webhookForm("ringing", ""), true)
	if rec.Code != http.StatusNoContent {
		t.Errorf("signed status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Tampered form fails the check.
	form := webhookForm("ringing", "")
	r := httptest.NewRequest(http.MethodPost, "/v1/webhooks/telephony/status",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	u := strings.TrimRight(cfg.CallbackBaseURL, "/") + "/v1/webhooks/telephony/status"
	form.Set("CallStatus", "completed")
	r.Header.Set("X-Twilio-Signature", telephony.SignPayload(cfg.TelephonyAuthToken, u, form))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("tampered status = %d", rec.Code)
	}
}

func TestWebhookRejectsMalformedEvents(t *testing.T) {
	env := newTestEnv(t)
	env.placeSession(t, "anonymous", "native")
	h := StatusWebhookHandler{Engine: env.engine, Config: env.cfg, Logger: slog.New(slog.DiscardHandler)}

	form := url.Values{}
	form.Set("CallStatus", "ringing")
	if rec := postWebhook(t, h, form, false); rec.Code != http.StatusBadRequest {
		t.Errorf("missing CallSid status = %d", rec.Code)
	}

	if rec := postWebhook(t, h, webhookForm("vibrating", ""), false); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown CallStatus status = %d", rec.Code)
	}
}

func TestWebhookUnknownCall(t *testing.T) {
	env := newTestEnv(t)
	h := StatusWebhookHandler{Engine: env.engine, Config: env.cfg, Logger: slog.New(slog.DiscardHandler)}
	if rec := postWebhook(t, h, webhookForm("ringing", ""), false); rec.Code != http.StatusNotFound {
		t.Errorf("unknown call status = %d", rec.Code)
	}
}
