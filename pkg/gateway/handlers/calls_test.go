package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dialscope/dialscope/pkg/core/types"
)

func decodeSession(t *testing.T, body string) *types.CallSession {
	t.Helper()
	var sess types.CallSession
	if err := json.Unmarshal([]byte(body), &sess); err != nil {
		t.Fatalf("decode session: %v\nbody: %s", err, body)
	}
	return &sess
}

func decodeErrorType(t *testing.T, body string) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v\nbody: %s", err, body)
	}
	return envelope.Error.Type
}

func TestCreateCall(t *testing.T) {
	env := newTestEnv(t)
	h := CallsHandler{Engine: env.engine, Store: env.store, Logger: slog.New(slog.DiscardHandler)}

	r := httptest.NewRequest(http.MethodPost, "/v1/calls",
		strings.NewReader(`{"destination": "+15552223333", "strategy": "native"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	sess := decodeSession(t, rec.Body.String())
	if sess.State != types.StateInitiated || sess.Strategy != types.StrategyNative {
		t.Errorf("session = %+v", sess)
	}
	if sess.ID == "" || sess.ProviderCallID == "" {
		t.Errorf("identifiers missing: %+v", sess)
	}

	// The webhook-capable env delivers native status by callback, so the
	// response reports polling off; native-poll always polls.
	var flags struct {
		PollingEnabled bool `json:"pollingEnabled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &flags); err != nil {
		t.Fatal(err)
	}
	if flags.PollingEnabled {
		t.Error("pollingEnabled = true for native with a reachable callback")
	}

	r = httptest.NewRequest(http.MethodPost, "/v1/calls",
		strings.NewReader(`{"destination": "+15552223333", "strategy": "native-poll"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &flags); err != nil {
		t.Fatal(err)
	}
	if !flags.PollingEnabled {
		t.Error("pollingEnabled = false for native-poll")
	}
}

func TestCreateCallRejectsBadBody(t *testing.T) {
	env := newTestEnv(t)
	h := CallsHandler{Engine: env.engine, Store: env.store, Logger: slog.New(slog.DiscardHandler)}

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"unknown field", `{"destination": "+15552223333", "strategy": "native", "color": "red"}`},
		{"bad destination", `{"destination": "oops", "strategy": "native"}`},
		{"bad strategy", `{"destination": "+15552223333", "strategy": "tarot"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d", rec.Code)
			}
			if typ := decodeErrorType(t, rec.Body.String()); typ != "validation_error" {
				t.Errorf("error type = %q", typ)
			}
		})
	}
}

func TestListCalls(t *testing.T) {
	env := newTestEnv(t)
	env.placeSession(t, "anonymous", "native")
	h := CallsHandler{Engine: env.engine, Store: env.store, Logger: slog.New(slog.DiscardHandler)}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp listCallsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Calls) != 1 {
		t.Errorf("calls = %d, want 1", len(resp.Calls))
	}

	// Strategy filter that matches nothing.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls?strategy=recording", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Calls) != 0 {
		t.Errorf("filtered calls = %d, want 0", len(resp.Calls))
	}

	// Invalid strategy filter is rejected, not silently ignored.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls?strategy=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d", rec.Code)
	}

	// Page-based pagination translates to an offset past the only session.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls?limit=10&page=2", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Calls) != 0 {
		t.Errorf("page 2 calls = %d, want 0", len(resp.Calls))
	}
}

func TestGetCallDetail(t *testing.T) {
	env := newTestEnv(t)
	placed := env.placeSession(t, "anonymous", "native")
	h := CallDetailHandler{Engine: env.engine, Store: env.store, Logger: slog.New(slog.DiscardHandler)}

	r := httptest.NewRequest(http.MethodGet, "/v1/calls/"+placed.ID, nil)
	r.SetPathValue("id", placed.ID)
	rec := httptest.NewRecorder()
	h.Get(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeSession(t, rec.Body.String()); got.ID != placed.ID {
		t.Errorf("got session %q", got.ID)
	}

	r = httptest.NewRequest(http.MethodGet, "/v1/calls/nope", nil)
	r.SetPathValue("id", "nope")
	rec = httptest.NewRecorder()
	h.Get(rec, r)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d", rec.Code)
	}
}

func TestGetCallDetailOwnerScoped(t *testing.T) {
	env := newTestEnv(t)
	placed := env.placeSession(t, "anonymous", "native")

	// Rewrite the owner so the anonymous caller no longer matches.
	if _, err := env.store.Update(t.Context(), placed.ID, func(s *types.CallSession) error {
		s.Owner = "acct_someone_else"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	h := CallDetailHandler{Engine: env.engine, Store: env.store, Logger: slog.New(slog.DiscardHandler)}
	r := httptest.NewRequest(http.MethodGet, "/v1/calls/"+placed.ID, nil)
	r.SetPathValue("id", placed.ID)
	rec := httptest.NewRecorder()
	h.Get(rec, r)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign session status = %d, want 404", rec.Code)
	}
}

func TestOverrideCall(t *testing.T) {
	env := newTestEnv(t)
	placed := env.placeSession(t, "anonymous", "native")
	h := CallDetailHandler{Engine: env.engine, Store: env.store, Logger: slog.New(slog.DiscardHandler)}

	r := httptest.NewRequest(http.MethodPost, "/v1/calls/"+placed.ID+"/override",
		strings.NewReader(`{"verdict": "machine"}`))
	r.SetPathValue("id", placed.ID)
	rec := httptest.NewRecorder()
	h.Override(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	sess := decodeSession(t, rec.Body.String())
	if sess.Verdict != types.VerdictMachine || sess.Confidence != 1.0 || !sess.Overridden {
		t.Errorf("override result %+v", sess)
	}

	// Error is not a hand-settable verdict.
	r = httptest.NewRequest(http.MethodPost, "/v1/calls/"+placed.ID+"/override",
		strings.NewReader(`{"verdict": "error"}`))
	r.SetPathValue("id", placed.ID)
	rec = httptest.NewRecorder()
	h.Override(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("error verdict status = %d", rec.Code)
	}
}
