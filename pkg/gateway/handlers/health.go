package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dialscope/dialscope/pkg/gateway/config"
	"github.com/dialscope/dialscope/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
	Life   *lifecycle.Lifecycle

	// WebhooksDeliverable reflects the engine's view of the callback URL.
	WebhooksDeliverable bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK         bool     `json:"ok"`
		Draining   bool     `json:"draining,omitempty"`
		AuthMode   string   `json:"auth_mode"`
		Strategies []string `json:"strategies"`
		Issues     []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.TelephonyAccountSID == "" || h.Config.TelephonyAuthToken == "" {
		issues = append(issues, "telephony credentials not configured")
	}
	if h.Config.CallerID == "" {
		issues = append(issues, "caller ID not configured")
	}

	// Strategy availability mirrors the placement-time gates.
	strategies := []string{"native", "native-poll"}
	if h.WebhooksDeliverable {
		strategies = append(strategies, "stream")
	}
	if h.Config.GeminiAPIKey != "" {
		strategies = append(strategies, "recording")
	}

	draining := h.Life.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:         ok,
		Draining:   draining,
		AuthMode:   string(h.Config.AuthMode),
		Strategies: strategies,
		Issues:     issues,
	})
}
