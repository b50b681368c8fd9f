// Package config loads and validates the gateway's environment-driven
// configuration. Every knob has a DIALSCOPE_ variable and a usable default;
// validation is exhaustive so a bad deployment fails at startup, not under
// traffic.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// Telephony provider credentials.
	TelephonyAccountSID string
	TelephonyAuthToken  string
	TelephonyBaseURL    string

	// CallerID is the E.164 number outbound calls are placed from.
	CallerID string

	// CallbackBaseURL is the public base URL the provider delivers webhooks
	// and media streams to. Empty or loopback disables push delivery.
	CallbackBaseURL string

	// Prompt overrides the instruction document played to callees.
	Prompt string

	// Webhook signature verification; disabled when the auth token is empty.
	VerifyWebhookSignatures bool

	// Gemini inference backend; empty key disables the recording strategy.
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	// Postgres DSN; empty selects the in-memory store.
	DatabaseURL string

	// Status poller.
	PollInterval    time.Duration
	PollMaxAttempts int

	// Recording analysis.
	RecordingGracePeriod time.Duration

	// Stream collection window and heuristic thresholds.
	StreamCollectWindow    time.Duration
	StreamHumanEnergy      float64
	StreamMachineEnergy    float64
	StreamHumanSilence     time.Duration
	StreamMachineSilence   time.Duration
	StreamSilenceAmplitude int
	StreamSampleRate       int
	StreamMaxCaptureBytes  int

	// Media websocket.
	WSMaxMessageBytes int64
	WSWriteTimeout    time.Duration

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("DIALSCOPE_ADDR", ":8080"),
		AuthMode:                AuthMode(envOr("DIALSCOPE_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                 make(map[string]struct{}),
		TelephonyAccountSID:     envOr("DIALSCOPE_TELEPHONY_ACCOUNT_SID", ""),
		TelephonyAuthToken:      envOr("DIALSCOPE_TELEPHONY_AUTH_TOKEN", ""),
		TelephonyBaseURL:        envOr("DIALSCOPE_TELEPHONY_BASE_URL", ""),
		CallerID:                envOr("DIALSCOPE_CALLER_ID", ""),
		CallbackBaseURL:         envOr("DIALSCOPE_CALLBACK_BASE_URL", ""),
		Prompt:                  envOr("DIALSCOPE_PROMPT", ""),
		VerifyWebhookSignatures: envBoolOr("DIALSCOPE_VERIFY_WEBHOOK_SIGNATURES", true),
		GeminiAPIKey:            envOr("DIALSCOPE_GEMINI_API_KEY", ""),
		GeminiModel:             envOr("DIALSCOPE_GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:           envOr("DIALSCOPE_GEMINI_BASE_URL", ""),
		DatabaseURL:             envOr("DIALSCOPE_DATABASE_URL", ""),
		PollInterval:            envDurationOr("DIALSCOPE_POLL_INTERVAL", 2*time.Second),
		PollMaxAttempts:         envIntOr("DIALSCOPE_POLL_MAX_ATTEMPTS", 60),
		RecordingGracePeriod:    envDurationOr("DIALSCOPE_RECORDING_GRACE_PERIOD", 8*time.Second),
		StreamCollectWindow:     envDurationOr("DIALSCOPE_STREAM_COLLECT_WINDOW", 2500*time.Millisecond),
		StreamHumanEnergy:       envFloat64Or("DIALSCOPE_STREAM_HUMAN_ENERGY", 0.5),
		StreamMachineEnergy:     envFloat64Or("DIALSCOPE_STREAM_MACHINE_ENERGY", 0.3),
		StreamHumanSilence:      envDurationOr("DIALSCOPE_STREAM_HUMAN_SILENCE", 500*time.Millisecond),
		StreamMachineSilence:    envDurationOr("DIALSCOPE_STREAM_MACHINE_SILENCE", 1500*time.Millisecond),
		StreamSilenceAmplitude:  envIntOr("DIALSCOPE_STREAM_SILENCE_AMPLITUDE", 500),
		StreamSampleRate:        envIntOr("DIALSCOPE_STREAM_SAMPLE_RATE", 8000),
		StreamMaxCaptureBytes:   envIntOr("DIALSCOPE_STREAM_MAX_CAPTURE_BYTES", 240_000),
		WSMaxMessageBytes:       envInt64Or("DIALSCOPE_WS_MAX_MESSAGE_BYTES", 64*1024),
		WSWriteTimeout:          envDurationOr("DIALSCOPE_WS_WRITE_TIMEOUT", 5*time.Second),
		CORSAllowedOrigins:      make(map[string]struct{}),
		ReadHeaderTimeout:       envDurationOr("DIALSCOPE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("DIALSCOPE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("DIALSCOPE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("DIALSCOPE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("DIALSCOPE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("DIALSCOPE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_API_KEYS must be set when DIALSCOPE_AUTH_MODE=required")
	}
	if cfg.TelephonyAccountSID == "" {
		return Config{}, fmt.Errorf("DIALSCOPE_TELEPHONY_ACCOUNT_SID must be set")
	}
	if cfg.TelephonyAuthToken == "" {
		return Config{}, fmt.Errorf("DIALSCOPE_TELEPHONY_AUTH_TOKEN must be set")
	}
	if cfg.CallerID == "" {
		return Config{}, fmt.Errorf("DIALSCOPE_CALLER_ID must be set")
	}
	if cfg.CallbackBaseURL != "" {
		u, err := url.Parse(cfg.CallbackBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Config{}, fmt.Errorf("DIALSCOPE_CALLBACK_BASE_URL must be an http(s) URL")
		}
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_POLL_INTERVAL must be > 0")
	}
	if cfg.PollMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_POLL_MAX_ATTEMPTS must be > 0")
	}
	if cfg.RecordingGracePeriod <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_RECORDING_GRACE_PERIOD must be > 0")
	}
	if cfg.StreamCollectWindow <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_STREAM_COLLECT_WINDOW must be > 0")
	}
	if cfg.StreamHumanEnergy <= 0 || cfg.StreamHumanEnergy > 1 {
		return Config{}, fmt.Errorf("DIALSCOPE_STREAM_HUMAN_ENERGY must be in (0, 1]")
	}
	if cfg.StreamMachineEnergy <= 0 || cfg.StreamMachineEnergy > 1 {
		return Config{}, fmt.Errorf("DIALSCOPE_STREAM_MACHINE_ENERGY must be in (0, 1]")
	}
	if cfg.StreamMachineEnergy > cfg.StreamHumanEnergy {
		return Config{}, fmt.Errorf("DIALSCOPE_STREAM_MACHINE_ENERGY must be <= DIALSCOPE_STREAM_HUMAN_ENERGY")
	}
	if cfg.StreamHumanSilence <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_STREAM_HUMAN_SILENCE must be > 0")
	}
	if cfg.StreamMachineSilence <= cfg.StreamHumanSilence {
		return Config{}, fmt.Errorf("DIALSCOPE_STREAM_MACHINE_SILENCE must be > DIALSCOPE_STREAM_HUMAN_SILENCE")
	}
	if cfg.StreamSilenceAmplitude <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_STREAM_SILENCE_AMPLITUDE must be > 0")
	}
	if cfg.StreamSampleRate <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_STREAM_SAMPLE_RATE must be > 0")
	}
	if cfg.StreamMaxCaptureBytes <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_STREAM_MAX_CAPTURE_BYTES must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("DIALSCOPE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
