// Package server assembles the HTTP gateway: storage, telephony client,
// detection engine, routes, and the middleware chain.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dialscope/dialscope/pkg/core"
	"github.com/dialscope/dialscope/pkg/core/analyzer"
	"github.com/dialscope/dialscope/pkg/core/audio"
	"github.com/dialscope/dialscope/pkg/core/detect"
	"github.com/dialscope/dialscope/pkg/core/providers/gemini"
	"github.com/dialscope/dialscope/pkg/core/types"
	"github.com/dialscope/dialscope/pkg/gateway/config"
	"github.com/dialscope/dialscope/pkg/gateway/handlers"
	"github.com/dialscope/dialscope/pkg/gateway/lifecycle"
	"github.com/dialscope/dialscope/pkg/gateway/mw"
	"github.com/dialscope/dialscope/pkg/store"
	"github.com/dialscope/dialscope/pkg/store/postgres"
	"github.com/dialscope/dialscope/pkg/telephony"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	engine *core.Engine
	store  store.Store
	life   *lifecycle.Lifecycle

	// pg is non-nil only when the store is Postgres-backed; the memory
	// store has nothing to close.
	pg *postgres.Store
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		life:   &lifecycle.Lifecycle{},
	}

	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		s.pg = pg
		s.store = pg
	} else {
		s.store = store.NewMemory()
	}

	var telOpts []telephony.Option
	if cfg.TelephonyBaseURL != "" {
		telOpts = append(telOpts, telephony.WithBaseURL(cfg.TelephonyBaseURL))
	}
	tel := telephony.NewClient(cfg.TelephonyAccountSID, cfg.TelephonyAuthToken, telOpts...)

	streamDetector := detect.NewStream(audio.Thresholds{
		HumanEnergy:      cfg.StreamHumanEnergy,
		MachineEnergy:    cfg.StreamMachineEnergy,
		HumanSilence:     cfg.StreamHumanSilence,
		MachineSilence:   cfg.StreamMachineSilence,
		SilenceAmplitude: cfg.StreamSilenceAmplitude,
		SampleRate:       cfg.StreamSampleRate,
	}, cfg.StreamMaxCaptureBytes, detect.WithCollectWindow(cfg.StreamCollectWindow))

	registry := detect.NewRegistry(map[types.Strategy]detect.Detector{
		types.StrategyNative:     detect.Native{},
		types.StrategyNativePoll: detect.Native{},
		types.StrategyStream:     streamDetector,
		types.StrategyRecording:  detect.Recording{},
	})

	engineCfg := core.Config{
		Store:           s.store,
		Telephony:       tel,
		Detectors:       registry,
		CallbackBaseURL: cfg.CallbackBaseURL,
		CallerID:        cfg.CallerID,
		Prompt:          cfg.Prompt,
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
		Logger:          logger,
	}
	if cfg.GeminiAPIKey != "" {
		var geminiOpts []gemini.Option
		if cfg.GeminiModel != "" {
			geminiOpts = append(geminiOpts, gemini.WithModel(cfg.GeminiModel))
		}
		if cfg.GeminiBaseURL != "" {
			geminiOpts = append(geminiOpts, gemini.WithBaseURL(cfg.GeminiBaseURL))
		}
		inference := gemini.New(cfg.GeminiAPIKey, geminiOpts...)
		engineCfg.Analyzer = analyzer.New(tel, inference, cfg.RecordingGracePeriod, logger)
	}

	engine, err := core.NewEngine(engineCfg)
	if err != nil {
		if s.pg != nil {
			s.pg.Close()
		}
		return nil, fmt.Errorf("build engine: %w", err)
	}
	s.engine = engine

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:              s.cfg,
		Life:                s.life,
		WebhooksDeliverable: s.engine.WebhooksDeliverable(),
	})

	calls := handlers.CallsHandler{Engine: s.engine, Store: s.store, Logger: s.logger}
	detail := handlers.CallDetailHandler{Engine: s.engine, Store: s.store, Logger: s.logger}

	s.mux.Handle("/v1/calls", calls)
	s.mux.HandleFunc("GET /v1/calls/{id}", detail.Get)
	s.mux.HandleFunc("POST /v1/calls/{id}/override", detail.Override)

	s.mux.Handle(core.StatusCallbackPath, handlers.StatusWebhookHandler{
		Engine: s.engine,
		Config: s.cfg,
		Logger: s.logger,
	})
	s.mux.Handle(core.MediaStreamPath, handlers.MediaStreamHandler{
		Engine: s.engine,
		Config: s.cfg,
		Logger: s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Handler wires the middleware chain around the mux. Webhook and media
// stream routes skip bearer auth; the provider authenticates those with
// its request signature instead.
func (s *Server) Handler() http.Handler {
	exempt := map[string]struct{}{
		core.StatusCallbackPath: {},
		core.MediaStreamPath:    {},
	}

	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, exempt, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so load balancers stop routing new work.
func (s *Server) SetDraining() {
	s.life.SetDraining(true)
}

// Close stops background detection work and releases the store.
func (s *Server) Close() {
	s.engine.Close()
	if s.pg != nil {
		s.pg.Close()
	}
}
