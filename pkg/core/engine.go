// Package core implements the call orchestrator: session placement, status
// event application, verdict reconciliation, and the background machinery
// (poller, recording analysis) tied to a call's lifecycle.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialscope/dialscope/pkg/core/detect"
	"github.com/dialscope/dialscope/pkg/core/poller"
	"github.com/dialscope/dialscope/pkg/core/types"
	"github.com/dialscope/dialscope/pkg/store"
	"github.com/dialscope/dialscope/pkg/telephony"
)

// Event channels recorded in the session audit log.
const (
	ChannelWebhook = "webhook"
	ChannelPoll    = "poll"
)

// StatusCallbackPath is the route telephony status webhooks are posted to,
// relative to the public callback base URL.
const StatusCallbackPath = "/v1/webhooks/telephony/status"

// MediaStreamPath is the websocket route media streams connect to.
const MediaStreamPath = "/v1/media-stream"

// DefaultMachineDetectionTimeout bounds the provider classifier's listen
// window.
const DefaultMachineDetectionTimeout = 30 * time.Second

// DefaultPrompt is played to the callee while detection runs.
const DefaultPrompt = `<Pause length="25"/>`

// RecordingAnalyzer is the post-call classification pipeline.
type RecordingAnalyzer interface {
	Analyze(ctx context.Context, providerCallID string) (detect.Result, error)
}

// Config wires an Engine's collaborators.
type Config struct {
	Store     store.Store
	Telephony telephony.API
	Detectors *detect.Registry

	// Analyzer may be nil, which makes the recording strategy unavailable.
	Analyzer RecordingAnalyzer

	// CallbackBaseURL is the public base URL status webhooks are delivered
	// to. Empty or loopback means webhooks are undeliverable and eligible
	// strategies fall back to polling.
	CallbackBaseURL string

	// CallerID is the E.164 number calls are placed from.
	CallerID string

	// Prompt overrides the default instruction document played to callees.
	Prompt string

	PollInterval    time.Duration
	PollMaxAttempts int

	Logger *slog.Logger
	Now    func() time.Time
}

// Engine orchestrates call sessions end to end.
type Engine struct {
	store     store.Store
	tel       telephony.API
	detectors *detect.Registry
	analyzer  RecordingAnalyzer
	poller    *poller.Poller
	logger    *slog.Logger
	now       func() time.Time

	callbackBase string
	callerID     string
	prompt       string

	// baseCtx parents background work (polls, analysis) so Close can
	// cancel it without tying it to a request context.
	baseCtx   context.Context
	baseStop  context.CancelFunc
	bg        sync.WaitGroup
}

// NewEngine validates the configuration and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, NewConfigurationError("store is required")
	}
	if cfg.Telephony == nil {
		return nil, NewConfigurationError("telephony client is required (set account credentials)")
	}
	if cfg.Detectors == nil {
		return nil, NewConfigurationError("detector registry is required")
	}
	if !types.ValidDestination(cfg.CallerID) {
		return nil, NewConfigurationError(fmt.Sprintf("caller ID %q is not an E.164 number", cfg.CallerID))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}

	baseCtx, stop := context.WithCancel(context.Background())
	e := &Engine{
		store:        cfg.Store,
		tel:          cfg.Telephony,
		detectors:    cfg.Detectors,
		analyzer:     cfg.Analyzer,
		logger:       cfg.Logger,
		now:          cfg.Now,
		callbackBase: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		callerID:     cfg.CallerID,
		prompt:       cfg.Prompt,
		baseCtx:      baseCtx,
		baseStop:     stop,
	}
	e.poller = poller.New(cfg.Telephony, e.handlePolledEvent, cfg.PollInterval, cfg.PollMaxAttempts, cfg.Logger)
	return e, nil
}

// Close stops background polling and waits for in-flight analysis.
func (e *Engine) Close() {
	e.baseStop()
	e.poller.StopAll()
	e.bg.Wait()
}

// WebhooksDeliverable reports whether the configured callback base URL can
// receive pushes from the telephony provider. Loopback addresses cannot.
func (e *Engine) WebhooksDeliverable() bool {
	if e.callbackBase == "" {
		return false
	}
	u, err := url.Parse(e.callbackBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return false
	}
	return true
}

// PlaceCall validates the request, places the call with the telephony
// provider, and persists the session. The returned session is in state
// initiated; on a provider rejection the session is persisted in state
// error and a placement error is returned alongside it.
func (e *Engine) PlaceCall(ctx context.Context, owner, destination, strategyName string) (*types.CallSession, error) {
	if !types.ValidDestination(destination) {
		return nil, NewValidationErrorWithParam(
			fmt.Sprintf("destination %q is not an E.164 number", destination), "destination")
	}
	strategy, err := types.ParseStrategy(strategyName)
	if err != nil {
		return nil, NewValidationErrorWithParam(err.Error(), "strategy")
	}
	if err := e.checkAvailability(strategy); err != nil {
		return nil, err
	}

	sess := &types.CallSession{
		ID:          uuid.NewString(),
		Owner:       owner,
		Destination: destination,
		Strategy:    strategy,
		State:       types.StatePending,
		Verdict:     types.VerdictUnknown,
		CreatedAt:   e.now(),
	}
	if err := e.store.Create(ctx, sess); err != nil {
		return nil, NewAPIError(fmt.Sprintf("persist session: %v", err))
	}

	params, usingCallback := e.placeParams(strategy, destination)
	ref, placeErr := e.tel.Place(ctx, params)
	if placeErr != nil {
		if _, uerr := e.store.Update(ctx, sess.ID, func(s *types.CallSession) error {
			s.AdvanceState(types.StateError, e.now())
			return nil
		}); uerr != nil {
			e.logger.Error("mark placement failure", "session_id", sess.ID, "error", uerr)
		}
		return nil, placementError(placeErr)
	}

	updated, err := e.store.Update(ctx, sess.ID, func(s *types.CallSession) error {
		s.ProviderCallID = ref.ProviderCallID
		s.AdvanceState(types.StateInitiated, e.now())
		return nil
	})
	if err != nil {
		return nil, NewAPIError(fmt.Sprintf("persist placement: %v", err))
	}

	if !usingCallback {
		e.poller.Watch(e.baseCtx, ref.ProviderCallID)
	}
	return updated, nil
}

// checkAvailability refuses strategies whose backend is not configured.
func (e *Engine) checkAvailability(strategy types.Strategy) error {
	if _, ok := e.detectors.For(strategy); !ok {
		return NewConfigurationError(fmt.Sprintf("strategy %s has no detector configured", strategy))
	}
	if strategy.RequiresRecording() && e.analyzer == nil {
		return NewConfigurationError("recording strategy requires an inference backend (set the Gemini API key)")
	}
	if strategy.RequiresCallback() && !e.WebhooksDeliverable() {
		return NewConfigurationError("stream strategy requires a publicly reachable callback base URL")
	}
	return nil
}

// placeParams builds the provider placement request for a strategy and
// reports whether a status callback was attached.
func (e *Engine) placeParams(strategy types.Strategy, destination string) (telephony.PlaceParams, bool) {
	p := telephony.PlaceParams{
		To:     destination,
		From:   e.callerID,
		Prompt: e.prompt,
	}

	// native-poll never attaches a callback even when one would work; the
	// point of the strategy is reading status back over the REST API.
	useCallback := e.WebhooksDeliverable() && strategy != types.StrategyNativePoll
	if useCallback {
		p.StatusCallback = e.callbackBase + StatusCallbackPath
		p.StatusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}
	}

	if strategy.UsesNativeClassifier() {
		p.MachineDetection = "DetectMessageEnd"
		p.MachineDetectionTimeout = DefaultMachineDetectionTimeout
	}
	if strategy.RequiresRecording() {
		p.Record = true
	}
	if strategy == types.StrategyStream {
		p.MediaStreamURL = wsURL(e.callbackBase) + MediaStreamPath
	}
	return p, useCallback
}

// PollingEnabled reports whether a call placed with the strategy is watched
// over the REST status API instead of webhook pushes.
func (e *Engine) PollingEnabled(strategy types.Strategy) bool {
	return strategy == types.StrategyNativePoll || !e.WebhooksDeliverable()
}

// ApplyStatusEvent routes one status observation into the session it
// belongs to. Both delivery channels converge here; channel only decides
// the audit label and the verdict source.
func (e *Engine) ApplyStatusEvent(ctx context.Context, channel string, ev types.StatusEvent) (*types.CallSession, error) {
	if ev.ProviderCallID == "" {
		return nil, NewValidationErrorWithParam("missing provider call ID", "CallSid")
	}
	sess, err := e.store.GetByProviderCallID(ctx, ev.ProviderCallID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("no session for call %s", ev.ProviderCallID))
		}
		return nil, NewAPIError(err.Error())
	}

	var enteredAnswered, startAnalysis bool
	updated, err := e.store.Update(ctx, sess.ID, func(s *types.CallSession) error {
		dup := s.AppendRawEvent(channel, ev.Payload, e.now())
		if dup {
			return nil
		}

		wasAnswered := s.State == types.StateAnswered
		advanced := s.AdvanceState(ev.Status, e.now())
		enteredAnswered = advanced && ev.Status == types.StateAnswered && !wasAnswered

		if ev.AnsweredBy != "" && s.Strategy.UsesNativeClassifier() {
			if v, conf, ok := types.ClassifyNative(ev.AnsweredBy); ok {
				src := verdictSourceFor(s.Strategy, channel == ChannelWebhook)
				reconcileVerdict(s, v, conf, src)
			}
		}

		if s.State == types.StateCompleted && s.Strategy.RequiresRecording() && !s.AnalysisStarted {
			s.AnalysisStarted = true
			startAnalysis = true
		}
		return nil
	})
	if err != nil {
		return nil, NewAPIError(err.Error())
	}

	if updated.State.Terminal() {
		e.poller.Stop(ev.ProviderCallID)
	}
	if enteredAnswered {
		if d, ok := e.detectors.For(updated.Strategy); ok {
			if derr := d.OnAnswered(ctx, ev.ProviderCallID, nil); derr != nil {
				e.logger.Warn("detector answer hook failed",
					"session_id", updated.ID, "strategy", updated.Strategy, "error", derr)
			}
		}
	}
	if startAnalysis {
		e.spawnAnalysis(updated.ID, ev.ProviderCallID)
	}
	return updated, nil
}

// handlePolledEvent adapts the poller callback onto ApplyStatusEvent.
func (e *Engine) handlePolledEvent(ctx context.Context, ev types.StatusEvent) {
	if _, err := e.ApplyStatusEvent(ctx, ChannelPoll, ev); err != nil {
		e.logger.Warn("apply polled event", "provider_call_id", ev.ProviderCallID, "error", err)
	}
}

// Override pins a manual verdict on a session. It is allowed in any state
// and permanently shields the session from automated updates.
func (e *Engine) Override(ctx context.Context, sessionID string, verdict types.Verdict) (*types.CallSession, error) {
	updated, err := e.store.Update(ctx, sessionID, func(s *types.CallSession) error {
		reconcileVerdict(s, verdict, 1.0, types.SourceOverride)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError(fmt.Sprintf("no session %s", sessionID))
		}
		return nil, NewAPIError(err.Error())
	}
	return updated, nil
}

// OnStreamStart marks a stream-strategy call answered when its media socket
// connects, and opens the detector's capture window.
func (e *Engine) OnStreamStart(ctx context.Context, providerCallID string) error {
	sess, err := e.store.GetByProviderCallID(ctx, providerCallID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError(fmt.Sprintf("no session for call %s", providerCallID))
		}
		return NewAPIError(err.Error())
	}
	if sess.Strategy != types.StrategyStream {
		return NewValidationError(fmt.Sprintf("session %s is not a stream-strategy call", sess.ID))
	}

	if _, err := e.store.Update(ctx, sess.ID, func(s *types.CallSession) error {
		s.AdvanceState(types.StateAnswered, e.now())
		return nil
	}); err != nil {
		return NewAPIError(err.Error())
	}

	if d, ok := e.detectors.For(types.StrategyStream); ok {
		if err := d.OnAnswered(ctx, providerCallID, nil); err != nil {
			return NewAPIError(err.Error())
		}
	}
	return nil
}

// OnStreamChunk feeds one audio frame into the stream detector. The frame
// that carries the capture past the collection window triggers the heuristic
// and the verdict is reconciled into the session right here, while the call
// is still up. Frames after the decision are accepted and ignored.
func (e *Engine) OnStreamChunk(ctx context.Context, providerCallID string, chunk []byte) error {
	sink, ok := e.detectors.Sink(types.StrategyStream)
	if !ok {
		return NewConfigurationError("no streaming detector configured")
	}
	if err := sink.OnAudioChunk(ctx, providerCallID, chunk); err != nil {
		return err
	}

	d, _ := e.detectors.For(types.StrategyStream)
	sd, ok := d.(*detect.Stream)
	if !ok {
		return nil
	}
	res, ok := sd.TakeResult(providerCallID)
	if !ok {
		return nil
	}

	sess, err := e.store.GetByProviderCallID(ctx, providerCallID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError(fmt.Sprintf("no session for call %s", providerCallID))
		}
		return NewAPIError(err.Error())
	}
	if _, err := e.store.Update(ctx, sess.ID, func(s *types.CallSession) error {
		reconcileVerdict(s, res.Verdict, res.Confidence, types.SourceStream)
		return nil
	}); err != nil {
		return NewAPIError(err.Error())
	}
	return nil
}

// DiscardStream drops a call's buffered audio and deregisters its capture,
// whether or not the heuristic already ran. A verdict written at the window
// stays written; a sub-window capture is never analyzed.
func (e *Engine) DiscardStream(providerCallID string) {
	if d, ok := e.detectors.For(types.StrategyStream); ok {
		if s, ok := d.(*detect.Stream); ok {
			s.Discard(providerCallID)
		}
	}
}

// spawnAnalysis runs the recording pipeline for a completed call.
func (e *Engine) spawnAnalysis(sessionID, providerCallID string) {
	if e.analyzer == nil {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		res, err := e.analyzer.Analyze(e.baseCtx, providerCallID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.failAnalysis(sessionID, providerCallID, err)
			return
		}
		if _, uerr := e.store.Update(e.baseCtx, sessionID, func(s *types.CallSession) error {
			reconcileVerdict(s, res.Verdict, res.Confidence, types.SourceRecording)
			return nil
		}); uerr != nil {
			e.logger.Error("persist analysis result", "session_id", sessionID, "error", uerr)
		}
	}()
}

// failAnalysis records an unrecoverable analysis failure. The verdict is
// forced rather than reconciled: recording sessions accept no other
// automated source, so the only competitor is a manual override, which
// reconcileVerdict still protects.
func (e *Engine) failAnalysis(sessionID, providerCallID string, cause error) {
	e.logger.Error("recording analysis failed",
		"session_id", sessionID, "provider_call_id", providerCallID, "error", cause)
	if _, err := e.store.Update(e.baseCtx, sessionID, func(s *types.CallSession) error {
		if s.Overridden {
			return nil
		}
		s.Verdict = types.VerdictError
		s.Confidence = 0
		s.VerdictSource = types.SourceRecording
		return nil
	}); err != nil {
		e.logger.Error("persist analysis failure", "session_id", sessionID, "error", err)
	}
}

// verdictSourceFor names the verdict channel for a native-classifier write.
func verdictSourceFor(strategy types.Strategy, webhook bool) types.VerdictSource {
	if strategy == types.StrategyNativePoll || !webhook {
		return types.SourceNativePoll
	}
	return types.SourceNativeWebhook
}

// placementError translates a telephony failure into the public taxonomy.
func placementError(err error) error {
	var terr *telephony.Error
	if errors.As(err, &terr) {
		return NewPlacementError(terr.Message, terr.Code, err)
	}
	return NewPlacementError("call placement failed", telephony.CodeProvider, err)
}

// wsURL rewrites an http(s) base URL to its websocket scheme.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
