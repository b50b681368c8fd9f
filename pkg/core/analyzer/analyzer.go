// Package analyzer runs the after-the-fact classification pipeline for
// recording-strategy calls: wait out the recording grace period, fetch the
// most recent recording, and hand the audio to an inference backend.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dialscope/dialscope/pkg/core/detect"
	"github.com/dialscope/dialscope/pkg/core/types"
	"github.com/dialscope/dialscope/pkg/telephony"
)

// ErrNoRecording reports that the carrier produced no recording for the
// call. Callers treat it as a hard failure distinct from inference trouble.
var ErrNoRecording = errors.New("analyzer: no recording available")

// DefaultGracePeriod is how long to wait after call completion before the
// carrier's recording is expected to be fetchable.
const DefaultGracePeriod = 8 * time.Second

// Inference classifies a recorded audio payload.
type Inference interface {
	Classify(ctx context.Context, audioData []byte, mimeType string) (detect.Result, error)
}

// Analyzer fetches and classifies completed-call recordings.
type Analyzer struct {
	Recordings telephony.RecordingAPI
	Inference  Inference
	Grace      time.Duration
	Logger     *slog.Logger
}

// New creates an analyzer. A zero grace falls back to DefaultGracePeriod.
func New(rec telephony.RecordingAPI, inf Inference, grace time.Duration, logger *slog.Logger) *Analyzer {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{Recordings: rec, Inference: inf, Grace: grace, Logger: logger}
}

// Analyze waits the grace period, then classifies the call's most recent
// recording. A missing recording returns ErrNoRecording. An inference
// failure is not an error: it degrades to undecided at zero confidence,
// because the call itself completed normally.
func (a *Analyzer) Analyze(ctx context.Context, providerCallID string) (detect.Result, error) {
	timer := time.NewTimer(a.Grace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return detect.Result{}, ctx.Err()
	case <-timer.C:
	}

	recs, err := a.Recordings.Recordings(ctx, providerCallID, 1)
	if err != nil {
		return detect.Result{}, fmt.Errorf("list recordings: %w", err)
	}
	if len(recs) == 0 {
		return detect.Result{}, ErrNoRecording
	}

	audio, mimeType, err := a.Recordings.Download(ctx, recs[0])
	if err != nil {
		return detect.Result{}, fmt.Errorf("download recording %s: %w", recs[0].ID, err)
	}

	res, err := a.Inference.Classify(ctx, audio, mimeType)
	if err != nil {
		if ctx.Err() != nil {
			return detect.Result{}, ctx.Err()
		}
		a.Logger.Warn("inference failed, degrading to undecided",
			"provider_call_id", providerCallID, "error", err)
		return detect.Result{Verdict: types.VerdictUndecided, Confidence: 0}, nil
	}
	return res, nil
}
