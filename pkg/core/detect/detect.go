// Package detect defines the pluggable detection-strategy contract and its
// four concrete variants. Strategies are a capability set, not a class
// hierarchy: every detector answers OnAnswered and Finalize, and streaming
// detectors additionally implement AudioSink.
package detect

import (
	"context"

	"github.com/dialscope/dialscope/pkg/core/types"
)

// Result is a strategy's determination for one call.
type Result struct {
	Verdict    types.Verdict `json:"verdict"`
	Confidence float64       `json:"confidence"`
}

// Detector is the uniform strategy contract.
type Detector interface {
	// OnAnswered is invoked once, when the call transitions to an answered
	// state. Side-effect-only; streaming detectors begin buffering here.
	OnAnswered(ctx context.Context, providerCallID string, meta map[string]string) error

	// Finalize produces the strategy's best determination. It must be
	// idempotent: a second call returns the cached prior result without
	// re-running expensive work.
	Finalize(ctx context.Context, providerCallID string) (Result, error)
}

// AudioSink is the optional streaming capability. OnAudioChunk must be safe
// to call after the detection window has closed (it no-ops past that point).
type AudioSink interface {
	OnAudioChunk(ctx context.Context, providerCallID string, chunk []byte) error
}

// Registry maps strategies to detector instances. It is owned by the
// orchestrator; there is no package-level instance.
type Registry struct {
	detectors map[types.Strategy]Detector
}

// NewRegistry creates a registry over the given detectors.
func NewRegistry(detectors map[types.Strategy]Detector) *Registry {
	m := make(map[types.Strategy]Detector, len(detectors))
	for k, v := range detectors {
		m[k] = v
	}
	return &Registry{detectors: m}
}

// For returns the detector bound to a strategy.
func (r *Registry) For(s types.Strategy) (Detector, bool) {
	d, ok := r.detectors[s]
	return d, ok
}

// Sink returns the streaming capability of a strategy's detector, when the
// detector implements it.
func (r *Registry) Sink(s types.Strategy) (AudioSink, bool) {
	d, ok := r.detectors[s]
	if !ok {
		return nil, false
	}
	sink, ok := d.(AudioSink)
	return sink, ok
}
