package detect

import (
	"context"
	"sync"
	"time"

	"github.com/dialscope/dialscope/pkg/core/audio"
	"github.com/dialscope/dialscope/pkg/core/types"
)

// Stream buffers early-call audio delivered over a media socket and runs the
// energy/silence heuristic over it exactly once per call, as soon as the
// collection window has elapsed. Audio arriving after the decision is
// accepted and ignored.
type Stream struct {
	thresholds audio.Thresholds
	maxBytes   int
	window     time.Duration
	now        func() time.Time

	mu       sync.Mutex
	captures map[string]*capture
}

type capture struct {
	buf     []byte
	started time.Time
	done    bool
	pending bool
	result  Result
}

// DefaultMaxCaptureBytes bounds a single call's buffered audio. 8 kHz 16-bit
// mono gives 16000 bytes per second, so this holds a ~15 second window.
const DefaultMaxCaptureBytes = 240_000

// DefaultCollectWindow is how much call time is collected before the
// heuristic decides.
const DefaultCollectWindow = 2500 * time.Millisecond

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithCollectWindow overrides the collection window.
func WithCollectWindow(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock substitutes the wall clock (used in tests).
func WithClock(now func() time.Time) StreamOption {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStream creates a streaming detector with the given heuristic thresholds.
func NewStream(th audio.Thresholds, maxBytes int, opts ...StreamOption) *Stream {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCaptureBytes
	}
	s := &Stream{
		thresholds: th,
		maxBytes:   maxBytes,
		window:     DefaultCollectWindow,
		now:        time.Now,
		captures:   make(map[string]*capture),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnAnswered implements Detector: it opens the capture window for the call.
func (s *Stream) OnAnswered(ctx context.Context, providerCallID string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.captures[providerCallID]; !ok {
		s.captures[providerCallID] = &capture{started: s.now()}
	}
	return nil
}

// OnAudioChunk implements AudioSink. Chunks arriving before OnAnswered open
// the window implicitly; chunks arriving after the decision are dropped.
// When the chunk carries the capture past the collection window, the
// heuristic runs and the result is parked for TakeResult.
func (s *Stream) OnAudioChunk(ctx context.Context, providerCallID string, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.captures[providerCallID]
	if !ok {
		c = &capture{started: s.now()}
		s.captures[providerCallID] = c
	}
	if c.done {
		return nil
	}
	room := s.maxBytes - len(c.buf)
	if room > 0 {
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		c.buf = append(c.buf, chunk...)
	}
	if s.now().Sub(c.started) >= s.window {
		s.decideLocked(c)
	}
	return nil
}

// TakeResult hands out the window's decision exactly once. The caller is
// responsible for writing it through; subsequent calls report nothing
// pending.
func (s *Stream) TakeResult(providerCallID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.captures[providerCallID]
	if !ok || !c.pending {
		return Result{}, false
	}
	c.pending = false
	return c.result, true
}

// Finalize implements Detector. If the window never elapsed, the first call
// runs the heuristic over whatever was captured; later calls return the
// cached result.
func (s *Stream) Finalize(ctx context.Context, providerCallID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.captures[providerCallID]
	if !ok {
		return Result{Verdict: types.VerdictUndecided, Confidence: audio.UndecidedConfidence}, nil
	}
	if !c.done {
		s.decideLocked(c)
		c.pending = false
	}
	return c.result, nil
}

func (s *Stream) decideLocked(c *capture) {
	if len(c.buf) == 0 {
		// No audio is no evidence, not dead air.
		c.result = Result{Verdict: types.VerdictUndecided, Confidence: audio.UndecidedConfidence}
	} else {
		a := audio.Analyze(c.buf, s.thresholds)
		c.result = Result{Verdict: a.Verdict, Confidence: a.Confidence}
	}
	c.done = true
	c.pending = true
	c.buf = nil
}

// Discard drops a call's capture state without producing a result. A verdict
// already taken and written stays written; discard only stops anything
// further from being decided.
func (s *Stream) Discard(providerCallID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.captures, providerCallID)
}

// Buffered reports how many bytes are currently captured for a call.
func (s *Stream) Buffered(providerCallID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.captures[providerCallID]
	if !ok {
		return 0
	}
	return len(c.buf)
}
