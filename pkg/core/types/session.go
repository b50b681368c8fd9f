// Package types defines the call-session domain model shared by the
// orchestrator engine, its collaborators, and the gateway surface.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Strategy selects the detection backend for a call. The set is closed:
// ParseStrategy rejects anything else before a session is created.
type Strategy string

const (
	// StrategyNative delegates detection to the telephony provider's
	// built-in classifier, delivered over the status webhook.
	StrategyNative Strategy = "native"
	// StrategyNativePoll uses the same provider classifier, but read back
	// through the status poller when no public callback address exists.
	StrategyNativePoll Strategy = "native-poll"
	// StrategyStream runs a local signal heuristic on live inbound audio.
	StrategyStream Strategy = "stream"
	// StrategyRecording records the call and submits the recording to an
	// external inference backend after completion.
	StrategyRecording Strategy = "recording"
)

// ParseStrategy validates a caller-supplied strategy identifier.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyNative, StrategyNativePoll, StrategyStream, StrategyRecording:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q (expected native, native-poll, stream, or recording)", s)
}

// UsesNativeClassifier reports whether provider classifier outcomes may be
// written into a session with this strategy. Stream and recording sessions
// never accept a native verdict, so detector sources are never mixed.
func (s Strategy) UsesNativeClassifier() bool {
	return s == StrategyNative || s == StrategyNativePoll
}

// RequiresRecording reports whether placement must request a call recording.
func (s Strategy) RequiresRecording() bool {
	return s == StrategyRecording
}

// RequiresCallback reports whether the strategy strictly requires push
// delivery (a public callback base URL) and may not fall back to polling.
func (s Strategy) RequiresCallback() bool {
	return s == StrategyStream
}

// Verdict is the detection outcome for a call.
type Verdict string

const (
	VerdictUnknown   Verdict = "unknown"
	VerdictHuman     Verdict = "human"
	VerdictMachine   Verdict = "machine"
	VerdictUndecided Verdict = "undecided"
	VerdictError     Verdict = "error"
)

// ParseVerdict validates a caller-supplied verdict (manual override path).
// Only the three decidable values may be set by hand.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictHuman, VerdictMachine, VerdictUndecided:
		return Verdict(s), nil
	}
	return "", fmt.Errorf("invalid verdict %q (expected human, machine, or undecided)", s)
}

// LifecycleState is a position in the call state machine.
type LifecycleState string

const (
	StatePending   LifecycleState = "pending"
	StateInitiated LifecycleState = "initiated"
	StateRinging   LifecycleState = "ringing"
	StateAnswered  LifecycleState = "answered"
	StateCompleted LifecycleState = "completed"
	StateFailed    LifecycleState = "failed"
	StateBusy      LifecycleState = "busy"
	StateNoAnswer  LifecycleState = "no-answer"
	// StateError is a side channel reachable from any non-terminal state
	// when a collaborator reports an unrecoverable failure.
	StateError LifecycleState = "error"
)

// stateRank orders the forward path of the state machine. Terminal states
// share the top rank; no state is re-entered once left.
var stateRank = map[LifecycleState]int{
	StatePending:   0,
	StateInitiated: 1,
	StateRinging:   2,
	StateAnswered:  3,
	StateCompleted: 4,
	StateFailed:    4,
	StateBusy:      4,
	StateNoAnswer:  4,
	StateError:     4,
}

// Terminal reports whether telephony status can no longer change.
func (s LifecycleState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateBusy, StateNoAnswer, StateError:
		return true
	}
	return false
}

// CanAdvanceTo reports whether a transition from s to next is legal.
// Transitions are monotonic along the graph; a duplicate of the current
// state (e.g. ringing→ringing) is allowed as a no-op.
func (s LifecycleState) CanAdvanceTo(next LifecycleState) bool {
	if s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to > from
}

// VerdictSource identifies the channel that wrote a verdict.
type VerdictSource string

const (
	SourceNativeWebhook VerdictSource = "native-webhook"
	SourceNativePoll    VerdictSource = "native-poll"
	SourceStream        VerdictSource = "stream"
	SourceRecording     VerdictSource = "recording"
	SourceOverride      VerdictSource = "override"
)

// RawEvent is one inbound event appended to a session's audit log.
type RawEvent struct {
	Channel    string          `json:"channel"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// CallSession is one outbound call attempt and its evolving verdict.
// All mutation goes through the store's Update path, which serializes
// writers per session ID.
type CallSession struct {
	ID             string         `json:"id"`
	Owner          string         `json:"-"`
	ProviderCallID string         `json:"provider_call_id,omitempty"`
	Destination    string         `json:"destination"`
	Strategy       Strategy       `json:"strategy"`
	State          LifecycleState `json:"state"`
	Verdict        Verdict        `json:"verdict"`
	Confidence     float64        `json:"confidence"`
	VerdictSource  VerdictSource  `json:"verdict_source,omitempty"`
	Overridden     bool           `json:"overridden,omitempty"`

	// AnalysisStarted guards the once-only recording-analysis trigger so a
	// replayed "completed" event cannot start a second analysis.
	AnalysisStarted bool `json:"analysis_started,omitempty"`

	RawEvents   []RawEvent `json:"raw_events"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AppendRawEvent appends to the audit log and reports whether the payload is
// a structural duplicate of the last-appended entry. Duplicates are still
// appended (the log is append-only, never truncated) but callers must not
// re-fire side effects for them.
func (s *CallSession) AppendRawEvent(channel string, payload json.RawMessage, at time.Time) (duplicate bool) {
	if n := len(s.RawEvents); n > 0 {
		last := s.RawEvents[n-1]
		duplicate = last.Channel == channel && jsonEqual(last.Payload, payload)
	}
	s.RawEvents = append(s.RawEvents, RawEvent{Channel: channel, Payload: payload, ReceivedAt: at})
	return duplicate
}

// AdvanceState applies a telephony status transition. Returns whether the
// state actually changed. Terminal sessions are left untouched and a
// duplicate of the current state is a no-op.
func (s *CallSession) AdvanceState(next LifecycleState, now time.Time) bool {
	if !s.State.CanAdvanceTo(next) || s.State == next {
		return false
	}
	s.State = next
	if next.Terminal() && s.CompletedAt == nil {
		t := now
		s.CompletedAt = &t
	}
	return true
}

// Clone returns a deep copy safe to hand to readers.
func (s *CallSession) Clone() *CallSession {
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.RawEvents != nil {
		out.RawEvents = make([]RawEvent, len(s.RawEvents))
		copy(out.RawEvents, s.RawEvents)
	}
	return &out
}

func jsonEqual(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, a); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Compact(&cb, b); err != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// e164 matches destinations in E.164 form, e.g. +12345678900.
var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidDestination reports whether dest is a well-formed E.164 number.
func ValidDestination(dest string) bool {
	return e164.MatchString(dest)
}
