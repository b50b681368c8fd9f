package types

import (
	"encoding/json"
	"strings"
)

// StatusEvent is one telephony status observation, delivered either by the
// provider's push webhook or by a poll of the provider's REST API. The two
// channels carry the same shape and feed the same orchestrator path.
type StatusEvent struct {
	ProviderCallID string
	Status         LifecycleState
	// AnsweredBy is the provider's built-in classifier outcome, when present.
	// Raw values range over human, machine_start, machine_end_beep,
	// machine_end_silence, fax, unknown.
	AnsweredBy string
	// Payload is the canonical raw payload, appended to the session's audit
	// log and used for duplicate detection.
	Payload json.RawMessage
}

// MapProviderStatus translates a provider status string into a lifecycle
// state. Provider "canceled" collapses into failed; "queued" is still
// initiated from the session's point of view.
func MapProviderStatus(status string) (LifecycleState, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "initiated":
		return StateInitiated, true
	case "ringing":
		return StateRinging, true
	case "in-progress", "answered":
		return StateAnswered, true
	case "completed":
		return StateCompleted, true
	case "failed", "canceled":
		return StateFailed, true
	case "busy":
		return StateBusy, true
	case "no-answer":
		return StateNoAnswer, true
	}
	return "", false
}

// ClassifyNative maps a provider classifier outcome to a verdict and its
// confidence band. The bands are deliberately asymmetric: fax is a
// near-unambiguous signal, human speech carries moderate uncertainty, and
// "unknown" reflects a call too short for the classifier to decide.
func ClassifyNative(answeredBy string) (Verdict, float64, bool) {
	switch strings.ToLower(strings.TrimSpace(answeredBy)) {
	case "human":
		return VerdictHuman, 0.85, true
	case "machine_start", "machine_end_beep", "machine_end_silence":
		return VerdictMachine, 0.90, true
	case "fax":
		return VerdictMachine, 0.95, true
	case "unknown":
		return VerdictUndecided, 0.50, true
	}
	return "", 0, false
}
