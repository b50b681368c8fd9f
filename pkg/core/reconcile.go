package core

import (
	"github.com/dialscope/dialscope/pkg/core/types"
)

// reconcileVerdict applies one candidate verdict to a session under the
// reconciliation rules and reports whether the session changed.
//
// A manual override always wins and pins the session at confidence 1.0.
// Once overridden, no automated source may write again. Among automated
// sources, the first classified verdict fills an empty slot and after that
// only a strictly higher confidence replaces the incumbent; an equal
// confidence keeps the earlier verdict.
func reconcileVerdict(s *types.CallSession, v types.Verdict, conf float64, src types.VerdictSource) bool {
	if src == types.SourceOverride {
		s.Verdict = v
		s.Confidence = 1.0
		s.VerdictSource = src
		s.Overridden = true
		return true
	}
	if s.Overridden {
		return false
	}
	if !hasVerdict(s) {
		s.Verdict = v
		s.Confidence = conf
		s.VerdictSource = src
		return true
	}
	if conf > s.Confidence {
		s.Verdict = v
		s.Confidence = conf
		s.VerdictSource = src
		return true
	}
	return false
}

// hasVerdict reports whether any source has classified the session yet.
// A fresh session sits at unknown with zero confidence.
func hasVerdict(s *types.CallSession) bool {
	return s.Verdict != types.VerdictUnknown || s.Confidence != 0
}
