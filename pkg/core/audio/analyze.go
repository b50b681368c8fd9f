// Package audio implements the signal heuristic used by the streaming
// detection strategy: normalized RMS energy plus the longest contiguous run
// of near-silence over buffered inbound audio.
package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/dialscope/dialscope/pkg/core/types"
)

// Confidence bands for the heuristic's three outcomes.
const (
	HumanConfidence     = 0.82
	MachineConfidence   = 0.78
	UndecidedConfidence = 0.60
)

// Thresholds are the calibration constants of the heuristic. They are
// empirical, not physical laws; deployments tune them through config.
type Thresholds struct {
	// HumanEnergy: normalized energy strictly above this, combined with a
	// short longest-silence, reads as live speech.
	HumanEnergy float64
	// MachineEnergy: normalized energy strictly below this reads as a
	// recorded greeting or dead air.
	MachineEnergy float64
	// HumanSilence: longest silence strictly below this supports a human
	// verdict.
	HumanSilence time.Duration
	// MachineSilence: longest silence strictly above this supports a
	// machine verdict.
	MachineSilence time.Duration
	// SilenceAmplitude: absolute 16-bit sample magnitude below which a
	// sample counts as silence.
	SilenceAmplitude int
	// SampleRate of the inbound track in Hz.
	SampleRate int
}

// DefaultThresholds returns the calibration the heuristic ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HumanEnergy:      0.5,
		MachineEnergy:    0.3,
		HumanSilence:     500 * time.Millisecond,
		MachineSilence:   1500 * time.Millisecond,
		SilenceAmplitude: 500,
		SampleRate:       8000,
	}
}

// Analysis is the heuristic's measurement and decision for one buffer.
type Analysis struct {
	Energy         float64
	LongestSilence time.Duration
	Verdict        types.Verdict
	Confidence     float64
}

// Analyze measures pcm (16-bit little-endian mono samples) and applies the
// decision rule. High energy with little silence reads human; low energy or
// long silence reads machine; the band between is undecided. Both edges are
// non-strict into undecided: energy exactly at HumanEnergy or silence
// exactly at HumanSilence is not enough for a human verdict.
func Analyze(pcm []byte, th Thresholds) Analysis {
	a := Analysis{
		Energy:         Energy(pcm),
		LongestSilence: LongestSilence(pcm, th.SilenceAmplitude, th.SampleRate),
	}
	a.Verdict, a.Confidence = Decide(a.Energy, a.LongestSilence, th)
	return a
}

// Decide applies the decision rule to a measurement. The human branch uses
// strict inequalities, so a signal sitting exactly on either human edge
// (energy == HumanEnergy, or silence == HumanSilence) is undecided.
func Decide(energy float64, longestSilence time.Duration, th Thresholds) (types.Verdict, float64) {
	switch {
	case energy > th.HumanEnergy && longestSilence < th.HumanSilence:
		return types.VerdictHuman, HumanConfidence
	case energy < th.MachineEnergy || longestSilence > th.MachineSilence:
		return types.VerdictMachine, MachineConfidence
	default:
		return types.VerdictUndecided, UndecidedConfidence
	}
}

// Energy returns the RMS energy of the signal normalized to [0, 1].
func Energy(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	return math.Min(rms/32768, 1.0)
}

// LongestSilence returns the longest contiguous run of samples whose
// magnitude is below amplitude, expressed as wall-clock duration at the
// given sample rate.
func LongestSilence(pcm []byte, amplitude, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	var longest, current int
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if s < 0 {
			s = -s
		}
		if s < amplitude {
			current++
			if current > longest {
				longest = current
			}
		} else {
			current = 0
		}
	}
	return time.Duration(longest) * time.Second / time.Duration(sampleRate)
}
