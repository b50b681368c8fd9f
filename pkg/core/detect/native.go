package detect

import (
	"context"

	"github.com/dialscope/dialscope/pkg/core/types"
)

// Native relies entirely on the carrier's machine-detection callbacks. The
// verdict arrives on the status channel, so the detector itself has nothing
// to compute: OnAnswered is a no-op and Finalize reports indeterminate.
type Native struct{}

// OnAnswered implements Detector.
func (Native) OnAnswered(ctx context.Context, providerCallID string, meta map[string]string) error {
	return nil
}

// Finalize implements Detector. Carrier verdicts are applied as status
// events land; a direct Finalize has no classification source and returns
// undecided at zero confidence.
func (Native) Finalize(ctx context.Context, providerCallID string) (Result, error) {
	return Result{Verdict: types.VerdictUndecided, Confidence: 0}, nil
}
