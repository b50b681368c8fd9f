package detect

import (
	"context"

	"github.com/dialscope/dialscope/pkg/core/types"
)

// Recording defers classification until the completed call's recording is
// fetched and analyzed out of band. The analyzer owns that pipeline; the
// detector contract is satisfied with no-ops so registry dispatch stays
// uniform across strategies.
type Recording struct{}

// OnAnswered implements Detector.
func (Recording) OnAnswered(ctx context.Context, providerCallID string, meta map[string]string) error {
	return nil
}

// Finalize implements Detector. At answer time no recording exists yet, so
// the only honest answer is indeterminate.
func (Recording) Finalize(ctx context.Context, providerCallID string) (Result, error) {
	return Result{Verdict: types.VerdictUndecided, Confidence: 0}, nil
}
