package engine

import (
	"context"

	"github.com/blackholelabs/liqd/internal/execute"
	"github.com/blackholelabs/liqd/internal/simulate"
	"github.com/blackholelabs/liqd/internal/types"
)

// pnlRevalidator re-runs Simulate against fresh prices immediately
// before submission and rejects a Plan whose net profit has decayed
// below its original estimate by more than driftToleranceBps. It
// satisfies execute.Revalidator.
type pnlRevalidator struct {
	runtime           *ChainRuntime
	driftToleranceBps int
}

// NewRevalidator builds the submission-time check a Coordinator runs
// before every execution attempt. driftToleranceBps bounds how much a
// Plan's net profit may have fallen relative to its original estimate
// before the attempt is abandoned; 0 means any shortfall aborts.
func NewRevalidator(rt *ChainRuntime, driftToleranceBps int) execute.Revalidator {
	return &pnlRevalidator{runtime: rt, driftToleranceBps: driftToleranceBps}
}

func (r *pnlRevalidator) Revalidate(ctx context.Context, c types.Candidate, plan *types.Plan) (bool, error) {
	inputs, err := buildSimInputs(ctx, r.runtime, c)
	if err != nil {
		return false, err
	}

	result := simulate.Simulate(ctx, c, inputs)
	if result.Plan == nil {
		return false, nil
	}

	if plan.NetProfitUsd <= 0 {
		return result.Plan.NetProfitUsd >= plan.NetProfitUsd, nil
	}

	floor := plan.NetProfitUsd * float64(10_000-r.driftToleranceBps) / 10_000
	return result.Plan.NetProfitUsd >= floor, nil
}
