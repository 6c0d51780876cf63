// Package simulate turns an admitted Candidate plus live prices into a
// Plan: repay sizing, seized-collateral math, swap-route selection, and
// the gas/slippage-aware profit search below.
package simulate

import "github.com/blackholelabs/liqd/internal/types"

// RejectReason is the simulator's typed rejection vocabulary: every
// simulation either returns a Plan or one of these reasons.
type RejectReason string

const (
	RejectNoRoute      RejectReason = "plan-null:no-route"
	RejectNegativeEV   RejectReason = "plan-null:negative-ev"
	RejectPnlMultiple  RejectReason = "plan-null:pnl-multiple"
	RejectPriceImpact  RejectReason = "plan-null:price-impact"
	RejectQuoterRevert RejectReason = "plan-null:quoter-revert"
	RejectRevalidation RejectReason = "plan-null:revalidation"
)

// Result is the simulator's outcome for one Candidate: either a Plan or
// a typed rejection, never both.
type Result struct {
	Plan   *types.Plan
	Reject RejectReason
}

func accepted(plan *types.Plan) Result     { return Result{Plan: plan} }
func rejected(reason RejectReason) Result { return Result{Reject: reason} }
