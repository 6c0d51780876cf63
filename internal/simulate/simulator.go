package simulate

import (
	"context"
	"math/big"

	"github.com/blackholelabs/liqd/internal/adaptive"
	"github.com/blackholelabs/liqd/internal/types"
)

const sizeSearchIterations = 5 // 4-6 iterations balances search depth against latency

// Inputs bundles everything the simulator needs beyond the Candidate
// itself: live prices, protocol parameters, routing, and the
// acceptance-gate config.
type Inputs struct {
	DebtPriceUsd       float64
	CollateralPriceUsd float64
	NativePriceUsd     float64
	LiquidationBonus    float64 // e.g. 0.05 for a 5% bonus
	CloseFactorBps      int     // Morpho pre-liq factor; ignored by other protocols

	Routers      []RouterConfig
	Quoter       Quoter

	SlippageBps      int
	GasUnitsEstimate uint64
	GasPriceWei      *big.Int
	SafetyMarginBps  int // expectedNetReceived must exceed repay by at least this many bps

	MinNetUsd       float64
	PnlMultipleMin  float64
	DeadlineSeconds int

	Adaptive *adaptive.Controller
	AssetKey string
	BaseHfMax float64
}

// Simulate runs the full pipeline for an admitted Candidate:
// repay sizing, seizure, route selection, slippage and gas accounting,
// a binary search over repay size, and the final accept/reject gate.
func Simulate(ctx context.Context, c types.Candidate, in Inputs) Result {
	maxRepay := MaxRepayable(c, in.CloseFactorBps)
	if maxRepay.Sign() <= 0 {
		return rejected(RejectNoRoute)
	}

	dustFloor := new(big.Int).Div(maxRepay, big.NewInt(1000)) // 0.1% of max as a dust floor
	if dustFloor.Sign() == 0 {
		dustFloor = big.NewInt(1)
	}

	best, ok := searchBestSize(ctx, c, in, dustFloor, maxRepay)
	if !ok {
		return rejected(RejectNoRoute)
	}

	if best.netProfitUsd < in.MinNetUsd {
		return rejected(RejectNegativeEV)
	}
	if best.netProfitUsd < in.PnlMultipleMin*best.gasUsd {
		return rejected(RejectPnlMultiple)
	}
	safetyMult := 1 + float64(in.SafetyMarginBps)/10_000
	if best.expectedNetReceived < best.repayDebtUsd*safetyMult {
		return rejected(RejectPriceImpact)
	}

	var snapshot types.AdaptiveState
	if in.Adaptive != nil {
		snapshot, _ = in.Adaptive.Snapshot(c.ChainID, in.AssetKey)
	}

	plan := &types.Plan{
		CandidateID:      c.ID,
		RepayAmount:      best.repayAmount,
		SeizedCollateral: best.seizedCollateral,
		Route:            []types.RouteHop{best.route},
		GrossProfitUsd:   best.grossProfitUsd,
		EstimatedGasUsd:  best.gasUsd,
		NetProfitUsd:     best.netProfitUsd,
		SlippageBps:      in.SlippageBps,
		DeadlineSeconds:  in.DeadlineSeconds,
		AdaptiveThresholdsSnapshot: snapshot,
	}
	return accepted(plan)
}

type sizingResult struct {
	repayAmount         *big.Int
	repayDebtUsd        float64
	seizedCollateral    *big.Int
	route               types.RouteHop
	expectedNetReceived float64
	grossProfitUsd      float64
	gasUsd              float64
	netProfitUsd        float64
}

// searchBestSize binary-searches the repay amount within [floor, ceil]
// maximizing netProfitUsd, since swap price impact grows convexly with
// size and net profit is not monotone in repay size near the ceiling.
func searchBestSize(ctx context.Context, c types.Candidate, in Inputs, floor, ceil *big.Int) (sizingResult, bool) {
	var bestResult sizingResult
	haveBest := false

	lo, hi := new(big.Int).Set(floor), new(big.Int).Set(ceil)
	evaluate := func(repay *big.Int) (sizingResult, bool) {
		return evaluateSize(ctx, c, in, repay)
	}

	// Evaluate both ends up front so the search has a baseline even if
	// the interior probes all fail to find a route.
	for _, candidateSize := range []*big.Int{lo, hi} {
		if result, ok := evaluate(candidateSize); ok {
			if !haveBest || result.netProfitUsd > bestResult.netProfitUsd {
				bestResult, haveBest = result, true
			}
		}
	}

	for i := 0; i < sizeSearchIterations; i++ {
		mid := new(big.Int).Add(lo, hi)
		mid.Div(mid, big.NewInt(2))
		if mid.Cmp(lo) <= 0 || mid.Cmp(hi) >= 0 {
			break
		}

		result, ok := evaluate(mid)
		if !ok {
			hi = mid
			continue
		}
		if !haveBest || result.netProfitUsd > bestResult.netProfitUsd {
			bestResult, haveBest = result, true
		}

		// Climb toward whichever half looks more profitable by nudging
		// the search bound; with convex price impact the profit-maximizing
		// size is usually below the ceiling, so prefer the lower half
		// once marginal profit turns negative.
		if result.netProfitUsd < bestResult.netProfitUsd {
			hi = mid
		} else {
			lo = mid
		}
	}

	return bestResult, haveBest
}

func evaluateSize(ctx context.Context, c types.Candidate, in Inputs, repayAmount *big.Int) (sizingResult, bool) {
	repayWhole := smallestUnitToWhole(repayAmount, c.Debt.Decimals)
	repayDebtUsd := repayWhole * in.DebtPriceUsd

	seized := SeizedCollateral(repayDebtUsd, in.LiquidationBonus, in.CollateralPriceUsd, c.Collateral.Decimals)
	if seized.Sign() <= 0 {
		return sizingResult{}, false
	}

	route, amountOut, ok := BestRoute(ctx, in.Quoter, in.Routers, c.Collateral.Token, c.Debt.Token, seized)
	if !ok {
		return sizingResult{}, false
	}

	outWhole := smallestUnitToWhole(amountOut, c.Debt.Decimals)
	expectedNetReceived := outWhole * (1 - float64(in.SlippageBps)/10_000) * in.DebtPriceUsd

	gasUsd := gasCostUsd(in.GasUnitsEstimate, in.GasPriceWei, in.NativePriceUsd)
	grossProfitUsd := expectedNetReceived - repayDebtUsd
	netProfitUsd := grossProfitUsd - gasUsd

	return sizingResult{
		repayAmount:         repayAmount,
		repayDebtUsd:        repayDebtUsd,
		seizedCollateral:    seized,
		route:               route,
		expectedNetReceived: expectedNetReceived,
		grossProfitUsd:      grossProfitUsd,
		gasUsd:              gasUsd,
		netProfitUsd:        netProfitUsd,
	}, true
}

func gasCostUsd(gasUnits uint64, gasPriceWei *big.Int, nativePriceUsd float64) float64 {
	if gasPriceWei == nil {
		return 0
	}
	costWei := new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), gasPriceWei)
	costNative := smallestUnitToWhole(costWei, 18)
	return costNative * nativePriceUsd
}
