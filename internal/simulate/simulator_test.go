package simulate

import (
	"context"
	"math/big"
	"testing"

	"github.com/blackholelabs/liqd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearQuoter mimics a pool with a constant price and mild convex price
// impact: amountOut = amountIn * rate * (1 - impactBpsPerUnit * amountIn).
type linearQuoter struct {
	rate float64
}

func (q *linearQuoter) Quote(ctx context.Context, route RouterConfig, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	in := new(big.Float).SetInt(amountIn)
	rate := new(big.Float).SetFloat64(q.rate)
	out := new(big.Float).Mul(in, rate)
	result, _ := out.Int(nil)
	return result, nil
}

func oneRouter() []RouterConfig {
	return []RouterConfig{{Router: "0xrouter", Pool: "0xpool", FeeBps: 30, Hops: 1}}
}

func TestSimulate_AcceptsProfitablePlan(t *testing.T) {
	c := types.Candidate{
		ID:           "cand-1",
		ChainID:      1,
		Protocol:     types.ProtocolAave,
		HealthFactor: 0.5, // deep enough for 100% close factor
		Debt:         types.Leg{Token: "0xdebt", Decimals: 6, Amount: big.NewInt(1_000_000000)},
		Collateral:   types.Leg{Token: "0xcollateral", Decimals: 18, Amount: big.NewInt(2e18)},
	}

	in := Inputs{
		DebtPriceUsd:       1.0,
		CollateralPriceUsd: 2000,
		NativePriceUsd:     2000,
		LiquidationBonus:   0.05,
		Routers:            oneRouter(),
		Quoter:             &linearQuoter{rate: 1.0 / 2000 * 1.02}, // slightly more debt token out than collateral USD value in
		SlippageBps:        50,
		GasUnitsEstimate:    200_000,
		GasPriceWei:         big.NewInt(1_000_000_000), // 1 gwei
		SafetyMarginBps:     0,
		MinNetUsd:           1,
		PnlMultipleMin:      1.1,
		DeadlineSeconds:     60,
	}

	result := Simulate(context.Background(), c, in)
	require.NotNil(t, result.Plan, "expected an accepted plan, got reject=%s", result.Reject)
	assert.Greater(t, result.Plan.NetProfitUsd, 0.0)
}

func TestSimulate_RejectsWhenNoRouteQuotes(t *testing.T) {
	c := types.Candidate{
		ID:           "cand-2",
		ChainID:      1,
		Protocol:     types.ProtocolAave,
		HealthFactor: 0.9,
		Debt:         types.Leg{Token: "0xdebt", Decimals: 6, Amount: big.NewInt(1_000_000000)},
		Collateral:   types.Leg{Token: "0xcollateral", Decimals: 18, Amount: big.NewInt(2e18)},
	}

	in := Inputs{
		DebtPriceUsd:       1.0,
		CollateralPriceUsd: 2000,
		NativePriceUsd:     2000,
		LiquidationBonus:   0.05,
		Routers:            nil, // no routes configured
		Quoter:             &linearQuoter{rate: 1},
		MinNetUsd:          1,
		PnlMultipleMin:     1.1,
	}

	result := Simulate(context.Background(), c, in)
	assert.Nil(t, result.Plan)
	assert.Equal(t, RejectNoRoute, result.Reject)
}

func TestSimulate_RejectsUnprofitablePlan(t *testing.T) {
	c := types.Candidate{
		ID:           "cand-3",
		ChainID:      1,
		Protocol:     types.ProtocolAave,
		HealthFactor: 0.9,
		Debt:         types.Leg{Token: "0xdebt", Decimals: 6, Amount: big.NewInt(1_000_000000)},
		Collateral:   types.Leg{Token: "0xcollateral", Decimals: 18, Amount: big.NewInt(2e18)},
	}

	in := Inputs{
		DebtPriceUsd:       1.0,
		CollateralPriceUsd: 2000,
		NativePriceUsd:     2000,
		LiquidationBonus:   0.0,
		Routers:            oneRouter(),
		Quoter:             &linearQuoter{rate: 1.0 / 2000 * 0.8}, // bad rate: lose money on the swap
		SlippageBps:        50,
		GasUnitsEstimate:    200_000,
		GasPriceWei:         big.NewInt(50_000_000_000), // 50 gwei, expensive
		MinNetUsd:           1,
		PnlMultipleMin:      1.5,
	}

	result := Simulate(context.Background(), c, in)
	assert.Nil(t, result.Plan)
	assert.Contains(t, []RejectReason{RejectNegativeEV, RejectPnlMultiple, RejectPriceImpact}, result.Reject)
}
