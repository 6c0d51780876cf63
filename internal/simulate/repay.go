package simulate

import (
	"math/big"

	"github.com/blackholelabs/liqd/internal/types"
)

// MaxRepayable computes the maximum smallest-unit debt amount a
// liquidator may repay for c, following each protocol's
// rules.
func MaxRepayable(c types.Candidate, closeFactorBps int) *big.Int {
	if c.Debt.Amount == nil {
		return big.NewInt(0)
	}

	switch c.Protocol {
	case types.ProtocolAave:
		// 50% close factor in the normal band, 100% once HF is deep
		// enough that a partial close wouldn't restore solvency.
		bps := int64(5000)
		if c.HealthFactor < 0.95 {
			bps = 10000
		}
		return scaleByBps(c.Debt.Amount, bps)

	case types.ProtocolMorphoBlue:
		// Opt-in pre-liquidation factor, supplied per-market by config;
		// default to a conservative 50% when unset.
		bps := int64(closeFactorBps)
		if bps <= 0 {
			bps = 5000
		}
		return scaleByBps(c.Debt.Amount, bps)

	case types.ProtocolCompoundV3:
		// Comet liquidation always closes the full base-asset position.
		return new(big.Int).Set(c.Debt.Amount)

	default:
		return scaleByBps(c.Debt.Amount, 5000)
	}
}

func scaleByBps(amount *big.Int, bps int64) *big.Int {
	scaled := new(big.Int).Mul(amount, big.NewInt(bps))
	return scaled.Div(scaled, big.NewInt(10_000))
}

// SeizedCollateral computes the smallest-unit collateral amount seized
// for a given USD repay size:
// repayDebtUsd * (1 + liquidationBonus) / collateralPriceUsd, then
// converted to the collateral token's smallest unit.
func SeizedCollateral(repayDebtUsd, liquidationBonus, collateralPriceUsd float64, collateralDecimals int) *big.Int {
	if collateralPriceUsd <= 0 {
		return big.NewInt(0)
	}
	seizedWhole := repayDebtUsd * (1 + liquidationBonus) / collateralPriceUsd
	return wholeToSmallestUnit(seizedWhole, collateralDecimals)
}
