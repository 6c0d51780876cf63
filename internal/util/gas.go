package util

import (
	"math/big"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ExtractGasCost returns gasUsed * effectiveGasPrice from a mined receipt,
// in wei. Falls back to 0 when the receipt carries no effective gas price
// (pre-EIP-1559 clients populated it lazily on some RPC providers).
func ExtractGasCost(receipt *gethtypes.Receipt) *big.Int {
	if receipt == nil {
		return big.NewInt(0)
	}
	price := receipt.EffectiveGasPrice
	if price == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), price)
}

// EWMA computes a single exponential-weighted-moving-average step:
// alpha*sample + (1-alpha)*previous. alpha is clamped to [0,1].
func EWMA(previous, sample, alpha float64) float64 {
	if alpha < 0 {
		alpha = 0
	} else if alpha > 1 {
		alpha = 1
	}
	return alpha*sample + (1-alpha)*previous
}

// Clamp bounds v to [min, max]. Returns min if min > max.
func Clamp(v, min, max float64) float64 {
	if min > max {
		return min
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
