// Package util holds the small, dependency-light helpers shared by the
// rest of the engine: sqrt-price arithmetic for reading AMM pool state,
// ABI loading, gas-cost extraction, and signer-key decryption.
package util

import (
	"math/big"
)

const floatPrec = 256

var twoPow96 = new(big.Float).SetPrec(floatPrec).SetMantExp(big.NewFloat(1), 96)

// SqrtPriceToPrice converts a Q96 sqrt-price into price = (sqrtPriceX96 / 2^96)^2,
// expressed as token1-per-token0 before any decimals adjustment.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) *big.Float {
	ratio := new(big.Float).SetPrec(floatPrec).SetInt(sqrtPriceX96)
	ratio.Quo(ratio, twoPow96)
	return ratio.Mul(ratio, ratio)
}
