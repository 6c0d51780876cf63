package simulate

import (
	"math"
	"math/big"
)

// wholeToSmallestUnit converts a whole-token float amount to the token's
// smallest-unit integer representation, rounding down.
func wholeToSmallestUnit(whole float64, decimals int) *big.Int {
	if whole <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Float).Mul(big.NewFloat(whole), big.NewFloat(math.Pow10(decimals)))
	out, _ := scaled.Int(nil)
	return out
}

// smallestUnitToWhole converts a smallest-unit integer amount to a
// whole-token float.
func smallestUnitToWhole(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	scaled := new(big.Float).SetInt(amount)
	scaled.Quo(scaled, big.NewFloat(math.Pow10(decimals)))
	whole, _ := scaled.Float64()
	return whole
}
