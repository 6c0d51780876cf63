package util

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSqrtPriceToPrice(t *testing.T) {
	sqrtPriceX96, _ := big.NewInt(0).SetString("267326922672530907272725", 10)

	priceRaw := SqrtPriceToPrice(sqrtPriceX96)
	price, _ := priceRaw.Float64()

	assert.Greater(t, price, 0.0)
}

func TestSqrtPriceToPrice_ZeroInputYieldsZeroPrice(t *testing.T) {
	priceRaw := SqrtPriceToPrice(big.NewInt(0))
	price, _ := priceRaw.Float64()
	assert.Equal(t, 0.0, price)
}
