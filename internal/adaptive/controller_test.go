package adaptive

import (
	"testing"

	"github.com/blackholelabs/liqd/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestObserveGap_TurbulentMarketTightensBounds(t *testing.T) {
	c := NewController()
	c.Register(42, "USDC-WETH", 0.98, 100)

	var state types.AdaptiveState
	for i := 0; i < 6; i++ {
		state = c.ObserveGap(42, "USDC-WETH", 600)
	}

	assert.LessOrEqual(t, state.HealthFactorMax, 0.98)
	assert.LessOrEqual(t, state.GapCapBps, 100.0)
	assert.GreaterOrEqual(t, state.HealthFactorMax, 0.98-0.04)
	assert.GreaterOrEqual(t, state.GapCapBps, 100*0.5)
}

func TestObserveGap_CalmMarketRelaxesBounds(t *testing.T) {
	c := NewController()
	c.Register(42, "USDC-WETH", 0.98, 100)

	var state types.AdaptiveState
	for i := 0; i < 6; i++ {
		state = c.ObserveGap(42, "USDC-WETH", 0)
	}

	assert.InDelta(t, 0.98, state.HealthFactorMax, 1e-9)
	assert.InDelta(t, 100.0, state.GapCapBps, 1e-9)
}

func TestHealthFactorMax_BoundsClampedWithinSlack(t *testing.T) {
	c := NewController()
	c.Register(1, "K", 1.0, 200)

	for i := 0; i < 50; i++ {
		c.ObserveGap(1, "K", 5000) // extreme sustained gap
	}

	hf := c.HealthFactorMax(1, "K", 1.0)
	assert.GreaterOrEqual(t, hf, 1.0-0.04)
	assert.LessOrEqual(t, hf, 1.0+0.02)
}
