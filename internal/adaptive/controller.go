// Package adaptive maintains per (chain, assetKey) volatility state and
// derives the health-factor and gap-capture bounds the policy engine
// gates admission on, tightening in turbulent markets and relaxing in
// calm ones.
package adaptive

import (
	"sync"
	"time"

	"github.com/blackholelabs/liqd/internal/types"
	"github.com/blackholelabs/liqd/internal/util"
)

const (
	alpha = 0.2
	kHf   = 1.0
	kGap  = 1.0

	hfLowerSlack = 0.04
	hfUpperSlack = 0.02

	gapLowerMult = 0.5
	gapUpperMult = 1.5

	// normalizeScaleBps is the volatility level treated as "fully
	// turbulent" (normalize(sigma) saturates at 1.0 here). Chosen so a
	// sustained 600bps gap (the adversarial oscillation scenario)
	// drives the bound to its tightened clamp within a handful of
	// updates.
	normalizeScaleBps = 500.0
)

// DefaultBaseGapCapBps seeds a (chain, assetKey) bucket's gap cap when the
// caller has no chain-specific figure to register, e.g. an observation
// arriving for a pair nothing ever called Register for.
const DefaultBaseGapCapBps = 100.0

// Controller owns every (chainID, assetKey) AdaptiveState and exposes the
// admission-time bounds the policy engine reads.
type Controller struct {
	mu     sync.Mutex
	states map[key]*types.AdaptiveState
}

type key struct {
	chainID  int64
	assetKey string
}

// NewController builds an empty adaptive-threshold controller.
func NewController() *Controller {
	return &Controller{states: make(map[key]*types.AdaptiveState)}
}

// Register seeds the base bounds for (chainID, assetKey) on first use.
// Calling it again for an existing key is a no-op — AdaptiveState is
// never destroyed once created.
func (c *Controller) Register(chainID int64, assetKey string, baseHfMax, baseGapCapBps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{chainID, assetKey}
	if _, exists := c.states[k]; exists {
		return
	}
	c.states[k] = &types.AdaptiveState{
		ChainID:         chainID,
		AssetKey:        assetKey,
		BaseHfMax:       baseHfMax,
		BaseGapCapBps:   baseGapCapBps,
		HealthFactorMax: baseHfMax,
		GapCapBps:       baseGapCapBps,
		LastUpdateAt:    time.Now(),
	}
}

// ObserveGap feeds one observed oracle-vs-DEX basis-point gap into the
// EWMA for (chainID, assetKey) and recomputes its derived bounds.
func (c *Controller) ObserveGap(chainID int64, assetKey string, gapBps float64) types.AdaptiveState {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{chainID, assetKey}
	state, exists := c.states[k]
	if !exists {
		// Register wasn't called; seed from the observation itself so
		// the controller is still usable standalone (e.g. in tests).
		state = &types.AdaptiveState{ChainID: chainID, AssetKey: assetKey, BaseHfMax: 1.0, BaseGapCapBps: DefaultBaseGapCapBps}
		c.states[k] = state
	}

	deviation := gapBps - 0
	state.EwmaVolatilityBps = util.EWMA(state.EwmaVolatilityBps, absFloat(deviation), alpha)

	normalized := util.Clamp(state.EwmaVolatilityBps/normalizeScaleBps, 0, 1)

	state.HealthFactorMax = util.Clamp(
		state.BaseHfMax-kHf*normalized*hfLowerSlack,
		state.BaseHfMax-hfLowerSlack,
		state.BaseHfMax+hfUpperSlack,
	)
	state.GapCapBps = util.Clamp(
		state.BaseGapCapBps*(1-kGap*normalized),
		state.BaseGapCapBps*gapLowerMult,
		state.BaseGapCapBps*gapUpperMult,
	)
	state.LastUpdateAt = time.Now()

	return *state
}

// HealthFactorMax returns the current admission-time HF bound for
// (chainID, assetKey), or baseHfMax if no observation has been recorded
// yet.
func (c *Controller) HealthFactorMax(chainID int64, assetKey string, baseHfMax float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, exists := c.states[key{chainID, assetKey}]
	if !exists {
		return baseHfMax
	}
	return state.HealthFactorMax
}

// ChainMaxHealthFactorBound returns the loosest HealthFactorMax currently
// known across every assetKey registered for chainID, or baseHfMax if
// none have observed a gap yet. Adapters that poll before any particular
// Candidate (and its assetKey) is known use this as a coarse subgraph-level
// prefilter; the policy engine still applies the precise per-asset bound
// once a Candidate is on hand.
func (c *Controller) ChainMaxHealthFactorBound(chainID int64, baseHfMax float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	bound := baseHfMax
	found := false
	for k, state := range c.states {
		if k.chainID != chainID {
			continue
		}
		if !found || state.HealthFactorMax > bound {
			bound = state.HealthFactorMax
			found = true
		}
	}
	return bound
}

// Snapshot returns a copy of the current AdaptiveState for (chainID,
// assetKey), used by the simulator to stamp Plan.AdaptiveThresholdsSnapshot.
func (c *Controller) Snapshot(chainID int64, assetKey string) (types.AdaptiveState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, exists := c.states[key{chainID, assetKey}]
	if !exists {
		return types.AdaptiveState{}, false
	}
	return *state, true
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
