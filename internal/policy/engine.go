package policy

import (
	"math"
	"math/big"

	"github.com/blackholelabs/liqd/internal/types"
)

// ChainPolicy is the per-chain configuration the admission checks read.
type ChainPolicy struct {
	Enabled           bool
	MinPositionUsd    float64
	MaxPositionUsd    float64
	AllowedDebt       map[string]bool
	AllowedCollateral map[string]bool
}

// SequencerChecker reports a chain's current sequencer-liveness state.
type SequencerChecker interface {
	SequencerOk(chainID int64) bool
}

// AdaptiveHfGate reports the admission-time HF ceiling for an assetKey on
// a chain.
type AdaptiveHfGate interface {
	HealthFactorMax(chainID int64, assetKey string, baseHfMax float64) float64
}

// PriceLookup resolves a token's current USD price, reporting ok=false
// when none is available.
type PriceLookup interface {
	PriceUsd(token string) (usd float64, ok bool)
}

// Decision is the policy engine's verdict on a Candidate.
type Decision struct {
	Admitted bool
	Reason   string // e.g. "policy_skip:cooldown", empty when Admitted
}

// Engine runs a chain's ordered admission checks.
type Engine struct {
	sequencer SequencerChecker
	cooldown  *CooldownTracker
	adaptive  AdaptiveHfGate
	prices    PriceLookup
	chains    map[int64]ChainPolicy
}

// NewEngine builds a policy engine wired to its collaborators.
func NewEngine(sequencer SequencerChecker, cooldown *CooldownTracker, adaptive AdaptiveHfGate, prices PriceLookup, chains map[int64]ChainPolicy) *Engine {
	return &Engine{sequencer: sequencer, cooldown: cooldown, adaptive: adaptive, prices: prices, chains: chains}
}

// Admit runs every check in order, failing fast on the first violation.
func (e *Engine) Admit(c types.Candidate, baseHfMax float64) Decision {
	chainPolicy, ok := e.chains[c.ChainID]
	if !ok || !chainPolicy.Enabled {
		return Decision{Admitted: false, Reason: "policy_skip:chain-disabled"}
	}

	if e.sequencer != nil && !e.sequencer.SequencerOk(c.ChainID) {
		return Decision{Admitted: false, Reason: "policy_skip:sequencer-down"}
	}

	key := c.DedupKey()
	if e.cooldown != nil && e.cooldown.Active(key) {
		return Decision{Admitted: false, Reason: "policy_skip:cooldown"}
	}

	if e.adaptive != nil {
		hfMax := e.adaptive.HealthFactorMax(c.ChainID, c.AssetKey(), baseHfMax)
		if c.HealthFactor > hfMax {
			return Decision{Admitted: false, Reason: "policy_skip:hf-above-adaptive"}
		}
	}

	if !chainPolicy.AllowedDebt[c.Debt.Token] || !chainPolicy.AllowedCollateral[c.Collateral.Token] {
		return Decision{Admitted: false, Reason: "policy_skip:token-not-allowed"}
	}

	if e.prices == nil {
		return Decision{Admitted: false, Reason: "policy_skip:price-missing"}
	}
	debtPriceUsd, ok := e.prices.PriceUsd(c.Debt.Token)
	if !ok {
		return Decision{Admitted: false, Reason: "policy_skip:price-missing"}
	}
	if _, ok := e.prices.PriceUsd(c.Collateral.Token); !ok {
		return Decision{Admitted: false, Reason: "policy_skip:price-missing"}
	}

	positionUsd := PositionUsd(c.Debt, debtPriceUsd)
	if positionUsd < chainPolicy.MinPositionUsd || positionUsd > chainPolicy.MaxPositionUsd {
		return Decision{Admitted: false, Reason: "policy_skip:size-out-of-bounds"}
	}

	return Decision{Admitted: true}
}

// PositionUsd converts a Leg's smallest-unit integer amount to a whole-token
// float and multiplies by its USD price.
func PositionUsd(leg types.Leg, priceUsd float64) float64 {
	if leg.Amount == nil {
		return 0
	}
	amountFloat := new(big.Float).SetInt(leg.Amount)
	scale := new(big.Float).SetFloat64(math.Pow10(leg.Decimals))
	amountFloat.Quo(amountFloat, scale)
	whole, _ := amountFloat.Float64()
	return whole * priceUsd
}
