package policy

import (
	"math/big"
	"testing"

	"github.com/blackholelabs/liqd/internal/types"
	"github.com/stretchr/testify/assert"
)

type fakeSequencer struct{ up map[int64]bool }

func (f *fakeSequencer) SequencerOk(chainID int64) bool { return f.up[chainID] }

type fakeAdaptive struct{ hfMax float64 }

func (f *fakeAdaptive) HealthFactorMax(chainID int64, assetKey string, baseHfMax float64) float64 {
	return f.hfMax
}

type fakePrices struct{ prices map[string]float64 }

func (f *fakePrices) PriceUsd(token string) (float64, bool) {
	p, ok := f.prices[token]
	return p, ok
}

func baseCandidate() types.Candidate {
	return types.Candidate{
		ChainID:      1,
		Borrower:     "0xborrower",
		Debt:         types.Leg{Token: "0xdebt", Decimals: 6, Amount: big.NewInt(1000_000000)},
		Collateral:   types.Leg{Token: "0xcollateral", Decimals: 18, Amount: big.NewInt(1e18)},
		HealthFactor: 0.9,
	}
}

func basePolicyChains() map[int64]ChainPolicy {
	return map[int64]ChainPolicy{
		1: {
			Enabled:           true,
			MinPositionUsd:    10,
			MaxPositionUsd:    1_000_000,
			AllowedDebt:       map[string]bool{"0xdebt": true},
			AllowedCollateral: map[string]bool{"0xcollateral": true},
		},
	}
}

func TestAdmit_AcceptsCandidateWithinAllBounds(t *testing.T) {
	e := NewEngine(
		&fakeSequencer{up: map[int64]bool{1: true}},
		NewCooldownTracker(),
		&fakeAdaptive{hfMax: 0.95},
		&fakePrices{prices: map[string]float64{"0xdebt": 1.0, "0xcollateral": 2000}},
		basePolicyChains(),
	)

	decision := e.Admit(baseCandidate(), 0.95)
	assert.True(t, decision.Admitted)
}

func TestAdmit_RejectsWhenSequencerDown(t *testing.T) {
	e := NewEngine(
		&fakeSequencer{up: map[int64]bool{1: false}},
		NewCooldownTracker(),
		&fakeAdaptive{hfMax: 0.95},
		&fakePrices{prices: map[string]float64{"0xdebt": 1.0, "0xcollateral": 2000}},
		basePolicyChains(),
	)

	decision := e.Admit(baseCandidate(), 0.95)
	assert.False(t, decision.Admitted)
	assert.Equal(t, "policy_skip:sequencer-down", decision.Reason)
}

func TestAdmit_RejectsWhenCooldownActive(t *testing.T) {
	cooldown := NewCooldownTracker()
	c := baseCandidate()
	cooldown.RecordRevert(c.DedupKey())

	e := NewEngine(
		&fakeSequencer{up: map[int64]bool{1: true}},
		cooldown,
		&fakeAdaptive{hfMax: 0.95},
		&fakePrices{prices: map[string]float64{"0xdebt": 1.0, "0xcollateral": 2000}},
		basePolicyChains(),
	)

	decision := e.Admit(c, 0.95)
	assert.False(t, decision.Admitted)
	assert.Equal(t, "policy_skip:cooldown", decision.Reason)
}

func TestAdmit_RejectsAboveAdaptiveHfBound(t *testing.T) {
	e := NewEngine(
		&fakeSequencer{up: map[int64]bool{1: true}},
		NewCooldownTracker(),
		&fakeAdaptive{hfMax: 0.5},
		&fakePrices{prices: map[string]float64{"0xdebt": 1.0, "0xcollateral": 2000}},
		basePolicyChains(),
	)

	decision := e.Admit(baseCandidate(), 0.5)
	assert.False(t, decision.Admitted)
	assert.Equal(t, "policy_skip:hf-above-adaptive", decision.Reason)
}

func TestAdmit_RejectsMissingPrice(t *testing.T) {
	e := NewEngine(
		&fakeSequencer{up: map[int64]bool{1: true}},
		NewCooldownTracker(),
		&fakeAdaptive{hfMax: 0.95},
		&fakePrices{prices: map[string]float64{"0xdebt": 1.0}},
		basePolicyChains(),
	)

	decision := e.Admit(baseCandidate(), 0.95)
	assert.False(t, decision.Admitted)
	assert.Equal(t, "policy_skip:price-missing", decision.Reason)
}

func TestAdmit_RejectsOutOfSizeBounds(t *testing.T) {
	chains := basePolicyChains()
	chains[1] = ChainPolicy{
		Enabled:           true,
		MinPositionUsd:    10_000,
		MaxPositionUsd:    20_000,
		AllowedDebt:       map[string]bool{"0xdebt": true},
		AllowedCollateral: map[string]bool{"0xcollateral": true},
	}
	e := NewEngine(
		&fakeSequencer{up: map[int64]bool{1: true}},
		NewCooldownTracker(),
		&fakeAdaptive{hfMax: 0.95},
		&fakePrices{prices: map[string]float64{"0xdebt": 1.0, "0xcollateral": 2000}},
		chains,
	)

	decision := e.Admit(baseCandidate(), 0.95) // position is 1000 USD, below 10k min
	assert.False(t, decision.Admitted)
	assert.Equal(t, "policy_skip:size-out-of-bounds", decision.Reason)
}

func TestCooldownTracker_ExpiresAfterWindow(t *testing.T) {
	tracker := NewCooldownTracker()
	key := baseCandidate().DedupKey()
	tracker.RecordSuccess(key)
	assert.True(t, tracker.Active(key))
}
