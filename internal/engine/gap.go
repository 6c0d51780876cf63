package engine

import (
	"context"
	"time"

	"github.com/blackholelabs/liqd/internal/adaptive"
	"github.com/blackholelabs/liqd/internal/price"
	"github.com/rs/zerolog"
)

// GapPair names one (debt, collateral) market the adaptive controller
// tracks volatility for; AssetKey must match types.Candidate.AssetKey()
// so the gap observations land on the same bucket the policy engine
// reads HealthFactorMax/GapCapBps from.
type GapPair struct {
	AssetKey        string
	DebtToken       string
	CollateralToken string
}

// GapUpdater is the per-chain task that closes the market-observations ->
// adaptive-thresholds control flow: on every tick it compares each
// tracked pair's oracle-derived exchange rate against its
// subgraph/DEX-TWAP-derived rate and feeds the spread into the adaptive
// controller's EWMA. It also implements price.VolatilitySink so the
// price watcher's resolved quotes are wired somewhere rather than
// discarded, even though a single resolved quote alone can't carry the
// two-sided gap Run computes independently.
type GapUpdater struct {
	ChainID  int64
	Watcher  *price.Watcher
	Adaptive *adaptive.Controller
	Pairs    []GapPair
	Interval time.Duration
	Log      zerolog.Logger
}

// Observe implements price.VolatilitySink.
func (g *GapUpdater) Observe(token string, priceUsd float64, observedAt time.Time) {
	g.Log.Debug().Str("token", token).Float64("price_usd", priceUsd).Msg("price observed")
}

// Run ticks every Interval until ctx is cancelled, observing one gap per
// tracked pair per tick. A no-op if no pairs are configured for the
// chain (e.g. fewer than two priced tokens).
func (g *GapUpdater) Run(ctx context.Context) {
	if len(g.Pairs) == 0 {
		return
	}

	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pair := range g.Pairs {
				g.observe(ctx, pair)
			}
		}
	}
}

func (g *GapUpdater) observe(ctx context.Context, pair GapPair) {
	oracleDebt, ok := g.Watcher.OracleQuoteUsd(ctx, pair.DebtToken)
	if !ok {
		return
	}
	oracleCollateral, ok := g.Watcher.OracleQuoteUsd(ctx, pair.CollateralToken)
	if !ok || oracleCollateral <= 0 {
		return
	}
	marketDebt, ok := g.Watcher.MarketQuoteUsd(ctx, pair.DebtToken)
	if !ok {
		return
	}
	marketCollateral, ok := g.Watcher.MarketQuoteUsd(ctx, pair.CollateralToken)
	if !ok || marketCollateral <= 0 {
		return
	}

	oracleRate := oracleDebt / oracleCollateral
	if oracleRate <= 0 {
		return
	}
	marketRate := marketDebt / marketCollateral
	gapBps := (oracleRate - marketRate) / oracleRate * 10_000

	state := g.Adaptive.ObserveGap(g.ChainID, pair.AssetKey, gapBps)
	g.Log.Debug().
		Str("asset_key", pair.AssetKey).
		Float64("gap_bps", gapBps).
		Float64("hf_max", state.HealthFactorMax).
		Float64("gap_cap_bps", state.GapCapBps).
		Msg("adaptive gap observed")
}
