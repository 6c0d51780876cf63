package simulate

import (
	"context"
	"math/big"
	"strings"

	"github.com/blackholelabs/liqd/internal/types"
)

// RouterConfig is one configured swap venue the simulator can quote
// against: a Uniswap-v3-style router at a given fee tier, a Balancer
// pool, or an aggregator.
type RouterConfig struct {
	Router   string
	Pool     string
	FeeBps   int
	Hops     int // 1 for a direct pool, >1 for a multi-hop aggregator route
}

// Quoter quotes amountOut for a given amountIn on one configured route.
// Returning an error classifies as a quoter revert for that route only;
// other routes are still tried.
type Quoter interface {
	Quote(ctx context.Context, route RouterConfig, tokenIn, tokenOut string, amountIn *big.Int) (amountOut *big.Int, err error)
}

// candidateRoute pairs a RouterConfig with its quoted output, for
// comparison under the tie-break rules below.
type candidateRoute struct {
	cfg       RouterConfig
	amountOut *big.Int
}

// BestRoute enumerates routers for tokenIn->tokenOut, quotes each at
// amountIn, and returns the route with the highest amountOut. Ties break
// on fewer hops, then lower fee tier, then lexicographically smaller
// router address, so route selection stays deterministic.
func BestRoute(ctx context.Context, quoter Quoter, routers []RouterConfig, tokenIn, tokenOut string, amountIn *big.Int) (types.RouteHop, *big.Int, bool) {
	var best *candidateRoute

	for _, cfg := range routers {
		amountOut, err := quoter.Quote(ctx, cfg, tokenIn, tokenOut, amountIn)
		if err != nil || amountOut == nil || amountOut.Sign() <= 0 {
			continue
		}
		candidate := candidateRoute{cfg: cfg, amountOut: amountOut}
		if best == nil || isBetterRoute(candidate, *best) {
			best = &candidate
		}
	}

	if best == nil {
		return types.RouteHop{}, nil, false
	}

	return types.RouteHop{
		Router:   best.cfg.Router,
		Pool:     best.cfg.Pool,
		FeeBps:   best.cfg.FeeBps,
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
	}, best.amountOut, true
}

func isBetterRoute(candidate, current candidateRoute) bool {
	cmp := candidate.amountOut.Cmp(current.amountOut)
	if cmp != 0 {
		return cmp > 0
	}
	if candidate.cfg.Hops != current.cfg.Hops {
		return candidate.cfg.Hops < current.cfg.Hops
	}
	if candidate.cfg.FeeBps != current.cfg.FeeBps {
		return candidate.cfg.FeeBps < current.cfg.FeeBps
	}
	return strings.ToLower(candidate.cfg.Router) < strings.ToLower(current.cfg.Router)
}
