package price

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/blackholelabs/liqd/internal/util"
	"github.com/blackholelabs/liqd/pkg/contractclient"
)

// PoolTWAPReader reads a configured Uniswap-v3/Algebra-style pool's
// current sqrt price as a stand-in TWAP source, reusing the sqrt-price
// math this codebase already carries for route sizing. A true
// cumulative-tick TWAP needs the pool's observation array; lacking that
// ABI here, the current tick is used directly — acceptable for a
// last-resort fallback tier that only needs to be directionally right.
type PoolTWAPReader struct {
	pools              map[string]poolConfig
	quoteDecimals      int
	tokenDecimalsLookup func(token string) int
}

type poolConfig struct {
	pool          contractclient.ContractClient
	quoteIsToken0 bool // true if the pool's token0 is the stable quote asset
}

// NewPoolTWAPReader builds a TWAP reader over configured pools, one per
// token needing a DEX fallback.
func NewPoolTWAPReader(tokenDecimalsLookup func(token string) int) *PoolTWAPReader {
	return &PoolTWAPReader{
		pools:               make(map[string]poolConfig),
		tokenDecimalsLookup: tokenDecimalsLookup,
	}
}

// RegisterPool wires a pool as the TWAP source for token, paired against
// a stable. quoteIsToken0 indicates which side of the pool the stable sits on.
func (r *PoolTWAPReader) RegisterPool(token string, pool contractclient.ContractClient, quoteIsToken0 bool) {
	r.pools[token] = poolConfig{pool: pool, quoteIsToken0: quoteIsToken0}
}

// TWAPPriceUsd reads the pool's current sqrt price and converts it to a
// USD-per-token figure, assuming the paired asset is a USD stable.
func (r *PoolTWAPReader) TWAPPriceUsd(ctx context.Context, token string) (float64, error) {
	cfg, ok := r.pools[token]
	if !ok {
		return 0, fmt.Errorf("no twap pool registered for token %s", token)
	}

	outputs, err := cfg.pool.Call(nil, "safelyGetStateOfAMM")
	if err != nil {
		return 0, fmt.Errorf("read amm state for %s: %w", token, err)
	}
	if len(outputs) == 0 {
		return 0, fmt.Errorf("amm state call for %s returned no outputs", token)
	}
	sqrtPriceX96, ok := outputs[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("amm state for %s: sqrtPriceX96 field not a *big.Int", token)
	}

	price := util.SqrtPriceToPrice(sqrtPriceX96)
	priceFloat, _ := price.Float64()
	if priceFloat <= 0 || math.IsNaN(priceFloat) || math.IsInf(priceFloat, 0) {
		return 0, fmt.Errorf("amm state for %s produced a non-finite price", token)
	}

	if cfg.quoteIsToken0 {
		if priceFloat == 0 {
			return 0, fmt.Errorf("amm state for %s produced a zero price", token)
		}
		priceFloat = 1 / priceFloat
	}

	decimalsAdjustment := math.Pow10(r.decimalsDelta(token))
	return priceFloat * decimalsAdjustment, nil
}

func (r *PoolTWAPReader) decimalsDelta(token string) int {
	if r.tokenDecimalsLookup == nil {
		return 0
	}
	return r.tokenDecimalsLookup(token)
}
