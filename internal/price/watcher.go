// Package price resolves a token's USD price through an oracle-first
// fallback chain: cache -> Chainlink proxy (with ETH-denominated-feed
// recursion) -> lending-protocol subgraph -> DEX TWAP.
package price

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/blackholelabs/liqd/internal/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// FeedDenomination is the unit a Chainlink aggregator reports in.
type FeedDenomination string

const (
	DenominationUSD FeedDenomination = "usd"
	DenominationETH FeedDenomination = "eth"
)

// FeedMeta describes one token's configured Chainlink aggregator.
type FeedMeta struct {
	Token        string
	Denomination FeedDenomination
	IsWETH       bool // forbids ETH denomination recursion on the WETH token itself
}

// ChainlinkReader reads a Chainlink-style aggregator's latest round.
type ChainlinkReader interface {
	LatestRoundData(ctx context.Context, token string) (answer *big.Int, decimals uint8, updatedAt time.Time, err error)
}

// SubgraphPriceReader reads a protocol subgraph's cached asset price.
type SubgraphPriceReader interface {
	AssetPriceUsd(ctx context.Context, token string) (float64, error)
}

// DexTWAPReader reads a configured DEX pool's time-weighted price for a
// token paired with a stable.
type DexTWAPReader interface {
	TWAPPriceUsd(ctx context.Context, token string) (float64, error)
}

// VolatilitySink receives every successful quote for the adaptive
// controller's EWMA input.
type VolatilitySink interface {
	Observe(token string, priceUsd float64, observedAt time.Time)
}

const (
	cacheFreshWindow = 15 * time.Second
	priceMaxAge      = 60 * time.Second
)

type cachedQuote struct {
	quote types.PriceQuote
}

// Watcher resolves a token's USD price through the fallback chain above.
type Watcher struct {
	chainID    int64
	cache      *lru.Cache[string, cachedQuote]
	feeds      map[string]FeedMeta
	chainlink  ChainlinkReader
	subgraph   SubgraphPriceReader
	dexTwap    DexTWAPReader
	volatility VolatilitySink
	log        zerolog.Logger
}

// NewWatcher builds a price watcher for one chain. feeds maps token
// address (lowercase) to its Chainlink feed metadata; a token with no
// entry skips straight to the subgraph fallback.
func NewWatcher(chainID int64, cacheSize int, feeds map[string]FeedMeta, chainlink ChainlinkReader, subgraph SubgraphPriceReader, dexTwap DexTWAPReader, volatility VolatilitySink, log zerolog.Logger) (*Watcher, error) {
	cache, err := lru.New[string, cachedQuote](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("build price cache: %w", err)
	}
	return &Watcher{
		chainID:    chainID,
		cache:      cache,
		feeds:      feeds,
		chainlink:  chainlink,
		subgraph:   subgraph,
		dexTwap:    dexTwap,
		volatility: volatility,
		log:        log.With().Str("component", "price-watcher").Int64("chain_id", chainID).Logger(),
	}, nil
}

// PriceUsd returns token's current USD price, or (types.PriceQuote{},
// false) if no source in the fallback chain produced one. allowEthRecursion
// must be true on the top-level call and is forced false on the single
// permitted recursive ETH-denominated-feed lookup, so the recursion
// cannot self-cycle.
func (w *Watcher) PriceUsd(ctx context.Context, token string) (types.PriceQuote, bool) {
	return w.priceUsd(ctx, token, true)
}

func (w *Watcher) priceUsd(ctx context.Context, token string, allowEthRecursion bool) (types.PriceQuote, bool) {
	if cached, ok := w.cache.Get(token); ok {
		if time.Since(cached.quote.ObservedAt) < cacheFreshWindow {
			return cached.quote, true
		}
	}

	quote, ok := w.fromChainlink(ctx, token, allowEthRecursion)
	if !ok {
		quote, ok = w.fromSubgraph(ctx, token)
	}
	if !ok {
		quote, ok = w.fromDexTwap(ctx, token)
	}
	if !ok {
		w.log.Warn().Str("token", token).Msg("no price source produced a quote")
		return types.PriceQuote{}, false
	}

	if !quote.Valid() || time.Since(quote.ObservedAt) > priceMaxAge {
		return types.PriceQuote{}, false
	}

	w.cache.Add(token, cachedQuote{quote: quote})
	if w.volatility != nil {
		w.volatility.Observe(token, quote.PriceUsd, quote.ObservedAt)
	}
	return quote, true
}

func (w *Watcher) fromChainlink(ctx context.Context, token string, allowEthRecursion bool) (types.PriceQuote, bool) {
	if w.chainlink == nil {
		return types.PriceQuote{}, false
	}
	meta, hasFeed := w.feeds[token]
	if !hasFeed {
		return types.PriceQuote{}, false
	}

	answer, decimals, updatedAt, err := w.chainlink.LatestRoundData(ctx, token)
	if err != nil || answer == nil || answer.Sign() <= 0 {
		w.log.Warn().Str("token", token).Err(err).Msg("chainlink feed read failed, falling back")
		return types.PriceQuote{}, false
	}

	raw := new(big.Float).SetInt(answer)
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	raw.Quo(raw, scale)
	rawPrice, _ := raw.Float64()

	if meta.Denomination == DenominationUSD {
		return types.PriceQuote{Token: token, PriceUsd: rawPrice, Source: types.SourceChainlink, ObservedAt: updatedAt}, true
	}

	// ETH-denominated feed: recurse once for WETH/USD, forbidden on WETH itself.
	if meta.IsWETH || !allowEthRecursion {
		w.log.Warn().Str("token", token).Msg("eth-denominated feed recursion blocked (self-cycle guard)")
		return types.PriceQuote{}, false
	}

	wethQuote, ok := w.priceUsd(ctx, wethToken(w.feeds), false)
	if !ok {
		return types.PriceQuote{}, false
	}

	return types.PriceQuote{
		Token:      token,
		PriceUsd:   rawPrice * wethQuote.PriceUsd,
		Source:     types.SourceChainlinkEthConverted,
		ObservedAt: updatedAt,
	}, true
}

func (w *Watcher) fromSubgraph(ctx context.Context, token string) (types.PriceQuote, bool) {
	if w.subgraph == nil {
		return types.PriceQuote{}, false
	}
	p, err := w.subgraph.AssetPriceUsd(ctx, token)
	if err != nil || p <= 0 {
		return types.PriceQuote{}, false
	}
	return types.PriceQuote{Token: token, PriceUsd: p, Source: types.SourceSubgraph, ObservedAt: time.Now()}, true
}

func (w *Watcher) fromDexTwap(ctx context.Context, token string) (types.PriceQuote, bool) {
	if w.dexTwap == nil {
		return types.PriceQuote{}, false
	}
	p, err := w.dexTwap.TWAPPriceUsd(ctx, token)
	if err != nil || p <= 0 {
		return types.PriceQuote{}, false
	}
	return types.PriceQuote{Token: token, PriceUsd: p, Source: types.SourceDexTWAP, ObservedAt: time.Now()}, true
}

// OracleQuoteUsd returns only the Chainlink-sourced price for token,
// skipping the subgraph/DEX fallback chain entirely, so a caller can
// compare it against an independent on-chain source.
func (w *Watcher) OracleQuoteUsd(ctx context.Context, token string) (float64, bool) {
	quote, ok := w.fromChainlink(ctx, token, true)
	if !ok {
		return 0, false
	}
	return quote.PriceUsd, true
}

// MarketQuoteUsd returns the subgraph/DEX-TWAP price for token, skipping
// Chainlink — the independent on-chain source OracleQuoteUsd is compared
// against to measure the oracle-vs-DEX gap the adaptive controller tracks.
func (w *Watcher) MarketQuoteUsd(ctx context.Context, token string) (float64, bool) {
	quote, ok := w.fromSubgraph(ctx, token)
	if !ok {
		quote, ok = w.fromDexTwap(ctx, token)
	}
	if !ok {
		return 0, false
	}
	return quote.PriceUsd, true
}

func wethToken(feeds map[string]FeedMeta) string {
	for token, meta := range feeds {
		if meta.IsWETH {
			return token
		}
	}
	return ""
}
