package engine

import (
	"context"

	"github.com/blackholelabs/liqd/internal/chain"
	"github.com/blackholelabs/liqd/internal/price"
)

// WatcherPriceLookup adapts a price.Watcher's context-aware PriceUsd to
// policy.PriceLookup's synchronous signature, using context.Background()
// since admission checks run inline with candidate intake and have no
// caller deadline of their own.
type WatcherPriceLookup struct {
	Watcher *price.Watcher
}

// PriceUsd implements policy.PriceLookup.
func (w WatcherPriceLookup) PriceUsd(token string) (float64, bool) {
	quote, ok := w.Watcher.PriceUsd(context.Background(), token)
	if !ok {
		return 0, false
	}
	return quote.PriceUsd, true
}

// StateSequencerChecker adapts a chain.State's single-chain SequencerOk
// reading to policy.SequencerChecker's per-chainID signature; each
// ChainRuntime's policy Engine only ever asks about its own chain.
type StateSequencerChecker struct {
	State *chain.State
}

// SequencerOk implements policy.SequencerChecker.
func (s StateSequencerChecker) SequencerOk(chainID int64) bool {
	return s.State.SequencerOk()
}

// WatcherNativePricer adapts a price.Watcher to execute.NativePricer,
// letting the execution coordinator price a mined receipt's actual gas
// cost off the same feeds admission checks already use.
type WatcherNativePricer struct {
	Watcher *price.Watcher
}

// NativePriceUsd implements execute.NativePricer.
func (w WatcherNativePricer) NativePriceUsd(ctx context.Context, token string) (float64, bool) {
	quote, ok := w.Watcher.PriceUsd(ctx, token)
	if !ok {
		return 0, false
	}
	return quote.PriceUsd, true
}
