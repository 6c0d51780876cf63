package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/blackholelabs/liqd/internal/enginerr"
	"github.com/blackholelabs/liqd/pkg/contractclient"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// SequencerGateConfig tunes the sequencer-uptime liveness window.
type SequencerGateConfig struct {
	PollInterval     time.Duration // default 30s
	RecoveryGraceSec int64         // default 60
	StaleAfterSec    int64         // default 120
}

// DefaultSequencerGateConfig returns the standard liveness-window defaults.
func DefaultSequencerGateConfig() SequencerGateConfig {
	return SequencerGateConfig{
		PollInterval:     30 * time.Second,
		RecoveryGraceSec: 60,
		StaleAfterSec:    120,
	}
}

// SequencerGate polls a Chainlink L2 sequencer-uptime feed and reports
// whether the chain is safe to submit transactions on. Chains with no
// configured feed (feed == nil) are always considered up.
type SequencerGate struct {
	chainState *State
	feed       contractclient.ContractClient
	cfg        SequencerGateConfig
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// NewSequencerGate builds a gate for chainState. feed may be nil when the
// chain has no configured sequencer-uptime oracle (single-sequencer L2s
// with no such feed, or L1s).
func NewSequencerGate(chainState *State, feed contractclient.ContractClient, cfg SequencerGateConfig, log zerolog.Logger) *SequencerGate {
	if feed == nil {
		chainState.SetSequencerOk(true)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("sequencer-feed-%d", chainState.ChainID),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &SequencerGate{
		chainState: chainState,
		feed:       feed,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		breaker:    breaker,
		log:        log.With().Str("component", "sequencer-gate").Int64("chain_id", chainState.ChainID).Logger(),
	}
}

// Run polls the sequencer feed at cfg.PollInterval until ctx is
// cancelled. Intended to run as one of the engine's long-lived tasks.
func (g *SequencerGate) Run(ctx context.Context) {
	if g.feed == nil {
		return
	}

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return
		}
		g.pollOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *SequencerGate) pollOnce(ctx context.Context) {
	result, err := g.breaker.Execute(func() (any, error) {
		outputs, err := g.feed.Call(nil, "latestRoundData")
		if err != nil {
			return nil, enginerr.New(enginerr.KindTransientNetwork, err)
		}
		return outputs, nil
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("sequencer feed read failed, leaving last-known state in place")
		return
	}

	outputs, ok := result.([]any)
	if !ok || len(outputs) < 4 {
		g.log.Warn().Msg("sequencer feed returned unexpected shape, leaving last-known state in place")
		return
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		g.log.Warn().Msg("sequencer feed answer field not an int, leaving last-known state in place")
		return
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		g.log.Warn().Msg("sequencer feed updatedAt field not an int, leaving last-known state in place")
		return
	}

	age := time.Now().Unix() - updatedAt.Int64()
	up := answer.Sign() == 0 && age >= g.cfg.RecoveryGraceSec && age <= g.cfg.StaleAfterSec

	if up != g.chainState.SequencerOk() {
		g.log.Info().Bool("up", up).Int64("age_sec", age).Msg("sequencer liveness changed")
	}
	g.chainState.SetSequencerOk(up)
}
