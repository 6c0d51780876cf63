// Package engine is the top-level orchestrator: it wires one
// ChainRuntime's intake, policy, pricer, simulator, and execution
// coordinator into a running pipeline and owns the per-chain long-lived
// goroutines the rest of the engine only reacts within, generalized from
// one chain to N chains each running the full candidate->plan->execution
// pipeline.
package engine

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/blackholelabs/liqd/internal/adaptive"
	"github.com/blackholelabs/liqd/internal/candidate"
	"github.com/blackholelabs/liqd/internal/chain"
	"github.com/blackholelabs/liqd/internal/execute"
	"github.com/blackholelabs/liqd/internal/ledger"
	"github.com/blackholelabs/liqd/internal/policy"
	"github.com/blackholelabs/liqd/internal/price"
	"github.com/blackholelabs/liqd/internal/simulate"
	"github.com/blackholelabs/liqd/internal/types"
	"github.com/rs/zerolog"
)

// ChainRuntime bundles every collaborator one chain's pipeline needs.
// Engine owns none of their internals; it only calls their public
// surfaces in pipeline order.
type ChainRuntime struct {
	ChainID int64
	Name    string

	Intake        *candidate.Intake
	Policy        *policy.Engine
	Adaptive      *adaptive.Controller
	PriceWatcher  *price.Watcher
	SequencerGate *chain.SequencerGate // nil if the chain has no sequencer feed configured
	State         *chain.State
	Coordinator   *execute.Coordinator
	GasSource     execute.GasPriceSource
	GapUpdater    *GapUpdater // nil if the chain has fewer than two priced tokens to track a pair for

	Quoter           simulate.Quoter
	Routers          []simulate.RouterConfig
	NativeToken      string
	SlippageBps      int
	GasUnitsEstimate uint64
	SafetyMarginBps  int
	MinNetUsd        float64
	PnlMultipleMin   float64
	DeadlineSeconds  int
	CloseFactorBps   int
	LiquidationBonus float64
	BaseHfMax        float64

	// AssetKey groups a Candidate into the adaptive controller's
	// (chain, assetKey) bucket; defaults to "debtToken/collateralToken"
	// when nil.
	AssetKey func(types.Candidate) string
}

func (rt *ChainRuntime) assetKey(c types.Candidate) string {
	if rt.AssetKey != nil {
		return rt.AssetKey(c)
	}
	return c.AssetKey()
}

// Engine runs every registered chain's pipeline concurrently and answers
// health queries backed by the shared ledger.
type Engine struct {
	chains           map[int64]*ChainRuntime
	ledger           *ledger.Ledger
	log              zerolog.Logger
	gracefulShutdown time.Duration
}

// NewEngine builds an orchestrator sharing one Ledger across all chains.
func NewEngine(ledg *ledger.Ledger, gracefulShutdown time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		chains:           make(map[int64]*ChainRuntime),
		ledger:           ledg,
		log:              log.With().Str("component", "engine").Logger(),
		gracefulShutdown: gracefulShutdown,
	}
}

// AddChain registers a chain's runtime; call before Run.
func (e *Engine) AddChain(rt *ChainRuntime) {
	e.chains[rt.ChainID] = rt
}

// Run starts every long-lived task — one intake per chain, one
// sequencer poller per chain with a feed configured, one adaptive-gap
// updater per chain with a pair to track, one execution coordinator per
// chain, and one ledger writer for the whole process — and blocks until
// ctx is cancelled. On cancellation it lets every task drain its queue up
// to gracefulShutdown, then returns.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.ledger.Run(ctx)
	}()

	for _, rt := range e.chains {
		rt := rt

		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Intake.Run(ctx)
		}()

		if rt.SequencerGate != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rt.SequencerGate.Run(ctx)
			}()
		}

		if rt.GapUpdater != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rt.GapUpdater.Run(ctx)
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Coordinator.Run(ctx)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runPipeline(ctx, rt)
		}()
	}

	<-ctx.Done()
	e.log.Info().Msg("shutdown requested, draining in-flight work")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info().Msg("shutdown complete")
	case <-time.After(e.gracefulShutdown):
		e.log.Warn().Msg("graceful shutdown deadline exceeded, exiting with work still draining")
	}
}

// runPipeline is the per-chain consumer: Candidate -> Policy -> Simulator
// -> Coordinator, with every rejection recorded directly to the ledger
// (only accepted Plans flow through the Coordinator, which records its
// own outcomes).
func (e *Engine) runPipeline(ctx context.Context, rt *ChainRuntime) {
	log := e.log.With().Int64("chain_id", rt.ChainID).Logger()

	for {
		select {
		case c, ok := <-rt.Intake.Candidates():
			if !ok {
				return
			}
			e.processCandidate(ctx, rt, c, &log)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) processCandidate(ctx context.Context, rt *ChainRuntime, c types.Candidate, log *zerolog.Logger) {
	hfMax := rt.BaseHfMax
	if rt.Adaptive != nil {
		hfMax = rt.Adaptive.HealthFactorMax(rt.ChainID, rt.assetKey(c), rt.BaseHfMax)
	}

	decision := rt.Policy.Admit(c, hfMax)
	if !decision.Admitted {
		e.recordRejection(ctx, rt, c, decision.Reason)
		return
	}

	inputs, err := buildSimInputs(ctx, rt, c)
	if err != nil {
		log.Warn().Err(err).Str("candidate_id", c.ID).Msg("missing price inputs, dropping candidate")
		e.recordRejection(ctx, rt, c, "policy_skip:price-missing")
		return
	}

	result := simulate.Simulate(ctx, c, inputs)
	if result.Plan == nil {
		e.recordRejection(ctx, rt, c, string(result.Reject))
		return
	}

	rt.Coordinator.Submit(ctx, c, result.Plan)
}

func (e *Engine) recordRejection(ctx context.Context, rt *ChainRuntime, c types.Candidate, reason string) {
	e.ledger.Record(ctx, types.ExecutionAttempt{
		ChainID:         rt.ChainID,
		CandidateDigest: c.DedupKey().String(),
		Status:          types.StatusRejected,
		Reason:          reason,
		CreatedAt:       time.Now(),
	})
}

// buildSimInputs resolves live prices and assembles a simulate.Inputs for
// one Candidate; returns an error if any mission-critical price is
// unavailable.
func buildSimInputs(ctx context.Context, rt *ChainRuntime, c types.Candidate) (simulate.Inputs, error) {
	debtQuote, ok := rt.PriceWatcher.PriceUsd(ctx, c.Debt.Token)
	if !ok {
		return simulate.Inputs{}, errMissingPrice(c.Debt.Token)
	}
	collateralQuote, ok := rt.PriceWatcher.PriceUsd(ctx, c.Collateral.Token)
	if !ok {
		return simulate.Inputs{}, errMissingPrice(c.Collateral.Token)
	}
	nativeQuote, ok := rt.PriceWatcher.PriceUsd(ctx, rt.NativeToken)
	if !ok {
		return simulate.Inputs{}, errMissingPrice(rt.NativeToken)
	}

	var gasPrice *big.Int
	if rt.GasSource != nil {
		if gp, err := rt.GasSource.GasPriceInputs(ctx); err == nil {
			gasPrice = chain.ComputeGasPrice(gp)
		}
	}
	if gasPrice == nil {
		gasPrice = rt.State.LastGasPrice()
	}

	return simulate.Inputs{
		DebtPriceUsd:       debtQuote.PriceUsd,
		CollateralPriceUsd: collateralQuote.PriceUsd,
		NativePriceUsd:     nativeQuote.PriceUsd,
		LiquidationBonus:   rt.LiquidationBonus,
		CloseFactorBps:     rt.CloseFactorBps,
		Routers:            rt.Routers,
		Quoter:             rt.Quoter,
		SlippageBps:        rt.SlippageBps,
		GasUnitsEstimate:   rt.GasUnitsEstimate,
		GasPriceWei:        gasPrice,
		SafetyMarginBps:    rt.SafetyMarginBps,
		MinNetUsd:          rt.MinNetUsd,
		PnlMultipleMin:     rt.PnlMultipleMin,
		DeadlineSeconds:    rt.DeadlineSeconds,
		Adaptive:           rt.Adaptive,
		AssetKey:           rt.assetKey(c),
		BaseHfMax:          rt.BaseHfMax,
	}, nil
}

// HealthSnapshot summarizes one chain's recent activity for a liveness
// or status endpoint.
type HealthSnapshot struct {
	Up                 bool
	LastAttemptAt      time.Time
	Successes1h        int
	Reverts1h          int
	RejectionsByReason map[string]int
}

// Health reports a HealthSnapshot for chainID derived from the shared
// ledger's last hour of recorded attempts plus the chain's sequencer
// state. Returns the zero value if chainID is not registered.
func (e *Engine) Health(chainID int64) HealthSnapshot {
	rt, ok := e.chains[chainID]
	if !ok {
		return HealthSnapshot{}
	}

	snapshot := HealthSnapshot{
		Up:                 rt.SequencerGate == nil || rt.State.SequencerOk(),
		RejectionsByReason: make(map[string]int),
	}

	for _, attempt := range e.ledger.Since(time.Now().Add(-time.Hour)) {
		if attempt.ChainID != chainID {
			continue
		}
		if attempt.CreatedAt.After(snapshot.LastAttemptAt) {
			snapshot.LastAttemptAt = attempt.CreatedAt
		}
		switch attempt.Status {
		case types.StatusMinedOK:
			snapshot.Successes1h++
		case types.StatusMinedRevert:
			snapshot.Reverts1h++
		case types.StatusRejected, types.StatusTimeout:
			snapshot.RejectionsByReason[attempt.Reason]++
		}
	}

	return snapshot
}

type missingPriceError struct{ token string }

func (e missingPriceError) Error() string { return "missing price for token " + e.token }

func errMissingPrice(token string) error { return missingPriceError{token: token} }
