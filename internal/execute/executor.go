// Package execute is the per-chain execution coordinator: one actor per
// chain that receives accepted Plans, revalidates them, allocates a
// nonce, prices gas, submits a single atomic call to the executor
// contract, and waits for confirmation, recording exactly one
// ExecutionAttempt per Plan. It owns no state of its own beyond the
// chain.State it's handed — every mutation runs on the coordinator's
// own goroutine for that chain, so nonce and in-flight bookkeeping
// never need locking.
package execute

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blackholelabs/liqd/internal/chain"
	"github.com/blackholelabs/liqd/internal/enginerr"
	"github.com/blackholelabs/liqd/internal/types"
	"github.com/blackholelabs/liqd/internal/util"
	"github.com/blackholelabs/liqd/pkg/contractclient"
	"github.com/blackholelabs/liqd/pkg/txlistener"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultTxTimeout  = 30 * time.Second
	defaultGasBumpPct = 15
)

// Revalidator re-runs the simulator at submission time against fresh
// prices and reports whether the Plan is still profitable enough to
// submit. A revalidation that finds the Plan has gone stale returns
// ok=false with no error.
type Revalidator interface {
	Revalidate(ctx context.Context, c types.Candidate, plan *types.Plan) (ok bool, err error)
}

// ExecutorContract is the narrow surface an ExecutionAttempt submits
// against: one atomic liquidate call and receipt parsing.
type ExecutorContract interface {
	contractclient.ContractClient
}

// Recorder persists one ExecutionAttempt. Implemented by internal/ledger.
type Recorder interface {
	Record(ctx context.Context, attempt types.ExecutionAttempt)
}

// GasPriceSource supplies the current fee-market reads a Coordinator
// combines into a submission gas price.
type GasPriceSource interface {
	GasPriceInputs(ctx context.Context) (chain.GasPriceInputs, error)
}

// NativePricer supplies the chain's native gas token's current USD price,
// used to convert a mined receipt's actual gas cost into a realized
// profit figure. Optional: a Coordinator with no NativePricer configured
// records ExecutionAttempts with RealizedProfitUsd left nil.
type NativePricer interface {
	NativePriceUsd(ctx context.Context, token string) (float64, bool)
}

// Coordinator is a single chain's execution actor: one serial queue of
// accepted Plans, revalidated and submitted one at a time. It is not
// safe for concurrent use by more than one goroutine — exactly one
// goroutine per chain should call Submit/Run.
type Coordinator struct {
	ChainID int64

	state       *chain.State
	contract    ExecutorContract
	listener    txlistener.TxListener
	nonceSource chain.NonceSource
	gasSource   GasPriceSource
	revalidator Revalidator
	recorder    Recorder
	log         zerolog.Logger

	txTimeout  time.Duration
	gasBumpPct int

	nativePricer NativePricer
	nativeToken  string

	queue chan submission
}

type submission struct {
	candidate types.Candidate
	plan      *types.Plan
}

// NewCoordinator builds a Coordinator for one chain. queueCapacity bounds
// the number of Plans buffered ahead of the chain's concurrent-execution
// limit; Submit blocks once the queue is full.
func NewCoordinator(
	chainID int64,
	state *chain.State,
	contractClient ExecutorContract,
	listener txlistener.TxListener,
	nonceSource chain.NonceSource,
	gasSource GasPriceSource,
	revalidator Revalidator,
	recorder Recorder,
	log zerolog.Logger,
	queueCapacity int,
) *Coordinator {
	if queueCapacity <= 0 {
		queueCapacity = 1
	}
	return &Coordinator{
		ChainID:     chainID,
		state:       state,
		contract:    contractClient,
		listener:    listener,
		nonceSource: nonceSource,
		gasSource:   gasSource,
		revalidator: revalidator,
		recorder:    recorder,
		log:         log.With().Int64("chain_id", chainID).Str("component", "execute").Logger(),
		txTimeout:   defaultTxTimeout,
		gasBumpPct:  defaultGasBumpPct,
		queue:       make(chan submission, queueCapacity),
	}
}

// WithTxTimeout overrides the default per-submission confirmation
// timeout before a gas-bumped resubmission is attempted.
func (co *Coordinator) WithTxTimeout(d time.Duration) *Coordinator {
	co.txTimeout = d
	return co
}

// WithNativePricer enables realized-profit accounting: once set, every
// mined ExecutionAttempt's RealizedProfitUsd is computed from the
// receipt's actual gas cost rather than left nil.
func (co *Coordinator) WithNativePricer(nativeToken string, pricer NativePricer) *Coordinator {
	co.nativeToken = nativeToken
	co.nativePricer = pricer
	return co
}

// Submit enqueues an accepted Plan for execution. Blocks if the queue is
// full, matching the engine's backpressure-not-drop policy. Returns
// false without enqueuing if the candidate's dedup key is already
// in-flight on this chain (`policy_skip:in-flight`).
func (co *Coordinator) Submit(ctx context.Context, c types.Candidate, plan *types.Plan) bool {
	dedupKey := c.DedupKey().String()
	if !co.state.MarkInFlight(dedupKey) {
		co.recordRejected(ctx, c, plan, "policy_skip:in-flight")
		return false
	}

	select {
	case co.queue <- submission{candidate: c, plan: plan}:
		return true
	case <-ctx.Done():
		co.state.ClearInFlight(dedupKey)
		return false
	}
}

// Run drains the submission queue one at a time until ctx is cancelled
// and the queue is empty, matching "within a chain, ExecutionAttempts
// for the same dedup key are serialized" and, since this Coordinator
// processes its whole queue on one goroutine, all attempts on the chain.
func (co *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case sub, ok := <-co.queue:
			if !ok {
				return
			}
			co.execute(ctx, sub.candidate, sub.plan)
		case <-ctx.Done():
			co.drain(ctx)
			return
		}
	}
}

// drain processes whatever is already queued after ctx is cancelled, up
// to the caller's own deadline, so graceful shutdown doesn't abandon
// in-flight plans mid-nonce-allocation.
func (co *Coordinator) drain(ctx context.Context) {
	for {
		select {
		case sub, ok := <-co.queue:
			if !ok {
				return
			}
			co.execute(context.Background(), sub.candidate, sub.plan)
		default:
			return
		}
	}
}

func (co *Coordinator) execute(ctx context.Context, c types.Candidate, plan *types.Plan) {
	dedupKey := c.DedupKey().String()
	defer co.state.ClearInFlight(dedupKey)

	log := co.log.With().Str("candidate_id", c.ID).Logger()

	ok, err := co.revalidator.Revalidate(ctx, c, plan)
	if err != nil {
		log.Warn().Err(err).Msg("revalidation failed, treating as stale")
		co.recordRejected(ctx, c, plan, "plan-null:revalidation")
		return
	}
	if !ok {
		log.Info().Msg("plan no longer profitable at submission time")
		co.recordRejected(ctx, c, plan, "plan-null:revalidation")
		return
	}

	attempt := types.ExecutionAttempt{
		ID:              uuid.NewString(),
		ChainID:         co.ChainID,
		CandidateDigest: dedupKey,
		Plan:            plan,
		Status:          types.StatusSimulated,
		CreatedAt:       time.Now(),
	}

	nonce, err := co.state.AllocateNonce(ctx, co.nonceSource)
	if err != nil {
		log.Error().Err(err).Msg("nonce allocation failed")
		attempt.Status = types.StatusRejected
		attempt.Reason = "fatal:nonce"
		co.recorder.Record(ctx, attempt)
		return
	}

	gasPrice, err := co.priceGas(ctx)
	if err != nil {
		log.Error().Err(err).Msg("gas pricing failed")
		attempt.Status = types.StatusRejected
		attempt.Reason = "fatal:gas-price"
		co.recorder.Record(ctx, attempt)
		return
	}
	co.state.SetLastGasPrice(gasPrice)

	tx, receipt, status, reason := co.submitAndConfirm(ctx, c, plan, nonce, gasPrice, &log)
	attempt.Status = status
	attempt.Reason = reason
	if tx != nil {
		attempt.TxHash = tx.Hash().Hex()
	}
	if receipt != nil {
		parsed, err := co.contract.ParseReceipt(receipt)
		if err == nil {
			attempt.GasUsed = new(big.Int).SetUint64(parsed.GasUsed)
			if parsed.Status == 0 {
				attempt.Status = types.StatusMinedRevert
			}
			attempt.RealizedProfitUsd = co.realizedProfitUsd(ctx, receipt, plan)
		}
	}

	co.recorder.Record(ctx, attempt)
}

// realizedProfitUsd decodes the mined receipt's actual gas cost and
// nets it against the plan's gross profit, so a real fee spike or a
// cheaper-than-estimated confirmation is reflected in what was actually
// realized rather than what was projected at simulation time.
func (co *Coordinator) realizedProfitUsd(ctx context.Context, receipt *gethtypes.Receipt, plan *types.Plan) *float64 {
	if co.nativePricer == nil {
		return nil
	}
	nativePriceUsd, ok := co.nativePricer.NativePriceUsd(ctx, co.nativeToken)
	if !ok {
		return nil
	}
	gasCostWei := util.ExtractGasCost(receipt)
	gasCostNative := new(big.Float).Quo(new(big.Float).SetInt(gasCostWei), big.NewFloat(1e18))
	gasCostUsd, _ := new(big.Float).Mul(gasCostNative, big.NewFloat(nativePriceUsd)).Float64()

	realized := plan.GrossProfitUsd - gasCostUsd
	return &realized
}

func (co *Coordinator) priceGas(ctx context.Context) (*big.Int, error) {
	inputs, err := co.gasSource.GasPriceInputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("read gas price inputs: %w", err)
	}
	return chain.ComputeGasPrice(inputs), nil
}

// submitAndConfirm encodes and sends the liquidate call, then waits for
// a receipt with one gas-bumped resubmission on first timeout.
func (co *Coordinator) submitAndConfirm(
	ctx context.Context,
	c types.Candidate,
	plan *types.Plan,
	nonce uint64,
	gasPrice *big.Int,
	log *zerolog.Logger,
) (*gethtypes.Transaction, *gethtypes.Receipt, types.AttemptStatus, string) {
	args := liquidateArgs(c, plan)

	tx, err := co.contract.SendRaw(types.SendPublicRPC, 0, &nonce, gasPrice, co.state.Signer, "liquidate", args...)
	if err != nil {
		log.Warn().Err(err).Msg("initial submission failed")
		return nil, nil, types.StatusRejected, "revert_on_chain:submit"
	}

	waitCtx, cancel := context.WithTimeout(ctx, co.txTimeout)
	receipt, err := co.listener.WaitForTransaction(waitCtx, tx.Hash())
	cancel()
	if err == nil {
		return tx, receipt, types.StatusMinedOK, ""
	}
	if !errors.Is(err, txlistener.ErrTimeout) {
		log.Warn().Err(err).Str("kind", classifyErr(err).String()).Msg("wait for receipt failed")
		return tx, nil, types.StatusRejected, "transient_network:wait"
	}

	// First timeout: bump gas once and resubmit under the same nonce.
	log.Info().Str("tx_hash", tx.Hash().Hex()).Msg("tx timed out, resubmitting with bumped gas")
	bumped := chain.BumpGasPrice(gasPrice, co.gasBumpPct)
	resubmitTx, err := co.contract.SendRaw(types.SendPublicRPC, 0, &nonce, bumped, co.state.Signer, "liquidate", args...)
	if err != nil {
		log.Warn().Err(err).Msg("resubmission failed")
		return tx, nil, types.StatusTimeout, "timeout"
	}

	waitCtx2, cancel2 := context.WithTimeout(ctx, co.txTimeout)
	defer cancel2()
	receipt, err = co.listener.WaitForTransaction(waitCtx2, resubmitTx.Hash())
	if err == nil {
		return resubmitTx, receipt, types.StatusMinedOK, ""
	}

	log.Warn().Str("tx_hash", resubmitTx.Hash().Hex()).Msg("second timeout, freeing nonce")
	return resubmitTx, nil, types.StatusTimeout, "timeout"
}

// liquidateArgs builds the argument list for the executor contract's
// liquidate(params, swapData, flashToken, flashAmount, minOut, deadline)
// method from a Plan, per SPEC_FULL.md §10.3's ABI surface.
func liquidateArgs(c types.Candidate, plan *types.Plan) []any {
	var router, pool string
	var feeBps int
	if len(plan.Route) > 0 {
		hop := plan.Route[0]
		router, pool, feeBps = hop.Router, hop.Pool, hop.FeeBps
	}

	swapData := map[string]any{
		"router": router,
		"pool":   pool,
		"feeBps": feeBps,
	}
	minOut := new(big.Int).Set(plan.SeizedCollateral)

	return []any{
		map[string]any{
			"borrower":   c.Borrower,
			"debtToken":  c.Debt.Token,
			"collateral": c.Collateral.Token,
			"marketId":   c.MarketID,
		},
		swapData,
		c.Debt.Token,
		plan.RepayAmount,
		minOut,
		int64(plan.DeadlineSeconds),
	}
}

func (co *Coordinator) recordRejected(ctx context.Context, c types.Candidate, plan *types.Plan, reason string) {
	co.recorder.Record(ctx, types.ExecutionAttempt{
		ID:              uuid.NewString(),
		ChainID:         co.ChainID,
		CandidateDigest: c.DedupKey().String(),
		Plan:            plan,
		Status:          types.StatusRejected,
		Reason:          reason,
		CreatedAt:       time.Now(),
	})
}

// classifyErr maps an error surfaced from a collaborator into the
// execution coordinator's own reaction, used by callers that need to
// decide retry-vs-halt outside the happy path above.
func classifyErr(err error) enginerr.Kind {
	return enginerr.KindOf(err)
}
