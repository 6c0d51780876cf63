package execute

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/blackholelabs/liqd/internal/chain"
	"github.com/blackholelabs/liqd/internal/types"
	"github.com/blackholelabs/liqd/pkg/contractclient"
	"github.com/blackholelabs/liqd/pkg/txlistener"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRevalidator struct {
	ok  bool
	err error
}

func (f *fakeRevalidator) Revalidate(ctx context.Context, c types.Candidate, plan *types.Plan) (bool, error) {
	return f.ok, f.err
}

type fakeRecorder struct {
	attempts []types.ExecutionAttempt
}

func (f *fakeRecorder) Record(ctx context.Context, attempt types.ExecutionAttempt) {
	f.attempts = append(f.attempts, attempt)
}

type fakeGasSource struct {
	inputs chain.GasPriceInputs
}

func (f *fakeGasSource) GasPriceInputs(ctx context.Context) (chain.GasPriceInputs, error) {
	return f.inputs, nil
}

type fakeNonceSource struct{ nonce uint64 }

func (f *fakeNonceSource) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

// fakeContract implements contractclient.ContractClient, recording every
// SendRaw call so tests can assert what nonce/gasPrice a resubmission used.
type fakeContract struct {
	sendCalls []sendCall
	txCounter int
}

type sendCall struct {
	nonce    *uint64
	gasPrice *big.Int
}

func (f *fakeContract) Call(caller *common.Address, method string, args ...any) ([]any, error) {
	return nil, nil
}

func (f *fakeContract) Send(mode types.TxSendMode, gasLimit uint64, from *ecdsa.PrivateKey, method string, args ...any) (*gethtypes.Transaction, error) {
	return f.SendRaw(mode, gasLimit, nil, nil, from, method, args...)
}

func (f *fakeContract) SendWithGasPrice(mode types.TxSendMode, gasLimit uint64, gasPrice *big.Int, from *ecdsa.PrivateKey, method string, args ...any) (*gethtypes.Transaction, error) {
	return f.SendRaw(mode, gasLimit, nil, gasPrice, from, method, args...)
}

func (f *fakeContract) SendRaw(mode types.TxSendMode, gasLimit uint64, nonce *uint64, gasPrice *big.Int, from *ecdsa.PrivateKey, method string, args ...any) (*gethtypes.Transaction, error) {
	f.sendCalls = append(f.sendCalls, sendCall{nonce: nonce, gasPrice: gasPrice})
	f.txCounter++
	price := gasPrice
	if price == nil {
		price = big.NewInt(1)
	}
	n := uint64(0)
	if nonce != nil {
		n = *nonce
	}
	return gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    n + uint64(f.txCounter), // vary so each call yields a distinct tx hash
		GasPrice: price,
		Gas:      21000,
		To:       &common.Address{},
	}), nil
}

func (f *fakeContract) Abi() abi.ABI { return abi.ABI{} }

func (f *fakeContract) ParseReceipt(receipt *gethtypes.Receipt) (types.TxReceipt, error) {
	if receipt == nil {
		return types.TxReceipt{}, nil
	}
	return types.TxReceipt{TxHash: receipt.TxHash.Hex(), Status: receipt.Status, GasUsed: receipt.GasUsed}, nil
}

func (f *fakeContract) ContractAddress() common.Address { return common.Address{} }

func (f *fakeContract) TransactionData(hash common.Hash) ([]byte, error) { return nil, nil }

func (f *fakeContract) DecodeTransaction(data []byte) (*contractclient.DecodedCall, error) {
	return nil, nil
}

var _ contractclient.ContractClient = (*fakeContract)(nil)

// fakeListener reports a timeout on its first `failCount` calls, then
// succeeds with a mined receipt. revert flips the receipt's status to 0.
type fakeListener struct {
	failCount int
	calls     int
	revert    bool
}

func (f *fakeListener) WaitForTransaction(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	f.calls++
	if f.calls <= f.failCount {
		return nil, txlistener.ErrTimeout
	}
	status := uint64(1)
	if f.revert {
		status = 0
	}
	return &gethtypes.Receipt{TxHash: txHash, Status: status, GasUsed: 150_000}, nil
}

var _ txlistener.TxListener = (*fakeListener)(nil)

func newTestSigner(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func newTestCoordinator(t *testing.T, contract *fakeContract, listener txlistener.TxListener, revalidate bool) (*Coordinator, *fakeRecorder, *chain.State) {
	t.Helper()
	signer := newTestSigner(t)
	addr := crypto.PubkeyToAddress(signer.PublicKey)
	state := chain.NewState(1, "test-chain", "http://localhost", signer, addr, 2)
	recorder := &fakeRecorder{}
	gasSource := &fakeGasSource{inputs: chain.GasPriceInputs{BaseFee: big.NewInt(1_000_000_000)}}
	nonceSource := &fakeNonceSource{nonce: 5}

	coord := NewCoordinator(1, state, contract, listener, nonceSource, gasSource,
		&fakeRevalidator{ok: revalidate}, recorder, zerolog.Nop(), 4).
		WithTxTimeout(50 * time.Millisecond)

	return coord, recorder, state
}

func testCandidateAndPlan() (types.Candidate, *types.Plan) {
	c := types.Candidate{
		ID:         "cand-1",
		Borrower:   "0xborrower",
		ChainID:    1,
		Protocol:   types.ProtocolAave,
		Debt:       types.Leg{Token: "0xdebt", Decimals: 6, Amount: big.NewInt(1000)},
		Collateral: types.Leg{Token: "0xcollateral", Decimals: 18, Amount: big.NewInt(1e18)},
	}
	plan := &types.Plan{
		CandidateID:      c.ID,
		RepayAmount:      big.NewInt(500),
		SeizedCollateral: big.NewInt(1e17),
		Route:            []types.RouteHop{{Router: "0xrouter", Pool: "0xpool", FeeBps: 30}},
		NetProfitUsd:     10,
		DeadlineSeconds:  60,
	}
	return c, plan
}

func TestCoordinator_SubmitAndRunRecordsMinedOk(t *testing.T) {
	contract := &fakeContract{}
	listener := &fakeListener{}
	coord, recorder, _ := newTestCoordinator(t, contract, listener, true)

	c, plan := testCandidateAndPlan()
	ctx, cancel := context.WithCancel(context.Background())
	ok := coord.Submit(ctx, c, plan)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	// Give the single queued submission time to process, then stop the actor.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	require.Len(t, recorder.attempts, 1)
	assert.Equal(t, types.StatusMinedOK, recorder.attempts[0].Status)
	assert.Len(t, contract.sendCalls, 1)
	require.NotNil(t, contract.sendCalls[0].nonce)
	assert.Equal(t, uint64(5), *contract.sendCalls[0].nonce)
}

func TestCoordinator_ResubmitsWithBumpedGasAfterFirstTimeout(t *testing.T) {
	contract := &fakeContract{}
	listener := &fakeListener{failCount: 1}
	coord, recorder, _ := newTestCoordinator(t, contract, listener, true)

	c, plan := testCandidateAndPlan()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, coord.Submit(ctx, c, plan))

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	require.Len(t, recorder.attempts, 1)
	assert.Equal(t, types.StatusMinedOK, recorder.attempts[0].Status)
	require.Len(t, contract.sendCalls, 2)

	first, second := contract.sendCalls[0], contract.sendCalls[1]
	require.NotNil(t, first.nonce)
	require.NotNil(t, second.nonce)
	assert.Equal(t, *first.nonce, *second.nonce, "resubmission must reuse the same nonce")

	expectedBump := chain.BumpGasPrice(first.gasPrice, defaultGasBumpPct)
	assert.Equal(t, 0, expectedBump.Cmp(second.gasPrice), "resubmission must use a bumped gas price")
}

func TestCoordinator_SecondTimeoutMarksTimeoutAndFreesSlot(t *testing.T) {
	contract := &fakeContract{}
	listener := &fakeListener{failCount: 99}
	coord, recorder, state := newTestCoordinator(t, contract, listener, true)

	c, plan := testCandidateAndPlan()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, coord.Submit(ctx, c, plan))

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	require.Len(t, recorder.attempts, 1)
	assert.Equal(t, types.StatusTimeout, recorder.attempts[0].Status)
	assert.Equal(t, 0, state.PendingCount(), "in-flight slot must be freed after a terminal attempt")
}

func TestCoordinator_RevalidationFailureSkipsSubmission(t *testing.T) {
	contract := &fakeContract{}
	listener := &fakeListener{}
	coord, recorder, _ := newTestCoordinator(t, contract, listener, false)

	c, plan := testCandidateAndPlan()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, coord.Submit(ctx, c, plan))

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	require.Len(t, recorder.attempts, 1)
	assert.Equal(t, types.StatusRejected, recorder.attempts[0].Status)
	assert.Equal(t, "plan-null:revalidation", recorder.attempts[0].Reason)
	assert.Empty(t, contract.sendCalls, "a stale plan must never be submitted")
}

func TestCoordinator_MinedRevertOverridesStatus(t *testing.T) {
	contract := &fakeContract{}
	listener := &fakeListener{revert: true}
	coord, recorder, _ := newTestCoordinator(t, contract, listener, true)

	c, plan := testCandidateAndPlan()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, coord.Submit(ctx, c, plan))

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	require.Len(t, recorder.attempts, 1)
	assert.Equal(t, types.StatusMinedRevert, recorder.attempts[0].Status)
	assert.NotEmpty(t, recorder.attempts[0].TxHash)
}

func TestCoordinator_DuplicateInFlightDedupKeyIsDropped(t *testing.T) {
	contract := &fakeContract{}
	listener := &fakeListener{}
	coord, recorder, state := newTestCoordinator(t, contract, listener, true)

	c, plan := testCandidateAndPlan()
	require.True(t, state.MarkInFlight(c.DedupKey().String()))

	ctx := context.Background()
	ok := coord.Submit(ctx, c, plan)
	assert.False(t, ok)
	require.Len(t, recorder.attempts, 1)
	assert.Equal(t, "policy_skip:in-flight", recorder.attempts[0].Reason)
}

// fakeNativePricer returns a fixed USD price for every token.
type fakeNativePricer struct {
	priceUsd float64
	ok       bool
}

func (f fakeNativePricer) NativePriceUsd(ctx context.Context, token string) (float64, bool) {
	return f.priceUsd, f.ok
}

func TestCoordinator_RealizedProfitUsdNetsActualGasCost(t *testing.T) {
	contract := &fakeContract{}
	coord, _, _ := newTestCoordinator(t, contract, &fakeListener{}, true)
	coord.WithNativePricer("0xweth", fakeNativePricer{priceUsd: 2000, ok: true})

	_, plan := testCandidateAndPlan()
	plan.GrossProfitUsd = 50

	receipt := &gethtypes.Receipt{
		Status:            1,
		GasUsed:           150_000,
		EffectiveGasPrice: big.NewInt(20_000_000_000), // 20 gwei
	}

	realized := coord.realizedProfitUsd(context.Background(), receipt, plan)
	require.NotNil(t, realized)
	// gas cost: 150_000 * 20e9 wei = 3e15 wei = 0.003 native units * $2000 = $6
	assert.InDelta(t, 50-6.0, *realized, 1e-6)
}

func TestCoordinator_RealizedProfitUsdNilWithoutNativePricer(t *testing.T) {
	contract := &fakeContract{}
	coord, _, _ := newTestCoordinator(t, contract, &fakeListener{}, true)

	_, plan := testCandidateAndPlan()
	receipt := &gethtypes.Receipt{Status: 1, GasUsed: 150_000, EffectiveGasPrice: big.NewInt(1)}

	assert.Nil(t, coord.realizedProfitUsd(context.Background(), receipt, plan))
}
