// Package chain owns everything scoped to a single chain: its RPC client,
// signer, nonce bookkeeping, gas pricing, and sequencer-liveness gate. A
// ChainState is single-owner — only its execution-coordinator actor
// mutates it.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is the mutable per-chain bookkeeping the execution coordinator
// owns exclusively. Every field mutation happens on the coordinator's
// single goroutine for that chain; reads from elsewhere go through the
// accessor methods, which take the lock defensively for cheap snapshot
// reads (health reporting, tests).
type State struct {
	ChainID    int64
	Name       string
	RPCURL     string
	Signer     *ecdsa.PrivateKey
	SignerAddr common.Address

	MaxConcurrentExecutions int

	mu              sync.Mutex
	currentNonce    uint64
	nonceLoaded     bool
	pendingTxs      map[string]struct{}
	lastSequencerOk bool
	lastGasPrice    *big.Int
	lastUpdateAt    time.Time
}

// NewState builds a State for one chain. The nonce is lazily loaded from
// the RPC client on first allocation.
func NewState(chainID int64, name, rpcURL string, signer *ecdsa.PrivateKey, signerAddr common.Address, maxConcurrent int) *State {
	return &State{
		ChainID:                 chainID,
		Name:                    name,
		RPCURL:                  rpcURL,
		Signer:                  signer,
		SignerAddr:              signerAddr,
		MaxConcurrentExecutions: maxConcurrent,
		pendingTxs:              make(map[string]struct{}),
	}
}

// PendingCount reports how many execution slots on this chain are
// currently occupied.
func (s *State) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingTxs)
}

// HasCapacity reports whether another execution can start without
// exceeding MaxConcurrentExecutions.
func (s *State) HasCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingTxs) < s.MaxConcurrentExecutions
}

// MarkInFlight records dedupKey as occupying an execution slot. Returns
// false without recording if dedupKey is already in-flight, matching
// the in-flight dedup drop rule.
func (s *State) MarkInFlight(dedupKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pendingTxs[dedupKey]; exists {
		return false
	}
	s.pendingTxs[dedupKey] = struct{}{}
	return true
}

// ClearInFlight frees dedupKey's execution slot once its attempt reaches
// a terminal status.
func (s *State) ClearInFlight(dedupKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingTxs, dedupKey)
}

// SetSequencerOk records the latest sequencer-liveness read.
func (s *State) SetSequencerOk(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSequencerOk = ok
	s.lastUpdateAt = time.Now()
}

// SequencerOk reports the most recently observed sequencer-liveness
// state. Chains with no configured sequencer feed default to true.
func (s *State) SequencerOk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSequencerOk
}

// SetLastGasPrice records the most recently computed gas price, for
// health reporting.
func (s *State) SetLastGasPrice(price *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGasPrice = price
}

// LastGasPrice returns the most recently computed gas price, or nil if
// none has been computed yet.
func (s *State) LastGasPrice() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastGasPrice == nil {
		return nil
	}
	return new(big.Int).Set(s.lastGasPrice)
}

// NonceSource reads the next on-chain nonce for the signer, used to
// (re)seed or resync local nonce bookkeeping.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// AllocateNonce returns the next nonce to use for a submission, loading
// it from source on first use. Subsequent calls increment monotonically
// without a round trip.
func (s *State) AllocateNonce(ctx context.Context, source NonceSource) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nonceLoaded {
		n, err := source.PendingNonceAt(ctx, s.SignerAddr)
		if err != nil {
			return 0, fmt.Errorf("load initial nonce for chain %d: %w", s.ChainID, err)
		}
		s.currentNonce = n
		s.nonceLoaded = true
	}

	nonce := s.currentNonce
	s.currentNonce++
	return nonce, nil
}

// ResyncNonce discards local nonce bookkeeping and reloads it from
// source, used on NonceGap detection.
func (s *State) ResyncNonce(ctx context.Context, source NonceSource) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := source.PendingNonceAt(ctx, s.SignerAddr)
	if err != nil {
		return 0, fmt.Errorf("resync nonce for chain %d: %w", s.ChainID, err)
	}
	s.currentNonce = n
	s.nonceLoaded = true
	return n, nil
}
