package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blackholelabs/liqd/internal/enginerr"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Pool holds one RPC client plus a circuit breaker and rate limiter per
// chain, shared-readable across every adapter and task that talks to
// that chain.
type Pool struct {
	mu      sync.RWMutex
	clients map[int64]*pooledClient
}

type pooledClient struct {
	client  *ethclient.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewPool builds an empty chain client pool.
func NewPool() *Pool {
	return &Pool{clients: make(map[int64]*pooledClient)}
}

// Add dials rpcURL and registers it under chainID with a circuit breaker
// (halts RPC calls to that chain after repeated failures, so a fatal RPC
// fault on one chain never stalls another) and a requests-per-second limiter.
func (p *Pool) Add(chainID int64, rpcURL string, requestsPerSecond float64) error {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return fmt.Errorf("dial chain %d rpc %s: %w", chainID, rpcURL, err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("chain-rpc-%d", chainID),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[chainID] = &pooledClient{
		client:  client,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
	}
	return nil
}

// Client returns the raw RPC client for chainID, for packages (e.g.
// contractclient, txlistener) that need the full ethclient surface.
func (p *Pool) Client(chainID int64) (*ethclient.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("no rpc client registered for chain %d", chainID)
	}
	return entry.client, nil
}

// Guarded runs fn behind chainID's rate limiter and circuit breaker,
// wrapping failures as enginerr.KindTransientNetwork so callers retry
// rather than treat a transient RPC hiccup as fatal.
func (p *Pool) Guarded(ctx context.Context, chainID int64, fn func() (any, error)) (any, error) {
	p.mu.RLock()
	entry, ok := p.clients[chainID]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no rpc client registered for chain %d", chainID)
	}

	if err := entry.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := entry.breaker.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, enginerr.WithReason(enginerr.KindFatal, "rpc-breaker-open", err)
		}
		return nil, enginerr.New(enginerr.KindTransientNetwork, err)
	}
	return result, nil
}
