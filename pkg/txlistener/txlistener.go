// Package txlistener polls an RPC client for a transaction's receipt,
// the building block every transaction-lifecycle call in this engine
// (execute, simulate revalidation) waits on after submission.
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrTimeout is returned by WaitForTransaction when the configured
// timeout elapses before a receipt appears.
var ErrTimeout = errors.New("txlistener: timed out waiting for receipt")

// ReceiptClient is the subset of ethclient.Client a TxListener needs.
type ReceiptClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

var _ ReceiptClient = (*ethclient.Client)(nil)

// TxListener waits for a submitted transaction to be mined.
type TxListener interface {
	WaitForTransaction(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

type txListener struct {
	client       ReceiptClient
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a TxListener at construction time.
type Option func(*txListener)

// WithPollInterval sets how often the listener re-checks for a receipt.
// Default is 3 seconds.
func WithPollInterval(d time.Duration) Option {
	return func(l *txListener) { l.pollInterval = d }
}

// WithTimeout bounds how long WaitForTransaction will wait before
// returning ErrTimeout. Default is 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(l *txListener) { l.timeout = d }
}

// NewTxListener builds a TxListener polling client for receipts.
func NewTxListener(client ReceiptClient, opts ...Option) TxListener {
	l := &txListener{
		client:       client,
		pollInterval: 3 * time.Second,
		timeout:      5 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction polls until txHash is mined, the listener's timeout
// elapses, or ctx is cancelled, whichever comes first.
func (l *txListener) WaitForTransaction(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(deadlineCtx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt for %s: %w", txHash.Hex(), err)
		}

		select {
		case <-deadlineCtx.Done():
			if errors.Is(deadlineCtx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, deadlineCtx.Err()
		case <-ticker.C:
		}
	}
}
