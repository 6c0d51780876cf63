package txlistener

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReceiptClient struct {
	callsBeforeReady int
	calls            int
	receipt          *gethtypes.Receipt
}

func (f *fakeReceiptClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	f.calls++
	if f.calls <= f.callsBeforeReady {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func TestWaitForTransaction_ReturnsReceiptOnceMined(t *testing.T) {
	fake := &fakeReceiptClient{
		callsBeforeReady: 2,
		receipt:          &gethtypes.Receipt{Status: 1},
	}
	listener := NewTxListener(fake, WithPollInterval(5*time.Millisecond), WithTimeout(time.Second))

	receipt, err := listener.WaitForTransaction(context.Background(), common.HexToHash("0x1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Status)
	assert.GreaterOrEqual(t, fake.calls, 3)
}

func TestWaitForTransaction_TimesOut(t *testing.T) {
	fake := &fakeReceiptClient{callsBeforeReady: 1000}
	listener := NewTxListener(fake, WithPollInterval(2*time.Millisecond), WithTimeout(20*time.Millisecond))

	_, err := listener.WaitForTransaction(context.Background(), common.HexToHash("0x1"))
	assert.ErrorIs(t, err, ErrTimeout)
}
