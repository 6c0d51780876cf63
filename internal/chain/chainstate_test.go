package chain

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNonceSource struct {
	nonce uint64
	err   error
}

func (f *fakeNonceSource) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, f.err
}

func TestAllocateNonce_LoadsOnceThenIncrements(t *testing.T) {
	state := NewState(1, "test", "http://localhost", nil, common.Address{}, 2)
	source := &fakeNonceSource{nonce: 10}

	n1, err := state.AllocateNonce(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n1)

	source.nonce = 999 // should be ignored; nonce already loaded
	n2, err := state.AllocateNonce(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), n2)
}

func TestResyncNonce_ReloadsFromSource(t *testing.T) {
	state := NewState(1, "test", "http://localhost", nil, common.Address{}, 2)
	source := &fakeNonceSource{nonce: 10}

	_, err := state.AllocateNonce(context.Background(), source)
	require.NoError(t, err)

	source.nonce = 50
	n, err := state.ResyncNonce(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), n)
}

func TestMarkInFlight_RejectsDuplicateKey(t *testing.T) {
	state := NewState(1, "test", "http://localhost", nil, common.Address{}, 2)

	assert.True(t, state.MarkInFlight("key-a"))
	assert.False(t, state.MarkInFlight("key-a"))

	state.ClearInFlight("key-a")
	assert.True(t, state.MarkInFlight("key-a"))
}

func TestHasCapacity_RespectsMaxConcurrentExecutions(t *testing.T) {
	state := NewState(1, "test", "http://localhost", nil, common.Address{}, 1)

	assert.True(t, state.HasCapacity())
	state.MarkInFlight("key-a")
	assert.False(t, state.HasCapacity())
}
