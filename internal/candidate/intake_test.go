package candidate

import (
	"context"
	"testing"
	"time"

	"github.com/blackholelabs/liqd/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func makeCandidate(hf float64) types.Candidate {
	return types.Candidate{
		Borrower:   "0xabc",
		ChainID:    1,
		Protocol:   types.ProtocolAave,
		Debt:       types.Leg{Token: "0xdebt"},
		Collateral: types.Leg{Token: "0xcollateral"},
		HealthFactor: hf,
	}
}

func TestAdmitDedup_DropsDuplicateWithinTTL(t *testing.T) {
	in := NewIntake(1, nil, 8, 10, time.Second, zerolog.Nop())

	assert.True(t, in.admitDedup(makeCandidate(0.95)))
	assert.False(t, in.admitDedup(makeCandidate(0.95)))
}

func TestAdmitDedup_AdmitsLowerHealthFactorEarly(t *testing.T) {
	in := NewIntake(1, nil, 8, 10, time.Second, zerolog.Nop())

	assert.True(t, in.admitDedup(makeCandidate(0.95)))
	assert.True(t, in.admitDedup(makeCandidate(0.80))) // more urgent, resets TTL
	assert.False(t, in.admitDedup(makeCandidate(0.85))) // less urgent than last seen, still within TTL
}

func TestAdmitDedup_AdmitsAfterTTLExpires(t *testing.T) {
	in := NewIntake(1, nil, 8, 10, time.Second, zerolog.Nop())
	in.dedupTTL = 10 * time.Millisecond

	assert.True(t, in.admitDedup(makeCandidate(0.95)))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, in.admitDedup(makeCandidate(0.95)))
}

func TestIntake_RunClosesChannelWhenNoAdaptersEnabled(t *testing.T) {
	in := NewIntake(1, []Adapter{NewIonicAdapter()}, 8, 10, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	_, ok := <-in.Candidates()
	assert.False(t, ok)
}
