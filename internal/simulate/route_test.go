package simulate

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapQuoter struct {
	outputs map[string]*big.Int
	errors  map[string]error
}

func (q *mapQuoter) Quote(ctx context.Context, route RouterConfig, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	if err, ok := q.errors[route.Router]; ok {
		return nil, err
	}
	return q.outputs[route.Router], nil
}

func TestBestRoute_PicksHighestAmountOut(t *testing.T) {
	routers := []RouterConfig{
		{Router: "0xaaa", Hops: 1, FeeBps: 30},
		{Router: "0xbbb", Hops: 1, FeeBps: 30},
	}
	quoter := &mapQuoter{outputs: map[string]*big.Int{
		"0xaaa": big.NewInt(100),
		"0xbbb": big.NewInt(200),
	}}

	hop, amountOut, ok := BestRoute(context.Background(), quoter, routers, "0xin", "0xout", big.NewInt(1))
	require.True(t, ok)
	assert.Equal(t, "0xbbb", hop.Router)
	assert.Equal(t, big.NewInt(200), amountOut)
}

func TestBestRoute_TiesBreakOnFewerHopsThenFeeThenAddress(t *testing.T) {
	routers := []RouterConfig{
		{Router: "0xbbb", Hops: 2, FeeBps: 5},
		{Router: "0xaaa", Hops: 1, FeeBps: 30},
	}
	quoter := &mapQuoter{outputs: map[string]*big.Int{
		"0xaaa": big.NewInt(100),
		"0xbbb": big.NewInt(100),
	}}

	hop, _, ok := BestRoute(context.Background(), quoter, routers, "0xin", "0xout", big.NewInt(1))
	require.True(t, ok)
	assert.Equal(t, "0xaaa", hop.Router) // fewer hops wins despite higher fee
}

func TestBestRoute_SkipsQuoterErrorsAndTriesOthers(t *testing.T) {
	routers := []RouterConfig{
		{Router: "0xaaa", Hops: 1},
		{Router: "0xbbb", Hops: 1},
	}
	quoter := &mapQuoter{
		outputs: map[string]*big.Int{"0xbbb": big.NewInt(50)},
		errors:  map[string]error{"0xaaa": assertError{}},
	}

	hop, amountOut, ok := BestRoute(context.Background(), quoter, routers, "0xin", "0xout", big.NewInt(1))
	require.True(t, ok)
	assert.Equal(t, "0xbbb", hop.Router)
	assert.Equal(t, big.NewInt(50), amountOut)
}

type assertError struct{}

func (assertError) Error() string { return "quoter reverted" }

func TestBestRoute_NoRoutesReturnsFalse(t *testing.T) {
	quoter := &mapQuoter{}
	_, _, ok := BestRoute(context.Background(), quoter, nil, "0xin", "0xout", big.NewInt(1))
	assert.False(t, ok)
}
