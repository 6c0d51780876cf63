package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/blackholelabs/liqd/internal/simulate"
	"github.com/blackholelabs/liqd/pkg/contractclient"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RouterQuoter quotes amountOut against a Uniswap-V3-style off-chain
// quoter contract: quoteExactInputSingle(tokenIn, tokenOut, fee, amountIn,
// sqrtPriceLimitX96) returns (amountOut). One contractclient is built per
// route's router address the first time that route is quoted.
type RouterQuoter struct {
	client  *ethclient.Client
	abi     abi.ABI
	clients map[string]contractclient.ContractClient // router address -> bound client
}

// NewRouterQuoter builds a quoter bound to quoterAbi, shared across every
// router address a route names.
func NewRouterQuoter(client *ethclient.Client, quoterAbi abi.ABI) *RouterQuoter {
	return &RouterQuoter{
		client:  client,
		abi:     quoterAbi,
		clients: make(map[string]contractclient.ContractClient),
	}
}

// Quote implements simulate.Quoter.
func (q *RouterQuoter) Quote(ctx context.Context, route simulate.RouterConfig, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	routerClient, ok := q.clients[route.Router]
	if !ok {
		routerClient = contractclient.NewContractClient(q.client, common.HexToAddress(route.Router), q.abi)
		q.clients[route.Router] = routerClient
	}

	result, err := routerClient.Call(
		nil,
		"quoteExactInputSingle",
		common.HexToAddress(tokenIn),
		common.HexToAddress(tokenOut),
		uint32(route.FeeBps),
		amountIn,
		big.NewInt(0), // sqrtPriceLimitX96: 0 means no limit
	)
	if err != nil {
		return nil, fmt.Errorf("quote %s->%s on router %s: %w", tokenIn, tokenOut, route.Router, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("quoteExactInputSingle on %s returned no outputs", route.Router)
	}
	amountOut, ok := result[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("quoteExactInputSingle on %s returned unexpected type %T", route.Router, result[0])
	}
	return amountOut, nil
}

var _ simulate.Quoter = (*RouterQuoter)(nil)
