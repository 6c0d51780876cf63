package price

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/blackholelabs/liqd/pkg/contractclient"
)

// AggregatorReader reads Chainlink-style price feeds bound to one
// ContractClient per token.
type AggregatorReader struct {
	feeds map[string]contractclient.ContractClient
}

// NewAggregatorReader builds a reader over a set of per-token aggregator
// proxies.
func NewAggregatorReader(feeds map[string]contractclient.ContractClient) *AggregatorReader {
	return &AggregatorReader{feeds: feeds}
}

// LatestRoundData satisfies ChainlinkReader: answer, feed decimals, and
// the round's updatedAt timestamp.
func (r *AggregatorReader) LatestRoundData(ctx context.Context, token string) (*big.Int, uint8, time.Time, error) {
	feed, ok := r.feeds[token]
	if !ok {
		return nil, 0, time.Time{}, fmt.Errorf("no aggregator configured for token %s", token)
	}

	roundOutputs, err := feed.Call(nil, "latestRoundData")
	if err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("latestRoundData for %s: %w", token, err)
	}
	if len(roundOutputs) < 5 {
		return nil, 0, time.Time{}, fmt.Errorf("latestRoundData for %s returned %d outputs, want 5", token, len(roundOutputs))
	}
	answer, ok := roundOutputs[1].(*big.Int)
	if !ok {
		return nil, 0, time.Time{}, fmt.Errorf("latestRoundData for %s: answer field not a *big.Int", token)
	}
	updatedAt, ok := roundOutputs[3].(*big.Int)
	if !ok {
		return nil, 0, time.Time{}, fmt.Errorf("latestRoundData for %s: updatedAt field not a *big.Int", token)
	}

	decimalsOutputs, err := feed.Call(nil, "decimals")
	if err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("decimals for %s: %w", token, err)
	}
	if len(decimalsOutputs) == 0 {
		return nil, 0, time.Time{}, fmt.Errorf("decimals for %s returned no outputs", token)
	}
	decimals, ok := decimalsOutputs[0].(uint8)
	if !ok {
		return nil, 0, time.Time{}, fmt.Errorf("decimals for %s: unexpected type %T", token, decimalsOutputs[0])
	}

	return answer, decimals, time.Unix(updatedAt.Int64(), 0), nil
}
