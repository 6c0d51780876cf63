package candidate

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/blackholelabs/liqd/internal/enginerr"
	"github.com/blackholelabs/liqd/internal/types"
)

const morphoBorrowersQuery = `
query Borrowers($hfThreshold: Float!, $limit: Int!) {
  marketPositions(first: $limit, where: { healthFactor_lte: $hfThreshold, borrowAssets_gt: "0" }) {
    user { address }
    market {
      id
      loanAsset { address symbol decimals }
      collateralAsset { address symbol decimals }
    }
    healthFactor
    borrowAssets
    collateral
  }
}`

// MorphoBlueAdapter polls Morpho Blue's API (blue-api.morpho.org/graphql
// or a self-hosted mirror) for positions at or below the configured HF
// threshold, including isolated markets' marketId.
type MorphoBlueAdapter struct {
	chainID      int64
	client       *subgraphClient
	hfThreshold  float64
	enabled      bool
}

// NewMorphoBlueAdapter builds an adapter for one chain's Morpho Blue
// deployment. hfThreshold is the configured HF cutoff for this market.
func NewMorphoBlueAdapter(chainID int64, apiURL string, hfThreshold float64) *MorphoBlueAdapter {
	return &MorphoBlueAdapter{
		chainID:     chainID,
		client:      newSubgraphClient(apiURL),
		hfThreshold: hfThreshold,
		enabled:     apiURL != "",
	}
}

func (a *MorphoBlueAdapter) Name() types.Protocol { return types.ProtocolMorphoBlue }
func (a *MorphoBlueAdapter) Enabled() bool         { return a.enabled }

func (a *MorphoBlueAdapter) PollOnce(ctx context.Context, chainID int64, limit int) ([]types.Candidate, error) {
	if !a.enabled {
		return nil, nil
	}

	data, err := a.client.query(ctx, morphoBorrowersQuery, map[string]any{
		"hfThreshold": a.hfThreshold,
		"limit":       limit,
	})
	if err != nil {
		return nil, err
	}

	positions := data.Get("marketPositions")
	if !positions.Exists() {
		return nil, enginerr.WithReason(enginerr.KindDataSchema, "morpho-missing-positions-field", fmt.Errorf("api response missing marketPositions field"))
	}

	var out []types.Candidate
	now := time.Now()
	for _, pos := range positions.Array() {
		debtAmount, ok := new(big.Int).SetString(pos.Get("borrowAssets").String(), 10)
		if !ok {
			continue
		}
		collateralAmount, ok := new(big.Int).SetString(pos.Get("collateral").String(), 10)
		if !ok {
			continue
		}

		out = append(out, types.Candidate{
			ID:       fmt.Sprintf("morpho-%d-%s-%s", chainID, pos.Get("market.id").String(), pos.Get("user.address").String()),
			Borrower: pos.Get("user.address").String(),
			ChainID:  chainID,
			Protocol: types.ProtocolMorphoBlue,
			Debt: types.Leg{
				Token:    pos.Get("market.loanAsset.address").String(),
				Symbol:   pos.Get("market.loanAsset.symbol").String(),
				Decimals: int(pos.Get("market.loanAsset.decimals").Int()),
				Amount:   debtAmount,
			},
			Collateral: types.Leg{
				Token:    pos.Get("market.collateralAsset.address").String(),
				Symbol:   pos.Get("market.collateralAsset.symbol").String(),
				Decimals: int(pos.Get("market.collateralAsset.decimals").Int()),
				Amount:   collateralAmount,
			},
			HealthFactor: pos.Get("healthFactor").Float(),
			MarketID:     pos.Get("market.id").String(),
			ObservedAt:   now,
		})
	}
	return out, nil
}
