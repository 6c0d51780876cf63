package candidate

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/blackholelabs/liqd/internal/enginerr"
	"github.com/blackholelabs/liqd/internal/types"
	"github.com/tidwall/gjson"
)

const aaveUserPositionsQuery = `
query Borrowers($hfMax: BigDecimal!, $limit: Int!) {
  users(first: $limit, where: { healthFactor_lt: $hfMax, healthFactor_gt: "0" }) {
    id
    healthFactor
    reserves(where: { currentTotalDebt_gt: "0" }) {
      reserve { underlyingAsset symbol decimals }
      currentTotalDebt
    }
    collaterals: reserves(where: { usageAsCollateralEnabledOnUser: true }) {
      reserve { underlyingAsset symbol decimals }
      currentATokenBalance
    }
  }
}`

// AaveAdapter polls an Aave v3 (or fork) subgraph for accounts whose
// health factor has dropped below the adaptive admission bound.
type AaveAdapter struct {
	chainID int64
	client  *subgraphClient
	hfMax   func() float64
	enabled bool
}

// NewAaveAdapter builds an adapter for one chain's Aave v3 subgraph.
// hfMax is called fresh on every poll so the adapter always filters
// against the adaptive-threshold controller's current bound.
func NewAaveAdapter(chainID int64, subgraphURL string, hfMax func() float64) *AaveAdapter {
	return &AaveAdapter{
		chainID: chainID,
		client:  newSubgraphClient(subgraphURL),
		hfMax:   hfMax,
		enabled: subgraphURL != "",
	}
}

func (a *AaveAdapter) Name() types.Protocol { return types.ProtocolAave }
func (a *AaveAdapter) Enabled() bool        { return a.enabled }

// PollOnce emits only positions with HF below the
// adaptive bound, decode amounts as smallest-unit integers.
func (a *AaveAdapter) PollOnce(ctx context.Context, chainID int64, limit int) ([]types.Candidate, error) {
	if !a.enabled {
		return nil, nil
	}

	data, err := a.client.query(ctx, aaveUserPositionsQuery, map[string]any{
		"hfMax": fmt.Sprintf("%.6f", a.hfMax()),
		"limit": limit,
	})
	if err != nil {
		return nil, err
	}

	users := data.Get("users")
	if !users.Exists() {
		return nil, enginerr.WithReason(enginerr.KindDataSchema, "aave-missing-users-field", fmt.Errorf("subgraph response missing users field"))
	}

	var out []types.Candidate
	now := time.Now()
	for _, user := range users.Array() {
		hf := user.Get("healthFactor").Float()
		debt, ok := firstLeg(user.Get("reserves"), "currentTotalDebt")
		if !ok {
			continue
		}
		collateral, ok := firstLeg(user.Get("collaterals"), "currentATokenBalance")
		if !ok {
			continue
		}

		out = append(out, types.Candidate{
			ID:           fmt.Sprintf("aave-%d-%s", chainID, user.Get("id").String()),
			Borrower:     user.Get("id").String(),
			ChainID:      chainID,
			Protocol:     types.ProtocolAave,
			Debt:         debt,
			Collateral:   collateral,
			HealthFactor: hf,
			ObservedAt:   now,
		})
	}
	return out, nil
}

func firstLeg(list gjson.Result, amountField string) (types.Leg, bool) {
	arr := list.Array()
	if len(arr) == 0 {
		return types.Leg{}, false
	}
	entry := arr[0]
	amount, ok := new(big.Int).SetString(entry.Get(amountField).String(), 10)
	if !ok {
		return types.Leg{}, false
	}
	return types.Leg{
		Token:    entry.Get("reserve.underlyingAsset").String(),
		Symbol:   entry.Get("reserve.symbol").String(),
		Decimals: int(entry.Get("reserve.decimals").Int()),
		Amount:   amount,
	}, true
}
