package candidate

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/blackholelabs/liqd/internal/enginerr"
	"github.com/blackholelabs/liqd/internal/types"
	"github.com/blackholelabs/liqd/pkg/contractclient"
	"github.com/ethereum/go-ethereum/common"
)

const compoundBorrowersQuery = `
query Borrowers($limit: Int!) {
  accounts(first: $limit, where: { borrowBalance_gt: "0" }) {
    id
    borrowBalance
    collateralBalances(where: { balance_gt: "0" }) {
      token { id symbol decimals }
      balance
    }
  }
}`

// CompoundV3Adapter polls a Compound v3 (Comet) subgraph for borrow-side
// candidates, then confirms each with a live isLiquidatable call and
// fetches the base asset's decimals on demand rather than hard-coding 18
// (resolved: fetch live rather than cache, since comet rates drift fast).
type CompoundV3Adapter struct {
	chainID     int64
	baseToken   string
	baseSymbol  string
	subgraph    *subgraphClient
	comet       contractclient.ContractClient
	enabled     bool
	cachedDec   int
	haveDecimal bool
}

// NewCompoundV3Adapter builds an adapter for one chain's Comet deployment.
// comet is the bound ContractClient for the Comet proxy; baseToken/Symbol
// identify its base (borrowable) asset.
func NewCompoundV3Adapter(chainID int64, subgraphURL, baseToken, baseSymbol string, comet contractclient.ContractClient) *CompoundV3Adapter {
	return &CompoundV3Adapter{
		chainID:    chainID,
		baseToken:  baseToken,
		baseSymbol: baseSymbol,
		subgraph:   newSubgraphClient(subgraphURL),
		comet:      comet,
		enabled:    subgraphURL != "" && comet != nil,
	}
}

func (a *CompoundV3Adapter) Name() types.Protocol { return types.ProtocolCompoundV3 }
func (a *CompoundV3Adapter) Enabled() bool         { return a.enabled }

func (a *CompoundV3Adapter) decimals() (int, error) {
	if a.haveDecimal {
		return a.cachedDec, nil
	}
	outputs, err := a.comet.Call(nil, "decimals")
	if err != nil {
		return 0, fmt.Errorf("fetch base asset decimals: %w", err)
	}
	if len(outputs) == 0 {
		return 0, fmt.Errorf("decimals() returned no outputs")
	}
	dec, ok := outputs[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals() returned unexpected type %T", outputs[0])
	}
	a.cachedDec = int(dec)
	a.haveDecimal = true
	return a.cachedDec, nil
}

// PollOnce satisfies Compound v3's liquidation predicate (health < 1) by
// cross-checking each subgraph-reported borrower against a live
// isLiquidatable call — the subgraph's cached health figure can lag the
// chain tip by a block or more.
func (a *CompoundV3Adapter) PollOnce(ctx context.Context, chainID int64, limit int) ([]types.Candidate, error) {
	if !a.enabled {
		return nil, nil
	}

	decimals, err := a.decimals()
	if err != nil {
		return nil, enginerr.New(enginerr.KindTransientNetwork, err)
	}

	data, err := a.subgraph.query(ctx, compoundBorrowersQuery, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	accounts := data.Get("accounts")
	if !accounts.Exists() {
		return nil, enginerr.WithReason(enginerr.KindDataSchema, "compound-missing-accounts-field", fmt.Errorf("subgraph response missing accounts field"))
	}

	var out []types.Candidate
	now := time.Now()
	for _, acct := range accounts.Array() {
		borrower := acct.Get("id").String()

		liquidatable, err := a.isLiquidatable(borrower)
		if err != nil {
			continue // transient per-account RPC failure; skip this poll, try again next cycle
		}
		if !liquidatable {
			continue
		}

		debtAmount, ok := new(big.Int).SetString(acct.Get("borrowBalance").String(), 10)
		if !ok {
			continue
		}

		collaterals := acct.Get("collateralBalances").Array()
		if len(collaterals) == 0 {
			continue
		}
		collateral := collaterals[0]
		collateralAmount, ok := new(big.Int).SetString(collateral.Get("balance").String(), 10)
		if !ok {
			continue
		}

		out = append(out, types.Candidate{
			ID:       fmt.Sprintf("compoundv3-%d-%s", chainID, borrower),
			Borrower: borrower,
			ChainID:  chainID,
			Protocol: types.ProtocolCompoundV3,
			Debt: types.Leg{
				Token:    a.baseToken,
				Symbol:   a.baseSymbol,
				Decimals: decimals,
				Amount:   debtAmount,
			},
			Collateral: types.Leg{
				Token:    collateral.Get("token.id").String(),
				Symbol:   collateral.Get("token.symbol").String(),
				Decimals: int(collateral.Get("token.decimals").Int()),
				Amount:   collateralAmount,
			},
			HealthFactor: 0.999, // Comet exposes a boolean predicate, not a continuous HF; just-under-bound sentinel
			ObservedAt:   now,
		})
	}
	return out, nil
}

func (a *CompoundV3Adapter) isLiquidatable(borrower string) (bool, error) {
	outputs, err := a.comet.Call(nil, "isLiquidatable", common.HexToAddress(borrower))
	if err != nil {
		return false, err
	}
	if len(outputs) == 0 {
		return false, fmt.Errorf("isLiquidatable returned no outputs")
	}
	ok, isBool := outputs[0].(bool)
	if !isBool {
		return false, fmt.Errorf("isLiquidatable returned unexpected type %T", outputs[0])
	}
	return ok, nil
}
