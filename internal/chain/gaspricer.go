package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
)

// GasPriceInputs carries the fee-market reads a gas pricer combines into
// one submission price.
type GasPriceInputs struct {
	BaseFee      *big.Int
	PriorityFee  *big.Int
	GasPremium   float64 // e.g. 0.2 for +20% over base fee
	MinGasPrice  *big.Int
	MaxGasPrice  *big.Int
	L1DACostWei  *big.Int // zero for L1 chains; set for L2s with a data-availability term
}

// ComputeGasPrice computes baseFee*(1+premium) +
// priorityFee, clamped to [min, max], plus an L1 data-availability term
// for rollups that charge one.
func ComputeGasPrice(in GasPriceInputs) *big.Int {
	if in.BaseFee == nil {
		return bigIntOrZero(in.MinGasPrice)
	}

	premiumBps := int64(in.GasPremium * 10_000)
	withPremium := new(big.Int).Mul(in.BaseFee, big.NewInt(10_000+premiumBps))
	withPremium.Div(withPremium, big.NewInt(10_000))

	price := withPremium
	if in.PriorityFee != nil {
		price = new(big.Int).Add(withPremium, in.PriorityFee)
	}
	if in.L1DACostWei != nil {
		price = new(big.Int).Add(price, in.L1DACostWei)
	}

	if in.MinGasPrice != nil && price.Cmp(in.MinGasPrice) < 0 {
		price = new(big.Int).Set(in.MinGasPrice)
	}
	if in.MaxGasPrice != nil && price.Cmp(in.MaxGasPrice) > 0 {
		price = new(big.Int).Set(in.MaxGasPrice)
	}
	return price
}

// BumpGasPrice raises price by bumpPct percent, used for the single
// gas-bumped resubmission on a stuck transaction.
func BumpGasPrice(price *big.Int, bumpPct int) *big.Int {
	if price == nil {
		return big.NewInt(0)
	}
	bumped := new(big.Int).Mul(price, big.NewInt(int64(100+bumpPct)))
	return bumped.Div(bumped, big.NewInt(100))
}

func bigIntOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// EthGasSource reads live fee-market data from an RPC client, implementing
// execute.GasPriceSource without execute needing to import an RPC client
// type.
type EthGasSource struct {
	client      *ethclient.Client
	gasPremium  float64
	minGasPrice *big.Int
	maxGasPrice *big.Int
	l1DACostWei *big.Int
}

// NewEthGasSource builds a gas source over client. minGasPrice, maxGasPrice,
// and l1DACostWei may be nil; l1DACostWei is the fixed per-tx
// data-availability surcharge some L2s add on top of execution gas.
func NewEthGasSource(client *ethclient.Client, gasPremium float64, minGasPrice, maxGasPrice, l1DACostWei *big.Int) *EthGasSource {
	return &EthGasSource{
		client:      client,
		gasPremium:  gasPremium,
		minGasPrice: minGasPrice,
		maxGasPrice: maxGasPrice,
		l1DACostWei: l1DACostWei,
	}
}

// GasPriceInputs reads the chain head's base fee and the node's suggested
// priority fee.
func (g *EthGasSource) GasPriceInputs(ctx context.Context) (GasPriceInputs, error) {
	header, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return GasPriceInputs{}, fmt.Errorf("fetch chain head: %w", err)
	}

	tip, err := g.client.SuggestGasTipCap(ctx)
	if err != nil {
		tip = big.NewInt(0)
	}

	return GasPriceInputs{
		BaseFee:     header.BaseFee,
		PriorityFee: tip,
		GasPremium:  g.gasPremium,
		MinGasPrice: g.minGasPrice,
		MaxGasPrice: g.maxGasPrice,
		L1DACostWei: g.l1DACostWei,
	}, nil
}
