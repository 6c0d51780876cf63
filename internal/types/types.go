// Package types holds the wire-level data model shared across package
// boundaries: Candidate, PriceQuote, Plan, ExecutionAttempt, AdaptiveState,
// and the small value types amounts and addresses are passed as.
package types

import (
	"fmt"
	"math"
	"math/big"
	"time"
)

// Protocol tags a Candidate's originating lending protocol.
type Protocol string

const (
	ProtocolAave       Protocol = "aave"
	ProtocolCompoundV3 Protocol = "compound-v3"
	ProtocolMorphoBlue Protocol = "morpho-blue"
	ProtocolRadiant    Protocol = "radiant"
	ProtocolSeamless   Protocol = "seamless"
	ProtocolIonic      Protocol = "ionic"
)

// Leg is one side (debt or collateral) of a Candidate position, amounts
// always expressed as an integer in the token's smallest unit.
type Leg struct {
	Token    string
	Symbol   string
	Decimals int
	Amount   *big.Int
}

// Candidate is an immutable, normalized liquidatable position. Once
// emitted by an adapter its fields never change; a re-observation of the
// same position is a new Candidate value.
type Candidate struct {
	ID            string
	Borrower      string
	ChainID       int64
	Protocol      Protocol
	Debt          Leg
	Collateral    Leg
	HealthFactor  float64
	MarketID      string // protocol-specific key, e.g. Morpho Blue marketId
	ObservedAt    time.Time
}

// AssetKey identifies the (debtToken, collateralToken) market a
// Candidate belongs to, the key the adaptive-threshold controller
// tracks per-pair volatility and admission bounds under.
func (c Candidate) AssetKey() string {
	return c.Debt.Token + "/" + c.Collateral.Token
}

// DedupKey returns the (chainId, borrower, debtToken, collateralToken,
// protocol) tuple candidates are deduplicated on.
func (c Candidate) DedupKey() DedupKey {
	return DedupKey{
		ChainID:        c.ChainID,
		Borrower:       c.Borrower,
		DebtToken:      c.Debt.Token,
		CollateralToken: c.Collateral.Token,
		Protocol:       c.Protocol,
	}
}

// DedupKey identifies the position a sequence of Candidate observations
// refers to, independent of HF or amount.
type DedupKey struct {
	ChainID         int64
	Borrower        string
	DebtToken       string
	CollateralToken string
	Protocol        Protocol
}

// String renders a DedupKey as a stable identifier, used as the
// in-flight/cooldown map key and the ExecutionAttempt candidate digest.
func (k DedupKey) String() string {
	return fmt.Sprintf("%d:%s:%s:%s:%s", k.ChainID, k.Borrower, k.DebtToken, k.CollateralToken, k.Protocol)
}

// PriceSource identifies which fallback tier produced a PriceQuote.
type PriceSource string

const (
	SourceChainlink            PriceSource = "chainlink"
	SourceChainlinkEthConverted PriceSource = "chainlink-eth-converted"
	SourceSubgraph             PriceSource = "subgraph"
	SourceDexTWAP              PriceSource = "dex-twap"
)

// PriceQuote is a finite, positive USD price for one token.
type PriceQuote struct {
	Token      string
	PriceUsd   float64
	Source     PriceSource
	ObservedAt time.Time
}

// Valid reports whether q carries a usable price: finite and strictly
// positive; a price of 0 or non-finite is treated as absent.
func (q PriceQuote) Valid() bool {
	if q.PriceUsd <= 0 {
		return false
	}
	return !math.IsNaN(q.PriceUsd) && !math.IsInf(q.PriceUsd, 0)
}

// RouteHop is one leg of a Plan's swap route.
type RouteHop struct {
	Router   string
	Pool     string
	FeeBps   int
	TokenIn  string
	TokenOut string
}

// Plan is the simulator's output for an admitted Candidate: sizing, route,
// and the USD accounting that gated acceptance.
type Plan struct {
	CandidateID           string
	RepayAmount           *big.Int
	SeizedCollateral      *big.Int
	Route                 []RouteHop
	GrossProfitUsd        float64
	EstimatedGasUsd       float64
	NetProfitUsd          float64
	SlippageBps           int
	DeadlineSeconds       int
	AdaptiveThresholdsSnapshot AdaptiveState
}

// AttemptStatus is the monotone lifecycle state of an ExecutionAttempt.
type AttemptStatus string

const (
	StatusRejected   AttemptStatus = "rejected"
	StatusSimulated  AttemptStatus = "simulated"
	StatusSubmitted  AttemptStatus = "submitted"
	StatusMinedOK    AttemptStatus = "mined-ok"
	StatusMinedRevert AttemptStatus = "mined-revert"
	StatusTimeout    AttemptStatus = "timeout"
)

// ExecutionAttempt is one append-only record of a decision made about a
// Candidate: admission, rejection, simulation, submission, or
// confirmation.
type ExecutionAttempt struct {
	ID                string
	ChainID           int64
	CandidateDigest   string
	Plan              *Plan
	Status            AttemptStatus
	Reason            string
	TxHash            string
	GasUsed           *big.Int
	RealizedProfitUsd *float64
	CreatedAt         time.Time
}

// AdaptiveState tracks the EWMA volatility and derived HF/gap bounds for
// one (chain, assetKey) pair.
type AdaptiveState struct {
	ChainID          int64
	AssetKey         string
	BaseHfMax        float64
	BaseGapCapBps    float64
	EwmaVolatilityBps float64
	HealthFactorMax  float64
	GapCapBps        float64
	LastUpdateAt     time.Time
}

// TxSendMode selects the transport a transaction is submitted through.
type TxSendMode int

const (
	SendPublicRPC TxSendMode = iota
	SendPrivateRelay
)

// TxReceipt is the subset of a mined receipt the engine cares about.
type TxReceipt struct {
	TxHash            string
	Status            uint64
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}
