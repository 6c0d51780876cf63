// Package configs loads the engine's single YAML document and translates
// it into the internal config shapes each package actually consumes, so
// no internal package needs to import yaml.v3 itself.
package configs

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/blackholelabs/liqd/internal/adaptive"
	"github.com/blackholelabs/liqd/internal/chain"
	"github.com/blackholelabs/liqd/internal/policy"
	"github.com/blackholelabs/liqd/internal/price"
	"github.com/blackholelabs/liqd/internal/simulate"
	"gopkg.in/yaml.v3"
)

// missingRefSentinel flags an unresolved environment reference; it must
// be treated as absent, never as a literal value.
const missingRefSentinel = "\x00MISSING:"

// Config is the top-level YAML document: one entry per chain this
// process should run liquidations on, plus the shared ABI files every
// chain's contract clients are built from.
type Config struct {
	Abis   AbiPathsYAML `yaml:"abis"`
	Chains []ChainYAML  `yaml:"chains"`
}

// AbiPathsYAML names the on-disk ABI JSON files shared across chains.
type AbiPathsYAML struct {
	Executor      string `yaml:"executor"`
	ChainlinkFeed string `yaml:"chainlinkFeed"`
	CompoundComet string `yaml:"compoundComet"`
	SequencerFeed string `yaml:"sequencerFeed"`
	Quoter        string `yaml:"quoter"`
}

// TokenYAML describes one token's address, decimals, and optional
// Chainlink feed metadata.
type TokenYAML struct {
	Address          string `yaml:"address"`
	Decimals         int    `yaml:"decimals"`
	ChainlinkFeed    string `yaml:"chainlinkFeed"`
	FeedDenomination string `yaml:"feedDenomination"` // "usd" or "eth"
	IsWETH           bool   `yaml:"isWeth"`
}

// RouterYAML describes one allowed swap route.
type RouterYAML struct {
	Router string `yaml:"router"`
	Pool   string `yaml:"pool"`
	FeeBps int    `yaml:"feeBps"`
	Hops   int    `yaml:"hops"`
}

// AdapterYAML configures one protocol's subgraph/API source for a chain.
// An empty URL leaves the adapter disabled.
type AdapterYAML struct {
	SubgraphURL  string  `yaml:"subgraphUrl"`
	ApiURL       string  `yaml:"apiUrl"` // Morpho Blue's REST/GraphQL endpoint
	CometAddress string  `yaml:"cometAddress"`
	BaseToken    string  `yaml:"baseToken"`
	BaseSymbol   string  `yaml:"baseSymbol"`
	HfThreshold  float64 `yaml:"hfThreshold"`
}

// AdaptersYAML bundles every protocol adapter's per-chain configuration.
type AdaptersYAML struct {
	Aave       AdapterYAML `yaml:"aave"`
	CompoundV3 AdapterYAML `yaml:"compoundV3"`
	MorphoBlue AdapterYAML `yaml:"morphoBlue"`
}

// ChainYAML is the per-chain configuration document: RPC endpoint,
// signer reference, size/risk bounds, and the protocol adapters to run.
type ChainYAML struct {
	ID                      int64                `yaml:"id"`
	Name                    string               `yaml:"name"`
	Enabled                 bool                 `yaml:"enabled"`
	RpcUrl                  string               `yaml:"rpcUrl"`
	WsUrl                   string               `yaml:"wsUrl"`
	SignerKeyRef            string               `yaml:"signerKeyRef"`
	LiquidatorContract      string               `yaml:"liquidatorContract"`
	NativeToken             string               `yaml:"nativeToken"`
	Tokens                  map[string]TokenYAML `yaml:"tokens"`
	AllowedRouters          []RouterYAML         `yaml:"allowedRouters"`
	SequencerFeed           string               `yaml:"sequencerFeed"`
	MinPositionUsd          float64              `yaml:"minPositionUsd"`
	MaxPositionUsd          float64              `yaml:"maxPositionUsd"`
	MinNetUsd               float64              `yaml:"minNetUsd"`
	PnlMultipleMin          float64              `yaml:"pnlMultipleMin"`
	GasUnitsEstimate        uint64               `yaml:"gasUnitsEstimate"`
	GasSafetyMultiplier     float64              `yaml:"gasSafetyMultiplier"`
	MaxConcurrentExecutions int                  `yaml:"maxConcurrentExecutions"`
	SlippageBps             int                  `yaml:"slippageBps"`
	DeadlineBufferSec       int                  `yaml:"deadlineBufferSec"`
	CloseFactorBps          int                  `yaml:"closeFactorBps"`
	LiquidationBonus        float64              `yaml:"liquidationBonus"`
	RequestsPerSecond       float64              `yaml:"requestsPerSecond"`
	Adapters                AdaptersYAML         `yaml:"adapters"`
}

// LoadConfig reads the engine's YAML document, expanding `${VAR}`
// environment references before parsing so secrets and deploy-specific
// endpoints never need to be committed to the file itself.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvRefs(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

// expandEnvRefs substitutes `${VAR}`/`$VAR` references against the
// process environment. A reference to an unset variable is rewritten to
// the `\0MISSING:` sentinel rather than an empty string, so ResolveRef
// can tell "not configured" apart from "configured as empty".
func expandEnvRefs(doc string) string {
	return os.Expand(doc, func(name string) string {
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return missingRefSentinel + name
	})
}

// ResolveRef treats the `\0MISSING:` sentinel as an absent value, the
// contract injected RPC URLs and signer key references must honor.
func ResolveRef(value string) (string, bool) {
	if value == "" || strings.HasPrefix(value, missingRefSentinel) {
		return "", false
	}
	return value, true
}

// ChainPolicy translates one chain's size/allow-list bounds into the
// shape internal/policy.Engine consumes.
func (c ChainYAML) ChainPolicy() policy.ChainPolicy {
	allowedDebt := make(map[string]bool, len(c.Tokens))
	allowedCollateral := make(map[string]bool, len(c.Tokens))
	for _, tok := range c.Tokens {
		allowedDebt[tok.Address] = true
		allowedCollateral[tok.Address] = true
	}
	return policy.ChainPolicy{
		Enabled:           c.Enabled,
		MinPositionUsd:    c.MinPositionUsd,
		MaxPositionUsd:    c.MaxPositionUsd,
		AllowedDebt:       allowedDebt,
		AllowedCollateral: allowedCollateral,
	}
}

// PriceFeeds translates the chain's token list into the feed metadata
// map internal/price.Watcher indexes Chainlink reads by.
func (c ChainYAML) PriceFeeds() map[string]price.FeedMeta {
	feeds := make(map[string]price.FeedMeta, len(c.Tokens))
	for _, tok := range c.Tokens {
		if tok.ChainlinkFeed == "" {
			continue
		}
		denomination := price.DenominationUSD
		if tok.FeedDenomination == "eth" {
			denomination = price.DenominationETH
		}
		feeds[tok.Address] = price.FeedMeta{
			Token:        tok.Address,
			Denomination: denomination,
			IsWETH:       tok.IsWETH,
		}
	}
	return feeds
}

// Routers translates the chain's allowed-router list into
// internal/simulate.RouterConfig values.
func (c ChainYAML) Routers() []simulate.RouterConfig {
	routers := make([]simulate.RouterConfig, 0, len(c.AllowedRouters))
	for _, r := range c.AllowedRouters {
		routers = append(routers, simulate.RouterConfig{
			Router: r.Router,
			Pool:   r.Pool,
			FeeBps: r.FeeBps,
			Hops:   r.Hops,
		})
	}
	return routers
}

// SequencerGateConfig builds the liveness-window config for a chain's
// sequencer gate.
func (c ChainYAML) SequencerGateConfig() chain.SequencerGateConfig {
	return chain.DefaultSequencerGateConfig()
}

// DeadlineSeconds derives the simulator's execution deadline from the
// chain's configured buffer.
func (c ChainYAML) DeadlineSeconds() int {
	if c.DeadlineBufferSec <= 0 {
		return 120
	}
	return c.DeadlineBufferSec
}

// GasSafetyMarginBps converts the chain's gasSafetyMultiplier (e.g. 1.2
// for a 20% margin) into the basis-points margin the simulator wants.
func (c ChainYAML) GasSafetyMarginBps() int {
	if c.GasSafetyMultiplier <= 1 {
		return 0
	}
	return int(math.Round((c.GasSafetyMultiplier - 1) * 10_000))
}

// AdaptiveController builds a fresh controller; callers share one
// instance across a chain's admission and simulation calls.
func AdaptiveController() *adaptive.Controller {
	return adaptive.NewController()
}

// PollInterval is the fixed adapter poll cadence; it is not exposed in
// YAML since every protocol adapter polls at the same cadence.
const PollInterval = 5 * time.Second
