package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
abis:
  executor: abis/executor.json
  chainlinkFeed: abis/chainlink.json

chains:
  - id: 8453
    name: base
    enabled: true
    rpcUrl: https://base.example/rpc
    liquidatorContract: "0xliquidator"
    nativeToken: "0xweth"
    minPositionUsd: 500
    maxPositionUsd: 500000
    minNetUsd: 20
    pnlMultipleMin: 1.5
    gasUnitsEstimate: 400000
    gasSafetyMultiplier: 1.2
    maxConcurrentExecutions: 4
    slippageBps: 50
    deadlineBufferSec: 90
    closeFactorBps: 5000
    liquidationBonus: 0.05
    requestsPerSecond: 10
    sequencerFeed: "\x00MISSING:base.sequencer"
    tokens:
      usdc:
        address: "0xusdc"
        decimals: 6
        chainlinkFeed: "0xusdc-feed"
        feedDenomination: usd
      weth:
        address: "0xweth"
        decimals: 18
        chainlinkFeed: "0xweth-feed"
        feedDenomination: usd
        isWeth: true
    allowedRouters:
      - router: "0xrouter"
        pool: "0xpool"
        feeBps: 30
        hops: 1
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o644))
	return path
}

func TestLoadConfig_ParsesChainsAndAbis(t *testing.T) {
	path := writeTestConfig(t)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 1)

	chain := cfg.Chains[0]
	assert.Equal(t, int64(8453), chain.ID)
	assert.Equal(t, "base", chain.Name)
	assert.True(t, chain.Enabled)
	assert.Equal(t, "abis/executor.json", cfg.Abis.Executor)
	assert.Len(t, chain.Tokens, 2)
	assert.Len(t, chain.AllowedRouters, 1)
}

func TestResolveRef_TreatsEmptyAndSentinelAsAbsent(t *testing.T) {
	_, ok := ResolveRef("")
	assert.False(t, ok)

	_, ok = ResolveRef("\x00MISSING:base.sequencer")
	assert.False(t, ok)

	value, ok := ResolveRef("https://base.example/rpc")
	assert.True(t, ok)
	assert.Equal(t, "https://base.example/rpc", value)
}

func TestChainYAML_ChainPolicyBuildsAllowLists(t *testing.T) {
	path := writeTestConfig(t)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	policy := cfg.Chains[0].ChainPolicy()
	assert.True(t, policy.Enabled)
	assert.Equal(t, 500.0, policy.MinPositionUsd)
	assert.True(t, policy.AllowedDebt["0xusdc"])
	assert.True(t, policy.AllowedCollateral["0xweth"])
	assert.False(t, policy.AllowedDebt["0xnotlisted"])
}

func TestChainYAML_PriceFeedsSkipsTokensWithNoChainlinkFeed(t *testing.T) {
	chain := ChainYAML{
		Tokens: map[string]TokenYAML{
			"usdc": {Address: "0xusdc", ChainlinkFeed: "0xusdc-feed", FeedDenomination: "usd"},
			"dai":  {Address: "0xdai"},
		},
	}

	feeds := chain.PriceFeeds()
	require.Len(t, feeds, 1)
	assert.Contains(t, feeds, "0xusdc")
	assert.NotContains(t, feeds, "0xdai")
}

func TestChainYAML_DeadlineSecondsDefaultsWhenUnset(t *testing.T) {
	chain := ChainYAML{DeadlineBufferSec: 0}
	assert.Equal(t, 120, chain.DeadlineSeconds())

	chain.DeadlineBufferSec = 45
	assert.Equal(t, 45, chain.DeadlineSeconds())
}

func TestChainYAML_GasSafetyMarginBpsConvertsMultiplier(t *testing.T) {
	chain := ChainYAML{GasSafetyMultiplier: 1.2}
	assert.Equal(t, 2000, chain.GasSafetyMarginBps())

	chain.GasSafetyMultiplier = 1
	assert.Equal(t, 0, chain.GasSafetyMarginBps())

	chain.GasSafetyMultiplier = 0
	assert.Equal(t, 0, chain.GasSafetyMarginBps())
}

func TestLoadConfig_MissingFileReturnsError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	assert.Error(t, err)
}

func TestLoadConfig_ExpandsSetEnvVarReference(t *testing.T) {
	t.Setenv("TEST_LIQD_RPC_URL", "https://resolved.example/rpc")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	doc := "chains:\n  - id: 1\n    name: test\n    rpcUrl: \"${TEST_LIQD_RPC_URL}\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	url, ok := ResolveRef(cfg.Chains[0].RpcUrl)
	assert.True(t, ok)
	assert.Equal(t, "https://resolved.example/rpc", url)
}

func TestLoadConfig_UnsetEnvVarReferenceResolvesAsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	doc := "chains:\n  - id: 1\n    name: test\n    rpcUrl: \"${TEST_LIQD_DEFINITELY_UNSET}\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, ok := ResolveRef(cfg.Chains[0].RpcUrl)
	assert.False(t, ok)
}
