// Command liquidator runs the multi-chain liquidation engine: it loads
// configs/config.yml, dials every enabled chain, wires each chain's
// candidate adapters, policy, pricer, and execution coordinator into an
// engine.ChainRuntime, and runs until interrupted.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackholelabs/liqd/configs"
	"github.com/blackholelabs/liqd/internal/adaptive"
	"github.com/blackholelabs/liqd/internal/candidate"
	"github.com/blackholelabs/liqd/internal/chain"
	"github.com/blackholelabs/liqd/internal/engine"
	"github.com/blackholelabs/liqd/internal/execute"
	"github.com/blackholelabs/liqd/internal/ledger"
	"github.com/blackholelabs/liqd/internal/policy"
	"github.com/blackholelabs/liqd/internal/price"
	"github.com/blackholelabs/liqd/internal/simulate"
	"github.com/blackholelabs/liqd/internal/util"
	"github.com/blackholelabs/liqd/pkg/contractclient"
	"github.com/blackholelabs/liqd/pkg/txlistener"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const gracefulShutdown = 30 * time.Second

// chainBaseHfMax is the unadjusted health-factor admission ceiling every
// chain starts from before the adaptive controller tightens or relaxes it.
const chainBaseHfMax = 1.0

func main() {
	_ = godotenv.Load()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := log.Logger

	signer, err := loadSigner()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load signer key")
	}
	signerAddr := crypto.PubkeyToAddress(signer.PublicKey)

	cfg, err := configs.LoadConfig("configs/config.yml")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	executorAbi, err := util.LoadABI(cfg.Abis.Executor)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load executor abi")
	}

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(127.0.0.1:3306)/liqd?charset=utf8mb4&parseTime=True&loc=Local"
	}
	ledg, err := ledger.NewMySQLLedger(dsn, 4096, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open ledger")
	}

	eng := engine.NewEngine(ledg, gracefulShutdown, logger)
	pool := chain.NewPool()

	for _, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled {
			logger.Info().Int64("chain_id", chainCfg.ID).Str("name", chainCfg.Name).Msg("chain disabled, skipping")
			continue
		}

		rpcURL, ok := configs.ResolveRef(chainCfg.RpcUrl)
		if !ok {
			logger.Warn().Int64("chain_id", chainCfg.ID).Msg("no rpc url configured, skipping chain")
			continue
		}

		if err := pool.Add(chainCfg.ID, rpcURL, chainCfg.RequestsPerSecond); err != nil {
			logger.Error().Err(err).Int64("chain_id", chainCfg.ID).Msg("failed to dial chain, skipping")
			continue
		}
		client, err := pool.Client(chainCfg.ID)
		if err != nil {
			logger.Error().Err(err).Int64("chain_id", chainCfg.ID).Msg("failed to fetch pooled client, skipping")
			continue
		}

		rt, err := buildChainRuntime(chainCfg, cfg, client, signer, signerAddr, executorAbi, ledg, logger)
		if err != nil {
			logger.Error().Err(err).Int64("chain_id", chainCfg.ID).Msg("failed to build chain runtime, skipping")
			continue
		}
		eng.AddChain(rt)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().Msg("liquidator starting")
	eng.Run(ctx)
	logger.Info().Msg("liquidator stopped")
}

// loadSigner decrypts the signer's private key from the ENC_PK/KEY
// environment pair, so a deployed process never stores its signing key
// in plaintext on disk.
func loadSigner() (*ecdsa.PrivateKey, error) {
	encPk := os.Getenv("ENC_PK")
	if encPk == "" {
		return nil, fmt.Errorf("ENC_PK not set")
	}
	passphrase := os.Getenv("KEY")
	if passphrase == "" {
		return nil, fmt.Errorf("KEY not set")
	}

	plaintext, err := util.Decrypt(util.Hex2Bytes(encPk), passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt signer key: %w", err)
	}

	key, err := crypto.HexToECDSA(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("parse decrypted signer key: %w", err)
	}
	return key, nil
}

// buildChainRuntime wires one chain's candidate adapters, policy engine,
// price watcher, and execution coordinator into an engine.ChainRuntime.
func buildChainRuntime(
	cfg configs.ChainYAML,
	root *configs.Config,
	client *ethclient.Client,
	signer *ecdsa.PrivateKey,
	signerAddr common.Address,
	executorAbi abi.ABI,
	ledg *ledger.Ledger,
	logger zerolog.Logger,
) (*engine.ChainRuntime, error) {
	chainLog := logger.With().Int64("chain_id", cfg.ID).Str("chain_name", cfg.Name).Logger()

	liquidatorAddr, ok := configs.ResolveRef(cfg.LiquidatorContract)
	if !ok {
		return nil, fmt.Errorf("no liquidator contract configured")
	}
	executorClient := contractclient.NewContractClient(client, common.HexToAddress(liquidatorAddr), executorAbi)

	listener := txlistener.NewTxListener(
		client,
		txlistener.WithPollInterval(3*time.Second),
		txlistener.WithTimeout(5*time.Minute),
	)

	state := chain.NewState(cfg.ID, cfg.Name, cfg.RpcUrl, signer, signerAddr, cfg.MaxConcurrentExecutions)

	var sequencerGate *chain.SequencerGate
	if feedAddr, ok := configs.ResolveRef(cfg.SequencerFeed); ok && root.Abis.SequencerFeed != "" {
		feedAbi, err := util.LoadABI(root.Abis.SequencerFeed)
		if err != nil {
			return nil, fmt.Errorf("load sequencer feed abi: %w", err)
		}
		feedClient := contractclient.NewContractClient(client, common.HexToAddress(feedAddr), feedAbi)
		sequencerGate = chain.NewSequencerGate(state, feedClient, cfg.SequencerGateConfig(), chainLog)
	} else {
		// No feed configured: mark the chain always-up and run no poller.
		state.SetSequencerOk(true)
	}

	var chainlinkReader price.ChainlinkReader
	if root.Abis.ChainlinkFeed != "" {
		feedAbi, err := util.LoadABI(root.Abis.ChainlinkFeed)
		if err != nil {
			chainLog.Warn().Err(err).Msg("failed to load chainlink feed abi, falling back to subgraph prices only")
		} else {
			feeds := make(map[string]contractclient.ContractClient)
			for _, tok := range cfg.Tokens {
				if tok.ChainlinkFeed == "" {
					continue
				}
				feeds[tok.Address] = contractclient.NewContractClient(client, common.HexToAddress(tok.ChainlinkFeed), feedAbi)
			}
			chainlinkReader = price.NewAggregatorReader(feeds)
		}
	}

	var subgraphReader price.SubgraphPriceReader
	if subgraphURL, ok := firstConfiguredSubgraphURL(cfg); ok {
		subgraphReader = price.NewSubgraphReader(subgraphURL)
	}

	adaptiveController := configs.AdaptiveController()

	gapPairs := buildGapPairs(cfg)
	for _, pair := range gapPairs {
		adaptiveController.Register(cfg.ID, pair.AssetKey, chainBaseHfMax, adaptive.DefaultBaseGapCapBps)
	}
	gapUpdater := &engine.GapUpdater{
		ChainID:  cfg.ID,
		Adaptive: adaptiveController,
		Pairs:    gapPairs,
		Interval: configs.PollInterval,
		Log:      chainLog,
	}

	watcher, err := price.NewWatcher(
		cfg.ID, 512,
		cfg.PriceFeeds(),
		chainlinkReader,
		subgraphReader,
		nil,
		gapUpdater,
		chainLog,
	)
	if err != nil {
		return nil, fmt.Errorf("build price watcher: %w", err)
	}
	gapUpdater.Watcher = watcher

	policyEngine := policy.NewEngine(
		engine.StateSequencerChecker{State: state},
		policy.NewCooldownTracker(),
		adaptiveController,
		engine.WatcherPriceLookup{Watcher: watcher},
		map[int64]policy.ChainPolicy{cfg.ID: cfg.ChainPolicy()},
	)

	adapters := buildAdapters(cfg, root, client, chainLog, adaptiveController)
	intake := candidate.NewIntake(cfg.ID, adapters, 256, 64, configs.PollInterval, chainLog)

	gasPremium := cfg.GasSafetyMultiplier - 1
	if gasPremium < 0 {
		gasPremium = 0
	}
	gasSource := chain.NewEthGasSource(client, gasPremium, nil, nil, nil)

	var quoter simulate.Quoter
	if root.Abis.Quoter != "" {
		quoterAbi, err := util.LoadABI(root.Abis.Quoter)
		if err != nil {
			return nil, fmt.Errorf("load quoter abi: %w", err)
		}
		quoter = chain.NewRouterQuoter(client, quoterAbi)
	}

	rt := &engine.ChainRuntime{
		ChainID:          cfg.ID,
		Name:             cfg.Name,
		Intake:           intake,
		Policy:           policyEngine,
		Adaptive:         adaptiveController,
		PriceWatcher:     watcher,
		SequencerGate:    sequencerGate,
		State:            state,
		GasSource:        gasSource,
		GapUpdater:       gapUpdater,
		Quoter:           quoter,
		Routers:          cfg.Routers(),
		NativeToken:      cfg.NativeToken,
		SlippageBps:      cfg.SlippageBps,
		GasUnitsEstimate: cfg.GasUnitsEstimate,
		SafetyMarginBps:  cfg.GasSafetyMarginBps(),
		MinNetUsd:        cfg.MinNetUsd,
		PnlMultipleMin:   cfg.PnlMultipleMin,
		DeadlineSeconds:  cfg.DeadlineSeconds(),
		CloseFactorBps:   cfg.CloseFactorBps,
		LiquidationBonus: cfg.LiquidationBonus,
		BaseHfMax:        chainBaseHfMax,
	}

	rt.Coordinator = execute.NewCoordinator(
		cfg.ID, state, executorClient, listener,
		client, gasSource,
		engine.NewRevalidator(rt, 500), ledg,
		chainLog, cfg.MaxConcurrentExecutions,
	).WithNativePricer(cfg.NativeToken, engine.WatcherNativePricer{Watcher: watcher})

	return rt, nil
}

// firstConfiguredSubgraphURL picks one protocol subgraph as the chain's
// price-fallback source; any one of them carries the chain's own cached
// asset prices, and the watcher only needs a single fallback tier.
func firstConfiguredSubgraphURL(cfg configs.ChainYAML) (string, bool) {
	for _, adapter := range []configs.AdapterYAML{cfg.Adapters.Aave, cfg.Adapters.CompoundV3} {
		if url, ok := configs.ResolveRef(adapter.SubgraphURL); ok {
			return url, true
		}
	}
	return "", false
}

// buildGapPairs enumerates every ordered (debt, collateral) combination
// across a chain's configured tokens, keyed the same way
// types.Candidate.AssetKey() would key an actual position in that pair,
// so a pair's adaptive state is seeded before the first live observation
// arrives.
func buildGapPairs(cfg configs.ChainYAML) []engine.GapPair {
	addrs := make([]string, 0, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		addrs = append(addrs, tok.Address)
	}

	pairs := make([]engine.GapPair, 0, len(addrs)*(len(addrs)-1))
	for _, debt := range addrs {
		for _, collateral := range addrs {
			if debt == collateral {
				continue
			}
			pairs = append(pairs, engine.GapPair{
				AssetKey:        debt + "/" + collateral,
				DebtToken:       debt,
				CollateralToken: collateral,
			})
		}
	}
	return pairs
}

func buildAdapters(cfg configs.ChainYAML, root *configs.Config, client *ethclient.Client, log zerolog.Logger, adaptiveController *adaptive.Controller) []candidate.Adapter {
	adapters := make([]candidate.Adapter, 0, 4)

	if subgraphURL, ok := configs.ResolveRef(cfg.Adapters.Aave.SubgraphURL); ok {
		adapters = append(adapters, candidate.NewAaveAdapter(cfg.ID, subgraphURL, func() float64 {
			return adaptiveController.ChainMaxHealthFactorBound(cfg.ID, chainBaseHfMax)
		}))
	}

	if cometAddr, ok := configs.ResolveRef(cfg.Adapters.CompoundV3.CometAddress); ok && root.Abis.CompoundComet != "" {
		cometAbi, err := util.LoadABI(root.Abis.CompoundComet)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load compound comet abi, skipping compound v3 adapter")
		} else {
			comet := contractclient.NewContractClient(client, common.HexToAddress(cometAddr), cometAbi)
			adapters = append(adapters, candidate.NewCompoundV3Adapter(
				cfg.ID,
				cfg.Adapters.CompoundV3.SubgraphURL,
				cfg.Adapters.CompoundV3.BaseToken,
				cfg.Adapters.CompoundV3.BaseSymbol,
				comet,
			))
		}
	}

	if apiURL, ok := configs.ResolveRef(cfg.Adapters.MorphoBlue.ApiURL); ok {
		adapters = append(adapters, candidate.NewMorphoBlueAdapter(cfg.ID, apiURL, cfg.Adapters.MorphoBlue.HfThreshold))
	}

	// Ionic's subgraph schema is not yet published for this chain set;
	// the adapter is registered disabled so the intake wiring stays
	// uniform once it ships.
	adapters = append(adapters, candidate.NewIonicAdapter())

	return adapters
}
