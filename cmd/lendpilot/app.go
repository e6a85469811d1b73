package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/batch"
	"github.com/PilotDAO/lendpilot-sub000/internal/cache"
	"github.com/PilotDAO/lendpilot-sub000/internal/chain"
	"github.com/PilotDAO/lendpilot-sub000/internal/collector"
	"github.com/PilotDAO/lendpilot-sub000/internal/config"
	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/graphql"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/orchestrator"
	"github.com/PilotDAO/lendpilot-sub000/internal/processor"
	"github.com/PilotDAO/lendpilot-sub000/internal/reconcile"
	"github.com/PilotDAO/lendpilot-sub000/internal/reporting"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
	chstore "github.com/PilotDAO/lendpilot-sub000/internal/storage/clickhouse"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage/memory"
	pgstore "github.com/PilotDAO/lendpilot-sub000/internal/storage/postgres"
	"github.com/PilotDAO/lendpilot-sub000/internal/upstream"
)

// allStores holds all storage implementations.
type allStores struct {
	raw        storage.RawSnapshotStore
	assets     storage.AssetSnapshotStore
	timeseries storage.MarketTimeseriesStore
	progress   storage.SyncProgressStore
}

// app holds every wired component of one process.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	markets []domain.Market
	stores  *allStores

	registry     *reconcile.Registry
	live         *upstream.LiveAdapter
	historical   *upstream.HistoricalAdapter
	collector    *collector.Collector
	processor    *processor.Processor
	auditor      *reconcile.Auditor
	orchestrator *orchestrator.Orchestrator
	reports      *reporting.Generator

	cleanup []func()
}

// newApp connects stores and the cache, then builds the pipeline.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		markets: cfg.DomainMarkets(),
	}

	stores, closeStores, err := createStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.stores = stores
	a.cleanup = append(a.cleanup, closeStores)

	layer, closeCache, err := createCacheLayer(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cleanup = append(a.cleanup, closeCache)

	prices := upstream.DefaultPriceStrategies(cfg.Prices.PrimaryChainID)
	if err := prices.Apply(cfg.Prices.Overrides); err != nil {
		a.Close()
		return nil, err
	}

	var stables *upstream.StablecoinTable
	if len(cfg.Stablecoins.Addresses) > 0 || len(cfg.Stablecoins.Symbols) > 0 {
		stables = upstream.NewStablecoinTable(cfg.Stablecoins.Addresses, cfg.Stablecoins.Symbols)
	}

	a.live = upstream.NewLiveAdapter(upstream.LiveOptions{
		Client: graphql.New(graphql.Options{
			Name:     "live",
			Endpoint: cfg.Live.Endpoint,
			Timeout:  cfg.Live.Timeout,
			Headers:  cfg.Live.Headers,
			Logger:   logger,
		}),
		Cache:        layer,
		TTL:          cfg.Live.TTL,
		RateCurveTTL: cfg.Live.RateCurveTTL,
		Stablecoins:  stables,
		Logger:       logger,
	})

	a.historical = upstream.NewHistoricalAdapter(upstream.HistoricalOptions{
		Backends:       historicalBackends(cfg, logger),
		Prices:         prices,
		Cache:          layer,
		PoolIDTTL:      cfg.Cache.PoolIDTTL,
		BlockDataTTL:   cfg.Cache.BlockDataTTL,
		ResolveTimeout: cfg.Sync.ResolveTimeout,
		Logger:         logger,
	})

	a.registry = reconcile.NewRegistry(cfg.Reconciliation.UnreliableMarkets)

	batchOpts := batch.Options{Size: cfg.Sync.BatchSize, Delay: cfg.Sync.BatchDelay}

	a.collector = collector.New(collector.Options{
		Live:                   a.live,
		Historical:             a.historical,
		Raw:                    stores.raw,
		Batch:                  batchOpts,
		CurveRequestsPerSecond: cfg.Sync.CurveRequestsPerSecond,
		Logger:                 logger,
	})

	a.processor = processor.New(processor.Options{
		Raw:            stores.raw,
		Assets:         stores.assets,
		Timeseries:     stores.timeseries,
		MaxRateGapDays: cfg.Sync.MaxRateGapDays,
		Logger:         logger,
	})

	a.auditor = reconcile.NewAuditor(reconcile.AuditorOptions{
		Live:       a.live,
		Historical: a.historical,
		Validator: reconcile.NewValidator(reconcile.Thresholds{
			MaxRelativeDiff:    numeric.FromFloat(cfg.Reconciliation.MaxRelativeDiff),
			MaxMissingFraction: numeric.FromFloat(cfg.Reconciliation.MaxMissingFraction),
		}, logger),
		Registry: a.registry,
		Logger:   logger,
	})

	a.orchestrator = orchestrator.New(orchestrator.Options{
		Markets:       a.markets,
		Collector:     a.collector,
		Processor:     a.processor,
		Auditor:       a.auditor,
		Registry:      a.registry,
		Raw:           stores.raw,
		Progress:      stores.progress,
		BackfillDays:  cfg.Sync.BackfillDays,
		AuditInterval: cfg.Sync.AuditInterval,
		RunTimeout:    cfg.Sync.RunTimeout,
		Batch:         batchOpts,
		Logger:        logger,
	})
	restored, err := a.orchestrator.RestoreFlags(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if restored > 0 {
		logger.Info().Int("markets", restored).Msg("restored unreliable flags")
	}

	a.reports = reporting.NewGenerator(stores.assets, stores.timeseries, a.registry)
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// market resolves a --market flag value.
func (a *app) market(key string) (domain.Market, error) {
	m, ok := a.cfg.Market(key)
	if !ok {
		return domain.Market{}, fmt.Errorf("unknown market %q", key)
	}
	return m, nil
}

// selectMarkets returns the named markets, or all of them when keys is empty.
func (a *app) selectMarkets(keys []string) ([]domain.Market, error) {
	if len(keys) == 0 {
		return a.markets, nil
	}
	out := make([]domain.Market, 0, len(keys))
	for _, k := range keys {
		m, err := a.market(k)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// historicalBackends builds the indexer client and block resolver of every
// chain that has a historical endpoint.
func historicalBackends(cfg *config.Config, logger zerolog.Logger) map[int64]upstream.HistoricalBackend {
	backends := make(map[int64]upstream.HistoricalBackend)
	for _, ch := range cfg.Chains {
		if ch.HistoricalEndpoint == "" || len(ch.RPCEndpoints) == 0 {
			continue
		}

		endpoints := make([]chain.Endpoint, 0, len(ch.RPCEndpoints))
		for _, url := range ch.RPCEndpoints {
			endpoints = append(endpoints, chain.Endpoint{
				Name:   url,
				Reader: chain.NewHTTPClient(url, chain.WithTimeout(cfg.Sync.RPCRequestTimeout)),
			})
		}

		backends[ch.ChainID] = upstream.HistoricalBackend{
			Client: graphql.New(graphql.Options{
				Name:     fmt.Sprintf("historical-%d", ch.ChainID),
				Endpoint: ch.HistoricalEndpoint,
				Timeout:  ch.HistoricalTimeout,
				Logger:   logger,
			}),
			Resolver: chain.NewResolver(endpoints, chain.ResolverOptions{
				RequestTimeout: cfg.Sync.RPCRequestTimeout,
				Logger:         logger,
			}),
		}
	}
	return backends
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg *config.Config) (*allStores, func(), error) {
	if cfg.Storage.UseMemory {
		stores := &allStores{
			raw:        memory.NewRawSnapshotStore(),
			assets:     memory.NewAssetSnapshotStore(),
			timeseries: memory.NewMarketTimeseriesStore(),
			progress:   memory.NewSyncProgressStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// ClickHouse
	chConn, err := chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		// PostgreSQL stores (raw and per-asset snapshots, sync bookkeeping)
		raw:      pgstore.NewRawSnapshotStore(pool),
		assets:   pgstore.NewAssetSnapshotStore(pool),
		progress: pgstore.NewSyncProgressStore(pool),

		// ClickHouse stores (market series)
		timeseries: chstore.NewMarketTimeseriesStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// createCacheLayer builds the upstream cache on the configured backend.
func createCacheLayer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*cache.Layer, func(), error) {
	var (
		store   cache.Store
		cleanup = func() {}
	)

	switch cfg.Cache.Backend {
	case config.CacheRedis:
		rs, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:           cfg.Cache.RedisAddr,
			Password:       cfg.Cache.RedisPassword,
			DB:             cfg.Cache.RedisDB,
			Prefix:         cfg.Cache.RedisPrefix,
			StaleRetention: cfg.Cache.StaleRetention,
		})
		if err != nil {
			return nil, nil, err
		}
		store = rs
		cleanup = func() {
			if err := rs.Close(); err != nil {
				logger.Warn().Err(err).Msg("close redis cache")
			}
		}
	default:
		store = cache.NewMemoryStore()
	}

	layer := cache.NewLayer(cache.Options{
		Store:      store,
		DefaultTTL: cfg.Cache.TTL,
		Retry: cache.RetryOptions{
			MaxAttempts:     cfg.Cache.Retry.MaxAttempts,
			InitialInterval: cfg.Cache.Retry.InitialInterval,
			MaxInterval:     cfg.Cache.Retry.MaxInterval,
		},
		Logger: logger.With().Str("component", "cache").Logger(),
	})
	return layer, cleanup, nil
}
