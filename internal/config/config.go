// Package config loads the YAML configuration of the sync service and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/upstream"
)

// Environment variables that override file values.
const (
	EnvPostgresDSN   = "POSTGRES_DSN"
	EnvClickhouseDSN = "CLICKHOUSE_DSN"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvLiveEndpoint  = "LIVE_API_ENDPOINT"
	EnvUseMemory     = "USE_MEMORY"
	EnvLogLevel      = "LOG_LEVEL"

	// Per-chain overrides, suffixed with the chain id: RPC_ENDPOINTS_1="a,b".
	EnvRPCEndpointsPrefix       = "RPC_ENDPOINTS_"
	EnvHistoricalEndpointPrefix = "HISTORICAL_ENDPOINT_"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	Markets        []MarketConfig       `yaml:"markets"`
	Live           LiveConfig           `yaml:"live"`
	Chains         []ChainConfig        `yaml:"chains"`
	Prices         PricesConfig         `yaml:"prices"`
	Stablecoins    StablecoinsConfig    `yaml:"stablecoins"`
	Cache          CacheConfig          `yaml:"cache"`
	Sync           SyncConfig           `yaml:"sync"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Storage        StorageConfig        `yaml:"storage"`
	Logging        LoggingConfig        `yaml:"logging"`
	Server         ServerConfig         `yaml:"server"`
}

// MarketConfig describes one lending pool deployment.
type MarketConfig struct {
	Key              string `yaml:"key"`
	Name             string `yaml:"name"`
	PoolAddress      string `yaml:"pool_address"`
	ChainID          int64  `yaml:"chain_id"`
	HistoricalSource string `yaml:"historical_source"`
}

// Market converts the entry into a domain market.
func (m MarketConfig) Market() domain.Market {
	return domain.Market{
		Key:              m.Key,
		Name:             m.Name,
		PoolAddress:      domain.NormalizeAddress(m.PoolAddress),
		ChainID:          m.ChainID,
		HistoricalSource: domain.HistoricalSource(m.HistoricalSource),
	}
}

type LiveConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	Timeout      time.Duration     `yaml:"timeout"`
	Headers      map[string]string `yaml:"headers"`
	TTL          time.Duration     `yaml:"ttl"`
	RateCurveTTL time.Duration     `yaml:"rate_curve_ttl"`
}

// ChainConfig holds the historical indexer and RPC endpoints of one chain.
type ChainConfig struct {
	ChainID            int64         `yaml:"chain_id"`
	HistoricalEndpoint string        `yaml:"historical_endpoint"`
	HistoricalTimeout  time.Duration `yaml:"historical_timeout"`
	RPCEndpoints       []string      `yaml:"rpc_endpoints"` // tried in order
}

type PricesConfig struct {
	PrimaryChainID int64                    `yaml:"primary_chain_id"`
	Overrides      []upstream.PriceOverride `yaml:"overrides"`
}

// StablecoinsConfig replaces the built-in stablecoin table when non-empty.
type StablecoinsConfig struct {
	Addresses []string `yaml:"addresses"`
	Symbols   []string `yaml:"symbols"`
}

type CacheConfig struct {
	Backend        string        `yaml:"backend"` // memory | redis
	TTL            time.Duration `yaml:"ttl"`
	StaleRetention time.Duration `yaml:"stale_retention"`
	PoolIDTTL      time.Duration `yaml:"pool_id_ttl"`
	BlockDataTTL   time.Duration `yaml:"block_data_ttl"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	RedisPrefix    string        `yaml:"redis_prefix"`
	Retry          RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type SyncConfig struct {
	BackfillDays           int           `yaml:"backfill_days"`
	BatchSize              int           `yaml:"batch_size"`
	BatchDelay             time.Duration `yaml:"batch_delay"`
	CurveRequestsPerSecond float64       `yaml:"curve_requests_per_second"`
	AuditInterval          time.Duration `yaml:"audit_interval"`
	RunTimeout             time.Duration `yaml:"run_timeout"`
	ResolveTimeout         time.Duration `yaml:"resolve_timeout"`
	RPCRequestTimeout      time.Duration `yaml:"rpc_request_timeout"`
	MaxRateGapDays         int           `yaml:"max_rate_gap_days"`
}

type ReconciliationConfig struct {
	MaxRelativeDiff    float64  `yaml:"max_relative_diff"`
	MaxMissingFraction float64  `yaml:"max_missing_fraction"`
	UnreliableMarkets  []string `yaml:"unreliable_markets"`
}

type StorageConfig struct {
	UseMemory     bool   `yaml:"use_memory"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// Default returns a configuration with every tunable set. Markets and
// endpoints have no defaults.
func Default() *Config {
	return &Config{
		Live: LiveConfig{
			Timeout:      20 * time.Second,
			TTL:          upstream.DefaultLiveTTL,
			RateCurveTTL: upstream.DefaultRateCurveTTL,
		},
		Prices: PricesConfig{PrimaryChainID: 1},
		Cache: CacheConfig{
			Backend:        CacheMemory,
			TTL:            5 * time.Minute,
			StaleRetention: 24 * time.Hour,
			PoolIDTTL:      upstream.DefaultPoolIDTTL,
			BlockDataTTL:   upstream.DefaultBlockDataTTL,
			RedisPrefix:    "lendpilot",
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		Sync: SyncConfig{
			BackfillDays:           30,
			BatchSize:              10,
			BatchDelay:             time.Second,
			CurveRequestsPerSecond: 5,
			AuditInterval:          24 * time.Hour,
			RunTimeout:             15 * time.Minute,
			ResolveTimeout:         30 * time.Second,
			RPCRequestTimeout:      5 * time.Second,
			MaxRateGapDays:         2,
		},
		Reconciliation: ReconciliationConfig{
			MaxRelativeDiff:    0.5,
			MaxMissingFraction: 0.2,
		},
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			Addr:         ":9090",
			SyncInterval: 24 * time.Hour,
		},
	}
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&c.Storage.PostgresDSN, EnvPostgresDSN)
	setString(&c.Storage.ClickhouseDSN, EnvClickhouseDSN)
	setString(&c.Cache.RedisAddr, EnvRedisAddr)
	setString(&c.Cache.RedisPassword, EnvRedisPassword)
	setString(&c.Live.Endpoint, EnvLiveEndpoint)
	setString(&c.Logging.Level, EnvLogLevel)

	if v := strings.TrimSpace(os.Getenv(EnvUseMemory)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUseMemory, err)
		}
		c.Storage.UseMemory = b
	}

	for i := range c.Chains {
		id := strconv.FormatInt(c.Chains[i].ChainID, 10)
		if v := strings.TrimSpace(os.Getenv(EnvRPCEndpointsPrefix + id)); v != "" {
			c.Chains[i].RPCEndpoints = splitList(v)
		}
		setString(&c.Chains[i].HistoricalEndpoint, EnvHistoricalEndpointPrefix+id)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.Key == "" {
			return fmt.Errorf("markets[%d].key is required", i)
		}
		if seen[m.Key] {
			return fmt.Errorf("duplicate market key %q", m.Key)
		}
		seen[m.Key] = true
		if m.PoolAddress == "" {
			return fmt.Errorf("market %s: pool_address is required", m.Key)
		}
		if m.ChainID <= 0 {
			return fmt.Errorf("market %s: chain_id must be positive", m.Key)
		}
		if !domain.HistoricalSource(m.HistoricalSource).IsValid() {
			return fmt.Errorf("market %s: invalid historical_source %q", m.Key, m.HistoricalSource)
		}
		if m.HistoricalSource == string(domain.HistoricalTrusted) {
			chain, ok := c.Chain(m.ChainID)
			if !ok || chain.HistoricalEndpoint == "" || len(chain.RPCEndpoints) == 0 {
				return fmt.Errorf("market %s: trusted market needs a historical endpoint and rpc endpoints for chain %d", m.Key, m.ChainID)
			}
		}
	}

	if c.Live.Endpoint == "" {
		return fmt.Errorf("live.endpoint is required")
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}

	if c.Sync.BackfillDays <= 0 {
		return fmt.Errorf("sync.backfill_days must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Reconciliation.MaxRelativeDiff <= 0 {
		return fmt.Errorf("reconciliation.max_relative_diff must be positive")
	}
	if f := c.Reconciliation.MaxMissingFraction; f < 0 || f > 1 {
		return fmt.Errorf("reconciliation.max_missing_fraction must be within [0, 1]")
	}

	if err := upstream.DefaultPriceStrategies(c.Prices.PrimaryChainID).Apply(c.Prices.Overrides); err != nil {
		return fmt.Errorf("prices.overrides: %w", err)
	}

	if !c.Storage.UseMemory && (c.Storage.PostgresDSN == "" || c.Storage.ClickhouseDSN == "") {
		return fmt.Errorf("storage.postgres_dsn and storage.clickhouse_dsn are required (or set storage.use_memory)")
	}
	return nil
}

// DomainMarkets returns the configured markets as domain values.
func (c *Config) DomainMarkets() []domain.Market {
	out := make([]domain.Market, len(c.Markets))
	for i, m := range c.Markets {
		out[i] = m.Market()
	}
	return out
}

// Market looks up a configured market by key.
func (c *Config) Market(key string) (domain.Market, bool) {
	for _, m := range c.Markets {
		if m.Key == key {
			return m.Market(), true
		}
	}
	return domain.Market{}, false
}

// Chain looks up the configuration of a chain.
func (c *Config) Chain(chainID int64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return ChainConfig{}, false
}
