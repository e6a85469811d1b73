package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/upstream"
)

const sampleConfig = `markets:
  - key: ethereum-core
    name: Core Ethereum
    pool_address: "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"
    chain_id: 1
    historical_source: trusted
  - key: base-core
    pool_address: "0xa238dd80c259a72e81d7e4664a9801593f98d1c5"
    chain_id: 8453
    historical_source: none
live:
  endpoint: https://live.example/graphql
  timeout: 10s
chains:
  - chain_id: 1
    historical_endpoint: https://indexer.example/mainnet
    rpc_endpoints: ["https://rpc-a.example", "https://rpc-b.example"]
prices:
  primary_chain_id: 1
  overrides:
    - chain_id: 137
      rule: fixed_scale
      scale: "100000000"
sync:
  backfill_days: 7
  batch_delay: 250ms
reconciliation:
  unreliable_markets: [polygon-core]
storage:
  use_memory: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Markets, 2)
	m, ok := cfg.Market("ethereum-core")
	require.True(t, ok)
	assert.Equal(t, "0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2", m.PoolAddress)
	assert.Equal(t, domain.HistoricalTrusted, m.HistoricalSource)

	assert.Equal(t, 10*time.Second, cfg.Live.Timeout)
	assert.Equal(t, 7, cfg.Sync.BackfillDays)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.BatchDelay)
	assert.Equal(t, []string{"polygon-core"}, cfg.Reconciliation.UnreliableMarkets)

	// Untouched fields keep their defaults
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 0.5, cfg.Reconciliation.MaxRelativeDiff)
	assert.Equal(t, 0.2, cfg.Reconciliation.MaxMissingFraction)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)

	chain, ok := cfg.Chain(1)
	require.True(t, ok)
	assert.Len(t, chain.RPCEndpoints, 2)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvLiveEndpoint, "https://override.example/graphql")
	t.Setenv(EnvRPCEndpointsPrefix+"1", "https://rpc-c.example, https://rpc-d.example")
	t.Setenv(EnvUseMemory, "false")
	t.Setenv(EnvPostgresDSN, "postgres://localhost/lendpilot")
	t.Setenv(EnvClickhouseDSN, "clickhouse://localhost:9000/lendpilot")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://override.example/graphql", cfg.Live.Endpoint)
	assert.False(t, cfg.Storage.UseMemory)
	chain, _ := cfg.Chain(1)
	assert.Equal(t, []string{"https://rpc-c.example", "https://rpc-d.example"}, chain.RPCEndpoints)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Markets = []MarketConfig{{Key: "m", PoolAddress: "0x1", ChainID: 1, HistoricalSource: "none"}}
		cfg.Live.Endpoint = "https://live.example"
		cfg.Storage.UseMemory = true
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no markets", func(c *Config) { c.Markets = nil }},
		{"duplicate key", func(c *Config) { c.Markets = append(c.Markets, c.Markets[0]) }},
		{"bad historical source", func(c *Config) { c.Markets[0].HistoricalSource = "maybe" }},
		{"trusted without chain", func(c *Config) { c.Markets[0].HistoricalSource = "trusted" }},
		{"no live endpoint", func(c *Config) { c.Live.Endpoint = "" }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = CacheRedis }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "disk" }},
		{"missing fraction above one", func(c *Config) { c.Reconciliation.MaxMissingFraction = 1.5 }},
		{"bad price rule", func(c *Config) {
			c.Prices.Overrides = []upstream.PriceOverride{{ChainID: 10, Rule: "guess"}}
		}},
		{"missing dsn", func(c *Config) { c.Storage.UseMemory = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "LENDPILOT_DOTENV_TEST"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o600))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-file", os.Getenv(key))
}
