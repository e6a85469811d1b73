package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

var ethMarket = domain.Market{
	Key:              "ethereum-core",
	PoolAddress:      "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
	ChainID:          1,
	HistoricalSource: domain.HistoricalTrusted,
}

const liveMarketsJSON = `{
  "markets": [{
    "address": "0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2",
    "chainId": 1,
    "reserves": [
      {
        "underlyingToken": {"address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "symbol": "USDC", "decimals": 6},
        "usdExchangeRate": "0.9999",
        "totalSupplied": "1000000",
        "totalBorrowed": "800000",
        "availableLiquidity": "200000",
        "supplyApr": "0.045",
        "borrowApr": "0.062",
        "liquidityIndex": "1.05",
        "variableBorrowIndex": "1.09",
        "reserveFactor": "0.1"
      },
      {
        "underlyingToken": {"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "symbol": "WETH", "decimals": 18},
        "usdExchangeRate": "3500.5",
        "totalSupplied": "2000",
        "totalBorrowed": "1500",
        "availableLiquidity": "500",
        "supplyApr": "0.018",
        "borrowApr": "0.027",
        "liquidityIndex": "1.02",
        "variableBorrowIndex": "1.04",
        "reserveFactor": "0.15"
      }
    ]
  }]
}`

func TestLiveAdapter_Reserves(t *testing.T) {
	q := newFakeQuerier()
	q.responses["markets"] = liveMarketsJSON
	adapter := NewLiveAdapter(LiveOptions{Client: q, Cache: testCache(time.Now)})

	reserves, err := adapter.Reserves(context.Background(), ethMarket)
	require.NoError(t, err)
	require.Len(t, reserves, 2)

	usdc := reserves[0]
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", usdc.Asset)
	assert.Equal(t, "USDC", usdc.Symbol)
	assert.Equal(t, int32(6), usdc.Decimals)
	assert.True(t, usdc.PriceUSD.Equal(numeric.MustParse("0.9999")))
	assert.True(t, usdc.TotalSupplied.Equal(numeric.FromInt(1000000)))
	assert.True(t, usdc.BorrowIndex.Equal(numeric.MustParse("1.09")))

	weth := reserves[1]
	// non-stable assets are not rescaled
	assert.True(t, weth.PriceUSD.Equal(numeric.MustParse("3500.5")))
	assert.True(t, weth.USDSupplied().Equal(numeric.MustParse("7001000")))

	req := q.lastVars["markets"]["request"].(map[string]interface{})
	markets := req["markets"].([]map[string]interface{})
	assert.Equal(t, ethMarket.PoolAddress, markets[0]["address"])
	assert.Equal(t, int64(1), markets[0]["chainId"])
}

func TestLiveAdapter_MissingFieldIsSchemaMismatch(t *testing.T) {
	q := newFakeQuerier()
	q.responses["markets"] = `{"markets":[{"reserves":[{
	  "underlyingToken": {"address": "0xabc", "symbol": "ABC", "decimals": 18},
	  "usdExchangeRate": "1",
	  "totalSupplied": "10",
	  "availableLiquidity": "10",
	  "supplyApr": "0", "borrowApr": "0",
	  "liquidityIndex": "1", "variableBorrowIndex": "1", "reserveFactor": "0"
	}]}]}`
	adapter := NewLiveAdapter(LiveOptions{Client: q, Cache: testCache(time.Now)})

	_, err := adapter.Reserves(context.Background(), ethMarket)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamSchemaMismatch)

	var schemaErr *domain.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "markets[0].reserves[0].totalBorrowed", schemaErr.Field)
	assert.Equal(t, 1, q.callCount("markets"), "schema mismatch must not be retried")
}

func TestLiveAdapter_EmptyMarkets(t *testing.T) {
	q := newFakeQuerier()
	q.responses["markets"] = `{"markets":[]}`
	adapter := NewLiveAdapter(LiveOptions{Client: q, Cache: testCache(time.Now)})

	_, err := adapter.Reserves(context.Background(), ethMarket)
	assert.ErrorIs(t, err, domain.ErrUpstreamSchemaMismatch)
}

func TestLiveAdapter_CachesAndServesStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	q := newFakeQuerier()
	q.responses["markets"] = liveMarketsJSON
	adapter := NewLiveAdapter(LiveOptions{Client: q, Cache: testCache(clock), TTL: time.Minute})
	ctx := context.Background()

	_, err := adapter.Reserves(ctx, ethMarket)
	require.NoError(t, err)
	_, err = adapter.Reserves(ctx, ethMarket)
	require.NoError(t, err)
	assert.Equal(t, 1, q.callCount("markets"), "second call should be a cache hit")

	now = now.Add(time.Hour)
	q.errs["markets"] = errors.New("upstream 502")

	reserves, err := adapter.Reserves(ctx, ethMarket)
	require.NoError(t, err, "stale value expected after failed refresh")
	assert.Len(t, reserves, 2)
	assert.Equal(t, 2, q.callCount("markets"))
}

func TestLiveAdapter_RateCurve(t *testing.T) {
	q := newFakeQuerier()
	q.responses["reserve"] = `{"reserve":{"interestRateStrategy":{
	  "baseVariableBorrowRate":"0",
	  "optimalUsageRate":"0.9",
	  "variableRateSlope1":"0.055",
	  "variableRateSlope2":"0.6"
	}}}`
	adapter := NewLiveAdapter(LiveOptions{Client: q, Cache: testCache(time.Now)})

	curve, err := adapter.RateCurve(context.Background(), ethMarket, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	require.NoError(t, err)
	assert.True(t, curve.OptimalUtilization.Equal(numeric.MustParse("0.9")))
	assert.True(t, curve.Slope2.Equal(numeric.MustParse("0.6")))

	req := q.lastVars["reserve"]["request"].(map[string]interface{})
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", req["underlyingToken"])
}

func TestLiveAdapter_RateCurveMissing(t *testing.T) {
	q := newFakeQuerier()
	q.responses["reserve"] = `{"reserve":null}`
	adapter := NewLiveAdapter(LiveOptions{Client: q, Cache: testCache(time.Now)})

	_, err := adapter.RateCurve(context.Background(), ethMarket, "0xabc")
	assert.ErrorIs(t, err, domain.ErrUpstreamSchemaMismatch)
}
