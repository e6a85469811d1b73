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

const historicalReservesJSON = `{"reserves":[{
  "underlyingAsset": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
  "symbol": "USDC",
  "decimals": 6,
  "totalATokenSupply": "1000000000000",
  "totalCurrentVariableDebt": "750000000000",
  "totalPrincipalStableDebt": "50000000000",
  "availableLiquidity": "200000000000",
  "liquidityRate": "45000000000000000000000000",
  "variableBorrowRate": "62000000000000000000000000",
  "liquidityIndex": "1050000000000000000000000000",
  "variableBorrowIndex": "1090000000000000000000000000",
  "reserveFactor": "1000",
  "baseVariableBorrowRate": "0",
  "optimalUtilisationRate": "900000000000000000000000000",
  "variableRateSlope1": "55000000000000000000000000",
  "variableRateSlope2": "600000000000000000000000000",
  "price": {"priceInEth": "99990000"}
}]}`

func newHistorical(q *fakeQuerier, r *fakeResolver, chainID int64, clock func() time.Time) *HistoricalAdapter {
	return NewHistoricalAdapter(HistoricalOptions{
		Backends: map[int64]HistoricalBackend{chainID: {Client: q, Resolver: r}},
		Prices:   DefaultPriceStrategies(1),
		Cache:    testCache(clock),
		Clock:    clock,
	})
}

func TestHistoricalAdapter_PoolEntityID(t *testing.T) {
	q := newFakeQuerier()
	q.responses["pools"] = `{"pools":[{"id":"0x2f39d218133afab8f2b819b1066c7e434ad94e9e"}]}`
	a := newHistorical(q, &fakeResolver{}, 1, time.Now)

	id, err := a.PoolEntityID(context.Background(), ethMarket)
	require.NoError(t, err)
	assert.Equal(t, "0x2f39d218133afab8f2b819b1066c7e434ad94e9e", id)
	assert.Equal(t, "0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2", q.lastVars["pools"]["address"])

	_, err = a.PoolEntityID(context.Background(), ethMarket)
	require.NoError(t, err)
	assert.Equal(t, 1, q.callCount("pools"), "entity id should be cached")
}

func TestHistoricalAdapter_PoolNotFound(t *testing.T) {
	q := newFakeQuerier()
	q.responses["pools"] = `{"pools":[]}`
	a := newHistorical(q, &fakeResolver{}, 1, time.Now)

	_, err := a.PoolEntityID(context.Background(), ethMarket)
	assert.ErrorIs(t, err, domain.ErrPoolNotFound)
}

func TestHistoricalAdapter_ReservesAtScalesOnChainIntegers(t *testing.T) {
	q := newFakeQuerier()
	q.responses["pools"] = `{"pools":[{"id":"pool-1"}]}`
	q.responses["reserves"] = historicalReservesJSON
	a := newHistorical(q, &fakeResolver{}, 1, time.Now)

	reserves, err := a.ReservesAt(context.Background(), ethMarket, 19000000)
	require.NoError(t, err)
	require.Len(t, reserves, 1)

	r := reserves[0]
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", r.Asset)
	assert.True(t, r.TotalSupplied.Equal(numeric.FromInt(1000000)), "supplied %s", r.TotalSupplied)
	assert.True(t, r.TotalBorrowed.Equal(numeric.FromInt(800000)), "borrowed %s", r.TotalBorrowed)
	assert.True(t, r.AvailableLiquidity.Equal(numeric.FromInt(200000)))
	assert.True(t, r.SupplyAPR.Equal(numeric.MustParse("0.045")), "supply apr %s", r.SupplyAPR)
	assert.True(t, r.LiquidityIndex.Equal(numeric.MustParse("1.05")))
	assert.True(t, r.ReserveFactor.Equal(numeric.MustParse("0.1")))
	// primary chain: price / 1e8
	assert.True(t, r.PriceUSD.Equal(numeric.MustParse("0.9999")), "price %s", r.PriceUSD)
	require.NotNil(t, r.RateCurve)
	assert.True(t, r.RateCurve.OptimalUtilization.Equal(numeric.MustParse("0.9")))

	assert.Equal(t, "pool-1", q.lastVars["reserves"]["pool"])
	assert.Equal(t, int64(19000000), q.lastVars["reserves"]["block"])
}

func TestHistoricalAdapter_NonPrimaryChainUsesMagnitude(t *testing.T) {
	q := newFakeQuerier()
	q.responses["pools"] = `{"pools":[{"id":"pool-137"}]}`
	q.responses["reserves"] = `{"reserves":[{
	  "underlyingAsset":"0xabc","symbol":"USDC","decimals":6,
	  "totalATokenSupply":"1000000","totalCurrentVariableDebt":"0",
	  "availableLiquidity":"1000000","liquidityRate":"0","variableBorrowRate":"0",
	  "liquidityIndex":"1000000000000000000000000000","variableBorrowIndex":"1000000000000000000000000000",
	  "reserveFactor":"0","price":{"priceInEth":"0.9998"}
	}]}`
	polygon := domain.Market{Key: "polygon-core", PoolAddress: "0xpool", ChainID: 137}
	a := newHistorical(q, &fakeResolver{}, 137, time.Now)

	reserves, err := a.ReservesAt(context.Background(), polygon, 100)
	require.NoError(t, err)
	assert.True(t, reserves[0].PriceUSD.Equal(numeric.MustParse("0.9998")))
	assert.True(t, reserves[0].TotalBorrowed.IsZero())
	assert.Nil(t, reserves[0].RateCurve)
}

func TestHistoricalAdapter_MissingPriceIsSchemaMismatch(t *testing.T) {
	q := newFakeQuerier()
	q.responses["pools"] = `{"pools":[{"id":"pool-1"}]}`
	q.responses["reserves"] = `{"reserves":[{
	  "underlyingAsset":"0xabc","symbol":"X","decimals":18,
	  "totalATokenSupply":"1","totalCurrentVariableDebt":"0",
	  "availableLiquidity":"1","liquidityRate":"0","variableBorrowRate":"0",
	  "liquidityIndex":"1","variableBorrowIndex":"1","reserveFactor":"0"
	}]}`
	a := newHistorical(q, &fakeResolver{}, 1, time.Now)

	_, err := a.ReservesAt(context.Background(), ethMarket, 1)
	var schemaErr *domain.SchemaError
	require.True(t, errors.As(err, &schemaErr), "got %v", err)
	assert.Equal(t, "reserves[0].price.priceInEth", schemaErr.Field)
}

func TestHistoricalAdapter_ReservesOnResolvesEndOfDay(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	q := newFakeQuerier()
	q.responses["pools"] = `{"pools":[{"id":"pool-1"}]}`
	q.responses["reserves"] = historicalReservesJSON
	resolver := &fakeResolver{block: 19500000}
	a := newHistorical(q, resolver, 1, clock)

	res, err := a.ReservesOn(context.Background(), ethMarket, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, int64(19500000), res.Block)
	assert.Len(t, res.Reserves, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC), resolver.targets[0])

	_, err = a.ReservesOn(context.Background(), ethMarket, "2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, now, resolver.targets[1], "today resolves to now")
}

func TestHistoricalAdapter_ChainNotConfigured(t *testing.T) {
	a := newHistorical(newFakeQuerier(), &fakeResolver{}, 1, time.Now)
	other := domain.Market{Key: "base-core", PoolAddress: "0xpool", ChainID: 8453}

	_, err := a.ReservesOn(context.Background(), other, "2024-05-01")
	assert.ErrorIs(t, err, ErrChainNotConfigured)
}

func TestHistoricalAdapter_ResolverFailure(t *testing.T) {
	resolverErr := errors.New("all endpoints failed")
	a := newHistorical(newFakeQuerier(), &fakeResolver{err: resolverErr}, 1, time.Now)

	_, err := a.ReservesOn(context.Background(), ethMarket, "2024-05-01")
	assert.ErrorIs(t, err, resolverErr)
}
