package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/cache"
	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

const historicalSource = "historical"

// Default historical settings.
const (
	DefaultPoolIDTTL      = 24 * time.Hour
	DefaultBlockDataTTL   = 7 * 24 * time.Hour
	DefaultResolveTimeout = 30 * time.Second
)

// ErrChainNotConfigured is returned for a market whose chain has no indexer backend.
var ErrChainNotConfigured = errors.New("historical backend not configured for chain")

const poolsQuery = `query Pools($address: String!) {
  pools(where: { pool: $address }) {
    id
  }
}`

const reservesAtQuery = `query Reserves($pool: String!, $block: Int!) {
  reserves(block: { number: $block }, where: { pool: $pool }) {
    underlyingAsset
    symbol
    decimals
    totalATokenSupply
    totalCurrentVariableDebt
    totalPrincipalStableDebt
    availableLiquidity
    liquidityRate
    variableBorrowRate
    liquidityIndex
    variableBorrowIndex
    reserveFactor
    baseVariableBorrowRate
    optimalUtilisationRate
    variableRateSlope1
    variableRateSlope2
    price { priceInEth }
  }
}`

type poolsResponse struct {
	Pools []struct {
		ID string `json:"id"`
	} `json:"pools"`
}

type historicalReserve struct {
	UnderlyingAsset          *string `json:"underlyingAsset"`
	Symbol                   *string `json:"symbol"`
	Decimals                 *int32  `json:"decimals"`
	TotalATokenSupply        *string `json:"totalATokenSupply"`
	TotalCurrentVariableDebt *string `json:"totalCurrentVariableDebt"`
	TotalPrincipalStableDebt *string `json:"totalPrincipalStableDebt"`
	AvailableLiquidity       *string `json:"availableLiquidity"`
	LiquidityRate            *string `json:"liquidityRate"`
	VariableBorrowRate       *string `json:"variableBorrowRate"`
	LiquidityIndex           *string `json:"liquidityIndex"`
	VariableBorrowIndex      *string `json:"variableBorrowIndex"`
	ReserveFactor            *string `json:"reserveFactor"`
	BaseVariableBorrowRate   *string `json:"baseVariableBorrowRate"`
	OptimalUtilisationRate   *string `json:"optimalUtilisationRate"`
	VariableRateSlope1       *string `json:"variableRateSlope1"`
	VariableRateSlope2       *string `json:"variableRateSlope2"`
	Price                    *struct {
		PriceInEth *string `json:"priceInEth"`
	} `json:"price"`
}

type reservesResponse struct {
	Reserves []*historicalReserve `json:"reserves"`
}

// BlockResolver maps a timestamp to a block number. Implemented by chain.Resolver.
type BlockResolver interface {
	ResolveBlock(ctx context.Context, ts time.Time, timeout time.Duration) (int64, error)
}

// HistoricalBackend is the indexer and RPC pair of one chain.
type HistoricalBackend struct {
	Client   Querier
	Resolver BlockResolver
}

// HistoricalOptions configures HistoricalAdapter.
type HistoricalOptions struct {
	Backends       map[int64]HistoricalBackend
	Prices         *PriceStrategyTable
	Cache          *cache.Layer
	PoolIDTTL      time.Duration
	BlockDataTTL   time.Duration
	ResolveTimeout time.Duration
	Logger         zerolog.Logger
	Clock          func() time.Time
}

// HistoricalAdapter reads block-scoped reserve state from the indexer.
type HistoricalAdapter struct {
	backends       map[int64]HistoricalBackend
	prices         *PriceStrategyTable
	cache          *cache.Layer
	poolIDTTL      time.Duration
	blockDataTTL   time.Duration
	resolveTimeout time.Duration
	logger         zerolog.Logger
	now            func() time.Time
}

// NewHistoricalAdapter creates a HistoricalAdapter.
func NewHistoricalAdapter(opts HistoricalOptions) *HistoricalAdapter {
	if opts.Prices == nil {
		opts.Prices = DefaultPriceStrategies(1)
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewLayer(cache.Options{Logger: opts.Logger})
	}
	if opts.PoolIDTTL <= 0 {
		opts.PoolIDTTL = DefaultPoolIDTTL
	}
	if opts.BlockDataTTL <= 0 {
		opts.BlockDataTTL = DefaultBlockDataTTL
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &HistoricalAdapter{
		backends:       opts.Backends,
		prices:         opts.Prices,
		cache:          opts.Cache,
		poolIDTTL:      opts.PoolIDTTL,
		blockDataTTL:   opts.BlockDataTTL,
		resolveTimeout: opts.ResolveTimeout,
		logger:         opts.Logger,
		now:            opts.Clock,
	}
}

// HistoricalReserves is the indexer state of a market at one block.
type HistoricalReserves struct {
	Block    int64
	Reserves []domain.Reserve
}

func (a *HistoricalAdapter) backend(chainID int64) (HistoricalBackend, error) {
	b, ok := a.backends[chainID]
	if !ok || b.Client == nil {
		return HistoricalBackend{}, fmt.Errorf("chain %d: %w", chainID, ErrChainNotConfigured)
	}
	return b, nil
}

// PoolEntityID resolves the indexer entity id of a market pool. The entity
// id is not the contract address.
func (a *HistoricalAdapter) PoolEntityID(ctx context.Context, market domain.Market) (string, error) {
	b, err := a.backend(market.ChainID)
	if err != nil {
		return "", err
	}

	address := domain.NormalizeAddress(market.PoolAddress)
	key := cache.Key(historicalSource, "pool", fmt.Sprint(market.ChainID), address)
	res, err := cache.Fetch(ctx, a.cache, key, a.poolIDTTL, func(ctx context.Context) (string, error) {
		var resp poolsResponse
		if err := b.Client.Query(ctx, "pools", poolsQuery, map[string]interface{}{"address": address}, &resp); err != nil {
			return "", err
		}
		if len(resp.Pools) == 0 || resp.Pools[0].ID == "" {
			return "", fmt.Errorf("pool %s on chain %d: %w", address, market.ChainID, domain.ErrPoolNotFound)
		}
		return resp.Pools[0].ID, nil
	})
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

// ReservesAt returns the reserves of a market at a block.
func (a *HistoricalAdapter) ReservesAt(ctx context.Context, market domain.Market, block int64) ([]domain.Reserve, error) {
	b, err := a.backend(market.ChainID)
	if err != nil {
		return nil, err
	}
	poolID, err := a.PoolEntityID(ctx, market)
	if err != nil {
		return nil, err
	}

	key := cache.Key(historicalSource, "reserves", fmt.Sprint(market.ChainID), poolID, fmt.Sprint(block))
	res, err := cache.Fetch(ctx, a.cache, key, a.blockDataTTL, func(ctx context.Context) ([]domain.Reserve, error) {
		var resp reservesResponse
		vars := map[string]interface{}{"pool": poolID, "block": block}
		if err := b.Client.Query(ctx, "reserves", reservesAtQuery, vars, &resp); err != nil {
			return nil, err
		}
		return a.mapReserves(market.ChainID, resp.Reserves)
	})
	if err != nil {
		return nil, fmt.Errorf("historical reserves %s@%d: %w", market.Key, block, err)
	}
	return res.Value, nil
}

// ReservesOn resolves the last block of a UTC day (or the current head for
// today) and returns the reserves at that block.
func (a *HistoricalAdapter) ReservesOn(ctx context.Context, market domain.Market, date string) (*HistoricalReserves, error) {
	b, err := a.backend(market.ChainID)
	if err != nil {
		return nil, err
	}
	if b.Resolver == nil {
		return nil, fmt.Errorf("chain %d: no block resolver: %w", market.ChainID, ErrChainNotConfigured)
	}

	day, err := domain.ParseDate(date)
	if err != nil {
		return nil, err
	}
	target := day.AddDate(0, 0, 1).Add(-time.Second)
	if now := a.now(); target.After(now) {
		target = now
	}

	block, err := b.Resolver.ResolveBlock(ctx, target, a.resolveTimeout)
	if err != nil {
		return nil, fmt.Errorf("historical %s on %s: %w", market.Key, date, err)
	}

	reserves, err := a.ReservesAt(ctx, market, block)
	if err != nil {
		return nil, err
	}
	return &HistoricalReserves{Block: block, Reserves: reserves}, nil
}

var (
	rayDecimals = int32(numeric.RayDecimals)
	bpsDecimals = int32(4)
)

// mapReserves validates and converts raw indexer reserves.
func (a *HistoricalAdapter) mapReserves(chainID int64, raw []*historicalReserve) ([]domain.Reserve, error) {
	strategy := a.prices.For(chainID)
	reserves := make([]domain.Reserve, 0, len(raw))

	for i, hr := range raw {
		r := &fieldReader{source: historicalSource, path: fmt.Sprintf("reserves[%d]", i)}
		if hr == nil {
			r.fail("", "null")
			return nil, r.err
		}

		decimals := r.integer("decimals", hr.Decimals)
		variableDebt := r.scaled("totalCurrentVariableDebt", hr.TotalCurrentVariableDebt, decimals)
		stableDebt := numeric.Zero()
		if hr.TotalPrincipalStableDebt != nil {
			stableDebt = r.scaled("totalPrincipalStableDebt", hr.TotalPrincipalStableDebt, decimals)
		}

		var rawPrice *string
		if hr.Price != nil {
			rawPrice = hr.Price.PriceInEth
		}

		reserve := domain.Reserve{
			Asset:              domain.NormalizeAddress(r.str("underlyingAsset", hr.UnderlyingAsset)),
			Symbol:             r.str("symbol", hr.Symbol),
			Decimals:           decimals,
			PriceUSD:           strategy.Normalize(r.decimal("price.priceInEth", rawPrice)),
			TotalSupplied:      r.scaled("totalATokenSupply", hr.TotalATokenSupply, decimals),
			TotalBorrowed:      variableDebt.Add(stableDebt),
			AvailableLiquidity: r.scaled("availableLiquidity", hr.AvailableLiquidity, decimals),
			SupplyAPR:          r.scaled("liquidityRate", hr.LiquidityRate, rayDecimals),
			BorrowAPR:          r.scaled("variableBorrowRate", hr.VariableBorrowRate, rayDecimals),
			LiquidityIndex:     r.scaled("liquidityIndex", hr.LiquidityIndex, rayDecimals),
			BorrowIndex:        r.scaled("variableBorrowIndex", hr.VariableBorrowIndex, rayDecimals),
			ReserveFactor:      r.scaled("reserveFactor", hr.ReserveFactor, bpsDecimals),
			RateCurve:          historicalCurve(hr),
		}
		if r.err != nil {
			return nil, r.err
		}
		reserves = append(reserves, reserve)
	}
	return reserves, nil
}

// historicalCurve returns the rate model when the indexer exposes all of it.
func historicalCurve(hr *historicalReserve) *domain.RateCurve {
	fields := []*string{hr.BaseVariableBorrowRate, hr.OptimalUtilisationRate, hr.VariableRateSlope1, hr.VariableRateSlope2}
	values := make([]numeric.Value, len(fields))
	for i, f := range fields {
		if f == nil {
			return nil
		}
		v, err := numeric.FromRay(*f)
		if err != nil {
			return nil
		}
		values[i] = v
	}
	return &domain.RateCurve{
		BaseRate:           values[0],
		OptimalUtilization: values[1],
		Slope1:             values[2],
		Slope2:             values[3],
	}
}
