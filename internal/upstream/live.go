package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/cache"
	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

const liveSource = "live"

// Default live cache TTLs.
const (
	DefaultLiveTTL      = 5 * time.Minute
	DefaultRateCurveTTL = time.Hour
)

const marketsQuery = `query Markets($request: MarketsRequest!) {
  markets(request: $request) {
    address
    chainId
    reserves {
      underlyingToken { address symbol decimals }
      usdExchangeRate
      totalSupplied
      totalBorrowed
      availableLiquidity
      supplyApr
      borrowApr
      liquidityIndex
      variableBorrowIndex
      reserveFactor
    }
  }
}`

const reserveQuery = `query Reserve($request: ReserveRequest!) {
  reserve(request: $request) {
    interestRateStrategy {
      baseVariableBorrowRate
      optimalUsageRate
      variableRateSlope1
      variableRateSlope2
    }
  }
}`

type liveToken struct {
	Address  *string `json:"address"`
	Symbol   *string `json:"symbol"`
	Decimals *int32  `json:"decimals"`
}

type liveReserve struct {
	UnderlyingToken     *liveToken `json:"underlyingToken"`
	USDExchangeRate     *string    `json:"usdExchangeRate"`
	TotalSupplied       *string    `json:"totalSupplied"`
	TotalBorrowed       *string    `json:"totalBorrowed"`
	AvailableLiquidity  *string    `json:"availableLiquidity"`
	SupplyAPR           *string    `json:"supplyApr"`
	BorrowAPR           *string    `json:"borrowApr"`
	LiquidityIndex      *string    `json:"liquidityIndex"`
	VariableBorrowIndex *string    `json:"variableBorrowIndex"`
	ReserveFactor       *string    `json:"reserveFactor"`
}

type liveMarket struct {
	Address  string         `json:"address"`
	ChainID  int64          `json:"chainId"`
	Reserves []*liveReserve `json:"reserves"`
}

type liveMarketsResponse struct {
	Markets []liveMarket `json:"markets"`
}

type liveRateStrategy struct {
	BaseVariableBorrowRate *string `json:"baseVariableBorrowRate"`
	OptimalUsageRate       *string `json:"optimalUsageRate"`
	VariableRateSlope1     *string `json:"variableRateSlope1"`
	VariableRateSlope2     *string `json:"variableRateSlope2"`
}

type liveReserveResponse struct {
	Reserve *struct {
		InterestRateStrategy *liveRateStrategy `json:"interestRateStrategy"`
	} `json:"reserve"`
}

// LiveOptions configures LiveAdapter.
type LiveOptions struct {
	Client       Querier
	Cache        *cache.Layer
	TTL          time.Duration
	RateCurveTTL time.Duration
	Stablecoins  *StablecoinTable
	Logger       zerolog.Logger
}

// LiveAdapter reads current reserve state from the live market API.
type LiveAdapter struct {
	client       Querier
	cache        *cache.Layer
	ttl          time.Duration
	rateCurveTTL time.Duration
	stables      *StablecoinTable
	logger       zerolog.Logger
}

// NewLiveAdapter creates a LiveAdapter.
func NewLiveAdapter(opts LiveOptions) *LiveAdapter {
	if opts.TTL <= 0 {
		opts.TTL = DefaultLiveTTL
	}
	if opts.RateCurveTTL <= 0 {
		opts.RateCurveTTL = DefaultRateCurveTTL
	}
	if opts.Stablecoins == nil {
		opts.Stablecoins = DefaultStablecoins()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewLayer(cache.Options{Logger: opts.Logger})
	}
	return &LiveAdapter{
		client:       opts.Client,
		cache:        opts.Cache,
		ttl:          opts.TTL,
		rateCurveTTL: opts.RateCurveTTL,
		stables:      opts.Stablecoins,
		logger:       opts.Logger,
	}
}

// Reserves returns the current reserves of a market.
func (a *LiveAdapter) Reserves(ctx context.Context, market domain.Market) ([]domain.Reserve, error) {
	key := cache.Key(liveSource, "reserves", fmt.Sprint(market.ChainID), domain.NormalizeAddress(market.PoolAddress))

	res, err := cache.Fetch(ctx, a.cache, key, a.ttl, func(ctx context.Context) ([]domain.Reserve, error) {
		return a.fetchReserves(ctx, market)
	})
	if err != nil {
		return nil, fmt.Errorf("live reserves %s: %w", market.Key, err)
	}
	if res.Stale {
		a.logger.Warn().
			Str("market", market.Key).
			Time("fetched_at", res.FetchedAt).
			Msg("serving stale live reserves")
	}
	return res.Value, nil
}

func (a *LiveAdapter) fetchReserves(ctx context.Context, market domain.Market) ([]domain.Reserve, error) {
	vars := map[string]interface{}{
		"request": map[string]interface{}{
			"markets": []map[string]interface{}{
				{"address": market.PoolAddress, "chainId": market.ChainID},
			},
		},
	}

	var resp liveMarketsResponse
	if err := a.client.Query(ctx, "markets", marketsQuery, vars, &resp); err != nil {
		return nil, err
	}
	if len(resp.Markets) == 0 {
		return nil, &domain.SchemaError{Source: liveSource, Field: "markets", Reason: "empty"}
	}

	return a.mapReserves(resp.Markets[0].Reserves)
}

// mapReserves validates and converts raw live reserves.
func (a *LiveAdapter) mapReserves(raw []*liveReserve) ([]domain.Reserve, error) {
	reserves := make([]domain.Reserve, 0, len(raw))
	for i, lr := range raw {
		r := &fieldReader{source: liveSource, path: fmt.Sprintf("markets[0].reserves[%d]", i)}
		if lr == nil {
			r.fail("", "null")
			return nil, r.err
		}
		if lr.UnderlyingToken == nil {
			r.fail("underlyingToken", "")
			return nil, r.err
		}

		address := domain.NormalizeAddress(r.str("underlyingToken.address", lr.UnderlyingToken.Address))
		symbol := r.str("underlyingToken.symbol", lr.UnderlyingToken.Symbol)
		reserve := domain.Reserve{
			Asset:              address,
			Symbol:             symbol,
			Decimals:           r.integer("underlyingToken.decimals", lr.UnderlyingToken.Decimals),
			PriceUSD:           a.normalizePrice(address, symbol, r.decimal("usdExchangeRate", lr.USDExchangeRate)),
			TotalSupplied:      r.decimal("totalSupplied", lr.TotalSupplied),
			TotalBorrowed:      r.decimal("totalBorrowed", lr.TotalBorrowed),
			AvailableLiquidity: r.decimal("availableLiquidity", lr.AvailableLiquidity),
			SupplyAPR:          r.decimal("supplyApr", lr.SupplyAPR),
			BorrowAPR:          r.decimal("borrowApr", lr.BorrowAPR),
			LiquidityIndex:     r.decimal("liquidityIndex", lr.LiquidityIndex),
			BorrowIndex:        r.decimal("variableBorrowIndex", lr.VariableBorrowIndex),
			ReserveFactor:      r.decimal("reserveFactor", lr.ReserveFactor),
		}
		if r.err != nil {
			return nil, r.err
		}
		reserves = append(reserves, reserve)
	}
	return reserves, nil
}

// normalizePrice converts a live usdExchangeRate to USD. The live API
// reports every asset in USD: stablecoins and all other assets pass through
// unchanged.
func (a *LiveAdapter) normalizePrice(address, symbol string, raw numeric.Value) numeric.Value {
	if a.stables.IsStable(address, symbol) {
		return raw
	}
	return raw
}

// RateCurve returns the interest rate model of one reserve.
func (a *LiveAdapter) RateCurve(ctx context.Context, market domain.Market, asset string) (*domain.RateCurve, error) {
	asset = domain.NormalizeAddress(asset)
	key := cache.Key(liveSource, "curve", fmt.Sprint(market.ChainID), domain.NormalizeAddress(market.PoolAddress), asset)

	res, err := cache.Fetch(ctx, a.cache, key, a.rateCurveTTL, func(ctx context.Context) (*domain.RateCurve, error) {
		return a.fetchRateCurve(ctx, market, asset)
	})
	if err != nil {
		return nil, fmt.Errorf("rate curve %s/%s: %w", market.Key, asset, err)
	}
	return res.Value, nil
}

func (a *LiveAdapter) fetchRateCurve(ctx context.Context, market domain.Market, asset string) (*domain.RateCurve, error) {
	vars := map[string]interface{}{
		"request": map[string]interface{}{
			"market":          market.PoolAddress,
			"underlyingToken": asset,
			"chainId":         market.ChainID,
		},
	}

	var resp liveReserveResponse
	if err := a.client.Query(ctx, "reserve", reserveQuery, vars, &resp); err != nil {
		return nil, err
	}
	if resp.Reserve == nil || resp.Reserve.InterestRateStrategy == nil {
		return nil, &domain.SchemaError{Source: liveSource, Field: "reserve.interestRateStrategy"}
	}

	s := resp.Reserve.InterestRateStrategy
	r := &fieldReader{source: liveSource, path: "reserve.interestRateStrategy"}
	curve := &domain.RateCurve{
		BaseRate:           r.decimal("baseVariableBorrowRate", s.BaseVariableBorrowRate),
		OptimalUtilization: r.decimal("optimalUsageRate", s.OptimalUsageRate),
		Slope1:             r.decimal("variableRateSlope1", s.VariableRateSlope1),
		Slope2:             r.decimal("variableRateSlope2", s.VariableRateSlope2),
	}
	if r.err != nil {
		return nil, r.err
	}
	return curve, nil
}
