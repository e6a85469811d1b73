// Package collector captures raw market snapshots: today's live state for
// every market and historical end-of-day state for missing dates.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/PilotDAO/lendpilot-sub000/internal/batch"
	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
	"github.com/PilotDAO/lendpilot-sub000/internal/upstream"
)

// DefaultCurveRequestsPerSecond paces rate-curve lookups against the live API.
const DefaultCurveRequestsPerSecond = 5

// LiveSource reads current market state.
type LiveSource interface {
	Reserves(ctx context.Context, market domain.Market) ([]domain.Reserve, error)
	RateCurve(ctx context.Context, market domain.Market, asset string) (*domain.RateCurve, error)
}

// HistoricalSource reads end-of-day market state.
type HistoricalSource interface {
	ReservesOn(ctx context.Context, market domain.Market, date string) (*upstream.HistoricalReserves, error)
}

// Options contains configuration for creating a Collector.
type Options struct {
	Live                   LiveSource
	Historical             HistoricalSource
	Raw                    storage.RawSnapshotStore
	Batch                  batch.Options
	CurveRequestsPerSecond float64 // negative disables pacing
	Logger                 zerolog.Logger
	Clock                  func() time.Time
}

// Collector writes RawMarketSnapshots.
type Collector struct {
	live       LiveSource
	historical HistoricalSource
	raw        storage.RawSnapshotStore
	batch      batch.Options
	limiter    *rate.Limiter
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a Collector.
func New(opts Options) *Collector {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	limit := rate.Inf
	switch {
	case opts.CurveRequestsPerSecond == 0:
		limit = rate.Limit(DefaultCurveRequestsPerSecond)
	case opts.CurveRequestsPerSecond > 0:
		limit = rate.Limit(opts.CurveRequestsPerSecond)
	}
	return &Collector{
		live:       opts.Live,
		historical: opts.Historical,
		raw:        opts.Raw,
		batch:      opts.Batch,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     opts.Logger.With().Str("component", "collector").Logger(),
		now:        opts.Clock,
	}
}

// ErrorMap holds per-key failures and encodes them as messages.
type ErrorMap map[string]error

// MarshalJSON implements json.Marshaler.
func (m ErrorMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(m))
	for k, err := range m {
		out[k] = err.Error()
	}
	return json.Marshal(out)
}

// DailyResult contains statistics from a live collection pass.
type DailyResult struct {
	Date      string
	Collected int
	Failed    int
	Errors    ErrorMap // keyed by market
	Duration  time.Duration
}

// CollectDaily captures today's live snapshot of every market. A failing
// market is logged and counted; the others still run.
func (c *Collector) CollectDaily(ctx context.Context, markets []domain.Market) *DailyResult {
	start := c.now()
	result := &DailyResult{
		Date:   domain.DateOf(start),
		Errors: make(map[string]error),
	}

	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			result.Failed++
			result.Errors[m.Key] = err
			continue
		}
		if _, err := c.CollectLive(ctx, m); err != nil {
			c.logger.Error().Err(err).Str("market", m.Key).Msg("live collection failed")
			result.Failed++
			result.Errors[m.Key] = err
			continue
		}
		result.Collected++
	}

	result.Duration = c.now().Sub(start)
	c.logger.Info().
		Str("date", result.Date).
		Int("collected", result.Collected).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("live collection finished")
	return result
}

// CollectLive captures and stores the live snapshot of one market for today.
func (c *Collector) CollectLive(ctx context.Context, market domain.Market) (snap *domain.RawMarketSnapshot, err error) {
	defer func() { observability.RecordSnapshotCollected(string(domain.SourceLive), err) }()

	reserves, err := c.live.Reserves(ctx, market)
	if err != nil {
		return nil, err
	}
	if err := c.enrichRateCurves(ctx, market, reserves); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	snap = &domain.RawMarketSnapshot{
		MarketKey:  market.Key,
		Date:       domain.DateOf(now),
		Source:     domain.SourceLive,
		Reserves:   reserves,
		CapturedAt: now,
	}
	if err := c.raw.Upsert(ctx, snap); err != nil {
		return nil, fmt.Errorf("store live snapshot %s: %w: %w", snap.ID(), domain.ErrPersistenceWrite, err)
	}

	c.logger.Debug().Str("market", market.Key).Int("reserves", len(reserves)).Msg("live snapshot stored")
	return snap, nil
}

// enrichRateCurves attaches the rate curve to reserves that lack one. A curve
// lookup failure leaves the reserve without a curve; only context errors abort.
func (c *Collector) enrichRateCurves(ctx context.Context, market domain.Market, reserves []domain.Reserve) error {
	for i := range reserves {
		if reserves[i].RateCurve != nil {
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate curve pacing: %w", err)
		}
		curve, err := c.live.RateCurve(ctx, market, reserves[i].Asset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().
				Err(err).
				Str("market", market.Key).
				Str("asset", reserves[i].Asset).
				Msg("rate curve unavailable")
			continue
		}
		reserves[i].RateCurve = curve
	}
	return nil
}

// FindMissingDates returns the days of the trailing window, oldest first,
// that have no raw snapshot from any source.
func (c *Collector) FindMissingDates(ctx context.Context, market domain.Market, days int) ([]string, error) {
	have := make(map[string]struct{})
	for _, source := range []domain.SnapshotSource{domain.SourceHistorical, domain.SourceLive} {
		dates, err := c.raw.ListDates(ctx, market.Key, source)
		if err != nil {
			return nil, fmt.Errorf("list %s dates of %s: %w", source, market.Key, err)
		}
		for _, d := range dates {
			have[d] = struct{}{}
		}
	}

	var missing []string
	for _, d := range domain.TrailingDates(c.now(), days) {
		if _, ok := have[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

// BackfillResult contains statistics from a historical backfill.
type BackfillResult struct {
	Missing   []string
	Collected int
	Skipped   int // indexer returned no reserves for the day
	Failed    int
	Errors    ErrorMap // keyed by date
	Duration  time.Duration
}

var errNoReserves = errors.New("no reserves at block")

// CollectMissingData backfills historical snapshots for the missing days of
// the trailing window. Days run in concurrent batches; one day's failure never
// stops the others.
func (c *Collector) CollectMissingData(ctx context.Context, market domain.Market, days int) (*BackfillResult, error) {
	start := c.now()

	missing, err := c.FindMissingDates(ctx, market, days)
	if err != nil {
		return nil, err
	}

	result := &BackfillResult{
		Missing: missing,
		Errors:  make(map[string]error),
	}
	if len(missing) == 0 {
		return result, nil
	}

	c.logger.Info().
		Str("market", market.Key).
		Int("missing", len(missing)).
		Str("from", missing[0]).
		Str("to", missing[len(missing)-1]).
		Msg("backfilling historical snapshots")

	outcomes := batch.Run(ctx, missing, c.batch, func(ctx context.Context, date string) (int64, error) {
		return c.collectHistorical(ctx, market, date)
	})

	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			result.Collected++
		case errors.Is(o.Err, errNoReserves):
			result.Skipped++
		default:
			result.Failed++
			result.Errors[o.Item] = o.Err
			c.logger.Warn().Err(o.Err).Str("market", market.Key).Str("date", o.Item).Msg("backfill day failed")
		}
	}

	result.Duration = c.now().Sub(start)
	observability.RecordBackfill(market.Key, result.Collected, result.Skipped, result.Failed)
	c.logger.Info().
		Str("market", market.Key).
		Int("collected", result.Collected).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("backfill finished")
	return result, nil
}

func (c *Collector) collectHistorical(ctx context.Context, market domain.Market, date string) (block int64, err error) {
	defer func() {
		if !errors.Is(err, errNoReserves) {
			observability.RecordSnapshotCollected(string(domain.SourceHistorical), err)
		}
	}()

	hist, err := c.historical.ReservesOn(ctx, market, date)
	if err != nil {
		return 0, err
	}
	if len(hist.Reserves) == 0 {
		return hist.Block, errNoReserves
	}

	snap := &domain.RawMarketSnapshot{
		MarketKey:   market.Key,
		Date:        date,
		Source:      domain.SourceHistorical,
		Reserves:    hist.Reserves,
		CapturedAt:  c.now().UTC(),
		BlockNumber: hist.Block,
	}
	if err := c.raw.Upsert(ctx, snap); err != nil {
		return 0, fmt.Errorf("store historical snapshot %s: %w: %w", snap.ID(), domain.ErrPersistenceWrite, err)
	}
	return hist.Block, nil
}
