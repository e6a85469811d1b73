// Package orchestrator runs the daily sync: live collection for every market,
// audited historical backfill for trusted markets, then processing. Markets
// sync concurrently in batches; the days of one market are processed in order.
// Flow: collect → (audit → backfill) → process
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/batch"
	"github.com/PilotDAO/lendpilot-sub000/internal/collector"
	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
	"github.com/PilotDAO/lendpilot-sub000/internal/processor"
	"github.com/PilotDAO/lendpilot-sub000/internal/reconcile"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage/memory"
)

// Defaults applied to zero Options fields.
const (
	DefaultBackfillDays  = 30
	DefaultAuditInterval = 24 * time.Hour
	DefaultRunTimeout    = 15 * time.Minute
)

// Collector captures raw snapshots.
type Collector interface {
	CollectDaily(ctx context.Context, markets []domain.Market) *collector.DailyResult
	CollectMissingData(ctx context.Context, market domain.Market, days int) (*collector.BackfillResult, error)
}

// Processor normalizes raw snapshots.
type Processor interface {
	ProcessSnapshot(ctx context.Context, raw *domain.RawMarketSnapshot) (*processor.Result, error)
}

// Auditor validates a market's historical source against its live source.
type Auditor interface {
	Audit(ctx context.Context, market domain.Market) (*reconcile.Report, error)
}

// Options for creating Orchestrator.
type Options struct {
	Markets   []domain.Market
	Collector Collector
	Processor Processor
	Auditor   Auditor // nil disables audits
	Registry  *reconcile.Registry
	Raw       storage.RawSnapshotStore
	Progress  storage.SyncProgressStore

	BackfillDays  int
	AuditInterval time.Duration
	RunTimeout    time.Duration
	Batch         batch.Options // markets synced concurrently

	Logger zerolog.Logger
	Clock  func() time.Time
}

// Orchestrator coordinates one sync run across all markets.
type Orchestrator struct {
	markets   []domain.Market
	collector Collector
	processor Processor
	auditor   Auditor
	registry  *reconcile.Registry
	raw       storage.RawSnapshotStore
	progress  storage.SyncProgressStore

	backfillDays  int
	auditInterval time.Duration
	runTimeout    time.Duration
	batch         batch.Options

	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Registry == nil {
		opts.Registry = reconcile.NewRegistry(nil)
	}
	if opts.Progress == nil {
		opts.Progress = memory.NewSyncProgressStore()
	}
	if opts.BackfillDays <= 0 {
		opts.BackfillDays = DefaultBackfillDays
	}
	if opts.AuditInterval <= 0 {
		opts.AuditInterval = DefaultAuditInterval
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Orchestrator{
		markets:       opts.Markets,
		collector:     opts.Collector,
		processor:     opts.Processor,
		auditor:       opts.Auditor,
		registry:      opts.Registry,
		raw:           opts.Raw,
		progress:      opts.Progress,
		backfillDays:  opts.BackfillDays,
		auditInterval: opts.AuditInterval,
		runTimeout:    opts.RunTimeout,
		batch:         opts.Batch,
		logger:        opts.Logger.With().Str("component", "orchestrator").Logger(),
		now:           opts.Clock,
	}
}

// Strategy is how a market's history is maintained.
type Strategy string

const (
	// StrategyBackfill fills the trailing window from the historical indexer.
	StrategyBackfill Strategy = "backfill"
	// StrategyLiveOnly persists only the daily live point.
	StrategyLiveOnly Strategy = "live_only"
)

// MarketResult contains the outcome of one market in a run.
type MarketResult struct {
	MarketKey     string
	Strategy      Strategy
	Reason        string // why live-only was chosen
	Audit         *reconcile.Report
	AuditErr      error
	Backfill      *collector.BackfillResult
	BackfillErr   error
	Processed     int
	ProcessFailed int
}

// RunResult contains results from a sync run.
type RunResult struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Daily     *collector.DailyResult
	Markets   []*MarketResult
	Processed int
	Failed    int
	Errors    []string
}

// Status summarizes the run for metrics: success, partial or failed.
func (r *RunResult) Status() string {
	switch {
	case len(r.Errors) == 0:
		return "success"
	case r.Processed > 0 || (r.Daily != nil && r.Daily.Collected > 0):
		return "partial"
	default:
		return "failed"
	}
}

// Run executes one sync under the run timeout. Per-market failures are
// recorded in the result; an error is returned only when the run itself
// timed out or was canceled.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
	}
	logger := o.logger.With().Str("run_id", result.RunID).Logger()
	logger.Info().Int("markets", len(o.markets)).Msg("sync started")

	// Phase 1: today's live snapshot for every market
	result.Daily = o.collector.CollectDaily(ctx, o.markets)
	for key, err := range result.Daily.Errors {
		result.Errors = append(result.Errors, fmt.Sprintf("collect %s: %v", key, err))
	}

	// Phase 2 and 3: per-market history, then processing
	outcomes := batch.Run(ctx, o.markets, o.batch, func(ctx context.Context, m domain.Market) (*MarketResult, error) {
		return o.syncMarket(ctx, logger, result.RunID, m), nil
	})
	for _, out := range outcomes {
		if out.Err != nil {
			continue
		}
		m, mr := out.Item, out.Result
		result.Markets = append(result.Markets, mr)
		result.Processed += mr.Processed
		result.Failed += mr.ProcessFailed

		if mr.AuditErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("audit %s: %v", m.Key, mr.AuditErr))
		}
		if mr.BackfillErr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("backfill %s: %v", m.Key, mr.BackfillErr))
		}
		if mr.ProcessFailed > 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("process %s: %d snapshots failed", m.Key, mr.ProcessFailed))
		}
	}

	result.Duration = o.now().Sub(result.StartedAt)

	var runErr error
	if err := ctx.Err(); err != nil {
		runErr = fmt.Errorf("sync run %s: %w", result.RunID, err)
		result.Errors = append(result.Errors, runErr.Error())
	}

	observability.RecordSyncRun(result.Status(), result.Duration)
	logger.Info().
		Str("status", result.Status()).
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("sync finished")

	return result, runErr
}

func (o *Orchestrator) syncMarket(ctx context.Context, logger zerolog.Logger, runID string, m domain.Market) *MarketResult {
	mr := &MarketResult{MarketKey: m.Key}

	progress, err := o.progress.Get(ctx, m.Key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Str("market", m.Key).Msg("read sync progress failed")
		}
		progress = &storage.SyncProgress{MarketKey: m.Key}
	}
	if progress.Unreliable() {
		o.registry.MarkUnreliable(m.Key)
	}

	mr.Strategy, mr.Reason = o.strategyFor(m)
	if mr.Strategy == StrategyBackfill && o.auditDue(progress) {
		mr.Audit, mr.AuditErr = o.auditor.Audit(ctx, m)
		if mr.AuditErr == nil {
			progress.LastAuditAt = o.now().UTC()
		}
		// A failed audit may have demoted the market.
		mr.Strategy, mr.Reason = o.strategyFor(m)
	}

	if mr.Strategy == StrategyBackfill {
		mr.Backfill, mr.BackfillErr = o.collector.CollectMissingData(ctx, m, o.backfillDays)
	} else {
		logger.Debug().Str("market", m.Key).Str("reason", mr.Reason).Msg("skipping historical backfill")
	}

	mr.Processed, mr.ProcessFailed = o.ProcessPending(ctx, m)

	o.syncFlag(progress)
	progress.LastRunID = runID
	progress.LastSyncAt = o.now().UTC()
	if err := o.progress.Set(ctx, progress); err != nil {
		logger.Warn().Err(err).Str("market", m.Key).Msg("save sync progress failed")
	}
	return mr
}

// strategyFor picks backfill only for trusted markets absent from the registry.
func (o *Orchestrator) strategyFor(m domain.Market) (Strategy, string) {
	switch {
	case m.HistoricalSource != domain.HistoricalTrusted:
		return StrategyLiveOnly, "historical source " + m.HistoricalSource.String()
	case o.registry.IsUnreliable(m.Key):
		return StrategyLiveOnly, "flagged unreliable"
	default:
		return StrategyBackfill, ""
	}
}

// syncFlag copies the registry state of a market into its progress record.
func (o *Orchestrator) syncFlag(p *storage.SyncProgress) {
	switch {
	case !o.registry.IsUnreliable(p.MarketKey):
		p.UnreliableSince = time.Time{}
	case !p.Unreliable():
		p.UnreliableSince = o.now().UTC()
	}
}

// RestoreFlags marks every market whose persisted progress carries an
// unreliable flag in the registry. Returns the number of restored flags.
func (o *Orchestrator) RestoreFlags(ctx context.Context) (int, error) {
	restored := 0
	for _, m := range o.markets {
		p, err := o.progress.Get(ctx, m.Key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return restored, fmt.Errorf("restore flag %s: %w", m.Key, err)
		}
		if p.Unreliable() && o.registry.MarkUnreliable(m.Key) {
			restored++
		}
	}
	return restored, nil
}

// SaveFlags persists the registry state of every market, for flags set
// outside a sync run such as a standalone audit.
func (o *Orchestrator) SaveFlags(ctx context.Context) error {
	for _, m := range o.markets {
		p, err := o.progress.Get(ctx, m.Key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			p = &storage.SyncProgress{MarketKey: m.Key}
		case err != nil:
			return fmt.Errorf("save flag %s: %w", m.Key, err)
		}
		was := p.UnreliableSince
		o.syncFlag(p)
		if p.UnreliableSince.Equal(was) {
			continue
		}
		if err := o.progress.Set(ctx, p); err != nil {
			return fmt.Errorf("save flag %s: %w", m.Key, err)
		}
	}
	return nil
}

func (o *Orchestrator) auditDue(p *storage.SyncProgress) bool {
	if o.auditor == nil {
		return false
	}
	return p.LastAuditAt.IsZero() || o.now().Sub(p.LastAuditAt) >= o.auditInterval
}

// ProcessPending processes every unprocessed raw snapshot of a market in
// store order, oldest day first. Rate approximation reads the asset snapshot of the
// previous day, so days of one market never run concurrently.
func (o *Orchestrator) ProcessPending(ctx context.Context, m domain.Market) (processed, failed int) {
	pending, err := o.raw.ListUnprocessed(ctx, m.Key)
	if err != nil {
		o.logger.Error().Err(err).Str("market", m.Key).Msg("list unprocessed snapshots failed")
		return 0, 1
	}
	for i, raw := range pending {
		if err := ctx.Err(); err != nil {
			failed += len(pending) - i
			o.logger.Warn().Err(err).Str("market", m.Key).Int("remaining", len(pending)-i).Msg("processing interrupted")
			break
		}
		if _, err := o.processor.ProcessSnapshot(ctx, raw); err != nil {
			o.logger.Warn().Err(err).Str("snapshot", raw.ID()).Msg("process snapshot failed")
			failed++
			continue
		}
		processed++
	}
	return processed, failed
}

// DayState is the lifecycle position of one (market, date).
type DayState string

const (
	DayMissing   DayState = "missing"
	DayCollected DayState = "collected"
	DayProcessed DayState = "processed"
)

// DayState reports the state of a market-day. A day whose collection failed
// is still Missing and is retried on the next run.
func (o *Orchestrator) DayState(ctx context.Context, marketKey, date string) (DayState, error) {
	state := DayMissing
	for _, source := range []domain.SnapshotSource{domain.SourceLive, domain.SourceHistorical} {
		snap, err := o.raw.Get(ctx, marketKey, date, source)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if snap.Processed() {
			return DayProcessed, nil
		}
		state = DayCollected
	}
	return state, nil
}
