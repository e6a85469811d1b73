package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/upstream"
)

// LiveReader returns the current reserves of a market.
type LiveReader interface {
	Reserves(ctx context.Context, market domain.Market) ([]domain.Reserve, error)
}

// HistoricalReader returns the reserves of a market at the end of a day.
type HistoricalReader interface {
	ReservesOn(ctx context.Context, market domain.Market, date string) (*upstream.HistoricalReserves, error)
}

// AuditorOptions configures an Auditor.
type AuditorOptions struct {
	Live       LiveReader
	Historical HistoricalReader
	Validator  *Validator
	Registry   *Registry
	Logger     zerolog.Logger
}

// Auditor compares today's live and historical reserves of a market and
// demotes markets that fail validation.
type Auditor struct {
	live       LiveReader
	historical HistoricalReader
	validator  *Validator
	registry   *Registry
	logger     zerolog.Logger
}

// NewAuditor creates an Auditor.
func NewAuditor(opts AuditorOptions) *Auditor {
	if opts.Validator == nil {
		opts.Validator = NewValidator(DefaultThresholds(), opts.Logger)
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry(nil)
	}
	return &Auditor{
		live:       opts.Live,
		historical: opts.Historical,
		validator:  opts.Validator,
		registry:   opts.Registry,
		logger:     opts.Logger.With().Str("component", "auditor").Logger(),
	}
}

// Registry returns the registry updated by the auditor.
func (a *Auditor) Registry() *Registry {
	return a.registry
}

// Audit validates one market. Upstream failures are returned as errors and
// leave the registry untouched. An unreliable report flags the market.
func (a *Auditor) Audit(ctx context.Context, market domain.Market) (*Report, error) {
	live, err := a.live.Reserves(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("audit %s: live reserves: %w", market.Key, err)
	}

	today := domain.DateOf(a.validator.now())
	hist, err := a.historical.ReservesOn(ctx, market, today)
	if err != nil {
		return nil, fmt.Errorf("audit %s: historical reserves: %w", market.Key, err)
	}

	report := a.validator.Validate(market, live, hist.Reserves)
	if !report.Reliable && a.registry.MarkUnreliable(market.Key) {
		a.logger.Warn().
			Str("market", market.Key).
			Int64("block", hist.Block).
			Msg("market demoted to live-only")
	}
	return report, nil
}

// AuditAll audits every market, continuing past failures. Failed audits are
// returned keyed by market.
func (a *Auditor) AuditAll(ctx context.Context, markets []domain.Market) ([]*Report, map[string]error) {
	var reports []*Report
	failures := make(map[string]error)
	for _, m := range markets {
		if ctx.Err() != nil {
			failures[m.Key] = ctx.Err()
			continue
		}
		report, err := a.Audit(ctx, m)
		if err != nil {
			a.logger.Error().Err(err).Str("market", m.Key).Msg("audit failed")
			failures[m.Key] = err
			continue
		}
		reports = append(reports, report)
	}
	return reports, failures
}
