// Package reconcile compares live and historical market totals and keeps the
// set of markets whose historical indexer cannot be trusted.
package reconcile

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
	"github.com/PilotDAO/lendpilot-sub000/internal/observability"
	"github.com/PilotDAO/lendpilot-sub000/internal/series"
)

// Default thresholds.
const (
	DefaultMaxRelativeDiff    = 0.5
	DefaultMaxMissingFraction = 0.2
)

// Thresholds bound acceptable live/historical divergence.
type Thresholds struct {
	MaxRelativeDiff    numeric.Value // |hist - live| / live
	MaxMissingFraction numeric.Value // live reserves absent from the historical set
}

// DefaultThresholds returns the reference thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxRelativeDiff:    numeric.FromFloat(DefaultMaxRelativeDiff),
		MaxMissingFraction: numeric.FromFloat(DefaultMaxMissingFraction),
	}
}

// Report is the outcome of one reconciliation check.
type Report struct {
	MarketKey       string
	Date            string
	LiveSupplyUSD   numeric.Value
	LiveBorrowUSD   numeric.Value
	HistSupplyUSD   numeric.Value
	HistBorrowUSD   numeric.Value
	SupplyDiff      numeric.Value
	BorrowDiff      numeric.Value
	MissingFraction numeric.Value
	MissingAssets   []string
	Reliable        bool
	Reasons         []string
	CheckedAt       time.Time
}

// Err returns ErrReconciliationMismatch for unreliable reports.
func (r *Report) Err() error {
	if r.Reliable {
		return nil
	}
	return fmt.Errorf("market %s: %w: %v", r.MarketKey, domain.ErrReconciliationMismatch, r.Reasons)
}

// Validator compares live and historical reserve sets.
type Validator struct {
	thresholds Thresholds
	logger     zerolog.Logger
	now        func() time.Time
}

// NewValidator creates a Validator. Zero thresholds take the defaults.
func NewValidator(thresholds Thresholds, logger zerolog.Logger) *Validator {
	def := DefaultThresholds()
	if thresholds.MaxRelativeDiff.IsZero() {
		thresholds.MaxRelativeDiff = def.MaxRelativeDiff
	}
	if thresholds.MaxMissingFraction.IsZero() {
		thresholds.MaxMissingFraction = def.MaxMissingFraction
	}
	return &Validator{
		thresholds: thresholds,
		logger:     logger,
		now:        time.Now,
	}
}

// Thresholds returns the active thresholds.
func (v *Validator) Thresholds() Thresholds {
	return v.thresholds
}

// Validate checks one market. A mismatch is reported, never returned as an error.
func (v *Validator) Validate(market domain.Market, live, historical []domain.Reserve) *Report {
	liveTotals := series.MarketTotals(live)
	histTotals := series.MarketTotals(historical)

	report := &Report{
		MarketKey:     market.Key,
		Date:          domain.DateOf(v.now()),
		LiveSupplyUSD: liveTotals.SuppliedUSD,
		LiveBorrowUSD: liveTotals.BorrowedUSD,
		HistSupplyUSD: histTotals.SuppliedUSD,
		HistBorrowUSD: histTotals.BorrowedUSD,
		SupplyDiff:    RelativeDiff(liveTotals.SuppliedUSD, histTotals.SuppliedUSD),
		BorrowDiff:    RelativeDiff(liveTotals.BorrowedUSD, histTotals.BorrowedUSD),
		CheckedAt:     v.now(),
	}

	histAssets := make(map[string]struct{}, len(historical))
	for _, r := range historical {
		histAssets[domain.NormalizeAddress(r.Asset)] = struct{}{}
	}
	for _, r := range live {
		if _, ok := histAssets[domain.NormalizeAddress(r.Asset)]; !ok {
			report.MissingAssets = append(report.MissingAssets, r.Asset)
		}
	}
	if len(live) > 0 {
		report.MissingFraction = numeric.FromInt(int64(len(report.MissingAssets))).Div(numeric.FromInt(int64(len(live))))
	}

	if report.SupplyDiff.GreaterThan(v.thresholds.MaxRelativeDiff) {
		report.Reasons = append(report.Reasons, fmt.Sprintf("supply diff %s > %s", report.SupplyDiff.Round(4), v.thresholds.MaxRelativeDiff))
	}
	if report.BorrowDiff.GreaterThan(v.thresholds.MaxRelativeDiff) {
		report.Reasons = append(report.Reasons, fmt.Sprintf("borrow diff %s > %s", report.BorrowDiff.Round(4), v.thresholds.MaxRelativeDiff))
	}
	if report.MissingFraction.GreaterThan(v.thresholds.MaxMissingFraction) {
		report.Reasons = append(report.Reasons, fmt.Sprintf("%d of %d reserves missing", len(report.MissingAssets), len(live)))
	}
	report.Reliable = len(report.Reasons) == 0

	observability.RecordReconciliation(market.Key, report.Reliable)
	if !report.Reliable {
		v.logger.Warn().
			Str("market", market.Key).
			Str("supply_diff", report.SupplyDiff.Round(4).String()).
			Str("borrow_diff", report.BorrowDiff.Round(4).String()).
			Strs("missing_assets", report.MissingAssets).
			Strs("reasons", report.Reasons).
			Msg("historical source diverges from live source")
	}
	return report
}

// RelativeDiff returns |hist - live| / live. When live is zero the result is
// 0 if hist is zero too, else 1.
func RelativeDiff(live, hist numeric.Value) numeric.Value {
	if live.IsZero() {
		if hist.IsZero() {
			return numeric.Zero()
		}
		return numeric.One()
	}
	return hist.Sub(live).Abs().Div(live.Abs())
}
