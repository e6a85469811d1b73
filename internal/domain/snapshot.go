package domain

import (
	"time"

	"github.com/PilotDAO/lendpilot-sub000/internal/numeric"
)

// SnapshotSource tags which upstream produced a record.
type SnapshotSource string

const (
	SourceLive       SnapshotSource = "live"
	SourceHistorical SnapshotSource = "historical"
)

// String returns the string representation of SnapshotSource.
func (s SnapshotSource) String() string {
	return string(s)
}

// IsValid checks if the source is a valid value.
func (s SnapshotSource) IsValid() bool {
	return s == SourceLive || s == SourceHistorical
}

// Rank orders sources by preference. A record is only replaced by a record
// from a strictly higher ranked source.
func (s SnapshotSource) Rank() int {
	switch s {
	case SourceLive:
		return 2
	case SourceHistorical:
		return 1
	default:
		return 0
	}
}

// RawMarketSnapshot is the upstream payload captured for one market-day.
// Keyed by (MarketKey, Date, Source). Corresponds to raw_market_snapshots in PostgreSQL.
type RawMarketSnapshot struct {
	MarketKey   string
	Date        string // YYYY-MM-DD (UTC)
	Source      SnapshotSource
	Reserves    []Reserve
	CapturedAt  time.Time
	BlockNumber int64     // 0 for live captures
	ProcessedAt time.Time // zero until the processor has normalized it
}

// Processed reports whether the snapshot has been normalized.
func (s *RawMarketSnapshot) Processed() bool {
	return !s.ProcessedAt.IsZero()
}

// ID returns the composite key used as back-reference from derived records.
func (s *RawMarketSnapshot) ID() string {
	return s.MarketKey + "|" + s.Date + "|" + string(s.Source)
}

// AssetSnapshot holds normalized daily metrics of one reserve.
// Keyed by (MarketKey, Asset, Date). Corresponds to asset_snapshots in PostgreSQL.
type AssetSnapshot struct {
	MarketKey       string
	Asset           string
	Symbol          string
	Date            string
	Supplied        numeric.Value // token units
	Borrowed        numeric.Value
	Available       numeric.Value
	SuppliedUSD     numeric.Value
	BorrowedUSD     numeric.Value
	AvailableUSD    numeric.Value
	SupplyAPR       numeric.Value
	BorrowAPR       numeric.Value
	UtilizationRate numeric.Value
	PriceUSD        numeric.Value
	LiquidityIndex  numeric.Value
	BorrowIndex     numeric.Value
	Source          SnapshotSource
	RawSnapshotID   string
	Timestamp       time.Time
}

// USDSupplied implements the totals contract used by the series builder.
func (a *AssetSnapshot) USDSupplied() numeric.Value { return a.SuppliedUSD }

// USDBorrowed implements the totals contract used by the series builder.
func (a *AssetSnapshot) USDBorrowed() numeric.Value { return a.BorrowedUSD }

// MarketTimeseriesPoint holds aggregated USD totals of a market for one day.
// Keyed by (MarketKey, Date). Corresponds to market_timeseries in ClickHouse.
type MarketTimeseriesPoint struct {
	MarketKey    string
	Date         string
	SuppliedUSD  numeric.Value
	BorrowedUSD  numeric.Value
	AvailableUSD numeric.Value // SuppliedUSD - BorrowedUSD
	ReserveCount int
	Source       SnapshotSource
	UpdatedAt    time.Time
}
