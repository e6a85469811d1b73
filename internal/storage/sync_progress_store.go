package storage

import (
	"context"
	"time"
)

// SyncProgress records when a market was last synced and audited, and
// whether its historical source is flagged unreliable.
type SyncProgress struct {
	MarketKey       string
	LastRunID       string
	LastSyncAt      time.Time
	LastAuditAt     time.Time // zero if never audited
	UnreliableSince time.Time // zero unless flagged
}

// Unreliable reports whether the market's historical source is flagged.
func (p *SyncProgress) Unreliable() bool {
	return !p.UnreliableSince.IsZero()
}

// SyncProgressStore persists per-market sync progress so audit intervals
// and unreliable flags survive restarts.
type SyncProgressStore interface {
	// Get returns the progress of a market. Returns ErrNotFound if none was saved.
	Get(ctx context.Context, marketKey string) (*SyncProgress, error)

	// Set saves the progress of a market.
	Set(ctx context.Context, p *SyncProgress) error
}
