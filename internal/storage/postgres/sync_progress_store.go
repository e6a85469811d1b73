package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/PilotDAO/lendpilot-sub000/internal/storage"
)

// SyncProgressStore is a PostgreSQL implementation of storage.SyncProgressStore.
// One row per market in sync_progress.
type SyncProgressStore struct {
	pool *Pool
}

// NewSyncProgressStore creates a new PostgreSQL sync progress store.
func NewSyncProgressStore(pool *Pool) *SyncProgressStore {
	return &SyncProgressStore{pool: pool}
}

var _ storage.SyncProgressStore = (*SyncProgressStore)(nil)

// Get returns the progress of a market.
func (s *SyncProgressStore) Get(ctx context.Context, marketKey string) (*storage.SyncProgress, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT market_key, last_run_id, last_sync_at, last_audit_at, unreliable_since
		FROM sync_progress
		WHERE market_key = $1
	`, marketKey)

	var (
		progress        storage.SyncProgress
		auditAt         *time.Time
		unreliableSince *time.Time
	)
	err := row.Scan(&progress.MarketKey, &progress.LastRunID, &progress.LastSyncAt, &auditAt, &unreliableSince)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	progress.LastSyncAt = progress.LastSyncAt.UTC()
	if auditAt != nil {
		progress.LastAuditAt = auditAt.UTC()
	}
	if unreliableSince != nil {
		progress.UnreliableSince = unreliableSince.UTC()
	}
	return &progress, nil
}

// Set saves the progress of a market.
// Uses upsert to handle initial insert and subsequent updates.
func (s *SyncProgressStore) Set(ctx context.Context, p *storage.SyncProgress) error {
	if p == nil || p.MarketKey == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_progress (market_key, last_run_id, last_sync_at, last_audit_at, unreliable_since, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (market_key) DO UPDATE
		SET last_run_id = EXCLUDED.last_run_id,
		    last_sync_at = EXCLUDED.last_sync_at,
		    last_audit_at = EXCLUDED.last_audit_at,
		    unreliable_since = EXCLUDED.unreliable_since,
		    updated_at = NOW()
	`, p.MarketKey, p.LastRunID, p.LastSyncAt.UTC(), nullableTime(p.LastAuditAt), nullableTime(p.UnreliableSince))

	return err
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
