package migrations

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/PilotDAO/lendpilot-sub000/internal/storage/postgres"
)

// RunPostgresMigrations applies every embedded PostgreSQL file in lexical order.
// Files use IF NOT EXISTS and may be re-applied.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger zerolog.Logger) error {
	files, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, f := range files {
		if _, err := pool.Exec(ctx, f.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.name, err)
		}
		logger.Info().Str("db", "postgres").Str("file", f.name).Msg("migration applied")
	}
	return nil
}
