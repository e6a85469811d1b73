package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
	"github.com/PilotDAO/lendpilot-sub000/internal/reporting"
	"github.com/PilotDAO/lendpilot-sub000/internal/storage/migrations"
	pgstore "github.com/PilotDAO/lendpilot-sub000/internal/storage/postgres"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync: live collection, audited backfill, processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				result, err := a.orchestrator.Run(cmd.Context())
				if result != nil {
					if encErr := writeJSON(cmd.OutOrStdout(), result); encErr != nil {
						return encErr
					}
				}
				if err != nil {
					return err
				}
				if result.Status() == "failed" {
					return fmt.Errorf("sync run %s failed: %d errors", result.RunID, len(result.Errors))
				}
				return nil
			})
		},
	}
}

func newCollectCmd(opts *rootOptions) *cobra.Command {
	var markets []string
	var process bool

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Capture today's live snapshot of the selected markets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				selected, err := a.selectMarkets(markets)
				if err != nil {
					return err
				}

				result := a.collector.CollectDaily(cmd.Context(), selected)
				if process {
					for _, m := range selected {
						a.orchestrator.ProcessPending(cmd.Context(), m)
					}
				}
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if result.Collected == 0 && result.Failed > 0 {
					return errors.New("live collection failed for every market")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&markets, "market", nil, "Market keys (default all)")
	cmd.Flags().BoolVar(&process, "process", true, "Process collected snapshots")
	return cmd
}

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	var (
		marketKey string
		days      int
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fill missing days of one market from the historical indexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				m, err := a.market(marketKey)
				if err != nil {
					return err
				}
				if !force {
					if m.HistoricalSource != domain.HistoricalTrusted {
						return fmt.Errorf("market %s has a %s historical source (use --force)", m.Key, m.HistoricalSource)
					}
					if a.registry.IsUnreliable(m.Key) {
						return fmt.Errorf("market %s is flagged unreliable (use --force)", m.Key)
					}
				}
				if days <= 0 {
					days = a.cfg.Sync.BackfillDays
				}

				result, err := a.collector.CollectMissingData(cmd.Context(), m, days)
				if err != nil {
					return err
				}
				processed, failed := a.orchestrator.ProcessPending(cmd.Context(), m)
				a.logger.Info().
					Str("market", m.Key).
					Int("processed", processed).
					Int("process_failed", failed).
					Msg("backfill processed")

				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&marketKey, "market", "", "Market key")
	cmd.Flags().IntVar(&days, "days", 0, "Trailing days to fill (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "Backfill even when the historical source is not trusted")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var markets []string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare live and historical sources of the selected markets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				selected, err := a.selectMarkets(markets)
				if err != nil {
					return err
				}

				reports, errs := a.auditor.AuditAll(cmd.Context(), selected)
				for key, err := range errs {
					a.logger.Error().Err(err).Str("market", key).Msg("audit failed")
				}
				if err := a.orchestrator.SaveFlags(cmd.Context()); err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"reports":    reports,
					"unreliable": a.registry.List(),
				}); err != nil {
					return err
				}
				if len(reports) == 0 && len(errs) > 0 {
					return errors.New("every audit failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&markets, "market", nil, "Market keys (default all)")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL and ClickHouse migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cfg.Storage.UseMemory {
				return errors.New("migrate needs postgres and clickhouse DSNs, not in-memory storage")
			}
			ctx := cmd.Context()

			pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()
			if err := migrations.RunPostgresMigrations(ctx, pool, opts.logger); err != nil {
				return err
			}

			conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN, opts.logger)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var (
		marketKey string
		format    string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the stored history of one market",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				m, err := a.market(marketKey)
				if err != nil {
					return err
				}
				report, err := a.reports.Generate(cmd.Context(), m)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if outPath != "" {
					f, err := os.Create(outPath)
					if err != nil {
						return err
					}
					defer f.Close()
					out = f
				}

				switch format {
				case "markdown", "md":
					_, err = io.WriteString(out, reporting.RenderMarkdown(report))
				case "csv":
					var body string
					if body, err = reporting.RenderCSV(report); err == nil {
						_, err = io.WriteString(out, body)
					}
				case "json":
					err = writeJSON(out, report)
				default:
					err = fmt.Errorf("unknown format %q", format)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&marketKey, "market", "", "Market key")
	cmd.Flags().StringVar(&format, "format", "markdown", "Output format: markdown, csv or json")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file (default stdout)")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
