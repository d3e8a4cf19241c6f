package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"taxsale/internal/adapters/observability"
	"taxsale/internal/app"
	"taxsale/internal/domain"
	"taxsale/internal/shared"
	mysqlrepo "taxsale/internal/storage/mysql"
)

var cfg shared.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "ingestor",
		Short:         "Municipal tax-sale notice ingestion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = shared.Load()
			// initialize global logger (console in dev, JSON otherwise)
			log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
		},
	}
	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createSourcesCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("ingestor failed")
		os.Exit(1)
	}
}

func createRunCmd() *cobra.Command {
	var (
		sourceID int64
		every    time.Duration
		workers  int
		parallel int
		refresh  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, parse, reconcile, enrich and geolocate enabled sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("parallel-sources") {
				parallel = cfg.ParallelSources
			}

			reg := observability.InitRegistry()
			observability.Serve(cfg.MetricsAddr, reg)

			db, err := shared.OpenDB(ctx, cfg.MySQLDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := mysqlrepo.New(db)
			cache := shared.NewCache(cfg)
			defer cache.Close()
			if err := cache.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("cache unavailable; reads will not be invalidated")
			}

			pipeline := shared.NewPipeline(cfg, repo, cache, workers)
			opts := app.RunOptions{Refresh: refresh}

			log.Info().
				Int64("source", sourceID).
				Dur("every", every).
				Int("parallel_sources", parallel).
				Bool("refresh", refresh).
				Msg("ingestor starting")

			once := func() error { return runOnce(ctx, repo, pipeline, sourceID, parallel, opts) }
			if every <= 0 {
				return once()
			}

			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				if err := once(); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Msg("scheduled run failed")
				}
				select {
				case <-ctx.Done():
					log.Info().Msg("ingestor stopped")
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().Int64Var(&sourceID, "source", 0, "run only this source id (default: every enabled source)")
	cmd.Flags().DurationVar(&every, "every", 0, "repeat at this interval until interrupted")
	cmd.Flags().IntVar(&workers, "workers", 0, "per-property worker pool size (default INGEST_WORKERS)")
	cmd.Flags().IntVar(&parallel, "parallel-sources", 1, "sources processed concurrently")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-enrich and re-geolocate unchanged records too")
	return cmd
}

func runOnce(ctx context.Context, repo *mysqlrepo.Repo, p *app.Pipeline, sourceID int64, parallel int, opts app.RunOptions) error {
	if sourceID > 0 {
		src, err := repo.GetSource(ctx, sourceID)
		if err != nil {
			return err
		}
		_, err = p.Run(ctx, src, opts)
		return err
	}

	sources, err := repo.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	sums := p.RunAll(ctx, sources, parallel, opts)
	var total domain.ReconcileCounts
	for _, s := range sums {
		total.Add(s.Reconcile)
	}
	log.Info().Int("sources", len(sums)).Interface("reconcile", total).Msg("ingestion completed")
	return ctx.Err()
}

// sourceFile is the on-disk shape accepted by "sources load".
type sourceFile struct {
	MunicipalityName string   `json:"municipality_name"`
	BaseURL          string   `json:"base_url"`
	DocumentPatterns []string `json:"document_patterns"`
	Enabled          *bool    `json:"enabled"`
	ParserID         string   `json:"parser_id"`
}

func createSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage municipality sources",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print configured sources as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := shared.OpenDB(cmd.Context(), cfg.MySQLDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			sources, err := mysqlrepo.New(db).ListSources(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sources)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "load [file.json]",
		Short: "Register or update sources from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := readSources(args[0])
			if err != nil {
				return err
			}
			db, err := shared.OpenDB(cmd.Context(), cfg.MySQLDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := mysqlrepo.New(db)
			for _, s := range sources {
				if err := repo.UpsertSource(cmd.Context(), s); err != nil {
					return fmt.Errorf("source %s: %w", s.MunicipalityName, err)
				}
				log.Info().Str("source", s.MunicipalityName).Str("parser", s.ParserID).Msg("source registered")
			}
			return nil
		},
	})
	return cmd
}

func readSources(path string) ([]domain.MunicipalitySourceConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []sourceFile
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make([]domain.MunicipalitySourceConfig, 0, len(raw))
	for i, r := range raw {
		if r.MunicipalityName == "" || r.BaseURL == "" || r.ParserID == "" {
			return nil, fmt.Errorf("%s: entry %d: %w: municipality_name, base_url and parser_id are required", path, i, domain.ErrValidation)
		}
		enabled := r.Enabled == nil || *r.Enabled
		out = append(out, domain.MunicipalitySourceConfig{
			MunicipalityName: r.MunicipalityName,
			BaseURL:          r.BaseURL,
			DocumentPatterns: r.DocumentPatterns,
			Enabled:          enabled,
			ParserID:         r.ParserID,
		})
	}
	return out, nil
}
