package shared

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"taxsale/internal/adapters/fetch"
	redisad "taxsale/internal/adapters/redis"
	"taxsale/internal/app"
	"taxsale/internal/domain"
	"taxsale/internal/enrichment"
	"taxsale/internal/geo"
	"taxsale/internal/parser"
)

// OpenDB opens the MySQL pool and checks it answers.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func NewCache(c Config) *redisad.Cache {
	return redisad.New(c.RedisAddr, c.RedisPass, c.RedisDB, c.CacheTTL)
}

// NewPipeline wires the upstream adapters and resolvers. An upstream without a base URL
// is left out: no enrichment, or address-only geolocation.
func NewPipeline(c Config, repo domain.PropertyRepository, cache domain.Cache, workers int) *app.Pipeline {
	opts := fetch.Options{Timeout: c.FetchTimeout, RPS: c.FetchRPS, UserAgent: c.UserAgent}

	var enricher *enrichment.Resolver
	if c.EnrichBase != "" {
		enricher = enrichment.NewResolver(fetch.NewAssessments(fetch.NewClient("assessments", opts), c.EnrichBase))
	}

	var boundaries domain.BoundarySource
	if c.BoundaryBase != "" {
		boundaries = fetch.NewBoundaries(fetch.NewClient("boundaries", opts), c.BoundaryBase)
	}
	var geocoder domain.Geocoder
	if c.GeocodeBase != "" {
		gopts := opts
		gopts.RPS = c.GeocodeRPS
		geocoder = fetch.NewGeocoder(fetch.NewClient("geocoder", gopts), c.GeocodeBase, c.GeocodeRegion)
	}

	if workers <= 0 {
		workers = c.Workers
	}
	return app.NewPipeline(app.PipelineDeps{
		Docs:       fetch.NewDocuments(fetch.NewClient("documents", opts)),
		Parser:     parser.NewEngine(parser.DefaultRegistry()),
		Reconciler: app.NewReconciler(repo, nil),
		Repo:       repo,
		Enricher:   enricher,
		Geo:        geo.NewResolver(boundaries, geocoder, c.Region),
		Cache:      cache,
		Workers:    workers,
	})
}
