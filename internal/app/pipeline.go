package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"taxsale/internal/adapters/observability"
	"taxsale/internal/doctext"
	"taxsale/internal/domain"
	"taxsale/internal/enrichment"
	"taxsale/internal/geo"
	"taxsale/internal/parser"
)

type Pipeline struct {
	docs     domain.DocumentSource
	parser   *parser.Engine
	rec      *Reconciler
	repo     domain.PropertyRepository
	enricher *enrichment.Resolver // optional
	geo      *geo.Resolver        // optional
	cache    domain.Cache         // optional
	workers  int
	now      func() time.Time
}

type PipelineDeps struct {
	Docs       domain.DocumentSource
	Parser     *parser.Engine
	Reconciler *Reconciler
	Repo       domain.PropertyRepository
	Enricher   *enrichment.Resolver
	Geo        *geo.Resolver
	Cache      domain.Cache
	Workers    int
}

func NewPipeline(d PipelineDeps) *Pipeline {
	if d.Workers <= 0 {
		d.Workers = 4
	}
	return &Pipeline{
		docs: d.Docs, parser: d.Parser, rec: d.Reconciler, repo: d.Repo,
		enricher: d.Enricher, geo: d.Geo, cache: d.Cache, workers: d.Workers,
		now: time.Now,
	}
}

type RunOptions struct {
	// Refresh re-enriches and re-geolocates every parsed record, not only new or changed ones.
	Refresh bool
	// RunID is generated when empty.
	RunID string
}

// Run processes one source: fetch, parse, upsert, then enrich and geolocate the touched
// records with bounded parallelism. Per-record failures land in the summary; the error
// return is reserved for failures that stop this source (fetch, unreadable document,
// cancellation).
func (p *Pipeline) Run(ctx context.Context, src domain.MunicipalitySourceConfig, opts RunOptions) (sum domain.RunSummary, err error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	sum = domain.RunSummary{
		RunID:     opts.RunID,
		SourceID:  src.ID,
		Source:    src.MunicipalityName,
		StartedAt: p.now().UTC(),
	}
	lg := log.With().Str("run_id", sum.RunID).Str("source", src.MunicipalityName).Logger()

	defer func() {
		sum.FinishedAt = p.now().UTC()
		if ctx.Err() != nil {
			sum.Cancelled = true
		}
		observability.ObserveRun(src.MunicipalityName, sum.FinishedAt.Sub(sum.StartedAt))
		// the report is written even when the run was cancelled
		if serr := p.repo.SaveRun(context.WithoutCancel(ctx), sum); serr != nil {
			lg.Error().Err(serr).Msg("save run summary failed")
		}
		ev := lg.Info()
		if err != nil {
			ev = lg.Warn().Err(err)
		}
		ev.Interface("parse", sum.Parse).
			Interface("reconcile", sum.Reconcile).
			Interface("enrich", sum.Enrich).
			Interface("geo", sum.Geo).
			Int("diagnostics", len(sum.Diagnostics)).
			Bool("cancelled", sum.Cancelled).
			Msg("run finished")
	}()

	if !src.Enabled {
		return sum, fmt.Errorf("source %d (%s): %w: disabled", src.ID, src.MunicipalityName, domain.ErrValidation)
	}

	doc, err := p.docs.FetchDocument(ctx, src)
	if err != nil {
		sum.Diagnostics = append(sum.Diagnostics, domain.NewDiagnostic("", domain.StageFetch, err))
		return sum, fmt.Errorf("fetch %s: %w", src.MunicipalityName, err)
	}
	sum.DocumentURL = doc.URL
	lg.Info().Str("url", doc.URL).Int("bytes", len(doc.Body)).Msg("document fetched")

	text, err := doctext.FromDocument(doc)
	if err != nil {
		sum.Parse.Failed = true
		sum.Diagnostics = append(sum.Diagnostics, domain.NewDiagnostic("", domain.StageParse, err))
		observability.ObservePipeline(string(domain.StageParse), "failed", 1)
		return sum, fmt.Errorf("read %s: %w", doc.URL, err)
	}

	parsed := p.parser.Parse(src.ParserID, src.MunicipalityName, text)
	sum.Parse = parsed.Counts()
	sum.Diagnostics = append(sum.Diagnostics, parsed.Diagnostics...)
	observability.ObservePipeline(string(domain.StageParse), "records", sum.Parse.Records)
	observability.ObservePipeline(string(domain.StageParse), "dropped", sum.Parse.Dropped)
	observability.ObservePipeline(string(domain.StageParse), "settled", sum.Parse.Settled)
	if parsed.Err != nil {
		observability.ObservePipeline(string(domain.StageParse), "failed", 1)
		return sum, fmt.Errorf("parse %s: %w", doc.URL, parsed.Err)
	}

	counts, diags, touched := p.rec.Upsert(ctx, parsed.Records)
	sc, sdiags, settled := p.rec.Settle(ctx, parsed.Settlements)
	counts.Add(sc)
	sum.Reconcile = counts
	sum.Diagnostics = append(sum.Diagnostics, diags...)
	sum.Diagnostics = append(sum.Diagnostics, sdiags...)
	observability.ObservePipeline(string(domain.StageReconcile), "inserted", counts.Inserted)
	observability.ObservePipeline(string(domain.StageReconcile), "updated", counts.Updated)
	observability.ObservePipeline(string(domain.StageReconcile), "unchanged", counts.Unchanged)
	observability.ObservePipeline(string(domain.StageReconcile), "failed", counts.Failed)
	invalidate(context.WithoutCancel(ctx), p.cache, append(append([]string(nil), touched...), settled...)...)
	if ctx.Err() != nil {
		return sum, ctx.Err()
	}

	targets := touched
	if opts.Refresh {
		targets = make([]string, 0, len(parsed.Records))
		for _, d := range parsed.Records {
			targets = append(targets, d.AssessmentNumber)
		}
	}
	if err := p.postProcess(ctx, targets, &sum); err != nil {
		return sum, err
	}
	return sum, nil
}

// postProcess enriches then geolocates each target on a bounded worker pool. Work stops
// between properties on cancellation; finished properties keep their results.
func (p *Pipeline) postProcess(ctx context.Context, aans []string, sum *domain.RunSummary) error {
	if len(aans) == 0 || (p.enricher == nil && p.geo == nil) {
		return nil
	}
	sem := semaphore.NewWeighted(int64(p.workers))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	for _, aan := range aans {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(aan string) {
			defer wg.Done()
			defer sem.Release(1)
			p.processOne(ctx, aan, sum, record)
		}(aan)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pipeline) processOne(ctx context.Context, aan string, sum *domain.RunSummary, record func(func())) {
	var hint enrichment.Hint
	if p.enricher != nil {
		h, diag := p.enrichOne(ctx, aan)
		hint = h
		record(func() {
			if diag != nil {
				sum.Enrich.Failed++
				sum.Diagnostics = append(sum.Diagnostics, *diag)
				return
			}
			sum.Enrich.Enriched++
		})
	}
	if ctx.Err() != nil {
		return
	}
	if p.geo != nil {
		kind, diag := p.geolocateOne(ctx, aan, hint)
		record(func() {
			switch kind {
			case geo.Bounded:
				sum.Geo.Bounded++
			case geo.AddressResolved:
				sum.Geo.AddressResolved++
			case geo.Retained:
				sum.Geo.Retained++
			default:
				sum.Geo.Failed++
			}
			if diag != nil {
				sum.Diagnostics = append(sum.Diagnostics, *diag)
			}
		})
	}
	invalidate(context.WithoutCancel(ctx), p.cache, aan)
}

func (p *Pipeline) enrichOne(ctx context.Context, aan string) (enrichment.Hint, *domain.Diagnostic) {
	res, err := p.enricher.Resolve(ctx, aan)
	if err != nil {
		observability.ObservePipeline(string(domain.StageEnrich), domain.Kind(err), 1)
		log.Debug().Str("aan", aan).Err(err).Msg("enrichment failed")
		d := domain.NewDiagnostic(aan, domain.StageEnrich, err)
		return enrichment.Hint{}, &d
	}
	if len(res.Details) > 0 {
		_, err = p.rec.Apply(ctx, aan, func(rec *domain.PropertyRecord, exists bool) error {
			if !exists {
				return fmt.Errorf("%w: property %s vanished before enrichment", domain.ErrNotFound, aan)
			}
			MergeDetails(rec, res.Details)
			return nil
		})
		if err != nil {
			observability.ObservePipeline(string(domain.StageEnrich), domain.Kind(err), 1)
			d := domain.NewDiagnostic(aan, domain.StageEnrich, err)
			return res.Hint, &d
		}
	}
	observability.ObservePipeline(string(domain.StageEnrich), "enriched", 1)
	return res.Hint, nil
}

func (p *Pipeline) geolocateOne(ctx context.Context, aan string, hint enrichment.Hint) (geo.Kind, *domain.Diagnostic) {
	fail := func(err error) (geo.Kind, *domain.Diagnostic) {
		observability.ObservePipeline(string(domain.StageGeocode), "failed", 1)
		d := domain.NewDiagnostic(aan, domain.StageGeocode, err)
		return geo.Failed, &d
	}

	rec, err := p.repo.GetProperty(ctx, aan)
	if err != nil {
		return fail(err)
	}
	in := geo.Input{
		AssessmentNumber: aan,
		PID:              rec.PIDNumber,
		MapPoint:         hint.MapPoint,
		HasBoundary:      len(rec.BoundaryData) > 0,
	}
	if rec.CivicAddress != nil {
		in.Addresses = append(in.Addresses, *rec.CivicAddress)
	}
	if hint.Address != nil {
		in.Addresses = append(in.Addresses, *hint.Address)
	}

	out := p.geo.Resolve(ctx, in)
	if _, err := p.rec.Apply(ctx, aan, func(r *domain.PropertyRecord, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: property %s vanished before geolocation", domain.ErrNotFound, aan)
		}
		out.Apply(r, p.now().UTC())
		return nil
	}); err != nil {
		return fail(err)
	}

	observability.ObservePipeline(string(domain.StageGeocode), out.Kind.String(), 1)
	if out.Kind == geo.Failed {
		err := out.Err
		if err == nil {
			err = errors.New(out.Note)
		}
		d := domain.NewDiagnostic(aan, domain.StageGeocode, err)
		return out.Kind, &d
	}
	return out.Kind, nil
}

// RunAll runs every enabled source, at most parallel at a time. One source failing never
// stops the others.
func (p *Pipeline) RunAll(ctx context.Context, sources []domain.MunicipalitySourceConfig, parallel int, opts RunOptions) []domain.RunSummary {
	if parallel <= 0 {
		parallel = 1
	}
	var (
		g   errgroup.Group
		mu  sync.Mutex
		out []domain.RunSummary
	)
	g.SetLimit(parallel)
	opts.RunID = ""
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		src := src
		g.Go(func() error {
			sum, err := p.Run(ctx, src, opts)
			if err != nil {
				log.Warn().Err(err).Int64("source_id", src.ID).Msg("source run failed")
			}
			mu.Lock()
			out = append(out, sum)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
