// Package parser turns tax-sale notice text into draft property records.
//
// Each notice layout is an Extractor registered under a parser identifier. The Engine
// owns the layout-independent policy: settled listings are skipped, listings without an
// assessment number are dropped with a diagnostic, duplicates are merged left-to-right,
// and nothing escapes as a panic.
package parser

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"taxsale/internal/domain"
)

// Listing is one segment of a notice as seen by an Extractor.
type Listing struct {
	Excerpt string
	Draft   domain.Draft // AssessmentNumber may be empty
	Settled bool
}

// Extractor parses one notice layout. Returning an error marks the whole document unreadable.
type Extractor interface {
	ID() string
	Extract(text string) ([]Listing, error)
}

type Registry struct {
	mu sync.RWMutex
	m  map[string]Extractor
}

func NewRegistry(exs ...Extractor) *Registry {
	r := &Registry{m: make(map[string]Extractor, len(exs))}
	for _, e := range exs {
		r.Register(e)
	}
	return r
}

// DefaultRegistry holds every built-in layout.
func DefaultRegistry() *Registry {
	return NewRegistry(NumberedAAN{}, LabeledBlock{}, Delimited{})
}

func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[strings.ToLower(e.ID())] = e
}

func (r *Registry) Lookup(id string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.m[strings.ToLower(strings.TrimSpace(id))]
	return e, ok
}

type Result struct {
	Records     []domain.Draft
	Settlements []domain.Settlement
	Diagnostics []domain.Diagnostic
	Settled     int
	Dropped     int
	// Err is set (wrapping domain.ErrFormat) when the document as a whole could not be parsed.
	Err error
}

func (r Result) Counts() domain.ParseCounts {
	return domain.ParseCounts{
		Records: len(r.Records),
		Dropped: r.Dropped,
		Settled: r.Settled,
		Failed:  r.Err != nil,
	}
}

type Engine struct{ reg *Registry }

func NewEngine(reg *Registry) *Engine { return &Engine{reg: reg} }

// Parse runs the extractor registered as parserID over text.
func (e *Engine) Parse(parserID, municipality, text string) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Result{Err: fmt.Errorf("%w: parser %s panicked: %v", domain.ErrFormat, parserID, rec)}
			res.Diagnostics = []domain.Diagnostic{domain.NewDiagnostic("", domain.StageParse, res.Err)}
		}
	}()

	fail := func(err error) Result {
		return Result{Err: err, Diagnostics: []domain.Diagnostic{domain.NewDiagnostic("", domain.StageParse, err)}}
	}

	ex, ok := e.reg.Lookup(parserID)
	if !ok {
		return fail(fmt.Errorf("%w: unknown parser %q", domain.ErrFormat, parserID))
	}
	if strings.TrimSpace(text) == "" {
		return fail(fmt.Errorf("%w: document has no text", domain.ErrFormat))
	}

	listings, err := ex.Extract(text)
	if err != nil {
		return fail(fmt.Errorf("%w: %s: %v", domain.ErrFormat, ex.ID(), err))
	}
	if len(listings) == 0 {
		return fail(fmt.Errorf("%w: %s: no listings found", domain.ErrFormat, ex.ID()))
	}

	index := make(map[string]int, len(listings))
	for i, l := range listings {
		if l.Settled {
			res.Settled++
			if aan := NormalizeAAN(l.Draft.AssessmentNumber); aan != "" {
				res.Settlements = append(res.Settlements, domain.Settlement{AssessmentNumber: aan, Status: settledStatus(l.Excerpt)})
			}
			continue
		}
		d := l.Draft
		d.AssessmentNumber = NormalizeAAN(d.AssessmentNumber)
		if d.AssessmentNumber == "" {
			res.Dropped++
			res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
				Stage:  domain.StageParse,
				Kind:   "missing_aan",
				Detail: fmt.Sprintf("listing %d: %s", i+1, clip(l.Excerpt, 120)),
			})
			log.Warn().Str("parser", ex.ID()).Int("listing", i+1).Msg("listing without assessment number dropped")
			continue
		}
		if d.MunicipalityName == "" {
			d.MunicipalityName = municipality
		}
		if d.RawSourceExcerpt == "" {
			d.RawSourceExcerpt = strings.TrimSpace(l.Excerpt)
		}
		if reason, overlap := OwnerAddressOverlap(d.OwnerName, d.CivicAddress); overlap {
			d.NeedsReview = true
			d.ReviewReason = &reason
		}

		if at, dup := index[d.AssessmentNumber]; dup {
			res.Records[at].Overlay(d)
			continue
		}
		index[d.AssessmentNumber] = len(res.Records)
		res.Records = append(res.Records, d)
	}

	// a number that is also listed as open stays open
	kept := res.Settlements[:0]
	for _, s := range res.Settlements {
		if _, open := index[s.AssessmentNumber]; !open {
			kept = append(kept, s)
		}
	}
	res.Settlements = kept
	return res
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
