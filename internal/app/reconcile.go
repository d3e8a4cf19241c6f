package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"taxsale/internal/domain"
)

// conflictRetries bounds how often a read-merge-write is repeated after losing an
// optimistic-version race.
const conflictRetries = 3

type WriteResult int

const (
	Unchanged WriteResult = iota
	Inserted
	Updated
)

// Reconciler owns every write to property records. Writes to the same assessment number
// are serialized in-process by a keyed lock and across processes by the record version.
type Reconciler struct {
	repo  domain.PropertyRepository
	locks *keyedMutex
	now   func() time.Time
}

func NewReconciler(repo domain.PropertyRepository, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{repo: repo, locks: newKeyedMutex(), now: now}
}

// Apply runs one serialized read-merge-write for aan. mutate receives the stored record
// (or a blank one with exists=false) and edits it in place. last_updated is always advanced.
func (r *Reconciler) Apply(ctx context.Context, aan string, mutate func(rec *domain.PropertyRecord, exists bool) error) (WriteResult, error) {
	unlock := r.locks.Lock(aan)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		if attempt > 0 {
			log.Debug().Str("aan", aan).Int("attempt", attempt).Msg("write conflict, retrying")
		}
		res, err := r.applyOnce(ctx, aan, mutate)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return Unchanged, err
		}
		lastErr = err
	}
	return Unchanged, fmt.Errorf("%s: gave up after %d retries: %w", aan, conflictRetries, lastErr)
}

func (r *Reconciler) applyOnce(ctx context.Context, aan string, mutate func(*domain.PropertyRecord, bool) error) (WriteResult, error) {
	rec, err := r.repo.GetProperty(ctx, aan)
	exists := err == nil
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec = domain.PropertyRecord{AssessmentNumber: aan, Status: domain.StatusActive, PropertyDetails: domain.Details{}}
	case err != nil:
		return Unchanged, err
	}

	before, _ := snapshot(rec)
	if err := mutate(&rec, exists); err != nil {
		return Unchanged, err
	}
	rec.AssessmentNumber = aan
	rec.LastUpdated = r.now().UTC()

	if !exists {
		if rec.Status == "" {
			rec.Status = domain.StatusActive
		}
		return Inserted, r.repo.InsertProperty(ctx, rec)
	}
	after, _ := snapshot(rec)
	if err := r.repo.UpdateProperty(ctx, rec); err != nil {
		return Unchanged, err
	}
	if bytes.Equal(before, after) {
		return Unchanged, nil
	}
	return Updated, nil
}

// snapshot renders the record without its bookkeeping fields, so stored float64 and
// incoming int detail values compare equal.
func snapshot(rec domain.PropertyRecord) ([]byte, error) {
	rec.LastUpdated = time.Time{}
	return json.Marshal(rec)
}

// Upsert merges a parsed batch. Each record commits on its own; failures are counted and
// reported, never raised. touched lists the inserted and updated assessment numbers.
func (r *Reconciler) Upsert(ctx context.Context, drafts []domain.Draft) (counts domain.ReconcileCounts, diags []domain.Diagnostic, touched []string) {
	for _, d := range drafts {
		if ctx.Err() != nil {
			return counts, diags, touched
		}
		res, err := r.Apply(ctx, d.AssessmentNumber, func(rec *domain.PropertyRecord, exists bool) error {
			MergeDraft(rec, d)
			return nil
		})
		if err != nil {
			counts.Failed++
			diags = append(diags, domain.NewDiagnostic(d.AssessmentNumber, domain.StageReconcile, err))
			log.Warn().Str("aan", d.AssessmentNumber).Err(err).Msg("upsert failed")
			continue
		}
		switch res {
		case Inserted:
			counts.Inserted++
			touched = append(touched, d.AssessmentNumber)
		case Updated:
			counts.Updated++
			touched = append(touched, d.AssessmentNumber)
		default:
			counts.Unchanged++
		}
	}
	return counts, diags, touched
}

var errNoRecord = errors.New("no stored record")

// Settle moves stored records to the status named by their settled listing. Settled
// listings without a stored record are skipped, and sold records are left as they are.
func (r *Reconciler) Settle(ctx context.Context, settlements []domain.Settlement) (counts domain.ReconcileCounts, diags []domain.Diagnostic, touched []string) {
	for _, s := range settlements {
		if ctx.Err() != nil {
			return counts, diags, touched
		}
		res, err := r.Apply(ctx, s.AssessmentNumber, func(rec *domain.PropertyRecord, exists bool) error {
			if !exists {
				return errNoRecord
			}
			if rec.Status != domain.StatusSold && domain.ValidStatus(string(s.Status)) {
				rec.Status = s.Status
			}
			return nil
		})
		switch {
		case errors.Is(err, errNoRecord):
		case err != nil:
			counts.Failed++
			diags = append(diags, domain.NewDiagnostic(s.AssessmentNumber, domain.StageReconcile, err))
			log.Warn().Str("aan", s.AssessmentNumber).Err(err).Msg("settlement failed")
		case res == Updated:
			counts.Updated++
			touched = append(touched, s.AssessmentNumber)
		default:
			counts.Unchanged++
		}
	}
	return counts, diags, touched
}

// MergeDraft applies the field merge rule: a non-empty incoming value replaces the stored
// one, an empty or absent one never does. Coordinates and boundary only change when the
// draft supplies them. The review flag is sticky once raised.
func MergeDraft(rec *domain.PropertyRecord, d domain.Draft) {
	mergeStr(&rec.OwnerName, d.OwnerName)
	mergeStr(&rec.CivicAddress, d.CivicAddress)
	mergeStr(&rec.PropertyDescription, d.PropertyDescription)
	mergeStr(&rec.PIDNumber, d.PIDNumber)
	if d.MunicipalityName != "" {
		rec.MunicipalityName = d.MunicipalityName
	}
	if d.OpeningBid != nil && *d.OpeningBid >= 0 {
		rec.OpeningBid = d.OpeningBid
	}
	if d.Status != "" && domain.ValidStatus(string(d.Status)) {
		rec.Status = d.Status
	}
	if d.Latitude != nil && d.Longitude != nil {
		rec.Latitude, rec.Longitude = d.Latitude, d.Longitude
	}
	if len(d.BoundaryData) > 0 {
		rec.BoundaryData = d.BoundaryData
	}
	MergeDetails(rec, d.Details)
	if d.RawSourceExcerpt != "" {
		rec.RawSourceExcerpt = d.RawSourceExcerpt
	}
	if d.NeedsReview {
		rec.NeedsReview = true
		mergeStr(&rec.ReviewReason, d.ReviewReason)
	}
}

// MergeDetails adds non-empty attributes key-wise; keys absent from in are left alone.
func MergeDetails(rec *domain.PropertyRecord, in domain.Details) {
	if len(in) == 0 {
		return
	}
	if rec.PropertyDetails == nil {
		rec.PropertyDetails = domain.Details{}
	}
	for k, v := range in {
		if !domain.EmptyValue(v) {
			rec.PropertyDetails[k] = v
		}
	}
}

func mergeStr(dst **string, src *string) {
	if domain.EmptyValue(src) {
		return
	}
	v := *src
	*dst = &v
}
