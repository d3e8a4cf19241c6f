package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"taxsale/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}
func valJSON(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
func nullF64(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

const maxListLimit = 500

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func isDuplicate(err error) bool {
	var me *gomysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// propertyArgs returns the mutable columns in propertyColumns order, without the
// assessment number and version.
func propertyArgs(p domain.PropertyRecord) ([]any, error) {
	boundary, err := valJSON(p.BoundaryData, len(p.BoundaryData) == 0)
	if err != nil {
		return nil, fmt.Errorf("boundary_data: %w", err)
	}
	details := p.PropertyDetails
	if details == nil {
		details = domain.Details{}
	}
	detailsJSON, err := valJSON(details, false)
	if err != nil {
		return nil, fmt.Errorf("property_details: %w", err)
	}
	status := p.Status
	if status == "" {
		status = domain.StatusActive
	}
	return []any{
		p.MunicipalityName,
		valStr(p.OwnerName),
		valStr(p.CivicAddress),
		valStr(p.PropertyDescription),
		valStr(p.PIDNumber),
		valF64(p.OpeningBid),
		string(status),
		valF64(p.Latitude),
		valF64(p.Longitude),
		boundary,
		detailsJSON,
		p.RawSourceExcerpt,
		p.NeedsReview,
		valStr(p.ReviewReason),
		string(p.GeoStatus),
		valStr(p.GeoNote),
		valTime(p.GeoCheckedAt),
	}, nil
}

func (r *Repo) InsertProperty(ctx context.Context, p domain.PropertyRecord) error {
	cols, err := propertyArgs(p)
	if err != nil {
		return err
	}
	args := append([]any{p.AssessmentNumber}, cols...)
	args = append(args, p.LastUpdated.UTC())
	if _, err := r.db.ExecContext(ctx, insertPropertySQL, args...); err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("insert %s: %w", p.AssessmentNumber, domain.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *Repo) UpdateProperty(ctx context.Context, p domain.PropertyRecord) error {
	args, err := propertyArgs(p)
	if err != nil {
		return err
	}
	args = append(args, p.LastUpdated.UTC(), p.AssessmentNumber, p.Version)
	res, err := r.db.ExecContext(ctx, updatePropertySQL, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update %s at version %d: %w", p.AssessmentNumber, p.Version, domain.ErrConflict)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanProperty(row rowScanner) (domain.PropertyRecord, error) {
	var (
		p                         domain.PropertyRecord
		owner, addr, desc, pid    sql.NullString
		reviewReason, geoNote     sql.NullString
		bid, lat, lon             sql.NullFloat64
		boundaryJSON, detailsJSON []byte
		excerpt                   sql.NullString
		status, geoStatus         string
		geoChecked                sql.NullTime
	)
	if err := row.Scan(
		&p.AssessmentNumber, &p.MunicipalityName,
		&owner, &addr, &desc, &pid,
		&bid, &status, &lat, &lon,
		&boundaryJSON, &detailsJSON,
		&excerpt, &p.NeedsReview, &reviewReason,
		&geoStatus, &geoNote, &geoChecked,
		&p.Version, &p.LastUpdated,
	); err != nil {
		return domain.PropertyRecord{}, err
	}
	p.OwnerName, p.CivicAddress, p.PropertyDescription, p.PIDNumber = nullStr(owner), nullStr(addr), nullStr(desc), nullStr(pid)
	p.ReviewReason, p.GeoNote = nullStr(reviewReason), nullStr(geoNote)
	p.OpeningBid, p.Latitude, p.Longitude = nullF64(bid), nullF64(lat), nullF64(lon)
	p.Status = domain.Status(status)
	p.GeoStatus = domain.GeoStatus(geoStatus)
	p.RawSourceExcerpt = excerpt.String
	if geoChecked.Valid {
		t := geoChecked.Time
		p.GeoCheckedAt = &t
	}
	if len(boundaryJSON) > 0 {
		if err := json.Unmarshal(boundaryJSON, &p.BoundaryData); err != nil {
			return domain.PropertyRecord{}, fmt.Errorf("%s boundary_data: %w", p.AssessmentNumber, err)
		}
	}
	p.PropertyDetails = domain.Details{}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &p.PropertyDetails); err != nil {
			return domain.PropertyRecord{}, fmt.Errorf("%s property_details: %w", p.AssessmentNumber, err)
		}
	}
	return p, nil
}

func (r *Repo) GetProperty(ctx context.Context, aan string) (domain.PropertyRecord, error) {
	p, err := scanProperty(r.db.QueryRowContext(ctx, getPropertySQL, aan))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PropertyRecord{}, fmt.Errorf("property %s: %w", aan, domain.ErrNotFound)
	}
	return p, err
}

func (r *Repo) ListProperties(ctx context.Context, q domain.PropertyQuery) (domain.PropertyPage, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var muni, status, cursor any
	if q.Municipality != nil {
		muni = *q.Municipality
	}
	if q.Status != nil {
		status = string(*q.Status)
	}
	if q.Cursor != nil && *q.Cursor != "" {
		cursor = *q.Cursor
	}
	// one extra row tells whether another page exists
	rows, err := r.db.QueryContext(ctx, listPropertiesSQL, muni, muni, status, status, cursor, cursor, limit+1)
	if err != nil {
		return domain.PropertyPage{}, err
	}
	defer rows.Close()

	out := make([]domain.PropertyRecord, 0, limit)
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return domain.PropertyPage{}, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return domain.PropertyPage{}, err
	}
	page := domain.PropertyPage{Items: out}
	if len(out) > limit {
		page.Items = out[:limit]
		next := out[limit-1].AssessmentNumber
		page.NextCursor = &next
	}
	return page, nil
}

func scanSource(row rowScanner) (domain.MunicipalitySourceConfig, error) {
	var (
		s        domain.MunicipalitySourceConfig
		patterns []byte
	)
	if err := row.Scan(&s.ID, &s.MunicipalityName, &s.BaseURL, &patterns, &s.Enabled, &s.ParserID); err != nil {
		return domain.MunicipalitySourceConfig{}, err
	}
	if len(patterns) > 0 {
		_ = json.Unmarshal(patterns, &s.DocumentPatterns)
	}
	return s, nil
}

func (r *Repo) ListSources(ctx context.Context) ([]domain.MunicipalitySourceConfig, error) {
	rows, err := r.db.QueryContext(ctx, listSourcesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MunicipalitySourceConfig
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) GetSource(ctx context.Context, id int64) (domain.MunicipalitySourceConfig, error) {
	s, err := scanSource(r.db.QueryRowContext(ctx, getSourceSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MunicipalitySourceConfig{}, fmt.Errorf("source %d: %w", id, domain.ErrNotFound)
	}
	return s, err
}

// UpsertSource registers or updates a source keyed by municipality name.
func (r *Repo) UpsertSource(ctx context.Context, s domain.MunicipalitySourceConfig) error {
	patterns, err := valJSON(s.DocumentPatterns, len(s.DocumentPatterns) == 0)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, upsertSourceSQL, s.MunicipalityName, s.BaseURL, patterns, s.Enabled, s.ParserID)
	return err
}

// SaveRun stores the run summary and its diagnostics in one transaction.
func (r *Repo) SaveRun(ctx context.Context, s domain.RunSummary) error {
	summary, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertRunSQL,
		s.RunID, s.SourceID, s.Source, s.DocumentURL,
		s.StartedAt.UTC(), s.FinishedAt.UTC(), s.Cancelled, string(summary),
	); err != nil {
		return err
	}

	// batched multi-row inserts keep large runs under max_allowed_packet
	const batch = 200
	for start := 0; start < len(s.Diagnostics); start += batch {
		end := min(start+batch, len(s.Diagnostics))
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*5)
		for _, d := range s.Diagnostics[start:end] {
			var aan any
			if d.AssessmentNumber != "" {
				aan = d.AssessmentNumber
			}
			values = append(values, "(?,?,?,?,?)")
			args = append(args, s.RunID, aan, string(d.Stage), d.Kind, d.Detail)
		}
		if _, err := tx.ExecContext(ctx, insertDiagnosticsPrefix+strings.Join(values, ","), args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
