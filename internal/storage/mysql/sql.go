package mysql

const propertyColumns = `
  assessment_number, municipality_name, owner_name, civic_address, property_description,
  pid_number, opening_bid, status, latitude, longitude, boundary_data, property_details,
  raw_source_excerpt, needs_review, review_reason, geo_status, geo_note, geo_checked_at,
  version, last_updated`

const insertPropertySQL = `
INSERT INTO properties (` + propertyColumns + `)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
`

// Optimistic write: the caller's version must still be current.
const updatePropertySQL = `
UPDATE properties SET
  municipality_name    = ?,
  owner_name           = ?,
  civic_address        = ?,
  property_description = ?,
  pid_number           = ?,
  opening_bid          = ?,
  status               = ?,
  latitude             = ?,
  longitude            = ?,
  boundary_data        = ?,
  property_details     = ?,
  raw_source_excerpt   = ?,
  needs_review         = ?,
  review_reason        = ?,
  geo_status           = ?,
  geo_note             = ?,
  geo_checked_at       = ?,
  version              = version + 1,
  last_updated         = ?
WHERE assessment_number = ? AND version = ?
`

const getPropertySQL = `SELECT ` + propertyColumns + ` FROM properties WHERE assessment_number = ?`

// Keyset pagination on the natural key; the optional filters use the
// (municipality_name, status) indexes.
const listPropertiesSQL = `
SELECT ` + propertyColumns + `
FROM properties
WHERE (? IS NULL OR municipality_name = ?)
  AND (? IS NULL OR status = ?)
  AND (? IS NULL OR assessment_number > ?)
ORDER BY assessment_number
LIMIT ?
`

const sourceColumns = `id, municipality_name, base_url, document_patterns, enabled, parser_id`

const listSourcesSQL = `SELECT ` + sourceColumns + ` FROM municipality_sources ORDER BY id`

const getSourceSQL = `SELECT ` + sourceColumns + ` FROM municipality_sources WHERE id = ?`

const upsertSourceSQL = `
INSERT INTO municipality_sources
  (municipality_name, base_url, document_patterns, enabled, parser_id)
VALUES
  (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  base_url          = VALUES(base_url),
  document_patterns = VALUES(document_patterns),
  enabled           = VALUES(enabled),
  parser_id         = VALUES(parser_id)
`

const insertRunSQL = `
INSERT INTO ingest_runs
  (run_id, source_id, source, document_url, started_at, finished_at, cancelled, summary)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?)
`

const insertDiagnosticsPrefix = "INSERT INTO ingest_diagnostics\n  (run_id, assessment_number, stage, kind, detail)\nVALUES "
