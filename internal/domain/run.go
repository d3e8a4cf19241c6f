package domain

import "time"

type Stage string

const (
	StageFetch     Stage = "fetch"
	StageParse     Stage = "parse"
	StageReconcile Stage = "reconcile"
	StageEnrich    Stage = "enrich"
	StageGeocode   Stage = "geocode"
)

// Diagnostic is one recoverable problem observed during a run.
type Diagnostic struct {
	AssessmentNumber string `json:"assessment_number,omitempty"`
	Stage            Stage  `json:"stage"`
	Kind             string `json:"kind"`
	Detail           string `json:"detail"`
}

func NewDiagnostic(aan string, stage Stage, err error) Diagnostic {
	return Diagnostic{AssessmentNumber: aan, Stage: stage, Kind: Kind(err), Detail: err.Error()}
}

type ParseCounts struct {
	Records int  `json:"records"`
	Dropped int  `json:"dropped"`
	Settled int  `json:"settled"`
	Failed  bool `json:"failed"`
}

type ReconcileCounts struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

func (c *ReconcileCounts) Add(o ReconcileCounts) {
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Failed += o.Failed
}

type EnrichCounts struct {
	Enriched int `json:"enriched"`
	Failed   int `json:"failed"`
}

type GeoCounts struct {
	Bounded         int `json:"bounded"`
	AddressResolved int `json:"address_resolved"`
	Retained        int `json:"retained"`
	Failed          int `json:"failed"`
}

// RunSummary is the per-source report of one batch job.
type RunSummary struct {
	RunID       string          `json:"run_id"`
	SourceID    int64           `json:"source_id"`
	Source      string          `json:"source"`
	DocumentURL string          `json:"document_url,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Cancelled   bool            `json:"cancelled"`
	Parse       ParseCounts     `json:"parse"`
	Reconcile   ReconcileCounts `json:"reconcile"`
	Enrich      EnrichCounts    `json:"enrich"`
	Geo         GeoCounts       `json:"geo"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
}
