// internal/adapters/http_server/handlers.go
package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"taxsale/internal/app"
	"taxsale/internal/domain"
)

// PropertyReader is the read side the API serves from (app.QueryService).
type PropertyReader interface {
	GetProperty(ctx context.Context, aan string) (domain.PropertyRecord, error)
	ListProperties(ctx context.Context, q domain.PropertyQuery) (domain.PropertyPage, error)
}

// RunStarter schedules a background run for one source (app.RunTrigger).
type RunStarter interface {
	Start(ctx context.Context, sourceID int64, opts app.RunOptions) (string, error)
}

type Handlers struct {
	Q    PropertyReader
	Runs RunStarter // nil disables the run trigger route
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type propertyPage struct {
	Items      []domain.PropertyRecord `json:"items"`
	NextCursor *string                 `json:"next_cursor,omitempty"`
}

type runAccepted struct {
	RunID    string `json:"run_id"`
	SourceID int64  `json:"source_id"`
	Status   string `json:"status"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/properties", h.listProperties)
	s.mux.Get("/v1/properties/{aan}", h.getProperty)
	if h.Runs != nil {
		s.mux.Post("/v1/sources/{id}/runs", h.startRun)
	}
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps the failure taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", what+" not found")
	case errors.Is(err, domain.ErrValidation):
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		log.Error().Err(err).Str("kind", domain.Kind(err)).Msg(what + " lookup failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		// Log but don't fail the whole response; return empty ETag and best-effort body.
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeJSON answers 304 when the client already holds this representation.
func writeJSON(w http.ResponseWriter, r *http.Request, v any, name string) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag) // include ETag on 304
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write " + name + " body")
	}
}

func (h *Handlers) getProperty(w http.ResponseWriter, r *http.Request) {
	aan := strings.TrimSpace(chi.URLParam(r, "aan"))
	if aan == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid assessment number", "aan is required")
		return
	}
	rec, err := h.Q.GetProperty(r.Context(), aan)
	if err != nil {
		writeError(w, err, "property")
		return
	}
	writeJSON(w, r, rec, "getProperty")
}

func (h *Handlers) listProperties(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := domain.PropertyQuery{Limit: defaultListLimit}

	if m := strings.TrimSpace(qs.Get("municipality")); m != "" {
		q.Municipality = &m
	}
	if st := strings.ToLower(strings.TrimSpace(qs.Get("status"))); st != "" {
		if !domain.ValidStatus(st) {
			writeProblem(w, http.StatusBadRequest, "Invalid status", "status must be one of active, sold, redeemed, withdrawn")
			return
		}
		s := domain.Status(st)
		q.Status = &s
	}
	if ls := qs.Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > maxListLimit {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 500")
			return
		}
		q.Limit = l
	}
	if c := strings.TrimSpace(qs.Get("cursor")); c != "" {
		q.Cursor = &c
	}

	page, err := h.Q.ListProperties(r.Context(), q)
	if err != nil {
		writeError(w, err, "properties")
		return
	}
	out := propertyPage{Items: page.Items, NextCursor: page.NextCursor}
	if out.Items == nil {
		out.Items = []domain.PropertyRecord{}
	}
	writeJSON(w, r, out, "listProperties")
}

func (h *Handlers) startRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	runID, err := h.Runs.Start(r.Context(), id, app.RunOptions{Refresh: refresh})
	if err != nil {
		writeError(w, err, "source")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(runAccepted{RunID: runID, SourceID: id, Status: "accepted"}); err != nil {
		log.Error().Err(err).Msg("failed to write startRun body")
	}
}
