package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/casefile/internal/enrich"
	"github.com/linnemanlabs/casefile/internal/incident"
	"github.com/linnemanlabs/casefile/internal/soc"
)

// reportView wraps the latest analysis report for an incident. A file
// that exists but does not decode is surfaced as invalid with its path,
// never dropped silently.
type reportView struct {
	Path    string         `json:"path"`
	Invalid bool           `json:"invalid,omitempty"`
	Report  *enrich.Report `json:"report,omitempty"`
}

type incidentDetail struct {
	Incident *soc.Incident       `json:"incident"`
	Notes    []soc.IncidentNote  `json:"notes"`
	Runs     []soc.EnrichmentRun `json:"runs"`
	Report   *reportView         `json:"report,omitempty"`
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.store.Incidents(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if incidents == nil {
		incidents = []soc.Incident{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("casefile.incident.key", key))

	inc, ok, err := a.store.IncidentByKey(r.Context(), key)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "incident_key", key)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	notes, err := a.store.NotesByIncident(r.Context(), key)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load notes", "incident_key", key)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	runs, err := a.runs.ForIncident(r.Context(), key)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load runs", "incident_key", key)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	detail := incidentDetail{
		Incident: inc,
		Notes:    notes,
		Runs:     runs,
		Report:   a.loadReport(key),
	}
	if detail.Notes == nil {
		detail.Notes = []soc.IncidentNote{}
	}
	if detail.Runs == nil {
		detail.Runs = []soc.EnrichmentRun{}
	}

	span.SetAttributes(attribute.String("casefile.incident.status", string(inc.Status)))
	a.writeJSON(w, http.StatusOK, detail)
}

func (a *API) loadReport(key string) *reportView {
	path := a.paths.ReportPath(key)
	rep, err := enrich.ReadReport(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &reportView{Path: path, Invalid: true}
	}
	return &reportView{Path: path, Report: rep}
}

func (a *API) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("casefile.incident.key", key))

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	err := a.incidents.SetStatus(r.Context(), key, req.Status)
	switch {
	case errors.Is(err, incident.ErrInvalidStatus):
		http.Error(w, `{"error":"invalid status"}`, http.StatusBadRequest)
		return
	case errors.Is(err, soc.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to set status", "incident_key", key)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{"incident_key": key, "status": req.Status})
}

func (a *API) handleAddNote(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req struct {
		Author string `json:"author"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Note == "" {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	err := a.incidents.AddNote(r.Context(), key, req.Author, req.Note)
	switch {
	case errors.Is(err, soc.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to add note", "incident_key", key)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, http.StatusCreated, map[string]any{"incident_key": key})
}
